package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"iencode/internal/testsupport"
)

func TestLogsCommandFiltersByJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Format = "console"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	configPath := writeTestConfig(t, t.TempDir(), cfg)

	content := strings.Join([]string{
		"2026-01-01T00:00:00Z INFO workflow: job queued job_id=aaa lane=normal",
		"2026-01-01T00:00:01Z INFO workflow: job queued job_id=bbb lane=normal",
		"2026-01-01T00:00:02Z INFO workflow: stage done job_id=aaa stage=download",
	}, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(cfg.Paths.LogDir, "iencode.log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"logs", "--job", "aaa"}, "", configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "bbb") || strings.Count(out, "job_id=aaa") != 2 {
		t.Fatalf("unexpected filtered output:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, "", configPath)
	if err != nil {
		t.Fatalf("logs -n 1: %v", err)
	}
	if strings.TrimSpace(out) != "2026-01-01T00:00:02Z INFO workflow: stage done job_id=aaa stage=download" {
		t.Fatalf("unexpected tail output %q", out)
	}
}
