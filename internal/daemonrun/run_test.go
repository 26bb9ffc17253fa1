package daemonrun

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"iencode/internal/daemonctl"
	"iencode/internal/preflight"
	"iencode/internal/testsupport"
)

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "iencode-20260101T000000.log")
	second := filepath.Join(dir, "iencode-20260102T000000.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "iencode.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != filepath.Base(second) {
		t.Fatalf("pointer resolves to %q", data)
	}
	if err := ensureCurrentLogPointer("", second); err != nil {
		t.Fatalf("empty dir should be a no-op: %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iencode.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file content %q", data)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestRunServesIPCUntilStopped(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(""))
	cfg.Logging.RetentionDays = 0

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), cfg, Options{LogLevel: "error"})
	}()

	client, err := daemonctl.WaitForClient(cfg.SocketPath(), 10*time.Second)
	if err != nil {
		t.Fatalf("daemon never answered: %v", err)
	}
	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("pid file missing: %v", err)
	}
	if _, err := client.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after stop")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed, stat err %v", err)
	}
}

func TestLogPreflightReportsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logPreflight(logger, []preflight.Result{
		{Name: "FFmpeg", Detail: `binary "ffmpeg" not found`},
		{Name: "Staging free space", Optional: true, Detail: "1 GiB free of 2 GiB"},
		{Name: "Log directory", Passed: true},
	})
	out := buf.String()
	if strings.Count(out, "preflight check failed") != 2 {
		t.Fatalf("expected two failure lines, got %s", out)
	}
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("expected error and warn levels, got %s", out)
	}
	if strings.Contains(out, "Log directory") {
		t.Fatalf("passing checks should not be logged: %s", out)
	}
}
