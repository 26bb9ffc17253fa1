package preflight

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"iencode/internal/config"
	"iencode/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		passed bool
	}{
		{name: "ok", path: dir, passed: true},
		{name: "missing", path: filepath.Join(dir, "nope")},
		{name: "file", path: file},
		{name: "empty", path: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckDirectoryAccess("test", tt.path)
			if result.Passed != tt.passed {
				t.Fatalf("Passed = %v, want %v (%s)", result.Passed, tt.passed, result.Detail)
			}
			if result.Detail == "" {
				t.Fatal("expected non-empty detail")
			}
		})
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary", Optional: true},
		{Name: "Blank", Command: "  "},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Passed || results[0].Detail != present {
		t.Fatalf("expected present binary to resolve, got %#v", results[0])
	}
	if results[1].Passed || !results[1].Optional || !strings.Contains(results[1].Detail, "not found") {
		t.Fatalf("unexpected missing result %#v", results[1])
	}
	if results[2].Passed || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank result %#v", results[2])
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if r := CheckFreeSpace(context.Background(), "space", dir, 0); !r.Passed || !strings.Contains(r.Detail, "free of") {
		t.Fatalf("expected pass with zero minimum, got %#v", r)
	}
	r := CheckFreeSpace(context.Background(), "space", dir, math.MaxUint64)
	if r.Passed || !r.Optional || !strings.Contains(r.Detail, "below") {
		t.Fatalf("expected optional failure, got %#v", r)
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(""))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"FFmpeg", "FFprobe", "Staging directory", "Log directory", "Library directory"} {
		r, ok := byName[name]
		if !ok {
			t.Fatalf("missing check %q in %+v", name, results)
		}
		if !r.Passed {
			t.Fatalf("check %q failed: %s", name, r.Detail)
		}
	}
	if _, ok := byName["Staging free space"]; !ok {
		t.Fatal("expected free space check")
	}

	cfg.Publish.Target = config.PublishS3
	for _, r := range RunAll(context.Background(), cfg) {
		if r.Name == "Library directory" {
			t.Fatal("library directory should not be checked for s3 publishing")
		}
	}
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("nil config should produce no results")
	}
}

func TestRequirementsByBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Encoder.Backend = config.EncoderDrapto
	reqs := Requirements(&cfg)
	if len(reqs) != 2 || reqs[0].Optional || !reqs[1].Optional {
		t.Fatalf("unexpected drapto requirements %+v", reqs)
	}
	cfg.Encoder.Backend = config.EncoderFFmpeg
	if reqs := Requirements(&cfg); reqs[1].Optional {
		t.Fatalf("ffprobe should be required for ffmpeg backend: %+v", reqs)
	}
	if len(Failed([]Result{{Name: "a", Passed: true}, {Name: "b"}})) != 1 {
		t.Fatal("Failed should return only failing results")
	}
}
