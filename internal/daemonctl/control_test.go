package daemonctl

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"iencode/internal/testsupport"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
		want    int
		wantErr bool
	}{
		{name: "missing"},
		{name: "empty", content: ptr("  \n")},
		{name: "valid", content: ptr("4242\n"), want: 4242},
		{name: "garbage", content: ptr("abc"), wantErr: true},
		{name: "negative", content: ptr("-3"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			got, err := ReadPID(path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got pid %d", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ReadPID = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "iencode.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := os.Stat(pidPath); err != nil {
		t.Fatalf("pid file should be left in place: %v", err)
	}
}

func TestForceKillWithoutPID(t *testing.T) {
	if _, err := ForceKillProcess(filepath.Join(t.TempDir(), "none.pid"), "", 0); err == nil {
		t.Fatal("expected error when no pid is known")
	}
}

func TestDaemonNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	running, pid, err := ProcessInfo(cfg.SocketPath())
	if err != nil || running || pid != 0 {
		t.Fatalf("ProcessInfo = %v, %d, %v", running, pid, err)
	}
	if _, err := StopAndTerminate(cfg, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if err := WaitForShutdown(cfg.SocketPath(), time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	if _, err := WaitForClient(cfg.SocketPath(), 300*time.Millisecond); err == nil {
		t.Fatal("expected WaitForClient to time out")
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := Launch(" ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable path")
	}
}

func ptr(s string) *string { return &s }

func TestLaunchCapturesStartupOutput(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-iencode")
	body := "#!/bin/sh\necho \"args: $*\"\necho boom >&2\nexit 1\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	startupLog := filepath.Join(dir, "daemon-start.log")
	socket := filepath.Join(dir, "iencode.sock")

	_, err := EnsureStarted(socket, script, LaunchOptions{ConfigPath: "/etc/iencode.toml", StartupLog: startupLog}, 500*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), startupLog) {
		t.Fatalf("expected start failure pointing at the startup log, got %v", err)
	}
	data, readErr := os.ReadFile(startupLog)
	if readErr != nil {
		t.Fatalf("read startup log: %v", readErr)
	}
	for _, want := range []string{"args: daemon run --config /etc/iencode.toml", "boom"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("startup log missing %q:\n%s", want, data)
		}
	}
}
