package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"iencode/internal/api"
	"iencode/internal/testsupport"
)

func TestDaemonStatusRendersScheduler(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "daemon", "status")
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "running")
	requireContains(t, out, "0 busy of 1")
	requireContains(t, out, "Lane accelerator")
	requireContains(t, out, "HTTP API")
	requireContains(t, out, "== System ==")
	requireContains(t, out, "Staging directory")

	out, err = env.run(t, "daemon", "status", "-o", "json")
	if err != nil {
		t.Fatalf("daemon status json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Workflow.PoolSize != 1 || status.APIAddr == "" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestDaemonStatusWhenStopped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, t.TempDir(), cfg)

	out, _, err := runCLI(t, []string{"daemon", "status"}, "", configPath)
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
	requireContains(t, out, "Log directory")

	out, _, err = runCLI(t, []string{"daemon", "stop"}, "", configPath)
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "not configured")
}

func TestWatchJobUntilPublished(t *testing.T) {
	env := setupCLITestEnv(t)
	job := env.enqueue(t, "alice", "normal")

	go func() {
		time.Sleep(200 * time.Millisecond)
		env.stages.release()
	}()

	out, err := env.run(t, "watch", job.ID)
	if err != nil {
		t.Fatalf("watch: %v\n%s", err, out)
	}
	requireContains(t, out, "Published to file:///library/alice/"+job.ID+".mkv")
}

func TestWatchFinishedJobReportsFailureState(t *testing.T) {
	env := setupCLITestEnv(t)

	env.enqueue(t, "alice", "normal")
	queued := env.enqueue(t, "alice", "normal")
	if _, err := env.run(t, "cancel", queued.ID, "--as", "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := env.run(t, "watch", queued.ID)
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}
