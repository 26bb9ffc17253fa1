package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"iencode/internal/api"
	"iencode/internal/config"
	"iencode/internal/daemon"
	"iencode/internal/ipc"
	"iencode/internal/logging"
	"iencode/internal/pipeline"
	"iencode/internal/queue"
	"iencode/internal/testsupport"
	"iencode/internal/workflow"
)

// heldStages blocks every fetch until release is called.
type heldStages struct {
	once sync.Once
	gate chan struct{}
}

func newHeldStages() *heldStages {
	return &heldStages{gate: make(chan struct{})}
}

func (h *heldStages) release() {
	h.once.Do(func() { close(h.gate) })
}

func (h *heldStages) Fetch(ctx context.Context, req pipeline.FetchRequest, progress pipeline.ProgressFunc) (pipeline.FetchResult, error) {
	select {
	case <-h.gate:
	case <-ctx.Done():
		return pipeline.FetchResult{}, ctx.Err()
	}
	progress(queue.Progress{Fraction: 1, BytesDone: 5, BytesTotal: 5})
	path := filepath.Join(req.WorkDir, "input.mkv")
	return pipeline.FetchResult{Path: path, Bytes: 5}, os.WriteFile(path, []byte("input"), 0o644)
}

func (h *heldStages) Transform(_ context.Context, req pipeline.TransformRequest, _ pipeline.ProgressFunc) (pipeline.TransformResult, error) {
	path := filepath.Join(req.WorkDir, "output.mkv")
	return pipeline.TransformResult{Path: path, Bytes: 6}, os.WriteFile(path, []byte("output"), 0o644)
}

func (h *heldStages) Publish(_ context.Context, req pipeline.PublishRequest, _ pipeline.ProgressFunc) (string, error) {
	return "file:///library/" + req.Owner + "/" + req.JobID + ".mkv", nil
}

type cliTestEnv struct {
	cfg        *config.Config
	stages     *heldStages
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithWorkers(1)}, opts...)...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	base := filepath.Dir(cfg.Paths.LogDir)
	configPath := writeTestConfig(t, base, cfg)

	stages := newHeldStages()
	logger := logging.NewNop()
	store := queue.NewMemoryStore()
	mgr, err := workflow.NewManager(cfg, store, workflow.Collaborators{
		Fetcher:     stages,
		Transformer: stages,
		Publisher:   stages,
	}, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		stages.release()
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		stages:     stages,
		daemon:     d,
		socketPath: cfg.SocketPath(),
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, args, e.socketPath, e.configPath)
	return out, err
}

func (e *cliTestEnv) enqueue(t *testing.T, owner, lane string) api.JobItem {
	t.Helper()
	payload := filepath.Join(e.baseDir, "input-"+owner+"-"+lane+".mkv")
	testsupport.WriteFile(t, payload, 16)
	out, err := e.run(t, "enqueue", payload, "--owner", owner, "--lane", lane, "--output", "json")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var job api.JobItem
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("decode enqueue output %q: %v", out, err)
	}
	return job
}

func (e *cliTestEnv) describe(t *testing.T, id string) api.JobItem {
	t.Helper()
	out, err := e.run(t, "show", id, "-o", "json")
	if err != nil {
		t.Fatalf("show %s: %v", id, err)
	}
	var job api.JobItem
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	return job
}

func writeTestConfig(t *testing.T, dir string, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
