package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"iencode/internal/config"
	"iencode/internal/notifications"
	"iencode/internal/pipeline"
	"iencode/internal/queue"
	"iencode/internal/testsupport"
	"iencode/internal/workflow"
)

// gatedStages blocks fetches of gated payloads until released.
type gatedStages struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedStages() *gatedStages {
	return &gatedStages{gates: make(map[string]chan struct{})}
}

func (g *gatedStages) block(ref string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gates[ref] = make(chan struct{})
}

func (g *gatedStages) release(ref string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gate, ok := g.gates[ref]; ok {
		close(gate)
		delete(g.gates, ref)
	}
}

func (g *gatedStages) Fetch(ctx context.Context, req pipeline.FetchRequest, progress pipeline.ProgressFunc) (pipeline.FetchResult, error) {
	g.mu.Lock()
	gate := g.gates[req.PayloadRef]
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return pipeline.FetchResult{}, ctx.Err()
		}
	}
	progress(queue.Progress{Fraction: 1, BytesDone: 5, BytesTotal: 5})
	path := filepath.Join(req.WorkDir, "input.mkv")
	return pipeline.FetchResult{Path: path, Bytes: 5}, os.WriteFile(path, []byte("input"), 0o644)
}

func (g *gatedStages) Transform(_ context.Context, req pipeline.TransformRequest, _ pipeline.ProgressFunc) (pipeline.TransformResult, error) {
	path := filepath.Join(req.WorkDir, "output.mkv")
	return pipeline.TransformResult{Path: path, Bytes: 6}, os.WriteFile(path, []byte("output"), 0o644)
}

func (g *gatedStages) Publish(_ context.Context, req pipeline.PublishRequest, _ pipeline.ProgressFunc) (string, error) {
	return "file:///library/" + req.JobID + ".mkv", nil
}

type countingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *countingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type testDaemon struct {
	cfg    *config.Config
	stages *gatedStages
	daemon *Daemon
}

// newTestDaemon builds an unstarted daemon with the HTTP listener disabled;
// handler tests drive the router through httptest instead.
func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) *testDaemon {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Paths.APIBind = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := queue.NewMemoryStore()
	stages := newGatedStages()
	notifier := &countingNotifier{}
	mgr, err := workflow.NewManager(cfg, store, workflow.Collaborators{
		Fetcher:     stages,
		Transformer: stages,
		Publisher:   stages,
	}, nil, workflow.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, err := New(cfg, store, nil, mgr, WithNotifier(notifier))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &testDaemon{cfg: cfg, stages: stages, daemon: d}
}

func (td *testDaemon) start(t *testing.T) {
	t.Helper()
	if err := td.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}
