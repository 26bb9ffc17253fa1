package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/notifications"
	"iencode/internal/pipeline"
	"iencode/internal/queue"
	"iencode/internal/testsupport"
	"iencode/internal/workflow"
)

// fakeStages implements all three collaborators. Fetches for a payload with a
// gate block until the gate closes or the stage is cancelled.
type fakeStages struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	fetchErrs map[string][]error
	order     []string
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		gates:     make(map[string]chan struct{}),
		fetchErrs: make(map[string][]error),
	}
}

func (f *fakeStages) block(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[ref] = make(chan struct{})
}

func (f *fakeStages) release(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gate, ok := f.gates[ref]; ok {
		close(gate)
		delete(f.gates, ref)
	}
}

func (f *fakeStages) failFetch(ref string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs[ref] = append(f.fetchErrs[ref], errs...)
}

func (f *fakeStages) started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeStages) Fetch(ctx context.Context, req pipeline.FetchRequest, progress pipeline.ProgressFunc) (pipeline.FetchResult, error) {
	f.mu.Lock()
	f.order = append(f.order, req.PayloadRef)
	gate := f.gates[req.PayloadRef]
	var injected error
	if errs := f.fetchErrs[req.PayloadRef]; len(errs) > 0 {
		injected = errs[0]
		f.fetchErrs[req.PayloadRef] = errs[1:]
	}
	f.mu.Unlock()

	if injected != nil {
		return pipeline.FetchResult{}, injected
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return pipeline.FetchResult{}, ctx.Err()
		}
	}
	progress(queue.Progress{Fraction: 0.5, BytesDone: 5, BytesTotal: 10})
	path := filepath.Join(req.WorkDir, "input.mkv")
	if err := os.WriteFile(path, []byte("input"), 0o644); err != nil {
		return pipeline.FetchResult{}, err
	}
	return pipeline.FetchResult{Path: path, Bytes: 5}, nil
}

func (f *fakeStages) Transform(_ context.Context, req pipeline.TransformRequest, progress pipeline.ProgressFunc) (pipeline.TransformResult, error) {
	progress(queue.Progress{Fraction: 1})
	path := filepath.Join(req.WorkDir, "output.mkv")
	if err := os.WriteFile(path, []byte("output"), 0o644); err != nil {
		return pipeline.TransformResult{}, err
	}
	return pipeline.TransformResult{Path: path, Bytes: 6}, nil
}

func (f *fakeStages) Publish(_ context.Context, req pipeline.PublishRequest, _ pipeline.ProgressFunc) (string, error) {
	return "file:///library/" + req.JobID + ".mkv", nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

type harness struct {
	cfg      *config.Config
	store    *queue.MemoryStore
	stages   *fakeStages
	notifier *recordingNotifier
	mgr      *workflow.Manager
}

func testConfig(t *testing.T, workers int) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(workers), testsupport.WithAdmins("root"))
	cfg.Progress.PollIntervalSeconds = 1
	cfg.Stages.CancelGraceSeconds = 1
	cfg.Stages.RetryBackoffSeconds = 0
	cfg.Stages.RetryBackoffMaxSeconds = 0
	cfg.Store.PersistAttempts = 1
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, store *queue.MemoryStore) *harness {
	t.Helper()
	if store == nil {
		store = queue.NewMemoryStore()
	}
	h := &harness{cfg: cfg, store: store, stages: newFakeStages(), notifier: &recordingNotifier{}}
	mgr, err := workflow.NewManager(cfg, store, workflow.Collaborators{
		Fetcher:     h.stages,
		Transformer: h.stages,
		Publisher:   h.stages,
	}, logging.NewNop(), workflow.WithNotifier(h.notifier))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.mgr = mgr
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.mgr.Stop)
}

func (h *harness) enqueue(t *testing.T, owner, ref string, lane queue.Lane) *queue.Job {
	t.Helper()
	job, err := h.mgr.Enqueue(context.Background(), workflow.EnqueueRequest{Owner: owner, PayloadRef: ref, Lane: lane})
	if err != nil {
		t.Fatalf("Enqueue %s: %v", ref, err)
	}
	return job
}

func (h *harness) waitStatus(t *testing.T, id string, want queue.Status, timeout time.Duration) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		job, err := h.mgr.Describe(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			if err != nil {
				t.Fatalf("job %s: %v", id, err)
			}
			t.Fatalf("job %s: status %s, want %s", id, job.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errStoreDown = errors.New("store down")
