package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"iencode/internal/logs"
)

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iencode.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var sink lineSink
	if err := logs.Tail(context.Background(), path, logs.TailOptions{Lines: 2}, sink.add); err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	got := sink.snapshot()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestTailMatchFiltersBeforeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iencode.log")
	content := `{"job_id":"a","msg":"one"}
{"job_id":"b","msg":"two"}
{"job_id":"a","msg":"three"}
{"job_id":"b","msg":"four"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var sink lineSink
	opts := logs.TailOptions{Lines: 5, Match: `"job_id":"a"`}
	if err := logs.Tail(context.Background(), path, opts, sink.add); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if got := sink.snapshot(); len(got) != 2 {
		t.Fatalf("expected two matching lines, got %#v", got)
	}
}

func TestTailMissingFile(t *testing.T) {
	var sink lineSink
	err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.TailOptions{Lines: 10}, sink.add)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(sink.snapshot()) != 0 {
		t.Fatal("expected no lines")
	}
}

func TestTailFollowPicksUpAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iencode.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink lineSink
	done := make(chan error, 1)
	go func() {
		done <- logs.Tail(ctx, path, logs.TailOptions{Lines: 1, Follow: true, Poll: 20 * time.Millisecond}, sink.add)
	}()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\npartial"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("follow returned %v", err)
	}
	got := sink.snapshot()
	if len(got) != 2 || got[0] != "start" || got[1] != "later" {
		t.Fatalf("unexpected follow lines: %#v", got)
	}
}
