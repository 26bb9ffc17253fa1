package pipeline

import (
	"testing"
	"time"

	"iencode/internal/queue"
)

func TestOfferDropsOldestWhenFull(t *testing.T) {
	ch := make(chan queue.Progress, 2)
	for i := 1; i <= 5; i++ {
		offer(ch, queue.Progress{Fraction: float64(i) / 10})
	}
	if len(ch) != 2 {
		t.Fatalf("expected full channel, got %d", len(ch))
	}
	first, second := <-ch, <-ch
	if first.Fraction != 0.4 || second.Fraction != 0.5 {
		t.Fatalf("expected newest samples 0.4 and 0.5, got %v and %v", first.Fraction, second.Fraction)
	}
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	e := &Executor{opts: Options{RetryBackoff: time.Second, RetryBackoffMax: 5 * time.Second}}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := e.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestStageTimeoutsFor(t *testing.T) {
	timeouts := StageTimeouts{Download: 1, Encode: 2, Upload: 3}
	for stage, want := range map[queue.Stage]time.Duration{
		queue.StageDownloading: 1,
		queue.StageEncoding:    2,
		queue.StageUploading:   3,
		queue.StageNone:        0,
	} {
		if got := timeouts.For(stage); got != want {
			t.Errorf("For(%q) = %d, want %d", stage, got, want)
		}
	}
}
