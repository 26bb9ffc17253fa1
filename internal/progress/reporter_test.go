package progress_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"iencode/internal/clock"
	"iencode/internal/progress"
	"iencode/internal/queue"
)

func startReporter(t *testing.T, opts progress.Options) *progress.Reporter {
	t.Helper()
	r := progress.New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func next(t *testing.T, sub *progress.Subscription) progress.Update {
	t.Helper()
	select {
	case update, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return progress.Update{}
}

func progressEvent(jobID string, stage queue.Stage, fraction float64) progress.Event {
	return progress.Event{Kind: progress.KindProgress, JobID: jobID, Stage: stage, Progress: queue.Progress{Fraction: fraction}}
}

func TestThrottleByDelta(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := startReporter(t, progress.Options{MinDelta: 0.1, MinInterval: time.Hour, Clock: fake})
	sub := r.Subscribe("j1")

	r.Publish(progress.Event{Kind: progress.KindQueued, JobID: "j1", Owner: "alice"})
	r.Publish(progress.Event{Kind: progress.KindStage, JobID: "j1", Stage: queue.StageDownloading})
	r.Publish(progressEvent("j1", queue.StageDownloading, 0.05))
	r.Publish(progressEvent("j1", queue.StageDownloading, 0.12))
	r.Publish(progressEvent("j1", queue.StageDownloading, 0.15))
	r.Publish(progress.Event{Kind: progress.KindTerminal, JobID: "j1", Status: queue.StatusFailed})

	want := []struct {
		kind     progress.Kind
		fraction float64
	}{
		{progress.KindQueued, 0},
		{progress.KindStage, 0},
		{progress.KindProgress, 0.12},
		{progress.KindTerminal, 0.15},
	}
	for i, w := range want {
		update := next(t, sub)
		if update.Event.Kind != w.kind || update.View.Progress.Fraction != w.fraction {
			t.Fatalf("update %d: got %s at %.2f, want %s at %.2f", i, update.Event.Kind, update.View.Progress.Fraction, w.kind, w.fraction)
		}
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("job subscription should close after the terminal update")
	}
	if r.Tracked() != 0 {
		t.Fatalf("expected per-job state to be dropped, tracked=%d", r.Tracked())
	}
}

func TestThrottleByInterval(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := startReporter(t, progress.Options{MinDelta: 1, MinInterval: 5 * time.Second, Clock: fake})
	sub := r.Subscribe("j1")

	r.Publish(progress.Event{Kind: progress.KindStage, JobID: "j1", Stage: queue.StageEncoding})
	if got := next(t, sub); got.Event.Kind != progress.KindStage {
		t.Fatalf("expected stage update first, got %s", got.Event.Kind)
	}
	r.Publish(progressEvent("j1", queue.StageEncoding, 0.01))
	r.Publish(progress.Event{Kind: progress.KindCancelAck, JobID: "j1"})
	if got := next(t, sub); got.Event.Kind != progress.KindCancelAck {
		t.Fatalf("progress inside the interval should be throttled, got %s", got.Event.Kind)
	}
}

func TestIntervalElapsedEmits(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := startReporter(t, progress.Options{MinDelta: 1, MinInterval: 5 * time.Second, Clock: fake})
	sub := r.Subscribe("j1")

	r.Publish(progress.Event{Kind: progress.KindStage, JobID: "j1", Stage: queue.StageEncoding})
	next(t, sub)
	fake.Advance(5 * time.Second)
	r.Publish(progressEvent("j1", queue.StageEncoding, 0.02))
	got := next(t, sub)
	if got.Event.Kind != progress.KindProgress || got.View.Progress.Fraction != 0.02 {
		t.Fatalf("expected progress after interval elapsed, got %s at %.2f", got.Event.Kind, got.View.Progress.Fraction)
	}
}

func TestProgressIsMonotonicAndResetsOnStageChange(t *testing.T) {
	r := startReporter(t, progress.Options{})
	sub := r.Subscribe("j1")

	r.Publish(progress.Event{Kind: progress.KindStage, JobID: "j1", Stage: queue.StageDownloading})
	r.Publish(progressEvent("j1", queue.StageDownloading, 0.5))
	r.Publish(progressEvent("j1", queue.StageDownloading, 0.3))
	r.Publish(progress.Event{Kind: progress.KindStage, JobID: "j1", Stage: queue.StageEncoding})
	r.Publish(progressEvent("j1", queue.StageDownloading, 0.9))
	r.Publish(progress.Event{Kind: progress.KindCancelAck, JobID: "j1"})

	var last progress.Update
	var fractions []float64
	for {
		last = next(t, sub)
		if last.Event.Kind == progress.KindCancelAck {
			break
		}
		fractions = append(fractions, last.View.Progress.Fraction)
	}
	for i := 1; i < len(fractions)-1; i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("fraction decreased within a stage: %v", fractions)
		}
	}
	if fractions[len(fractions)-1] != 0 {
		t.Fatalf("expected reset to 0 on stage change, got %v", fractions)
	}
	if last.View.Stage != queue.StageEncoding || last.View.Progress.Fraction != 0 {
		t.Fatalf("late sample from an earlier stage must be ignored: %+v", last.View)
	}
	if last.View.Status != queue.StatusCancelling {
		t.Fatalf("expected cancelling status after ack, got %s", last.View.Status)
	}
	states := []string{last.View.Stages[0].State, last.View.Stages[1].State, last.View.Stages[2].State}
	if states[0] != progress.StateDone || states[1] != progress.StateActive || states[2] != progress.StatePending {
		t.Fatalf("unexpected stage states %v", states)
	}
}

func TestSubscribeAllSurvivesTerminal(t *testing.T) {
	r := startReporter(t, progress.Options{})
	all := r.SubscribeAll()
	other := r.Subscribe("j2")

	r.Publish(progress.Event{Kind: progress.KindTerminal, JobID: "j1", Status: queue.StatusSucceeded})
	r.Publish(progress.Event{Kind: progress.KindQueued, JobID: "j2"})

	if got := next(t, all); got.Event.JobID != "j1" {
		t.Fatalf("expected j1 first, got %s", got.Event.JobID)
	}
	if got := next(t, all); got.Event.JobID != "j2" {
		t.Fatalf("expected j2 second, got %s", got.Event.JobID)
	}
	if got := next(t, other); got.Event.JobID != "j2" {
		t.Fatalf("job subscription received foreign update %s", got.Event.JobID)
	}
	r.Unsubscribe(all)
	r.Unsubscribe(all)
	if _, ok := <-all.C(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	r := progress.New(progress.Options{InboxSize: 2})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Publish(progressEvent("j1", queue.StageEncoding, float64(i)/100))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full inbox")
	}
	if got := r.Dropped(); got != 98 {
		t.Fatalf("expected 98 dropped events, got %d", got)
	}
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	r := startReporter(t, progress.Options{SubscriberBuffer: 1})
	sub := r.Subscribe("j1")
	for _, stage := range queue.PipelineStages() {
		r.Publish(progress.Event{Kind: progress.KindStage, JobID: "j1", Stage: stage})
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Delivered() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d updates delivered", r.Delivered())
		}
		time.Sleep(time.Millisecond)
	}
	if got := next(t, sub); got.View.Stage != queue.StageUploading {
		t.Fatalf("expected newest update to survive, got stage %s", got.View.Stage)
	}
}

func TestRenderView(t *testing.T) {
	if got := progress.Bar(0.5); got != "█████░░░░░" {
		t.Fatalf("Bar(0.5) = %q", got)
	}
	if got := progress.Bar(2); got != strings.Repeat("█", 10) {
		t.Fatalf("Bar clamps above 1, got %q", got)
	}
	view := progress.View{
		JobID:    "j1",
		Status:   queue.StatusRunning,
		Stage:    queue.StageEncoding,
		Progress: queue.Progress{Fraction: 0.5, BytesDone: 1024, BytesTotal: 2048, ETA: 90 * time.Second},
		Stages: []progress.StageView{
			{Stage: queue.StageDownloading, Label: "Downloading", State: progress.StateDone, Fraction: 1},
			{Stage: queue.StageEncoding, Label: "Encoding", State: progress.StateActive, Fraction: 0.5},
			{Stage: queue.StageUploading, Label: "Uploading", State: progress.StatePending},
		},
	}
	text := progress.Render(view)
	for _, want := range []string{"Job j1: running", "Downloading", "100.0%", "1.0 KiB of 2.0 KiB", "ETA 1m30s"} {
		if !strings.Contains(text, want) {
			t.Fatalf("render missing %q:\n%s", want, text)
		}
	}
	if progress.StageLabel(queue.StageUploading) != "Uploading" {
		t.Fatalf("unexpected label %q", progress.StageLabel(queue.StageUploading))
	}
}

func TestOverflowKeepsTerminalEvents(t *testing.T) {
	r := progress.New(progress.Options{InboxSize: 4})
	sub := r.Subscribe("j1")
	r.Publish(progress.Event{Kind: progress.KindDispatched, JobID: "j1"})
	r.Publish(progressEvent("j1", queue.StageEncoding, 0.5))
	r.Publish(progress.Event{Kind: progress.KindTerminal, JobID: "j1", Status: queue.StatusSucceeded})
	others := []string{"j2", "j3", "j4", "j5", "j6", "j7", "j8", "j9"}
	for _, id := range others {
		r.Publish(progress.Event{Kind: progress.KindQueued, JobID: id})
		r.Publish(progressEvent(id, queue.StageDownloading, 0.1))
	}
	for _, id := range others {
		r.Publish(progress.Event{Kind: progress.KindTerminal, JobID: id, Status: queue.StatusCancelled})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	timeout := time.After(2 * time.Second)
	for closed := false; !closed; {
		select {
		case _, ok := <-sub.C():
			closed = !ok
		case <-timeout:
			t.Fatal("job subscription never closed")
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Tracked() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected no tracked jobs, got %d", r.Tracked())
		}
		time.Sleep(time.Millisecond)
	}
	if r.Dropped() == 0 {
		t.Fatal("expected progress samples to be dropped on overflow")
	}
}
