package testsupport

import (
	"context"
	"errors"
	"testing"
	"time"

	"iencode/internal/queue"
)

// RunStoreContract exercises the behaviour every queue.Store backend must share.
// The store must be empty when passed in.
func RunStoreContract(t *testing.T, store queue.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		job := NewJob("contract-a", "alice", queue.LaneAccelerator, 1)
		job.Progress = queue.Progress{Fraction: 0.25, BytesDone: 10, BytesTotal: 40, ETA: 3 * time.Second, Message: "copying"}
		job.CancelRequested = true
		job.Retries = []queue.RetryRecord{{Stage: queue.StageDownloading, Attempt: 1, Error: "503", At: job.CreatedAt}}
		if err := store.Put(ctx, job); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != job.ID || got.Owner != job.Owner || got.Lane != job.Lane || got.Status != job.Status {
			t.Fatalf("identity fields differ: got %+v want %+v", got, job)
		}
		if got.Quality != job.Quality || got.PayloadRef != job.PayloadRef || got.Seq != job.Seq {
			t.Fatalf("payload fields differ: got %+v want %+v", got, job)
		}
		if !got.CancelRequested {
			t.Fatal("expected cancel flag to persist")
		}
		if got.Progress.Fraction != 0.25 || got.Progress.BytesTotal != 40 || got.Progress.ETA != 3*time.Second {
			t.Fatalf("progress differs: %+v", got.Progress)
		}
		if len(got.Retries) != 1 || got.Retries[0].Stage != queue.StageDownloading {
			t.Fatalf("retries differ: %+v", got.Retries)
		}
		if !got.CreatedAt.Equal(job.CreatedAt) {
			t.Fatalf("created_at differs: %s vs %s", got.CreatedAt, job.CreatedAt)
		}
	})

	t.Run("upsert replaces", func(t *testing.T) {
		job := NewJob("contract-b", "bob", queue.LaneNormal, 2)
		if err := store.Put(ctx, job); err != nil {
			t.Fatalf("Put: %v", err)
		}
		now := job.CreatedAt.Add(time.Minute)
		if err := job.Transition(queue.StatusRunning, now); err != nil {
			t.Fatalf("Transition: %v", err)
		}
		job.EnterStage(queue.StageEncoding, now)
		if err := store.Put(ctx, job); err != nil {
			t.Fatalf("Put update: %v", err)
		}
		got, err := store.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != queue.StatusRunning || got.Stage != queue.StageEncoding || got.StartedAt == nil {
			t.Fatalf("update not applied: %+v", got)
		}
	})

	t.Run("missing job", func(t *testing.T) {
		if _, err := store.Get(ctx, "does-not-exist"); !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := store.Delete(ctx, "does-not-exist"); err != nil {
			t.Fatalf("Delete of missing job: %v", err)
		}
	})

	t.Run("list by status ordered by seq", func(t *testing.T) {
		for _, job := range []*queue.Job{
			NewJob("contract-d", "carol", queue.LaneNormal, 5),
			NewJob("contract-c", "carol", queue.LaneNormal, 4),
		} {
			if err := store.Put(ctx, job); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
		queued, err := store.ListByStatus(ctx, queue.StatusQueued)
		if err != nil {
			t.Fatalf("ListByStatus: %v", err)
		}
		var ids []string
		for _, job := range queued {
			ids = append(ids, job.ID)
		}
		want := []string{"contract-a", "contract-c", "contract-d"}
		if len(ids) != len(want) {
			t.Fatalf("unexpected queued ids %v", ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("unexpected order %v, want %v", ids, want)
			}
		}
		all, err := store.ListByStatus(ctx)
		if err != nil {
			t.Fatalf("ListByStatus(all): %v", err)
		}
		if len(all) != 4 {
			t.Fatalf("expected 4 jobs, got %d", len(all))
		}
		seq, err := store.MaxSeq(ctx)
		if err != nil {
			t.Fatalf("MaxSeq: %v", err)
		}
		if seq != 5 {
			t.Fatalf("expected max seq 5, got %d", seq)
		}
	})

	t.Run("purge finished", func(t *testing.T) {
		job, err := store.Get(ctx, "contract-b")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		finishedAt := job.CreatedAt.Add(time.Hour)
		if err := job.Transition(queue.StatusSucceeded, finishedAt); err != nil {
			t.Fatalf("Transition: %v", err)
		}
		job.ResultRef = "file:///library/contract-b.mkv"
		if err := store.Put(ctx, job); err != nil {
			t.Fatalf("Put: %v", err)
		}
		removed, err := store.PurgeFinished(ctx, finishedAt.Add(-time.Minute))
		if err != nil || removed != 0 {
			t.Fatalf("expected nothing purged before finish, got %d %v", removed, err)
		}
		removed, err = store.PurgeFinished(ctx, finishedAt.Add(time.Minute))
		if err != nil || removed != 1 {
			t.Fatalf("expected one purge, got %d %v", removed, err)
		}
		if _, err := store.Get(ctx, "contract-b"); !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("expected purged job to be gone, got %v", err)
		}
		if _, err := store.Get(ctx, "contract-a"); err != nil {
			t.Fatalf("queued job should survive purge: %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, "contract-a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, "contract-a"); !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}
