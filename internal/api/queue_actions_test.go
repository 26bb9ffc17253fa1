package api

import (
	"context"
	"errors"
	"testing"

	"iencode/internal/queue"
)

func TestCancelItemsByID(t *testing.T) {
	ctrl := newMockController(
		&queue.Job{ID: "queued", Status: queue.StatusQueued},
		&queue.Job{ID: "running", Status: queue.StatusRunning},
		&queue.Job{ID: "done", Status: queue.StatusSucceeded},
		&queue.Job{ID: "foreign", Status: queue.StatusQueued},
	)
	ctrl.cancelErr["foreign"] = queue.ErrNotOwner
	svc := NewQueueService(ctrl)

	result, err := CancelItemsByID(context.Background(), svc, []string{"queued", "running", "done", "missing", "foreign"}, "alice")
	if err != nil {
		t.Fatalf("CancelItemsByID returned error: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Fatalf("expected 2 updated, got %d", result.UpdatedCount)
	}
	want := []CancelItemOutcome{
		CancelItemCancelled,
		CancelItemCancelling,
		CancelItemAlreadyFinished,
		CancelItemNotFound,
		CancelItemNotOwner,
	}
	if len(result.Items) != len(want) {
		t.Fatalf("unexpected items %+v", result.Items)
	}
	for i, outcome := range want {
		if result.Items[i].Outcome != outcome {
			t.Fatalf("item %d: got %s want %s", i, result.Items[i].Outcome, outcome)
		}
	}
	if result.Items[2].FinalStatus != "succeeded" {
		t.Fatalf("expected final status for finished job, got %+v", result.Items[2])
	}
}

func TestCancelItemsByIDAbortsOnUnexpectedError(t *testing.T) {
	boom := errors.New("boom")
	ctrl := newMockController(&queue.Job{ID: "a", Status: queue.StatusQueued})
	ctrl.cancelErr["a"] = boom
	if _, err := CancelItemsByID(context.Background(), NewQueueService(ctrl), []string{"a"}, "alice"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
