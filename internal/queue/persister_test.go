package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"iencode/internal/queue"
	"iencode/internal/services"
	"iencode/internal/testsupport"
)

func TestPersisterRetriesThenSucceeds(t *testing.T) {
	store := queue.NewMemoryStore()
	store.FailNextWrites(2, errors.New("locked"))
	var alerts int
	p := queue.NewPersister(store, queue.PersisterOptions{
		Attempts: 3,
		Backoff:  time.Millisecond,
		OnAlert:  func(string, error) { alerts++ },
	})

	job := testsupport.NewJob("a", "alice", queue.LaneNormal, 1)
	if err := p.Save(context.Background(), job, 1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if alerts != 0 || p.Failures() != 0 {
		t.Fatalf("unexpected alert after recovery: alerts=%d failures=%d", alerts, p.Failures())
	}
	if _, err := store.Get(context.Background(), "a"); err != nil {
		t.Fatalf("expected job stored: %v", err)
	}
}

func TestPersisterAlertsAfterExhaustion(t *testing.T) {
	store := queue.NewMemoryStore()
	store.FailNextWrites(5, errors.New("locked"))
	var alerted []string
	p := queue.NewPersister(store, queue.PersisterOptions{
		Attempts: 3,
		Backoff:  time.Millisecond,
		OnAlert:  func(id string, err error) { alerted = append(alerted, id) },
	})

	err := p.Save(context.Background(), testsupport.NewJob("a", "alice", queue.LaneNormal, 1), 1)
	if !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if len(alerted) != 1 || alerted[0] != "a" {
		t.Fatalf("expected one alert for job a, got %v", alerted)
	}
	if p.Failures() != 1 {
		t.Fatalf("expected failure counter 1, got %d", p.Failures())
	}
}

func TestPersisterDropsStaleRevisions(t *testing.T) {
	store := queue.NewMemoryStore()
	p := queue.NewPersister(store, queue.PersisterOptions{})
	ctx := context.Background()

	newer := testsupport.NewJob("a", "alice", queue.LaneNormal, 1)
	newer.CancelRequested = true
	if err := p.Save(ctx, newer, 5); err != nil {
		t.Fatalf("Save newer: %v", err)
	}
	older := testsupport.NewJob("a", "alice", queue.LaneNormal, 1)
	if err := p.Save(ctx, older, 4); err != nil {
		t.Fatalf("Save older: %v", err)
	}
	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CancelRequested {
		t.Fatal("stale snapshot overwrote newer state")
	}
}

func TestPersisterConcurrentJobs(t *testing.T) {
	store := queue.NewMemoryStore()
	p := queue.NewPersister(store, queue.PersisterOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		for rev := int64(1); rev <= 20; rev++ {
			wg.Add(1)
			go func(id string, rev int64) {
				defer wg.Done()
				job := testsupport.NewJob(id, "alice", queue.LaneNormal, rev)
				if err := p.Save(ctx, job, rev); err != nil {
					t.Errorf("Save %s/%d: %v", id, rev, err)
				}
			}(id, rev)
		}
	}
	wg.Wait()

	for _, id := range ids {
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if got.Seq != 20 {
			t.Fatalf("job %s: expected newest revision to win, got seq %d", id, got.Seq)
		}
	}
}
