package testsupport

import (
	"testing"
	"time"

	"iencode/internal/config"
	"iencode/internal/queue"
)

// MustOpenStore opens the SQLite job store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.SQLiteStore {
	t.Helper()

	store, err := queue.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("queue.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob builds a queued job with deterministic timestamps.
func NewJob(id, owner string, lane queue.Lane, seq int64) *queue.Job {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second)
	return &queue.Job{
		ID:         id,
		Owner:      owner,
		PayloadRef: "file:///media/" + id + ".mkv",
		Quality:    720,
		Lane:       lane,
		Status:     queue.StatusQueued,
		Seq:        seq,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}
