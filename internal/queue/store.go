package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the persistence contract shared by every backend. Writes are
// whole-record upserts; the queue controller owns all merging.
type Store interface {
	// Put inserts or replaces the job record.
	Put(ctx context.Context, job *Job) error
	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Delete removes the job. Deleting a missing job is not an error.
	Delete(ctx context.Context, id string) error
	// ListByStatus returns jobs in any of the statuses ordered by Seq.
	// No statuses means all jobs.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Job, error)
	// PurgeFinished deletes terminal jobs that finished before cutoff.
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
	// MaxSeq returns the highest enqueue sequence number stored.
	MaxSeq(ctx context.Context) (int64, error)
	Close() error
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// MarshalRetries encodes retry history for text columns.
func MarshalRetries(records []RetryRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode retries: %w", err)
	}
	return string(data), nil
}

// UnmarshalRetries decodes retry history written by MarshalRetries.
func UnmarshalRetries(raw string) ([]RetryRecord, error) {
	if raw == "" {
		return nil, nil
	}
	var records []RetryRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode retries: %w", err)
	}
	return records, nil
}

// terminalStatuses lists statuses eligible for retention purges.
func terminalStatuses() []Status {
	return []Status{StatusSucceeded, StatusFailed, StatusCancelled}
}
