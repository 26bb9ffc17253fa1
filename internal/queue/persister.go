package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"iencode/internal/clock"
	"iencode/internal/logging"
	"iencode/internal/services"
)

// AlertFunc receives persistence failures that exhausted their retries.
type AlertFunc func(jobID string, err error)

// PersisterOptions tunes the write retry policy.
type PersisterOptions struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
	OnAlert    AlertFunc
}

// Persister writes job snapshots through a Store. Writes for one job are
// serialized and a snapshot older than one already written is skipped, while
// different jobs persist concurrently. Failures are retried with backoff and,
// once exhausted, reported as an alert; they never fail the job itself.
type Persister struct {
	store      Store
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	clock      clock.Clock
	logger     *slog.Logger
	onAlert    AlertFunc

	mu       sync.Mutex
	locks    map[string]*keyLock
	written  map[string]int64
	failures int64
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewPersister wraps store with the retry policy in opts.
func NewPersister(store Store, opts PersisterOptions) *Persister {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Persister{
		store:      store,
		attempts:   opts.Attempts,
		backoff:    opts.Backoff,
		maxBackoff: opts.MaxBackoff,
		clock:      opts.Clock,
		logger:     logging.NewComponentLogger(opts.Logger, "persister"),
		onAlert:    opts.OnAlert,
		locks:      make(map[string]*keyLock),
		written:    make(map[string]int64),
	}
}

// Store exposes the wrapped backend for reads.
func (p *Persister) Store() Store { return p.store }

// Failures returns how many writes were abandoned after exhausting retries.
func (p *Persister) Failures() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Save persists a snapshot of job. revision orders snapshots of the same job;
// a snapshot whose revision is not newer than the last written one is dropped.
func (p *Persister) Save(ctx context.Context, job *Job, revision int64) error {
	unlock := p.lock(job.ID)
	defer unlock()

	p.mu.Lock()
	last, seen := p.written[job.ID]
	p.mu.Unlock()
	if seen && revision <= last {
		return nil
	}

	err := p.withRetry(ctx, job.ID, "put", func() error {
		return p.store.Put(ctx, job)
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.written[job.ID] = revision
	p.mu.Unlock()
	return nil
}

// Forget drops the revision bookkeeping for jobs whose records are gone.
func (p *Persister) Forget(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.written, id)
	}
}

// Remove deletes a job record.
func (p *Persister) Remove(ctx context.Context, id string) error {
	unlock := p.lock(id)
	defer unlock()
	err := p.withRetry(ctx, id, "delete", func() error {
		return p.store.Delete(ctx, id)
	})
	if err == nil {
		p.mu.Lock()
		delete(p.written, id)
		p.mu.Unlock()
	}
	return err
}

func (p *Persister) withRetry(ctx context.Context, id, op string, fn func() error) error {
	ctx = ensureContext(ctx)
	delay := p.backoff
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == p.attempts {
			break
		}
		p.logger.Debug("persist attempt failed; retrying",
			logging.String(logging.FieldJobID, id),
			logging.String("operation", op),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(lastErr),
		)
		if err := clock.Sleep(ctx, p.clock, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
		if delay *= 2; delay > p.maxBackoff {
			delay = p.maxBackoff
		}
	}

	wrapped := services.Wrap(services.ErrPersistence, "", op, fmt.Sprintf("job %s", id), lastErr)
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
	logging.ErrorWithContext(p.logger, "job persistence failed; in-memory state is authoritative until the next write", "persistence_alert",
		logging.String(logging.FieldJobID, id),
		logging.String("operation", op),
		logging.Int("attempts", p.attempts),
		logging.Alert("persistence"),
		logging.Error(lastErr),
		logging.String(logging.FieldErrorHint, services.Hint(wrapped)),
	)
	if p.onAlert != nil {
		p.onAlert(id, wrapped)
	}
	return wrapped
}

func (p *Persister) lock(id string) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &keyLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}
