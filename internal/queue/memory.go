package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. It backs the "memory" driver and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	// failNext makes the next n writes fail; used to exercise persistence retries.
	failNext int
	failErr  error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// FailNextWrites makes the next n Put or Delete calls return err.
func (m *MemoryStore) FailNextWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

func (m *MemoryStore) injectedFailure() error {
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	return nil
}

func (m *MemoryStore) Put(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedFailure(); err != nil {
		return err
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedFailure(); err != nil {
		return err
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		want[status] = struct{}{}
	}
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if len(want) > 0 {
			if _, ok := want[job.Status]; !ok {
				continue
			}
		}
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Seq < jobs[k].Seq })
	return jobs, nil
}

func (m *MemoryStore) PurgeFinished(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) MaxSeq(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq int64
	for _, job := range m.jobs {
		if job.Seq > seq {
			seq = job.Seq
		}
	}
	return seq, nil
}

func (m *MemoryStore) Close() error { return nil }
