package workflow

import (
	"context"

	"iencode/internal/pipeline"
	"iencode/internal/queue"
)

// StatusSummary represents lightweight controller diagnostics.
type StatusSummary struct {
	Running             bool
	PoolSize            int
	PoolBusy            int
	LaneDepths          map[queue.Lane]int
	LiveJobs            int
	LastError           string
	PersistenceFailures int64
	ProgressDropped     int64
	CancelLatency       string
	Health              []pipeline.Health
}

// Status returns the latest controller information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.Lock()
	running := m.running
	lastErr := m.lastErr
	live := len(m.jobs)
	m.mu.Unlock()

	depths := make(map[queue.Lane]int, len(queue.Lanes()))
	for _, lane := range queue.Lanes() {
		depths[lane] = m.sched.Depth(lane)
	}
	summary := StatusSummary{
		Running:             running,
		PoolSize:            m.pool.Size(),
		PoolBusy:            m.pool.Busy(),
		LaneDepths:          depths,
		LiveJobs:            live,
		PersistenceFailures: m.persister.Failures(),
		ProgressDropped:     m.reporter.Dropped(),
		CancelLatency:       m.CancelLatency().String(),
		Health:              pipeline.CheckHealth(ctx, m.collab.Fetcher, m.collab.Transformer, m.collab.Publisher),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
