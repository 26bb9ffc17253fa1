package workflow

import (
	"context"

	"iencode/internal/logging"
)

// checkpointLoop periodically persists jobs whose progress changed since the
// last write, and releases persister bookkeeping for jobs finalized at least
// one interval ago.
func (m *Manager) checkpointLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.checkpoint()
		}
	}
}

func (m *Manager) checkpoint() {
	m.mu.Lock()
	var writes []pendingWrite
	for _, entry := range m.jobs {
		if entry.dirty && entry.job.Status.IsActive() {
			writes = append(writes, m.bumpLocked(entry))
		}
	}
	forget := m.settled
	m.settled = m.finalized
	m.finalized = nil
	m.mu.Unlock()

	for _, w := range writes {
		m.persist(w)
	}
	if len(forget) > 0 {
		m.persister.Forget(forget...)
	}
	if len(writes) > 0 {
		m.logger.Debug("progress checkpoint",
			logging.String(logging.FieldEventType, "progress_checkpoint"),
			logging.Int("jobs", len(writes)),
		)
	}
}
