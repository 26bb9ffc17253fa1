package workflow

import (
	"context"
	"time"

	"iencode/internal/logging"
)

// PurgeFinished deletes terminal job records that finished more than
// olderThan ago, from the store and from the in-memory recent cache.
func (m *Manager) PurgeFinished(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := m.clock.Now().Add(-olderThan)
	removed, err := m.store.PurgeFinished(ctx, cutoff)
	if err != nil {
		m.logger.Warn("job retention sweep failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "retention_failed"),
			logging.String(logging.FieldErrorHint, "check store connectivity"),
		)
		return 0, err
	}

	m.mu.Lock()
	kept := m.recentOrder[:0]
	for _, id := range m.recentOrder {
		job := m.recent[id]
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(m.recent, id)
			continue
		}
		kept = append(kept, id)
	}
	m.recentOrder = kept
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info("purged finished jobs",
			logging.String(logging.FieldEventType, "retention_purge"),
			logging.Int64("removed", removed),
			logging.String("cutoff", cutoff.Format(time.RFC3339)),
		)
	}
	return removed, nil
}
