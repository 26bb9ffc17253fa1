package workflow

import (
	"context"
	"errors"
	"time"

	"iencode/internal/logging"
	"iencode/internal/notifications"
	"iencode/internal/progress"
	"iencode/internal/queue"
	"iencode/internal/services"
)

const notifyTimeout = 30 * time.Second

// afterFinalize publishes the terminal update, metrics, logs and the
// requester notification for a finalized job.
func (m *Manager) afterFinalize(job *queue.Job, jobErr error) {
	m.reporter.Publish(progress.Event{
		Kind:      progress.KindTerminal,
		JobID:     job.ID,
		Owner:     job.Owner,
		Lane:      job.Lane,
		Status:    job.Status,
		ResultRef: job.ResultRef,
		Error:     job.ErrorInfo,
	})
	m.metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()
	if errors.Is(jobErr, services.ErrCancellationTimeout) {
		m.metrics.CancellationTimeout.Inc()
	}

	logger := m.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldOwner, job.Owner),
		logging.String(logging.FieldLane, string(job.Lane)),
	)
	var elapsed time.Duration
	if job.StartedAt != nil && job.FinishedAt != nil {
		elapsed = job.FinishedAt.Sub(*job.StartedAt)
	}

	payload := notifications.Payload{"job_id": job.ID, "owner": job.Owner}
	switch job.Status {
	case queue.StatusSucceeded:
		logger.Info("job finalized",
			logging.String(logging.FieldEventType, "job_finalized"),
			logging.String("status", string(job.Status)),
			logging.String("result_ref", job.ResultRef),
			logging.Duration("elapsed", elapsed),
			logging.Int("retries", len(job.Retries)),
		)
		payload["result_ref"] = job.ResultRef
		m.notify(notifications.EventJobSucceeded, payload)
	case queue.StatusFailed:
		logger.Error("job finalized",
			logging.String(logging.FieldEventType, "job_finalized"),
			logging.String("status", string(job.Status)),
			logging.Error(jobErr),
			logging.String(logging.FieldErrorHint, services.Hint(jobErr)),
			logging.Int("retries", len(job.Retries)),
		)
		payload["error"] = job.ErrorInfo
		m.notify(notifications.EventJobFailed, payload)
	default:
		logger.Info("job finalized",
			logging.String(logging.FieldEventType, "job_finalized"),
			logging.String("status", string(job.Status)),
			logging.Duration("elapsed", elapsed),
		)
		m.notify(notifications.EventJobCancelled, payload)
	}
	m.checkQueueCompletion()
}

// notify publishes in the background so a slow ntfy server never holds a
// worker or a request.
func (m *Manager) notify(event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	m.notifyWG.Add(1)
	go func() {
		defer m.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := m.notifier.Publish(ctx, event, payload); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				m.logger.Debug("daemon shutting down, could not send notification", logging.String("event", string(event)))
			case errors.Is(err, notifications.ErrRateLimited):
				m.logger.Debug("notification rate limited", logging.String("event", string(event)))
			default:
				m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
			}
		}
	}()
}

// onQueueActivity sends the queue-started notification when work arrives on
// an idle queue.
func (m *Manager) onQueueActivity() {
	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = m.clock.Now()
	m.queueProcessed = 0
	m.queueFailed = 0
	count := len(m.jobs)
	m.mu.Unlock()

	m.notify(notifications.EventQueueStarted, notifications.Payload{"count": count})
}

// checkQueueCompletion sends the queue-completed notification once no live
// jobs remain.
func (m *Manager) checkQueueCompletion() {
	m.mu.Lock()
	if !m.queueActive || len(m.jobs) > 0 || !m.running {
		m.mu.Unlock()
		return
	}
	duration := m.clock.Now().Sub(m.queueStart)
	processed, failed := m.queueProcessed, m.queueFailed
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	m.notify(notifications.EventQueueCompleted, notifications.Payload{
		"processed": processed,
		"failed":    failed,
		"duration":  duration,
	})
}

func (m *Manager) onPersistenceAlert(jobID string, err error) {
	m.metrics.PersistenceFailures.Inc()
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.notify(notifications.EventPersistenceAlert, notifications.Payload{
		"job_id": jobID,
		"error":  err.Error(),
	})
}
