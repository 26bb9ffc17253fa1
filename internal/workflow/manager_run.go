package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iencode/internal/logging"
	"iencode/internal/queue"
	"iencode/internal/scheduler"
	"iencode/internal/staging"
)

const stopGrace = 5 * time.Second

// Start recovers persisted work, starts the background loops and dispatches
// whatever is queued. A stopped manager cannot be restarted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if m.stopped {
		m.mu.Unlock()
		return errors.New("queue controller already stopped")
	}
	m.mu.Unlock()

	if err := m.recover(ctx); err != nil {
		m.setLastError(err)
		return err
	}
	cleaned := staging.CleanOrphaned(ctx, m.cfg.Paths.StagingDir, map[string]struct{}{}, m.logger)
	if len(cleaned.Errors) > 0 {
		m.logger.Warn("some orphaned work directories could not be removed",
			logging.Int("failed", len(cleaned.Errors)),
			logging.String(logging.FieldEventType, "staging_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
		)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	bgCtx, bgCancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.running = true
	m.runCtx = runCtx
	m.runCancel = runCancel
	m.bgCancel = bgCancel
	live := len(m.jobs)
	m.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.reporter.Run(bgCtx)
	}()
	go m.checkpointLoop(bgCtx)

	m.logger.Info("queue controller started",
		logging.String(logging.FieldEventType, "manager_start"),
		logging.Int("slots", m.pool.Size()),
		logging.Int("recovered", live),
		logging.Duration("cancel_latency_bound", m.CancelLatency()),
	)
	if live > 0 {
		m.onQueueActivity()
	}
	m.pool.TryDispatch()
	return nil
}

// Stop closes the pool, interrupts running jobs and waits for their workers
// to return. Interrupted and queued jobs stay persisted for the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	runCancel := m.runCancel
	bgCancel := m.bgCancel
	m.mu.Unlock()

	m.pool.Close()
	if drained := m.sched.Drain(); len(drained) > 0 {
		m.logger.Info("released queued jobs",
			logging.String(logging.FieldEventType, "scheduler_drained"),
			logging.Int("queued", len(drained)),
		)
	}
	runCancel()

	waitCtx, cancel := context.WithTimeout(context.Background(), m.CancelLatency()+stopGrace)
	defer cancel()
	if err := m.pool.Wait(waitCtx); err != nil {
		m.logger.Warn("workers still running at shutdown",
			logging.Error(err),
			logging.String(logging.FieldEventType, "shutdown_timeout"),
			logging.String(logging.FieldImpact, "interrupted jobs are re-queued on the next start"),
		)
	}
	m.checkpoint()
	bgCancel()
	m.wg.Wait()
	m.notifyWG.Wait()
	m.logger.Info("queue controller stopped", logging.String(logging.FieldEventType, "manager_stop"))
}

// recover loads unfinished jobs in Seq order. Queued jobs return to their
// lanes; running jobs are re-queued unless a cancel was already requested.
func (m *Manager) recover(ctx context.Context) error {
	maxSeq, err := m.store.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}
	jobs, err := m.store.ListByStatus(ctx, queue.StatusQueued, queue.StatusRunning, queue.StatusCancelling)
	if err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}

	var writes []pendingWrite
	var requeued, restored, cancelled int
	now := m.clock.Now()

	m.mu.Lock()
	if maxSeq > m.seq {
		m.seq = maxSeq
	}
	for _, job := range jobs {
		entry := &jobEntry{job: job, slot: -1}
		interrupted := job.Status.IsActive()
		if interrupted {
			if job.CancelRequested {
				if err := job.Transition(queue.StatusCancelled, now); err != nil {
					m.logger.Warn("could not finalize interrupted job",
						logging.String(logging.FieldJobID, job.ID),
						logging.Error(err),
					)
					continue
				}
				w := m.bumpLocked(entry)
				m.rememberLocked(w.job)
				writes = append(writes, w)
				cancelled++
				continue
			}
			job.Requeue(now)
			requeued++
		} else {
			restored++
		}
		if err := m.sched.Restore(scheduler.Entry{ID: job.ID, Lane: job.Lane, Seq: job.Seq}); err != nil {
			m.logger.Warn("could not restore job to its lane",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldLane, string(job.Lane)),
				logging.Error(err),
			)
			continue
		}
		m.jobs[job.ID] = entry
		if interrupted {
			writes = append(writes, m.bumpLocked(entry))
		} else {
			m.rev++
			entry.rev = m.rev
		}
	}
	m.mu.Unlock()

	for _, w := range writes {
		m.persist(w)
	}
	if len(jobs) > 0 {
		logging.WithContext(ctx, m.logger).Info("recovered persisted jobs",
			logging.String(logging.FieldEventType, "queue_recovered"),
			logging.Int("queued", restored),
			logging.Int("requeued", requeued),
			logging.Int("cancelled", cancelled),
			logging.Int64("max_seq", maxSeq),
		)
	}
	return nil
}
