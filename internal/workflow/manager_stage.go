package workflow

import (
	"iencode/internal/logging"
	"iencode/internal/pipeline"
	"iencode/internal/progress"
	"iencode/internal/queue"
	"iencode/internal/services"
	"iencode/internal/workerpool"
)

// bind runs under the pool lock once a slot and a queued job are paired.
func (m *Manager) bind(b workerpool.Binding) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.jobs[b.JobID]
	if !ok || !m.running || entry.job.Status != queue.StatusQueued {
		return false
	}
	now := m.clock.Now()
	if err := entry.job.Transition(queue.StatusRunning, now); err != nil {
		m.logger.Warn("bind rejected by lifecycle table",
			logging.String(logging.FieldJobID, b.JobID),
			logging.Error(err),
		)
		return false
	}
	entry.job.EnterStage(queue.StageDownloading, now)
	m.dispatchSeq++
	entry.dispatch = m.dispatchSeq
	entry.slot = b.Slot
	entry.stageStart = now
	m.rev++
	entry.rev = m.rev
	entry.dirty = true
	m.reporter.Publish(progress.Event{
		Kind:  progress.KindDispatched,
		JobID: b.JobID,
		Owner: entry.job.Owner,
		Lane:  entry.job.Lane,
		At:    now,
	})
	return true
}

// run executes a bound job on its worker goroutine.
func (m *Manager) run(b workerpool.Binding) {
	m.mu.Lock()
	entry, ok := m.jobs[b.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	write := m.bumpLocked(entry)
	ctx := m.runCtx
	m.mu.Unlock()

	ctx = services.WithScope(ctx, services.Scope{
		JobID: b.JobID,
		Owner: write.job.Owner,
		Lane:  string(write.job.Lane),
		Slot:  b.Slot,
	})
	logging.WithContext(ctx, m.logger).Info("job dispatched",
		logging.String(logging.FieldEventType, "job_dispatched"),
		logging.Duration("queued_for", b.BoundAt.Sub(write.job.CreatedAt)),
	)
	m.persist(write)

	outcome := m.executor.Run(ctx, write.job)
	m.finalize(b, outcome)
}

// EnterStage implements pipeline.Tracker.
func (m *Manager) EnterStage(jobID string, stage queue.Stage) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok || !entry.job.Status.IsActive() {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	var write pendingWrite
	prev := entry.job.Stage
	if prev != stage {
		if prev != queue.StageNone && !entry.stageStart.IsZero() {
			m.metrics.StageDuration.WithLabelValues(string(prev)).Observe(now.Sub(entry.stageStart).Seconds())
		}
		entry.job.EnterStage(stage, now)
		entry.stageStart = now
		write = m.bumpLocked(entry)
	}
	owner, lane := entry.job.Owner, entry.job.Lane
	m.mu.Unlock()

	m.persist(write)
	m.reporter.Publish(progress.Event{Kind: progress.KindStage, JobID: jobID, Owner: owner, Lane: lane, Stage: stage, At: now})
}

// ReportProgress implements pipeline.Tracker. Samples for a stage other than
// the current one are ignored; the job record is checkpointed periodically
// rather than on every sample.
func (m *Manager) ReportProgress(jobID string, stage queue.Stage, p queue.Progress) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok || entry.job.Stage != stage {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	applied := entry.job.AdvanceProgress(p, now)
	entry.dirty = true
	m.mu.Unlock()

	m.reporter.Publish(progress.Event{Kind: progress.KindProgress, JobID: jobID, Stage: stage, Progress: applied, At: now})
}

// RecordRetry implements pipeline.Tracker.
func (m *Manager) RecordRetry(jobID string, record queue.RetryRecord) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.job.Retries = append(entry.job.Retries, record)
	entry.job.UpdatedAt = m.clock.Now()
	write := m.bumpLocked(entry)
	m.mu.Unlock()

	m.persist(write)
	m.metrics.StageRetries.WithLabelValues(string(record.Stage)).Inc()
}

// CancelRequested implements pipeline.Tracker.
func (m *Manager) CancelRequested(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.jobs[jobID]
	return ok && entry.job.CancelRequested
}

// BeginCancelling implements pipeline.Tracker.
func (m *Manager) BeginCancelling(jobID string) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok || entry.job.Status != queue.StatusRunning {
		m.mu.Unlock()
		return
	}
	if err := entry.job.Transition(queue.StatusCancelling, m.clock.Now()); err != nil {
		m.mu.Unlock()
		return
	}
	write := m.bumpLocked(entry)
	m.mu.Unlock()

	m.persist(write)
	m.reporter.Publish(progress.Event{
		Kind:  progress.KindCancelAck,
		JobID: jobID,
		Owner: write.job.Owner,
		Lane:  write.job.Lane,
		Stage: write.job.Stage,
	})
}

// finalize records the executor outcome: the job table first, then the slot,
// then the store.
func (m *Manager) finalize(b workerpool.Binding, outcome pipeline.Outcome) {
	if outcome.Interrupted {
		m.mu.Lock()
		var write pendingWrite
		if entry, ok := m.jobs[b.JobID]; ok {
			write = m.bumpLocked(entry)
			delete(m.jobs, b.JobID)
		}
		m.mu.Unlock()
		m.persist(write)
		return
	}

	m.mu.Lock()
	entry, ok := m.jobs[b.JobID]
	if !ok {
		m.mu.Unlock()
		m.pool.Release(b)
		return
	}
	now := m.clock.Now()
	stage := entry.job.Stage
	status := outcome.Status
	if entry.job.Status == queue.StatusCancelling {
		status = queue.StatusCancelled
	}
	if err := entry.job.Transition(status, now); err != nil {
		m.logger.Error("finalize outside the lifecycle table; forcing terminal status",
			logging.String(logging.FieldJobID, b.JobID),
			logging.String("from", string(entry.job.Status)),
			logging.String("to", string(status)),
			logging.Error(err),
			logging.Alert("lifecycle_violation"),
		)
		finished := now
		entry.job.Status = status
		entry.job.Stage = queue.StageNone
		entry.job.FinishedAt = &finished
		entry.job.UpdatedAt = now
	}
	switch status {
	case queue.StatusSucceeded:
		entry.job.ResultRef = outcome.ResultRef
	default:
		if outcome.Err != nil {
			entry.job.ErrorInfo = outcome.Err.Error()
		}
	}
	if stage != queue.StageNone && !entry.stageStart.IsZero() {
		m.metrics.StageDuration.WithLabelValues(string(stage)).Observe(now.Sub(entry.stageStart).Seconds())
	}
	write := m.bumpLocked(entry)
	delete(m.jobs, b.JobID)
	m.rememberLocked(write.job)
	m.finalized = append(m.finalized, b.JobID)
	switch status {
	case queue.StatusSucceeded:
		m.queueProcessed++
	case queue.StatusFailed:
		m.queueFailed++
		m.lastErr = outcome.Err
	}
	m.mu.Unlock()

	m.pool.Release(b)
	m.persist(write)
	m.afterFinalize(write.job, outcome.Err)
}
