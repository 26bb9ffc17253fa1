package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/notifications"
	"iencode/internal/progress"
	"iencode/internal/queue"
	"iencode/internal/scheduler"
)

var supportedSchemes = []string{"file", "http", "https", "s3"}

// ValidatePayloadRef checks that ref is an absolute URI with a supported
// scheme and a usable location.
func ValidatePayloadRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("%w: payload reference required", queue.ErrInvalidPayload)
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrInvalidPayload, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(supportedSchemes, scheme) {
		return fmt.Errorf("%w: unsupported scheme %q", queue.ErrInvalidPayload, parsed.Scheme)
	}
	switch scheme {
	case "file":
		if parsed.Path == "" || parsed.Path == "/" {
			return fmt.Errorf("%w: file reference has no path", queue.ErrInvalidPayload)
		}
	case "s3":
		if parsed.Host == "" || strings.Trim(parsed.Path, "/") == "" {
			return fmt.Errorf("%w: s3 reference must be s3://bucket/key", queue.ErrInvalidPayload)
		}
	default:
		if parsed.Host == "" {
			return fmt.Errorf("%w: %s reference has no host", queue.ErrInvalidPayload, scheme)
		}
	}
	return nil
}

func (m *Manager) resolveQuality(quality int) (int, error) {
	if quality == 0 {
		return m.cfg.Encoder.DefaultQuality, nil
	}
	if !slices.Contains(config.SupportedQualities, quality) {
		return 0, fmt.Errorf("%w: quality %d not in %v", queue.ErrInvalidPayload, quality, config.SupportedQualities)
	}
	return quality, nil
}

// Enqueue validates req, assigns an id and sequence number, persists the job
// and appends it to its lane. A full lane rejects the job with
// queue.ErrQueueFull.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*queue.Job, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, m.reject(fmt.Errorf("%w: owner required", queue.ErrInvalidPayload))
	}
	if err := ValidatePayloadRef(req.PayloadRef); err != nil {
		return nil, m.reject(err)
	}
	lane, ok := queue.ParseLane(string(req.Lane))
	if !ok {
		return nil, m.reject(fmt.Errorf("%w: unknown lane %q", queue.ErrInvalidPayload, req.Lane))
	}
	quality, err := m.resolveQuality(req.Quality)
	if err != nil {
		return nil, m.reject(err)
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, ErrNotRunning
	}
	now := m.clock.Now()
	job := &queue.Job{
		ID:         uuid.NewString(),
		Owner:      owner,
		PayloadRef: strings.TrimSpace(req.PayloadRef),
		Quality:    quality,
		Lane:       lane,
		Status:     queue.StatusQueued,
		Seq:        m.seq + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.sched.Enqueue(scheduler.Entry{ID: job.ID, Lane: lane, Seq: job.Seq}); err != nil {
		m.mu.Unlock()
		return nil, m.reject(err)
	}
	m.seq = job.Seq
	entry := &jobEntry{job: job, slot: -1}
	m.jobs[job.ID] = entry
	write := m.bumpLocked(entry)
	m.mu.Unlock()

	m.persist(write)
	m.metrics.JobsEnqueued.WithLabelValues(string(lane)).Inc()
	m.reporter.Publish(progress.Event{Kind: progress.KindQueued, JobID: job.ID, Owner: owner, Lane: lane})
	logging.WithContext(ctx, m.logger).Info("job enqueued",
		logging.String(logging.FieldEventType, "job_enqueued"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldOwner, owner),
		logging.String(logging.FieldLane, string(lane)),
		logging.Int("quality", quality),
		logging.Int64("seq", job.Seq),
	)
	m.onQueueActivity()
	m.pool.TryDispatch()
	return write.job, nil
}

func (m *Manager) reject(err error) error {
	reason := "invalid_payload"
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		reason = "queue_full"
	case errors.Is(err, queue.ErrDuplicateJob):
		reason = "duplicate"
	}
	m.metrics.JobsRejected.WithLabelValues(reason).Inc()
	return err
}

// Cancel requests cancellation of a job. A queued job is removed from its lane
// and finalized cancelled without running; a running job has its cancel flag
// set and the executor stops it at the next poll. Cancelling a finished job is
// acknowledged without change.
func (m *Manager) Cancel(ctx context.Context, id, requester string) (CancelAck, error) {
	m.mu.Lock()
	entry, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		job, err := m.lookup(ctx, id)
		if err != nil {
			return CancelAck{}, err
		}
		if !m.canAct(job.Owner, requester) {
			return CancelAck{}, fmt.Errorf("%w: %s", queue.ErrNotOwner, id)
		}
		if job.Status.IsTerminal() {
			return CancelAck{JobID: id, Status: job.Status, AlreadyTerminal: true}, nil
		}
		return CancelAck{}, fmt.Errorf("%w: %s is not live", queue.ErrNotFound, id)
	}
	if !m.canAct(entry.job.Owner, requester) {
		m.mu.Unlock()
		return CancelAck{}, fmt.Errorf("%w: %s", queue.ErrNotOwner, id)
	}
	logger := logging.WithContext(ctx, m.logger).With(
		logging.String(logging.FieldJobID, id),
		logging.String("requester", requester),
	)

	if entry.job.Status == queue.StatusQueued {
		// The pool may have dequeued the job and be waiting on m.mu to bind
		// it; bind declines once the status is no longer queued.
		_ = m.sched.Remove(id)
		now := m.clock.Now()
		entry.job.CancelRequested = true
		if err := entry.job.Transition(queue.StatusCancelled, now); err != nil {
			m.mu.Unlock()
			return CancelAck{}, err
		}
		write := m.bumpLocked(entry)
		delete(m.jobs, id)
		m.rememberLocked(write.job)
		m.finalized = append(m.finalized, id)
		m.mu.Unlock()

		m.persist(write)
		m.reporter.Publish(progress.Event{
			Kind:   progress.KindTerminal,
			JobID:  id,
			Owner:  write.job.Owner,
			Lane:   write.job.Lane,
			Status: queue.StatusCancelled,
		})
		m.metrics.JobsFinished.WithLabelValues(string(queue.StatusCancelled)).Inc()
		logger.Info("queued job cancelled",
			logging.String(logging.FieldEventType, "job_cancelled"),
			logging.String(logging.FieldLane, string(write.job.Lane)),
		)
		m.notify(notifications.EventJobCancelled, notifications.Payload{
			"job_id": id,
			"owner":  write.job.Owner,
		})
		m.checkQueueCompletion()
		return CancelAck{JobID: id, Status: queue.StatusCancelled}, nil
	}

	var write pendingWrite
	if !entry.job.CancelRequested {
		entry.job.CancelRequested = true
		entry.job.UpdatedAt = m.clock.Now()
		write = m.bumpLocked(entry)
	}
	owner, lane, stage := entry.job.Owner, entry.job.Lane, entry.job.Stage
	m.mu.Unlock()

	m.persist(write)
	m.reporter.Publish(progress.Event{Kind: progress.KindCancelAck, JobID: id, Owner: owner, Lane: lane, Stage: stage})
	logger.Info("cancel requested for running job",
		logging.String(logging.FieldEventType, "cancel_requested"),
		logging.String(logging.FieldStage, string(stage)),
		logging.Duration("latency_bound", m.CancelLatency()),
	)
	return CancelAck{JobID: id, Status: queue.StatusCancelling}, nil
}

// Reprioritize moves a queued job to the tail of lane. Moving a job into the
// lane it already occupies keeps its position.
func (m *Manager) Reprioritize(ctx context.Context, id string, lane queue.Lane, requester string) (ReprioritizeAck, error) {
	target, ok := queue.ParseLane(string(lane))
	if !ok {
		return ReprioritizeAck{}, fmt.Errorf("%w: unknown lane %q", queue.ErrInvalidPayload, lane)
	}

	m.mu.Lock()
	entry, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		job, err := m.lookup(ctx, id)
		if err != nil {
			return ReprioritizeAck{}, err
		}
		if !m.canAct(job.Owner, requester) {
			return ReprioritizeAck{}, fmt.Errorf("%w: %s", queue.ErrNotOwner, id)
		}
		return ReprioritizeAck{}, fmt.Errorf("%w: %s is %s", queue.ErrNotQueued, id, job.Status)
	}
	if !m.canAct(entry.job.Owner, requester) {
		m.mu.Unlock()
		return ReprioritizeAck{}, fmt.Errorf("%w: %s", queue.ErrNotOwner, id)
	}
	if entry.job.Status != queue.StatusQueued {
		status := entry.job.Status
		m.mu.Unlock()
		return ReprioritizeAck{}, fmt.Errorf("%w: %s is %s", queue.ErrNotQueued, id, status)
	}
	if err := m.sched.Reprioritize(id, target); err != nil {
		m.mu.Unlock()
		if errors.Is(err, queue.ErrNotFound) {
			// Dequeued for dispatch between the status check and the move.
			return ReprioritizeAck{}, fmt.Errorf("%w: %s is being dispatched", queue.ErrNotQueued, id)
		}
		return ReprioritizeAck{}, err
	}
	from := entry.job.Lane
	var write pendingWrite
	if from != target {
		entry.job.Lane = target
		entry.job.UpdatedAt = m.clock.Now()
		write = m.bumpLocked(entry)
	}
	position := 0
	for i, queued := range m.sched.Snapshot() {
		if queued.ID == id {
			position = i + 1
			break
		}
	}
	owner := entry.job.Owner
	m.mu.Unlock()

	if write.job != nil {
		m.persist(write)
		m.reporter.Publish(progress.Event{Kind: progress.KindQueued, JobID: id, Owner: owner, Lane: target})
		logging.WithContext(ctx, m.logger).Info("job reprioritized",
			logging.String(logging.FieldEventType, "job_reprioritized"),
			logging.String(logging.FieldJobID, id),
			logging.String("from_lane", string(from)),
			logging.String(logging.FieldLane, string(target)),
			logging.Int("position", position),
		)
	}
	return ReprioritizeAck{JobID: id, From: from, To: target, Position: position}, nil
}

// List returns the live queue. An empty owner lists every requester's jobs;
// queue positions are global either way.
func (m *Manager) List(owner string) Snapshot {
	owner = strings.TrimSpace(owner)
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{TakenAt: m.clock.Now()}
	running := make([]*jobEntry, 0, len(m.jobs))
	for _, entry := range m.jobs {
		if entry.job.Status.IsActive() {
			running = append(running, entry)
		}
	}
	slices.SortFunc(running, func(a, b *jobEntry) int {
		switch {
		case a.dispatch < b.dispatch:
			return -1
		case a.dispatch > b.dispatch:
			return 1
		default:
			return 0
		}
	})
	for _, entry := range running {
		if owner != "" && entry.job.Owner != owner {
			continue
		}
		snap.Running = append(snap.Running, SnapshotEntry{Job: entry.job.Clone()})
	}
	for i, queued := range m.sched.Snapshot() {
		entry, ok := m.jobs[queued.ID]
		if !ok {
			continue
		}
		if owner != "" && entry.job.Owner != owner {
			continue
		}
		snap.Queued = append(snap.Queued, SnapshotEntry{Job: entry.job.Clone(), Position: i + 1})
	}
	return snap
}

// Describe returns the live job, or the persisted record of a finished one.
func (m *Manager) Describe(ctx context.Context, id string) (*queue.Job, error) {
	m.mu.Lock()
	if entry, ok := m.jobs[id]; ok {
		job := entry.job.Clone()
		m.mu.Unlock()
		return job, nil
	}
	m.mu.Unlock()
	return m.lookup(ctx, id)
}

func (m *Manager) lookup(ctx context.Context, id string) (*queue.Job, error) {
	m.mu.Lock()
	if job, ok := m.recent[id]; ok {
		cp := job.Clone()
		m.mu.Unlock()
		return cp, nil
	}
	m.mu.Unlock()
	job, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, id)
		}
		return nil, err
	}
	return job, nil
}
