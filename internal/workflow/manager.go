package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"iencode/internal/clock"
	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/metrics"
	"iencode/internal/notifications"
	"iencode/internal/pipeline"
	"iencode/internal/progress"
	"iencode/internal/queue"
	"iencode/internal/scheduler"
	"iencode/internal/workerpool"
)

// ErrNotRunning is returned by requests that need a started manager.
var ErrNotRunning = errors.New("queue controller is not running")

const recentLimit = 256

// Manager coordinates the job table, the scheduler, the worker pool and the
// pipeline executor.
type Manager struct {
	cfg       *config.Config
	store     queue.Store
	persister *queue.Persister
	logger    *slog.Logger
	clock     clock.Clock
	notifier  notifications.Service
	metrics   *metrics.Metrics

	collab   Collaborators
	sched    *scheduler.Scheduler
	pool     *workerpool.Pool
	executor *pipeline.Executor
	reporter *progress.Reporter

	checkpointInterval time.Duration

	mu          sync.Mutex
	jobs        map[string]*jobEntry
	recent      map[string]*queue.Job
	recentOrder []string
	seq         int64
	rev         int64
	dispatchSeq uint64
	running     bool
	stopped     bool
	runCancel   context.CancelFunc
	runCtx      context.Context
	bgCancel    context.CancelFunc
	wg          sync.WaitGroup
	notifyWG    sync.WaitGroup
	lastErr     error

	finalized []string
	settled   []string

	queueActive    bool
	queueStart     time.Time
	queueProcessed int
	queueFailed    int
}

// Option configures optional Manager behavior.
type Option func(*managerOptions)

type managerOptions struct {
	clock    clock.Clock
	notifier notifications.Service
	metrics  *metrics.Metrics
}

// WithClock injects the time source (tests use clock.Fake).
func WithClock(c clock.Clock) Option {
	return func(o *managerOptions) { o.clock = c }
}

// WithNotifier overrides the notification service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(o *managerOptions) { o.notifier = n }
}

// WithMetrics registers the manager's gauges on an existing metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// NewManager constructs a manager over store. Call Start before enqueueing.
func NewManager(cfg *config.Config, store queue.Store, collab Collaborators, logger *slog.Logger, opts ...Option) (*Manager, error) {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.clock == nil {
		options.clock = clock.Real{}
	}
	if options.notifier == nil {
		options.notifier = notifications.NewService(cfg)
	}
	if options.metrics == nil {
		options.metrics = metrics.New()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		clock:    options.clock,
		notifier: options.notifier,
		metrics:  options.metrics,
		collab:   collab,
		jobs:     make(map[string]*jobEntry),
		recent:   make(map[string]*queue.Job),
	}
	m.persister = queue.NewPersister(store, queue.PersisterOptions{
		Attempts: cfg.Store.PersistAttempts,
		Clock:    options.clock,
		Logger:   logger,
		OnAlert:  m.onPersistenceAlert,
	})
	m.sched = scheduler.New(scheduler.Limits{
		Accelerator: cfg.Queue.AcceleratorMaxDepth,
		Normal:      cfg.Queue.NormalMaxDepth,
	})
	m.reporter = progress.New(progress.Options{
		MinDelta:         cfg.Progress.MinDelta,
		MinInterval:      cfg.ProgressInterval(),
		SubscriberBuffer: cfg.Progress.BufferSize,
		Clock:            options.clock,
		Logger:           logger,
	})

	execOpts := pipeline.OptionsFromConfig(cfg)
	execOpts.Fetcher = collab.Fetcher
	execOpts.Transformer = collab.Transformer
	execOpts.Publisher = collab.Publisher
	execOpts.Tracker = m
	execOpts.Clock = options.clock
	execOpts.Logger = logger
	executor, err := pipeline.NewExecutor(execOpts)
	if err != nil {
		return nil, err
	}
	m.executor = executor

	m.pool = workerpool.New(m.sched, workerpool.Options{
		Size:   workerpool.DetectSize(cfg.Pool.Workers),
		Bind:   m.bind,
		Run:    m.run,
		Clock:  options.clock,
		Logger: logger,
	})

	m.checkpointInterval = 5 * cfg.PollInterval()
	if m.checkpointInterval <= 0 {
		m.checkpointInterval = 10 * time.Second
	}

	lanes := make([]string, 0, len(queue.Lanes()))
	for _, lane := range queue.Lanes() {
		lanes = append(lanes, string(lane))
	}
	m.metrics.RegisterQueue(m, lanes)
	m.metrics.RegisterCounterFunc("iencode_progress_dropped_total",
		"Progress events or updates discarded on overflow",
		func() float64 { return float64(m.reporter.Dropped()) })
	return m, nil
}

// Reporter exposes the progress reporter for subscriptions.
func (m *Manager) Reporter() *progress.Reporter { return m.reporter }

// Metrics returns the collectors the manager updates.
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// CancelLatency is the upper bound between a cancel request on a running job
// and its cancelled finalization.
func (m *Manager) CancelLatency() time.Duration { return m.executor.CancelLatency() }

// LaneDepths reports queued jobs per lane.
func (m *Manager) LaneDepths() map[string]int {
	out := make(map[string]int, len(queue.Lanes()))
	for _, lane := range queue.Lanes() {
		out[string(lane)] = m.sched.Depth(lane)
	}
	return out
}

// PoolSize returns the number of worker slots.
func (m *Manager) PoolSize() int { return m.pool.Size() }

// PoolBusy returns the number of bound worker slots.
func (m *Manager) PoolBusy() int { return m.pool.Busy() }

// bumpLocked assigns the next revision to entry. Every bump is followed by a
// persist of the snapshot taken under the same lock.
func (m *Manager) bumpLocked(entry *jobEntry) pendingWrite {
	m.rev++
	entry.rev = m.rev
	entry.dirty = false
	return pendingWrite{job: entry.job.Clone(), rev: entry.rev}
}

// rememberLocked keeps a bounded cache of finalized jobs so Describe works
// even when the store write failed.
func (m *Manager) rememberLocked(job *queue.Job) {
	if _, ok := m.recent[job.ID]; !ok {
		m.recentOrder = append(m.recentOrder, job.ID)
	}
	m.recent[job.ID] = job
	for len(m.recentOrder) > recentLimit {
		delete(m.recent, m.recentOrder[0])
		m.recentOrder = m.recentOrder[1:]
	}
}

func (m *Manager) persist(w pendingWrite) {
	if w.job == nil {
		return
	}
	if err := m.persister.Save(context.Background(), w.job, w.rev); err != nil {
		m.logger.Debug("job snapshot not persisted",
			logging.String(logging.FieldJobID, w.job.ID),
			logging.Int64("revision", w.rev),
			logging.Error(err),
		)
	}
}

func (m *Manager) canAct(owner, requester string) bool {
	if requester != "" && requester == owner {
		return true
	}
	return m.cfg.IsAdmin(requester)
}
