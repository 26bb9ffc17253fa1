package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"iencode/internal/api"
	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/notifications"
	"iencode/internal/progress"
	"iencode/internal/queue"
	"iencode/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    queue.Store
	workflow *workflow.Manager
	queueSvc *api.QueueService
	notifier notifications.Service
	logPath  string

	lockPath string
	lock     *flock.Flock

	apiSrv    *apiServer
	retention *retentionScheduler

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithLogPath records the current run log so status output can point at it.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// WithNotifier overrides the notifier used for test notifications.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	StoreDriver  string
	StorePath    string
	LockFilePath string
	LogPath      string
	APIAddr      string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		queueSvc: api.NewQueueService(wf),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	apiSrv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiSrv = apiSrv

	retention, err := newRetentionScheduler(cfg, wf, logger, d.logPath)
	if err != nil {
		return nil, err
	}
	d.retention = retention
	return d, nil
}

// Start acquires the daemon lock, then launches the workflow manager, the
// API server and the retention schedule.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another iencode daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.apiSrv.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}
	d.retention.start()

	d.running.Store(true)
	d.logger.Info("iencode daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.workflow.PoolSize()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock. Running
// jobs are interrupted and resume on the next start.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.retention.stop()
	d.apiSrv.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file manually if the next start fails"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("iencode daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RequestShutdown asks the hosting process to exit. It is safe to call more
// than once.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed once RequestShutdown has been called.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// Queue returns the DTO façade over the workflow manager.
func (d *Daemon) Queue() *api.QueueService {
	return d.queueSvc
}

// Reporter returns the progress reporter for streaming subscribers.
func (d *Daemon) Reporter() *progress.Reporter {
	return d.workflow.Reporter()
}

// PurgeFinished runs the job retention sweep immediately.
func (d *Daemon) PurgeFinished(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = d.cfg.Retention.JobDays
	}
	return d.workflow.PurgeFinished(ctx, retentionAge(days))
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the current run log.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		StoreDriver:  d.cfg.Store.Driver,
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		APIAddr:      d.apiSrv.address(),
	}
	switch d.cfg.Store.Driver {
	case config.StoreSQLite:
		status.StorePath = d.cfg.DatabasePath()
	case config.StoreMongo:
		status.StorePath = d.cfg.Store.Database
	}
	return status
}

// APIStatus converts the runtime status into the transport DTO.
func (d *Daemon) APIStatus(ctx context.Context) api.DaemonStatus {
	status := d.Status(ctx)
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		StoreDriver:  status.StoreDriver,
		StorePath:    status.StorePath,
		LockFilePath: status.LockFilePath,
		LogPath:      status.LogPath,
		APIAddr:      status.APIAddr,
		Workflow:     api.FromStatusSummary(status.Workflow),
	}
}
