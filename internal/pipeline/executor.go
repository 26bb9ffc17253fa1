package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"iencode/internal/clock"
	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/queue"
	"iencode/internal/services"
	"iencode/internal/staging"
)

// ErrCancelled is returned from a stage that stopped because the job's
// cancel flag was observed.
var ErrCancelled = errors.New("job cancelled")

const (
	defaultPollInterval   = 2 * time.Second
	defaultCancelGrace    = 10 * time.Second
	defaultProgressBuffer = 16
)

// Outcome is the result of one executor run.
type Outcome struct {
	// Status is succeeded, failed or cancelled. It is empty when Interrupted.
	Status    queue.Status
	ResultRef string
	Err       error
	// Interrupted reports a shutdown mid-run; the job must not be finalized.
	Interrupted bool
}

// StageTimeouts bounds each stage. Zero disables the bound for that stage.
type StageTimeouts struct {
	Download time.Duration
	Encode   time.Duration
	Upload   time.Duration
}

// For returns the timeout configured for stage.
func (t StageTimeouts) For(stage queue.Stage) time.Duration {
	switch stage {
	case queue.StageDownloading:
		return t.Download
	case queue.StageEncoding:
		return t.Encode
	case queue.StageUploading:
		return t.Upload
	default:
		return 0
	}
}

// Options configures an Executor.
type Options struct {
	Fetcher     Fetcher
	Transformer Transformer
	Publisher   Publisher
	Tracker     Tracker
	Clock       clock.Clock
	Logger      *slog.Logger

	StagingDir      string
	PollInterval    time.Duration
	CancelGrace     time.Duration
	Timeouts        StageTimeouts
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	ProgressBuffer  int
}

// OptionsFromConfig fills the timing and retry settings from cfg. Callers
// still supply collaborators, tracker, clock and logger.
func OptionsFromConfig(cfg *config.Config) Options {
	download, encode, upload := cfg.StageTimeouts()
	base, maxBackoff := cfg.RetryBackoff()
	return Options{
		StagingDir:      cfg.Paths.StagingDir,
		PollInterval:    cfg.PollInterval(),
		CancelGrace:     cfg.CancelGrace(),
		Timeouts:        StageTimeouts{Download: download, Encode: encode, Upload: upload},
		MaxRetries:      cfg.Stages.MaxRetries,
		RetryBackoff:    base,
		RetryBackoffMax: maxBackoff,
		ProgressBuffer:  cfg.Progress.BufferSize,
	}
}

// Executor runs jobs through the three pipeline stages.
type Executor struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger
}

// NewExecutor validates opts and applies defaults.
func NewExecutor(opts Options) (*Executor, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "fetcher required", nil)
	case opts.Transformer == nil:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "transformer required", nil)
	case opts.Publisher == nil:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "publisher required", nil)
	case opts.Tracker == nil:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "tracker required", nil)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = defaultProgressBuffer
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoffMax > 0 && opts.RetryBackoffMax < opts.RetryBackoff {
		opts.RetryBackoffMax = opts.RetryBackoff
	}
	return &Executor{
		opts:   opts,
		clock:  opts.Clock,
		logger: logging.NewComponentLogger(opts.Logger, "pipeline"),
	}, nil
}

// CancelLatency is the documented upper bound between setting a job's cancel
// flag and the executor returning a cancelled outcome.
func (e *Executor) CancelLatency() time.Duration {
	return e.opts.PollInterval + e.opts.CancelGrace
}

type stageFunc func(ctx context.Context, report ProgressFunc) (string, error)

type stageResult struct {
	ref string
	err error
}

// Run executes job to a terminal outcome. job is a snapshot; every state
// change goes through the tracker. Panics are recovered into a failed outcome
// and the work directory is removed before Run returns.
func (e *Executor) Run(ctx context.Context, job *queue.Job) (out Outcome) {
	ctx = services.WithScope(ctx, services.Scope{JobID: job.ID, Owner: job.Owner, Lane: string(job.Lane)})
	logger := logging.WithContext(ctx, e.logger)

	workDir, err := staging.Prepare(e.opts.StagingDir, job.ID)
	if err != nil {
		return e.fail(logger, services.Wrap(services.ErrConfiguration, "pipeline", "prepare work directory", "", err))
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic recovered",
				logging.String(logging.FieldEventType, "pipeline_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			out = Outcome{
				Status: queue.StatusFailed,
				Err:    fmt.Errorf("%w: pipeline panic: %v", services.ErrStageFailure, r),
			}
		}
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove work directory",
				logging.String("path", workDir),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workdir_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
			)
		}
	}()

	var input, output, ref string
	steps := []struct {
		stage queue.Stage
		run   stageFunc
		store *string
	}{
		{queue.StageDownloading, func(ctx context.Context, report ProgressFunc) (string, error) {
			res, err := e.opts.Fetcher.Fetch(ctx, FetchRequest{JobID: job.ID, PayloadRef: job.PayloadRef, WorkDir: workDir}, report)
			return res.Path, err
		}, &input},
		{queue.StageEncoding, func(ctx context.Context, report ProgressFunc) (string, error) {
			res, err := e.opts.Transformer.Transform(ctx, TransformRequest{JobID: job.ID, InputPath: input, WorkDir: workDir, Quality: job.Quality}, report)
			return res.Path, err
		}, &output},
		{queue.StageUploading, func(ctx context.Context, report ProgressFunc) (string, error) {
			return e.opts.Publisher.Publish(ctx, PublishRequest{JobID: job.ID, Owner: job.Owner, Path: output}, report)
		}, &ref},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return e.interrupted(logger, err)
		}
		if e.opts.Tracker.CancelRequested(job.ID) {
			e.opts.Tracker.BeginCancelling(job.ID)
			return e.cancelled(logger, nil)
		}

		e.opts.Tracker.EnterStage(job.ID, step.stage)
		stageCtx := services.WithStage(ctx, string(step.stage))
		stageLogger := logging.WithContext(stageCtx, e.logger)
		stageStart := e.clock.Now()
		stageLogger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

		result, err := e.runStage(stageCtx, stageLogger, job.ID, step.stage, step.run)
		if err != nil {
			switch {
			case errors.Is(err, ErrCancelled):
				return e.cancelled(stageLogger, err)
			case ctx.Err() != nil:
				return e.interrupted(stageLogger, ctx.Err())
			default:
				return e.fail(stageLogger, err)
			}
		}
		*step.store = result
		stageLogger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", e.clock.Now().Sub(stageStart)),
		)
	}

	logger.Info("job succeeded",
		logging.String(logging.FieldEventType, "job_succeeded"),
		logging.String("result_ref", ref),
	)
	return Outcome{Status: queue.StatusSucceeded, ResultRef: ref}
}

// runStage retries transient failures with exponential backoff. Each retried
// attempt is recorded on the job through the tracker. The stage timeout covers
// every attempt and the backoff between them.
func (e *Executor) runStage(ctx context.Context, logger *slog.Logger, jobID string, stage queue.Stage, fn stageFunc) (string, error) {
	limit := stageLimit{timeout: e.opts.Timeouts.For(stage)}
	if limit.timeout > 0 {
		limit.expired = e.clock.After(limit.timeout)
	}
	for attempt := 1; ; attempt++ {
		ref, err := e.attempt(ctx, logger, jobID, stage, limit, fn)
		if err == nil {
			return ref, nil
		}
		if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
			return "", err
		}
		if !services.IsRetryable(err) || attempt > e.opts.MaxRetries {
			return "", services.Wrap(services.ErrStageFailure, string(stage), "run",
				fmt.Sprintf("gave up after %d attempt(s)", attempt), err)
		}

		delay := e.backoff(attempt)
		e.opts.Tracker.RecordRetry(jobID, queue.RetryRecord{
			Stage:   stage,
			Attempt: attempt,
			Error:   err.Error(),
			At:      e.clock.Now(),
		})
		logger.Warn("stage attempt failed; retrying",
			logging.String(logging.FieldEventType, "stage_retry"),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
		if err := e.pause(ctx, jobID, delay, limit.expired); err != nil {
			if errors.Is(err, services.ErrTimeout) {
				e.logTimeout(logger, limit.timeout)
				return "", services.Wrap(services.ErrStageFailure, string(stage), "run",
					fmt.Sprintf("gave up after %d attempt(s)", attempt), limit.err(stage))
			}
			return "", err
		}
	}
}

// attempt runs fn once in its own goroutine, forwarding progress and polling
// the cancel flag until fn returns, the stage times out or ctx ends.
func (e *Executor) attempt(ctx context.Context, logger *slog.Logger, jobID string, stage queue.Stage, limit stageLimit, fn stageFunc) (string, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan queue.Progress, e.opts.ProgressBuffer)
	done := make(chan stageResult, 1)
	go func() {
		var res stageResult
		defer func() {
			if r := recover(); r != nil {
				logger.Error("stage panic recovered",
					logging.String(logging.FieldEventType, "stage_panic"),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
				res = stageResult{err: fmt.Errorf("%w: %s panicked: %v", services.ErrStageFailure, stage, r)}
			}
			done <- res
		}()
		ref, err := fn(attemptCtx, func(p queue.Progress) { offer(updates, p) })
		res = stageResult{ref: ref, err: err}
	}()

	ticker := e.clock.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-done:
			e.drain(jobID, stage, updates)
			return res.ref, res.err
		case p := <-updates:
			e.opts.Tracker.ReportProgress(jobID, stage, p)
		case <-ticker.C():
			if e.opts.Tracker.CancelRequested(jobID) {
				return "", e.stopForCancel(logger, jobID, cancel, done)
			}
		case <-limit.expired:
			e.logTimeout(logger, limit.timeout)
			cancel()
			if err := e.await(done); err != nil {
				e.logAbandoned(logger, "timeout")
			}
			return "", limit.err(stage)
		case <-ctx.Done():
			cancel()
			if err := e.await(done); err != nil {
				e.logAbandoned(logger, "shutdown")
			}
			return "", ctx.Err()
		}
	}
}

// stageLimit is the single deadline shared by all attempts of a stage. A nil
// expired channel never fires.
type stageLimit struct {
	timeout time.Duration
	expired <-chan time.Time
}

func (l stageLimit) err(stage queue.Stage) error {
	return services.Wrap(services.ErrTimeout, string(stage), "deadline", fmt.Sprintf("exceeded %s", l.timeout), nil)
}

func (e *Executor) logTimeout(logger *slog.Logger, timeout time.Duration) {
	logger.Warn("stage exceeded its timeout",
		logging.String(logging.FieldEventType, "stage_timeout"),
		logging.Duration("timeout", timeout),
		logging.String(logging.FieldErrorHint, services.Hint(services.ErrTimeout)),
	)
}

func (e *Executor) stopForCancel(logger *slog.Logger, jobID string, cancel context.CancelFunc, done <-chan stageResult) error {
	e.opts.Tracker.BeginCancelling(jobID)
	logger.Info("cancel requested; stopping stage",
		logging.String(logging.FieldEventType, "stage_cancel"),
	)
	cancel()
	if err := e.await(done); err != nil {
		e.logAbandoned(logger, "cancel")
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return ErrCancelled
}

// await waits up to the cancel grace window for a cancelled stage to return.
func (e *Executor) await(done <-chan stageResult) error {
	select {
	case <-done:
		return nil
	case <-e.clock.After(e.opts.CancelGrace):
		return services.ErrCancellationTimeout
	}
}

func (e *Executor) logAbandoned(logger *slog.Logger, reason string) {
	logger.Warn("collaborator did not stop within the cancel grace window",
		logging.String(logging.FieldEventType, "cancellation_timeout"),
		logging.String("reason", reason),
		logging.Duration("grace", e.opts.CancelGrace),
		logging.Alert("cancellation_timeout"),
		logging.String(logging.FieldImpact, "collaborator abandoned; slot released anyway"),
	)
}

// pause sleeps between retries while still honouring cancellation and the
// stage deadline.
func (e *Executor) pause(ctx context.Context, jobID string, d time.Duration, expired <-chan time.Time) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := e.clock.After(d)
	ticker := e.clock.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-timer:
			return nil
		case <-expired:
			return services.ErrTimeout
		case <-ticker.C():
			if e.opts.Tracker.CancelRequested(jobID) {
				e.opts.Tracker.BeginCancelling(jobID)
				return ErrCancelled
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.opts.RetryBackoff
	for i := 1; i < attempt && delay > 0; i++ {
		delay *= 2
		if e.opts.RetryBackoffMax > 0 && delay >= e.opts.RetryBackoffMax {
			return e.opts.RetryBackoffMax
		}
	}
	if e.opts.RetryBackoffMax > 0 && delay > e.opts.RetryBackoffMax {
		return e.opts.RetryBackoffMax
	}
	return delay
}

func (e *Executor) drain(jobID string, stage queue.Stage, updates <-chan queue.Progress) {
	for {
		select {
		case p := <-updates:
			e.opts.Tracker.ReportProgress(jobID, stage, p)
		default:
			return
		}
	}
}

func (e *Executor) fail(logger *slog.Logger, err error) Outcome {
	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
	)
	return Outcome{Status: queue.StatusFailed, Err: err}
}

func (e *Executor) cancelled(logger *slog.Logger, err error) Outcome {
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.Bool("forced", errors.Is(err, services.ErrCancellationTimeout)),
	)
	return Outcome{Status: queue.StatusCancelled, Err: err}
}

func (e *Executor) interrupted(logger *slog.Logger, err error) Outcome {
	logger.Info("job interrupted by shutdown",
		logging.String(logging.FieldEventType, "job_interrupted"),
	)
	return Outcome{Interrupted: true, Err: err}
}

// offer delivers p without blocking, discarding the oldest buffered sample
// when the channel is full.
func offer(ch chan queue.Progress, p queue.Progress) {
	for {
		select {
		case ch <- p:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
