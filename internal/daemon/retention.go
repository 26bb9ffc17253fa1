package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/staging"
	"iencode/internal/workflow"
)

// staleWorkDirAge is how long an untouched work directory may linger before
// the sweep removes it. Live jobs touch their directory on every stage.
const staleWorkDirAge = 48 * time.Hour

type retentionScheduler struct {
	cfg      *config.Config
	workflow *workflow.Manager
	logger   *slog.Logger
	logPath  string
	cron     *cron.Cron
}

func newRetentionScheduler(cfg *config.Config, wf *workflow.Manager, logger *slog.Logger, logPath string) (*retentionScheduler, error) {
	r := &retentionScheduler{
		cfg:      cfg,
		workflow: wf,
		logger:   logging.NewComponentLogger(logger, "retention"),
		logPath:  logPath,
	}
	if cfg.Retention.JobDays <= 0 && cfg.Logging.RetentionDays <= 0 {
		return r, nil
	}
	r.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
	)))
	if _, err := r.cron.AddFunc(cfg.Retention.Schedule, func() { r.sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule retention %q: %w", cfg.Retention.Schedule, err)
	}
	return r, nil
}

func (r *retentionScheduler) start() {
	if r == nil || r.cron == nil {
		return
	}
	r.cron.Start()
}

func (r *retentionScheduler) stop() {
	if r == nil || r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// sweep purges old job records, old run logs and abandoned work directories.
func (r *retentionScheduler) sweep(ctx context.Context) {
	if days := r.cfg.Retention.JobDays; days > 0 {
		if _, err := r.workflow.PurgeFinished(ctx, retentionAge(days)); err != nil {
			return
		}
	}
	if days := r.cfg.Logging.RetentionDays; days > 0 {
		target := logging.RetentionTarget{Dir: r.cfg.Paths.LogDir, Pattern: "iencode-*.log"}
		if r.logPath != "" {
			target.Exclude = []string{r.logPath}
		}
		logging.CleanupOldLogs(r.logger, days, target)
	}
	result := staging.CleanStale(ctx, r.cfg.Paths.StagingDir, staleWorkDirAge, r.logger)
	if len(result.Removed) > 0 {
		r.logger.Info("removed stale work directories",
			logging.String(logging.FieldEventType, "staging_sweep"),
			logging.Int("removed", len(result.Removed)),
		)
	}
}

func retentionAge(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
