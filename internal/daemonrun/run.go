package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"iencode/internal/config"
	"iencode/internal/daemon"
	"iencode/internal/ipc"
	"iencode/internal/logging"
	"iencode/internal/notifications"
	"iencode/internal/preflight"
	"iencode/internal/queueaccess"
	"iencode/internal/stage"
	"iencode/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the iencode daemon and blocks until a signal arrives or a
// client asks it to stop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, logPath, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	logPreflight(logger, preflight.RunAll(signalCtx, cfg))
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update iencode.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "iencode-*.log", Exclude: []string{logPath}},
	)

	store, err := queueaccess.OpenStore(signalCtx, cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err), logging.String("driver", cfg.Store.Driver))
		return err
	}

	collab, err := stage.Build(signalCtx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("build stages: %w", err)
	}

	notifier := notifications.NewService(cfg)
	manager, err := workflow.NewManager(cfg, store, collab, logger, workflow.WithNotifier(notifier))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create workflow manager: %w", err)
	}

	d, err := daemon.New(cfg, store, logger, manager, daemon.WithLogPath(logPath), daemon.WithNotifier(notifier))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// Start takes the instance lock, so a second daemon fails here before it
	// can replace the running daemon's socket.
	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running daemon and store access"),
			logging.String(logging.FieldImpact, "queue will not be processed"),
		)
		return fmt.Errorf("start daemon: %w", err)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("iencode daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("socket", cfg.SocketPath()),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Int("workers", manager.PoolSize()),
	)

	select {
	case <-signalCtx.Done():
	case <-d.ShutdownRequested():
	}
	logger.Info("iencode daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "iencode.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("encoder_backend", cfg.Encoder.Backend),
		logging.String("store_driver", cfg.Store.Driver),
		logging.String("publish_target", cfg.Publish.Target),
		logging.Bool("s3_configured", strings.TrimSpace(cfg.S3.Bucket) != ""),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	for _, status := range preflight.CheckBinaries(preflight.Requirements(cfg)) {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Passed),
			logging.String(key+"_binary", status.Detail),
		)
	}
	logger.Info("dependency snapshot", attrs...)
}

// logPreflight reports failed checks. Required failures log at error level
// but never abort startup; the affected stage reports itself unready.
func logPreflight(logger *slog.Logger, results []preflight.Result) {
	if logger == nil {
		return
	}
	for _, r := range preflight.Failed(results) {
		attrs := []any{
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
		}
		if r.Optional {
			logger.Warn("preflight check failed", attrs...)
			continue
		}
		attrs = append(attrs, logging.String(logging.FieldImpact, "jobs needing this will fail"))
		logger.Error("preflight check failed", attrs...)
	}
}
