package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"iencode/internal/api"
	"iencode/internal/config"
	"iencode/internal/daemonctl"
	"iencode/internal/daemonrun"
	"iencode/internal/ipc"
	"iencode/internal/preflight"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonStopGrace    = 15 * time.Second
	startupLogName     = "daemon-start.log"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the iencode daemon",
	}
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if flag := strings.TrimSpace(*ctx.socketFlag); flag != "" && flag != cfg.SocketPath() {
				return fmt.Errorf("--socket is not supported for daemon run; the daemon listens on %s", cfg.SocketPath())
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), LogLevel: logLevel}
			if cfg := ctx.configValue(); cfg != nil {
				opts.StartupLog = filepath.Join(cfg.Paths.LogDir, startupLogName)
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, opts, daemonStartTimeout)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running"+pidSuffix(result.PID))
			default:
				fmt.Fprintln(stdout, "Daemon started"+pidSuffix(result.PID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level for the launched daemon")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, killing it if it does not exit within the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.configValue(), grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit within %s; killed process%s\n", grace, pidSuffix(result.PID))
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", daemonStopGrace, "How long to wait for a graceful shutdown")
	return cmd
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, pool and stage health",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			printer := newStatusPrinter(stdout, shouldColorize(stdout))
			client, err := ipc.Dial(ctx.socketPath())
			if err != nil {
				if ok, werr := writeStructured(cmd, format, api.DaemonStatus{}); ok {
					return werr
				}
				fmt.Fprintln(stdout, "Daemon is not running")
				fmt.Fprintln(stdout)
				renderPreflight(cmd, printer, ctx.configValue())
				return nil
			}
			defer client.Close()

			status, err := client.Status()
			if err != nil {
				return err
			}
			if ok, werr := writeStructured(cmd, format, status); ok {
				return werr
			}
			renderDaemonStatus(printer, status)
			renderPreflight(cmd, printer, ctx.configValue())
			return nil
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func renderDaemonStatus(p *statusPrinter, status *api.DaemonStatus) {
	wf := status.Workflow
	p.section("Daemon")
	if status.Running {
		p.line("Daemon", statusOK, "running"+pidSuffix(status.PID))
	} else {
		p.line("Daemon", statusWarn, "starting or stopping"+pidSuffix(status.PID))
	}
	storeDetail := status.StoreDriver
	if status.StorePath != "" {
		storeDetail += " (" + status.StorePath + ")"
	}
	p.line("Store", statusInfo, storeDetail)
	if status.LogPath != "" {
		p.line("Log", statusInfo, status.LogPath)
	}
	if status.APIAddr != "" {
		p.line("HTTP API", statusInfo, status.APIAddr)
	}

	p.section("Scheduler")
	p.line("Workers", statusInfo, fmt.Sprintf("%d busy of %d", wf.PoolBusy, wf.PoolSize))
	lanes := make([]string, 0, len(wf.LaneDepths))
	for lane := range wf.LaneDepths {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)
	for _, lane := range lanes {
		p.line("Lane "+lane, statusInfo, strconv.Itoa(wf.LaneDepths[lane])+" queued")
	}
	p.line("Live jobs", statusInfo, strconv.Itoa(wf.LiveJobs))
	if wf.CancelLatency != "" {
		p.line("Cancel latency bound", statusInfo, wf.CancelLatency)
	}
	persistKind := statusOK
	if wf.PersistenceFailures > 0 {
		persistKind = statusWarn
	}
	p.line("Persistence failures", persistKind, strconv.FormatInt(wf.PersistenceFailures, 10))
	if wf.ProgressDropped > 0 {
		p.line("Progress dropped", statusWarn, strconv.FormatInt(wf.ProgressDropped, 10))
	}
	if wf.LastError != "" {
		p.line("Last error", statusError, wf.LastError)
	}

	if len(wf.StageHealth) == 0 {
		return
	}
	p.section("Stages")
	for _, h := range wf.StageHealth {
		kind := statusOK
		detail := "ready"
		if !h.Ready {
			kind = statusError
			detail = "not ready"
		}
		if h.Detail != "" {
			detail += ": " + h.Detail
		}
		p.line(h.Name, kind, detail)
	}
}

func pidSuffix(pid int) string {
	if pid <= 0 {
		return ""
	}
	return fmt.Sprintf(" (pid %d)", pid)
}

// renderPreflight runs the local readiness checks. They describe this host,
// so they are shown whether or not the daemon answers.
func renderPreflight(cmd *cobra.Command, p *statusPrinter, cfg *config.Config) {
	if cfg == nil {
		return
	}
	p.section("System")
	for _, r := range preflight.RunAll(cmd.Context(), cfg) {
		kind := statusOK
		switch {
		case r.Passed:
		case r.Optional:
			kind = statusWarn
		default:
			kind = statusError
		}
		p.line(r.Name, kind, r.Detail)
	}
}
