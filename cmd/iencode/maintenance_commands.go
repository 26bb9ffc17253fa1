package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"iencode/internal/config"
	"iencode/internal/ipc"
	"iencode/internal/logging"
	"iencode/internal/logs"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("missing notification response")
				}
				switch {
				case resp.Message != "":
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				case resp.Sent:
					fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
				}
				return nil
			})
		},
	}
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove finished job records older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Purge(days)
				if err != nil {
					return err
				}
				noun := "records"
				if resp.Removed == 1 {
					noun = "record"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished job %s\n", resp.Removed, noun)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Age in days (0 uses retention.job_days)")
	return cmd
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var jobID string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			opts := logs.TailOptions{Lines: lines, Follow: follow, Match: jobLogMatch(cfg, jobID)}
			return logs.Tail(runCtx, currentLogPath(cfg), opts, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&jobID, "job", "", "Only print lines for this job id")
	return cmd
}

func currentLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "iencode.log")
}

// jobLogMatch returns the substring that identifies a job's records in the
// configured log format.
func jobLogMatch(cfg *config.Config, jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ""
	}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return fmt.Sprintf("%q:%q", logging.FieldJobID, jobID)
	}
	return logging.FieldJobID + "=" + jobID
}
