package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"iencode/internal/api"
	"iencode/internal/ipc"
	"iencode/internal/logs"
	"iencode/internal/progress"
	"iencode/internal/queue"
)

const watchPollInterval = time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Follow progress of one job, or of every job",
		Long: "Follow progress over the daemon's HTTP event stream. With a job id the command\n" +
			"exits once the job finishes, and fails if the job did not succeed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialClient()
			if err != nil {
				return err
			}
			status, err := client.Status()
			if err != nil {
				_ = client.Close()
				return err
			}

			var token string
			if cfg := ctx.configValue(); cfg != nil {
				token = cfg.Paths.APIToken
			}
			events, err := logs.NewEventClient(status.APIAddr, token)
			if err != nil {
				_ = client.Close()
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				_ = client.Close()
				if events == nil {
					return errors.New("the daemon HTTP API is disabled; pass a job id to poll over the socket")
				}
				return events.StreamAll(cmd.Context(), owner, func(ev logs.Event) error {
					if ev.Update != nil {
						fmt.Fprintln(out, formatEventLine(*ev.Update))
					}
					return nil
				})
			}

			id := args[0]
			if events == nil {
				defer client.Close()
				return pollJob(cmd.Context(), client, id, out)
			}
			_ = client.Close()
			return watchJob(cmd.Context(), events, id, out)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only show events for jobs of this owner")
	return cmd
}

func watchJob(ctx context.Context, events *logs.EventClient, id string, out io.Writer) error {
	var final *api.ProgressUpdate
	var snapshot *api.JobItem
	err := events.StreamJob(ctx, id, func(ev logs.Event) error {
		switch {
		case ev.Job != nil:
			snapshot = ev.Job
			fmt.Fprintf(out, "Job %s: %s\n", ev.Job.ID, ev.Job.Status)
			fmt.Fprintf(out, "  %s\n", progressDetail(ev.Job.Progress))
		case ev.Update != nil:
			if ev.Update.Text != "" {
				fmt.Fprintln(out, ev.Update.Text)
			}
			if ev.Kind == logs.EventTerminal {
				final = ev.Update
			}
		}
		return nil
	})
	if err != nil {
		return describeQueueError(err)
	}
	if final != nil {
		return finishMessage(out, final.Status, final.Result, final.Error)
	}
	if snapshot != nil && isTerminalStatus(snapshot.Status) {
		return finishMessage(out, snapshot.Status, snapshot.ResultRef, snapshot.ErrorMessage)
	}
	return nil
}

// pollJob follows a job over the IPC socket when the HTTP API is off.
func pollJob(ctx context.Context, client *ipc.Client, id string, out io.Writer) error {
	var last string
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	for {
		resp, err := client.Describe(id)
		if err != nil {
			return describeQueueError(err)
		}
		job := resp.Job
		line := fmt.Sprintf("Job %s: %s · %s", job.ID, job.Status, progressDetail(job.Progress))
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
		if isTerminalStatus(job.Status) {
			return finishMessage(out, job.Status, job.ResultRef, job.ErrorMessage)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func finishMessage(out io.Writer, status, result, errMsg string) error {
	switch queue.Status(status) {
	case queue.StatusSucceeded:
		if result != "" {
			fmt.Fprintf(out, "Published to %s\n", result)
		}
		return nil
	case queue.StatusCancelled:
		return errors.New("job was cancelled")
	default:
		if errMsg == "" {
			errMsg = "no error recorded"
		}
		return fmt.Errorf("job %s: %s", status, errMsg)
	}
}

func formatEventLine(update api.ProgressUpdate) string {
	at := api.ParseJobTime(update.At)
	stamp := update.At
	if !at.IsZero() {
		stamp = at.Local().Format("15:04:05")
	}
	summary, _, _ := strings.Cut(update.Text, "\n")
	parts := []string{stamp, update.JobID, update.Kind, update.Status}
	if update.Owner != "" {
		parts = append(parts, "owner="+update.Owner)
	}
	for _, st := range update.Stages {
		if st.State == progress.StateActive {
			parts = append(parts, fmt.Sprintf("%s %.0f%%", st.Label, st.Percent))
		}
	}
	switch {
	case update.Error != "":
		parts = append(parts, "error: "+update.Error)
	case update.Result != "":
		parts = append(parts, "result: "+update.Result)
	case summary != "" && !strings.HasPrefix(summary, "Job "):
		parts = append(parts, summary)
	}
	return strings.Join(parts, "  ")
}

func isTerminalStatus(status string) bool {
	parsed, ok := queue.ParseStatus(status)
	return ok && parsed.IsTerminal()
}
