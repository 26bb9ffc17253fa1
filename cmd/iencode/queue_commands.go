package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"iencode/internal/api"
	"iencode/internal/queue"
	"iencode/internal/queueaccess"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var owner, lane, output string
	var quality int
	cmd := &cobra.Command{
		Use:   "enqueue <payload-ref>",
		Short: "Submit an encoding job",
		Long: "Submit an encoding job for a payload reference: a local path, file://, http(s):// or s3:// URL.\n" +
			"The job runs in the normal lane unless --lane accelerator is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			requester, err := resolveRequester(owner)
			if err != nil {
				return err
			}
			ref, err := normalizePayloadRef(args[0])
			if err != nil {
				return err
			}
			req := api.EnqueueRequest{Owner: requester, PayloadRef: ref, Lane: lane, Quality: quality}

			var job api.JobItem
			err = ctx.withQueue(cmd, func(access queueaccess.Access) error {
				var callErr error
				job, callErr = access.Enqueue(cmd.Context(), req)
				return callErr
			})
			if err != nil {
				return describeQueueError(err)
			}
			if ok, werr := writeStructured(cmd, format, job); ok {
				return werr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s in the %s lane\n", job.ID, job.Lane)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the job (defaults to the current user)")
	cmd.Flags().StringVarP(&lane, "lane", "l", string(queue.LaneNormal), "Priority lane: accelerator or normal")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "Target output height, e.g. 720 (0 uses the configured default)")
	addOutputFlag(cmd, &output)
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "cancel <job-id>...",
		Short: "Cancel queued or running jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := resolveRequester(as)
			if err != nil {
				return err
			}
			var result api.CancelItemsResult
			err = ctx.withQueue(cmd, func(access queueaccess.Access) error {
				var callErr error
				result, callErr = api.CancelItemsByID(cmd.Context(), access, args, requester)
				return callErr
			})
			if err != nil {
				return describeQueueError(err)
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, item := range result.Items {
				switch item.Outcome {
				case api.CancelItemCancelled:
					fmt.Fprintf(out, "Job %s cancelled\n", item.ID)
				case api.CancelItemCancelling:
					fmt.Fprintf(out, "Job %s is stopping\n", item.ID)
				case api.CancelItemAlreadyFinished:
					fmt.Fprintf(out, "Job %s already finished (%s)\n", item.ID, item.FinalStatus)
				case api.CancelItemNotFound:
					failed++
					fmt.Fprintf(out, "Job %s not found\n", item.ID)
				case api.CancelItemNotOwner:
					failed++
					fmt.Fprintf(out, "Job %s belongs to another owner\n", item.ID)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs could not be cancelled", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Act on behalf of this user (defaults to the current user)")
	return cmd
}

func newReprioritizeCommand(ctx *commandContext) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:     "reprioritize <job-id> <lane>",
		Aliases: []string{"move"},
		Short:   "Move a queued job to another lane",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := resolveRequester(as)
			if err != nil {
				return err
			}
			var resp api.ReprioritizeResponse
			err = ctx.withQueue(cmd, func(access queueaccess.Access) error {
				var callErr error
				resp, callErr = access.Reprioritize(cmd.Context(), args[0], args[1], requester)
				return callErr
			})
			if err != nil {
				return describeQueueError(err)
			}
			out := cmd.OutOrStdout()
			if resp.From == resp.To {
				fmt.Fprintf(out, "Job %s already in the %s lane (position %d)\n", resp.ID, resp.To, resp.Position)
				return nil
			}
			fmt.Fprintf(out, "Moved job %s from %s to %s (position %d)\n", resp.ID, resp.From, resp.To, resp.Position)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Act on behalf of this user (defaults to the current user)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var owner, output string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List running and queued jobs in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			var resp api.QueueListResponse
			live := true
			err = ctx.withQueue(cmd, func(access queueaccess.Access) error {
				live = access.Live()
				var callErr error
				resp, callErr = access.List(cmd.Context(), strings.TrimSpace(owner))
				return callErr
			})
			if err != nil {
				return describeQueueError(err)
			}
			if ok, werr := writeStructured(cmd, format, resp); ok {
				return werr
			}

			out := cmd.OutOrStdout()
			if !live {
				fmt.Fprintln(out, "Daemon not running; showing the last persisted queue")
			}
			if len(resp.Running) == 0 && len(resp.Queued) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}
			fmt.Fprint(out, renderJobTable(api.AllJobs(resp)))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only show jobs of this owner")
	addOutputFlag(cmd, &output)
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its stage progress and retry history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			var job *api.JobItem
			err = ctx.withQueue(cmd, func(access queueaccess.Access) error {
				var callErr error
				job, callErr = access.Describe(cmd.Context(), args[0])
				return callErr
			})
			if err != nil {
				return describeQueueError(err)
			}
			if ok, werr := writeStructured(cmd, format, job); ok {
				return werr
			}
			fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(*job))
			return nil
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func (c *commandContext) withQueue(cmd *cobra.Command, fn func(queueaccess.Access) error) error {
	session, err := c.openQueue(cmd)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

// describeQueueError turns daemon-side sentinels into messages that tell
// the user what to do next.
func describeQueueError(err error) error {
	switch {
	case queueaccess.IsDaemonRequired(err):
		return errors.New("daemon is not running; start it with `iencode daemon start`")
	case errors.Is(err, queue.ErrQueueFull):
		return fmt.Errorf("lane is full, try again later: %w", err)
	case errors.Is(err, queue.ErrNotQueued):
		return fmt.Errorf("job is no longer queued: %w", err)
	case errors.Is(err, queue.ErrNotOwner):
		return fmt.Errorf("permission denied: %w", err)
	default:
		return err
	}
}
