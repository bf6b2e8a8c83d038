package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
)

func cancelCmd(a *app) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ok, err := a.eng.Cancel(cmd.Context(), jobID, by)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already finished\n", jobID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled\n", jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "cli", "user performing the action")
	return cmd
}

func retryCmd(a *app) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a failed job as a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := a.eng.Retry(cmd.Context(), jobID, by)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), j)
		},
	}
	cmd.Flags().StringVar(&by, "by", "cli", "user performing the action")
	return cmd
}

func pauseCmd(a *app) *cobra.Command {
	return holdCmd(a, "pause", "Pause a running job or hold a waiting one", a.pause)
}

func resumeCmd(a *app) *cobra.Command {
	return holdCmd(a, "resume", "Resume a paused job or release a held one", a.resume)
}

func (a *app) pause(cmd *cobra.Command, jobID id.JobID, by string) (*job.Job, error) {
	return a.eng.Pause(cmd.Context(), jobID, by)
}

func (a *app) resume(cmd *cobra.Command, jobID id.JobID, by string) (*job.Job, error) {
	return a.eng.Resume(cmd.Context(), jobID, by)
}

func holdCmd(a *app, use, short string, fn func(*cobra.Command, id.JobID, string) (*job.Job, error)) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := fn(cmd, jobID, by)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (paused=%t)\n", j.ID, j.Status, j.IsPaused)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "cli", "user performing the action")
	return cmd
}

func priorityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <job-id> <priority>",
		Short: "Change the priority of an unfinished job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			p, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid priority %q", args[1])
			}
			j, err := a.eng.UpdatePriority(cmd.Context(), jobID, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s priority %d\n", j.ID, j.Priority)
			return nil
		},
	}
}
