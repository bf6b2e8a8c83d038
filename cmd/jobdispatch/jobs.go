package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/jobdispatch/job"
)

func submitCmd(a *app) *cobra.Command {
	var (
		priority int
		user     string
		estimate time.Duration
		at       string
		offPeak  bool
	)

	cmd := &cobra.Command{
		Use:   "submit <job-type> [params-json]",
		Short: "Submit a job",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if len(args) == 2 {
				params = json.RawMessage(args[1])
			}

			opts := []job.SubmitOption{job.WithSubmittedBy(user)}
			if cmd.Flags().Changed("priority") {
				opts = append(opts, job.WithPriority(priority))
			}
			if estimate > 0 {
				opts = append(opts, job.WithEstimatedDuration(estimate))
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				opts = append(opts, job.WithScheduledStart(t))
			}
			if offPeak {
				opts = append(opts, job.WithOffPeakOnly())
			}

			j, err := a.eng.Submit(cmd.Context(), args[0], params, opts...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), j)
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "claim priority, higher first")
	cmd.Flags().StringVar(&user, "user", "cli", "submitting user")
	cmd.Flags().DurationVar(&estimate, "estimate", 0, "advisory duration estimate")
	cmd.Flags().StringVar(&at, "at", "", "scheduled start time (RFC 3339)")
	cmd.Flags().BoolVar(&offPeak, "off-peak", false, "only claim during the off-peak window")
	return cmd
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := a.eng.FindByID(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), j)
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		user          string
		status        string
		limit, offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st job.Status
			if status != "" {
				parsed, err := job.ParseStatus(status)
				if err != nil {
					return err
				}
				st = parsed
			}

			var (
				jobs []*job.Job
				err  error
			)
			if user != "" {
				jobs, err = a.eng.ListByUser(cmd.Context(), user, st, limit, offset)
			} else {
				jobs, err = a.eng.ListAll(cmd.Context(), st, limit, offset)
			}
			if err != nil {
				return err
			}
			return printJobs(cmd, jobs, false)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "only jobs submitted by this user")
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func queueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List waiting jobs in dispatch order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.eng.ListQueue(cmd.Context())
			if err != nil {
				return err
			}
			return printJobs(cmd, jobs, true)
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status and the average run time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := a.eng.QueueCounts(cmd.Context())
			if err != nil {
				return err
			}
			avg, err := a.eng.AvgDurationSecs(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tJOBS")
			for _, s := range job.Statuses() {
				fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
			}
			fmt.Fprintf(tw, "avg duration\t%.1fs\n", avg)
			return tw.Flush()
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <job-id>",
		Short: "Show the transition history of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			transitions, err := a.eng.History(cmd.Context(), jobID)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tFROM\tTO\tBY\tREASON")
			for _, tr := range transitions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					tr.OccurredAt.Format(time.RFC3339), tr.From, tr.To, tr.TriggeredBy, tr.Reason)
			}
			return tw.Flush()
		},
	}
}

func printJobs(cmd *cobra.Command, jobs []*job.Job, withPosition bool) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if withPosition {
		fmt.Fprint(tw, "#\t")
	}
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tUSER\tPROGRESS\tSUBMITTED")
	for _, j := range jobs {
		if withPosition {
			fmt.Fprintf(tw, "%d\t", j.QueuePosition)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d%%\t%s\n",
			j.ID, j.JobType, j.Status, j.Priority, j.SubmittedBy, j.ProgressPercent,
			j.SubmittedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
