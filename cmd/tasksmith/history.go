package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/tasksmith/internal/integration/task"
	"github.com/dshills/tasksmith/internal/store"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		limit     int
		taskID    string
		scheduled bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently run tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			out := cmd.OutOrStdout()
			if scheduled {
				records, err := application.RecentScheduled(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, records)
				}
				return printScheduled(out, records)
			}

			runs, err := application.RecentRuns(cmd.Context(), task.TaskID(taskID), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, runs)
			}
			return printRuns(out, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().StringVar(&taskID, "task", "", "only show runs of this task id")
	cmd.Flags().BoolVar(&scheduled, "scheduled", false, "show schedule records instead of runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func printRuns(w io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No runs recorded."))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tLABEL\tSTATE\tEXIT\tDURATION")
	for _, r := range runs {
		exit, duration := "-", "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		if !r.EndedAt.IsZero() {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			formatAge(r.StartedAt), truncate(r.Label, 40), r.State, exit, duration)
	}
	return tw.Flush()
}

func printScheduled(w io.Writer, records []store.Scheduled) error {
	if len(records) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No tasks scheduled yet."))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULED\tSOURCE\tLABEL\tTASK")
	for _, s := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			formatAge(s.ScheduledAt), s.Source, truncate(s.ResolvedLabel, 40), s.TaskID)
	}
	return tw.Flush()
}

// formatAge returns a human-readable relative time string.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
