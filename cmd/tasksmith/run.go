package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/tasksmith/internal/integration/process"
	"github.com/dshills/tasksmith/internal/integration/task"
)

// exitCanceled is the exit status reported for interrupted tasks.
const exitCanceled = 130

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		rf    requestFlags
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "run <label>",
		Short: "Resolve a task, run it and stream its output",
		Long: `Resolve a task, run it and stream its output. The command exits with
the task's exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request()
			if err != nil {
				return err
			}
			application, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			ctx := cmd.Context()
			s, err := application.Find(ctx, req, args[0])
			if err != nil {
				return err
			}

			stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
			application.Runner().AddListener(newStreamer(s.Task.ID, stdout, stderr))

			if !quiet {
				fmt.Fprintln(stderr, titleStyle.Render("▶ "+s.Task.ResolvedLabel))
			}
			e, err := application.Spawn(ctx, s)
			if err != nil {
				return err
			}
			if err := e.Wait(ctx); err != nil {
				e.Cancel()
				<-e.Done()
			}

			if !quiet {
				printSummary(stderr, e)
			}
			switch e.State() {
			case process.ExecutionStateSucceeded:
				return nil
			case process.ExecutionStateCanceled:
				return &exitError{code: exitCanceled}
			default:
				return &exitError{code: e.ExitCode()}
			}
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the task's output")
	return cmd
}

// newStreamer copies the output of executions of id to the command streams.
func newStreamer(id task.TaskID, stdout, stderr io.Writer) process.Listener {
	var mu sync.Mutex
	return process.ListenerFuncs{
		Output: func(e *process.Execution, line process.OutputLine) {
			if e.TaskID() != id {
				return
			}
			w := stdout
			if line.Stream == process.OutputStreamStderr {
				w = stderr
			}
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(w, line.Content)
		},
	}
}

func printSummary(w io.Writer, e *process.Execution) {
	label := e.Spawn.Label
	elapsed := e.Duration().Round(time.Millisecond)
	switch e.State() {
	case process.ExecutionStateSucceeded:
		fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✓ %s finished in %s", label, elapsed)))
	case process.ExecutionStateCanceled:
		fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("■ %s canceled after %s", label, elapsed)))
	default:
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("✗ %s exited with code %d after %s", label, e.ExitCode(), elapsed)))
	}
}
