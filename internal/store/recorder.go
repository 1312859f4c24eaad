package store

import (
	"context"
	"strings"
	"time"

	"github.com/dshills/tasksmith/internal/integration/process"
	"github.com/dshills/tasksmith/internal/integration/task"
)

// defaultOutputTail is the number of trailing output lines kept per run.
const defaultOutputTail = 50

var _ process.Listener = (*RunRecorder)(nil)

// RunRecorder is a process.Listener that writes every execution to the
// store. Write failures are logged, never returned to the runner.
type RunRecorder struct {
	store   *Store
	logger  task.Logger
	tail    int
	timeout time.Duration
}

// NewRunRecorder creates a recorder. A nil logger discards failures.
func NewRunRecorder(s *Store, logger task.Logger) *RunRecorder {
	if logger == nil {
		logger = task.NopLogger()
	}
	return &RunRecorder{store: s, logger: logger, tail: defaultOutputTail, timeout: 5 * time.Second}
}

func (r *RunRecorder) OnStarted(e *process.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.store.StartRun(ctx, Run{
		ID:         e.ID,
		TaskID:     e.TaskID(),
		Label:      e.Spawn.Label,
		Command:    e.Spawn.Command,
		Args:       e.Spawn.Args,
		Cwd:        e.Spawn.Cwd,
		TerminalID: e.TerminalID,
		State:      string(process.ExecutionStateRunning),
		StartedAt:  e.StartTime(),
	})
	if err != nil {
		r.logger.Warn("record run start %s: %v", e.ID, err)
	}
}

func (r *RunRecorder) OnOutput(*process.Execution, process.OutputLine) {}

func (r *RunRecorder) OnReveal(*process.Execution, task.RevealStrategy) {}

func (r *RunRecorder) OnCompleted(e *process.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lines := e.Output()
	if len(lines) > r.tail {
		lines = lines[len(lines)-r.tail:]
	}
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Content)
	}

	if err := r.store.FinishRun(ctx, e.ID, string(e.State()), e.ExitCode(), sb.String(), e.EndTime()); err != nil {
		r.logger.Warn("record run end %s: %v", e.ID, err)
	}
}
