package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/tasksmith/internal/integration/process"
	"github.com/dshills/tasksmith/internal/integration/task"
)

const runTracerName = "github.com/dshills/tasksmith/internal/integration/process"

var _ process.Listener = (*RunTracer)(nil)

// RunTracer records a "task.run" span for every execution, from start to
// exit.
type RunTracer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewRunTracer creates a run tracer on tp.
func NewRunTracer(tp trace.TracerProvider) *RunTracer {
	return &RunTracer{
		tracer: tp.Tracer(runTracerName),
		spans:  make(map[string]trace.Span),
	}
}

func (t *RunTracer) OnStarted(e *process.Execution) {
	_, span := t.tracer.Start(context.Background(), "task.run",
		trace.WithTimestamp(e.StartTime()),
		trace.WithAttributes(
			attribute.String("task.id", string(e.TaskID())),
			attribute.String("task.label", e.Spawn.Label),
			attribute.String("task.terminal", e.TerminalID),
			attribute.String("task.execution", e.ID),
		))

	t.mu.Lock()
	t.spans[e.ID] = span
	t.mu.Unlock()
}

func (t *RunTracer) OnOutput(*process.Execution, process.OutputLine) {}

func (t *RunTracer) OnReveal(e *process.Execution, reveal task.RevealStrategy) {
	if span := t.span(e.ID, false); span != nil {
		span.AddEvent("reveal", trace.WithAttributes(attribute.String("task.reveal", string(reveal))))
	}
}

func (t *RunTracer) OnCompleted(e *process.Execution) {
	span := t.span(e.ID, true)
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("task.state", string(e.State())),
		attribute.Int("task.exit_code", e.ExitCode()),
	)
	if e.State() != process.ExecutionStateSucceeded {
		span.SetStatus(codes.Error, string(e.State()))
	}
	span.End(trace.WithTimestamp(e.EndTime()))
}

func (t *RunTracer) span(id string, remove bool) trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	span := t.spans[id]
	if remove {
		delete(t.spans, id)
	}
	return span
}
