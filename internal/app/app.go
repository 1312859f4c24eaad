// Package app wires configuration, task sources, history, telemetry and the
// spawn layer into one application and exposes the operations the command
// line uses.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/tasksmith/internal/config"
	"github.com/dshills/tasksmith/internal/integration/process"
	"github.com/dshills/tasksmith/internal/integration/task"
	"github.com/dshills/tasksmith/internal/store"
	"github.com/dshills/tasksmith/internal/telemetry"
)

const cleanupTimeout = 5 * time.Second

// Application owns every long-lived component.
type Application struct {
	root   string
	config *config.Config
	logger *Logger
	env    map[string]string

	tracerProvider    trace.TracerProvider
	shutdownTelemetry telemetry.ShutdownFunc

	inventory *task.Inventory
	stopWatch context.CancelFunc
	history   *store.Store
	policy    *process.Policy
	runner    *process.Runner
	metrics   *Metrics

	closed atomic.Bool
}

// Options configures the application.
type Options struct {
	// WorkspacePath is the workspace root. Empty means the current
	// directory.
	WorkspacePath string

	// ConfigPath is an explicit configuration file.
	ConfigPath string

	// EnvFiles are dotenv files. Their TASKSMITH_ values configure the
	// application and every value is passed to spawned tasks.
	EnvFiles []string

	// LogLevel overrides logging.level.
	LogLevel string

	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer

	// Overrides are dot-path settings applied above every other source.
	Overrides map[string]any

	// Version is reported as the telemetry service version.
	Version string

	// ConfigOptions are passed to config.Load after the options above.
	ConfigOptions []config.Option
}

// New creates and bootstraps an Application. Close must be called to stop
// running tasks and flush history and telemetry.
func New(ctx context.Context, opts Options) (*Application, error) {
	app := &Application{metrics: NewMetrics()}
	if err := newBootstrapper(app, opts).bootstrap(ctx); err != nil {
		return nil, err
	}
	app.logger.Debug("workspace %s: sources %v", app.root, app.inventory.Sources())
	return app, nil
}

// Root returns the absolute workspace root.
func (app *Application) Root() string { return app.root }

// Config returns the loaded configuration.
func (app *Application) Config() *config.Config { return app.config }

// Logger returns the application logger.
func (app *Application) Logger() *Logger { return app.logger }

// Inventory returns the task inventory.
func (app *Application) Inventory() *task.Inventory { return app.inventory }

// Runner returns the spawn layer.
func (app *Application) Runner() *process.Runner { return app.runner }

// Metrics returns the execution counters.
func (app *Application) Metrics() *Metrics { return app.metrics }

// History returns the history store, or nil when history is disabled.
func (app *Application) History() *store.Store { return app.history }

// Request describes the editor state a task list is resolved against.
type Request struct {
	// Editor is the editor snapshot. An empty WorktreeRoot means the
	// workspace root.
	Editor task.EditorState

	// Cwd overrides the resolution working directory.
	Cwd string

	// Variables are custom variables added after every source's.
	Variables map[string]string
}

// Workspace returns the per-request workspace handed to sources.
func (app *Application) Workspace(req Request) *task.Workspace {
	editor := req.Editor
	if editor.WorktreeRoot == "" {
		editor.WorktreeRoot = app.root
	}
	return &task.Workspace{
		Root:   app.root,
		Editor: editor,
		Env:    maps.Clone(app.env),
		Logger: app.logger.WithComponent("sources"),
	}
}

// Context builds the resolution context for req.
func (app *Application) Context(ctx context.Context, req Request) task.TaskContext {
	ws := app.Workspace(req)
	cx := app.inventory.BuildContext(ctx, ws)
	if req.Cwd != "" {
		cx.Cwd = req.Cwd
	}
	for name, value := range req.Variables {
		cx.Variables.Insert(task.CustomVariable(name), value)
	}
	return cx
}

// Templates lists every template, most recently scheduled first.
func (app *Application) Templates(ctx context.Context, req Request) *task.Collection {
	return app.inventory.Collect(ctx, app.Workspace(req))
}

// Tasks resolves every template against req. Failing sources are reported
// next to the tasks of the others.
func (app *Application) Tasks(ctx context.Context, req Request) ([]task.Scheduled, []task.SourceError) {
	return app.inventory.ResolveAll(ctx, app.Workspace(req), app.Context(ctx, req))
}

// Find resolves the task with the given label. The label may be the
// template label, the resolved label, or "source:label" to pick a source.
func (app *Application) Find(ctx context.Context, req Request, label string) (task.Scheduled, error) {
	scheduled, errs := app.Tasks(ctx, req)
	for _, serr := range errs {
		app.logger.Warn("%v", serr)
	}

	var matches []task.Scheduled
	for _, s := range scheduled {
		if task.TemplateKey(s.Source, s.Task.Original.Label) == label {
			return s, nil
		}
		if s.Task.Original.Label == label || s.Task.ResolvedLabel == label {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return task.Scheduled{}, NewOperationError("find", label, ErrTaskNotFound)
	case 1:
		return matches[0], nil
	}

	sourcesSeen := make(map[string]bool)
	for _, m := range matches {
		sourcesSeen[m.Source] = true
	}
	if len(sourcesSeen) > 1 {
		return task.Scheduled{}, NewOperationError("find", label, ErrAmbiguousTask)
	}
	return matches[0], nil
}

// Spawn starts a resolved task and records it in the history.
func (app *Application) Spawn(ctx context.Context, s task.Scheduled) (*process.Execution, error) {
	if app.closed.Load() {
		return nil, ErrClosed
	}
	if !s.Task.Spawnable() {
		return nil, NewOperationError("spawn", s.Task.ResolvedLabel, ErrNotSpawnable)
	}

	e, err := app.runner.Spawn(ctx, *s.Task.Resolved)
	if err != nil {
		return nil, NewOperationError("spawn", s.Task.ResolvedLabel, err)
	}
	if err := app.inventory.MarkScheduled(ctx, s); err != nil {
		app.logger.Warn("record scheduled %s: %v", s.Task.ResolvedLabel, err)
	}
	return e, nil
}

// Run finds label, spawns it and waits for it to finish. The returned
// execution carries the exit code.
func (app *Application) Run(ctx context.Context, req Request, label string) (*process.Execution, error) {
	s, err := app.Find(ctx, req, label)
	if err != nil {
		return nil, err
	}
	e, err := app.Spawn(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := e.Wait(ctx); err != nil {
		e.Cancel()
		<-e.Done()
		return e, err
	}
	return e, nil
}

// RecentRuns returns the latest recorded runs, optionally of one task.
func (app *Application) RecentRuns(ctx context.Context, id task.TaskID, limit int) ([]store.Run, error) {
	if app.history == nil {
		return nil, ErrHistoryDisabled
	}
	return app.history.RecentRuns(ctx, id, limit)
}

// RecentScheduled returns the latest schedule records.
func (app *Application) RecentScheduled(ctx context.Context, limit int) ([]store.Scheduled, error) {
	if app.history == nil {
		return nil, ErrHistoryDisabled
	}
	return app.history.RecentScheduled(ctx, limit)
}

// Close stops running tasks and releases every component in reverse
// initialization order. It is safe to call more than once.
func (app *Application) Close(ctx context.Context) error {
	if !app.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, name := range []string{"runner", "inventory", "history", "telemetry"} {
		if err := app.closeComponent(ctx, name); err != nil {
			errs = append(errs, NewComponentError(name, "close", err))
		}
	}
	return errors.Join(errs...)
}

func (app *Application) closeComponent(ctx context.Context, name string) error {
	switch name {
	case "runner":
		if app.runner != nil {
			timeout := app.config.Runner.ShutdownTimeoutDuration()
			if deadline, ok := ctx.Deadline(); ok {
				timeout = min(timeout, time.Until(deadline))
			}
			app.runner.Shutdown(timeout)
		}
	case "inventory":
		if app.stopWatch != nil {
			app.stopWatch()
		}
	case "history":
		if app.history != nil {
			return app.history.Close()
		}
	case "telemetry":
		if app.shutdownTelemetry != nil {
			if err := app.shutdownTelemetry(ctx); err != nil {
				return fmt.Errorf("flush spans: %w", err)
			}
		}
	}
	return nil
}
