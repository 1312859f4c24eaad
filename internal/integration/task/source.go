package task

import "context"

// Source produces task templates that can be scheduled.
//
// Implementations range from static files in the workspace to language
// tooling that reports runnables. A source owns its refresh and caching
// policy; the resolver does not depend on any implementation.
type Source interface {
	// Name identifies the source and prefixes the ids of its tasks.
	Name() string

	// TasksToSchedule returns the templates currently available.
	TasksToSchedule(ctx context.Context, ws *Workspace) (TaskTemplates, error)
}

// ContextProvider is implemented by sources that contribute custom
// variables to the resolution context.
type ContextProvider interface {
	TaskVariables(ctx context.Context, ws *Workspace) (TaskVariables, error)
}

// Logger is the logging surface sources and the inventory write to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Workspace is the session state handed to sources. Sources may read the
// editor snapshot and record per-session data in Env.
type Workspace struct {
	// Root is the workspace root directory.
	Root string

	// Editor is the editor state at the time of the request.
	Editor EditorState

	// Env holds extra environment values loaded for the session, for
	// example from dotenv files.
	Env map[string]string

	// Logger receives diagnostics. Nil discards them.
	Logger Logger
}

// Log returns the workspace logger, never nil.
func (ws *Workspace) Log() Logger {
	if ws == nil || ws.Logger == nil {
		return nopLogger{}
	}
	return ws.Logger
}

// FindSource returns the first registered source of type T.
func FindSource[T Source](inv *Inventory) (T, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	for _, src := range inv.sources {
		if typed, ok := src.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}
