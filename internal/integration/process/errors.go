package process

import "errors"

// Runner errors.
var (
	// ErrAlreadyRunning is returned when a task that forbids concurrent runs
	// is spawned while an earlier run is still going.
	ErrAlreadyRunning = errors.New("task is already running")

	// ErrExecutionNotFound is returned when an execution ID is unknown.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrRunnerClosed is returned by Spawn after Shutdown.
	ErrRunnerClosed = errors.New("runner is shut down")
)
