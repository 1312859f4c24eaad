package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrTaskNotFound indicates no task matches the requested label.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAmbiguousTask indicates a label matches tasks from several sources.
	ErrAmbiguousTask = errors.New("ambiguous task label")

	// ErrNotSpawnable indicates a task resolved without a spawn payload.
	ErrNotSpawnable = errors.New("task cannot be spawned")

	// ErrHistoryDisabled indicates history was requested but is turned off.
	ErrHistoryDisabled = errors.New("history disabled")

	// ErrClosed indicates the application was shut down.
	ErrClosed = errors.New("application closed")
)

// OperationError is an error from a named operation on a target.
type OperationError struct {
	Op     string // Operation name (e.g., "resolve", "spawn")
	Target string // Target of the operation (e.g., a task label)
	Err    error
}

// NewOperationError creates a new OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{Op: op, Target: target, Err: err}
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %q", e.Op, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ComponentError is an error from one of the wired components.
type ComponentError struct {
	Component string // Component name (e.g., "history", "telemetry")
	Action    string // Action being performed (e.g., "init", "close")
	Err       error
}

// NewComponentError creates a new ComponentError.
func NewComponentError(component, action string, err error) *ComponentError {
	return &ComponentError{Component: component, Action: action, Err: err}
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Action != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Component, e.Action)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}
	return e.Component
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
