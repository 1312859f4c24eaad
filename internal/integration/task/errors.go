package task

import (
	"errors"
	"fmt"
)

// Sentinel errors for the task package.
var (
	// ErrEmptyLabel is reported for templates without a label.
	ErrEmptyLabel = errors.New("task label is empty")

	// ErrEmptyCommand is reported for templates without a command.
	ErrEmptyCommand = errors.New("task command is empty")

	// ErrSourceExists is returned when registering a duplicate source name.
	ErrSourceExists = errors.New("task source already registered")

	// ErrSourcePanic wraps a recovered panic from a source.
	ErrSourcePanic = errors.New("task source panicked")

	// ErrSourceTimeout is reported for a source that did not answer in time.
	ErrSourceTimeout = errors.New("task source timed out")
)

// UnknownVariableError is returned when decoding a token that names no variable.
type UnknownVariableError struct {
	Token string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown task variable %q", e.Token)
}

// SourceError records the failure of a single source during collection.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}
