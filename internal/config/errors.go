package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration loading.
var (
	// ErrFileNotFound indicates an explicitly requested file does not exist.
	ErrFileNotFound = errors.New("config file not found")

	// ErrValidationFailed matches every ValidationError.
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError describes an invalid setting.
type ValidationError struct {
	// Path is the setting path, such as "runner.maxConcurrent".
	Path    string
	Message string
	Value   any
	Code    ValidationErrorCode
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s (value: %v)", e.Path, e.Message, e.Value)
}

// Is makes errors.Is(err, ErrValidationFailed) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode uint8

const (
	ValidationInvalidType ValidationErrorCode = iota
	ValidationInvalidValue
	ValidationOutOfRange
	ValidationRequired
)

func (c ValidationErrorCode) String() string {
	switch c {
	case ValidationInvalidType:
		return "invalid_type"
	case ValidationInvalidValue:
		return "invalid_value"
	case ValidationOutOfRange:
		return "out_of_range"
	case ValidationRequired:
		return "required"
	default:
		return "unknown"
	}
}
