package types

import (
	"fmt"
	"strings"
)

// ValidationError indicates the declaration was rejected before any device mutation
type ValidationError struct {
	Field   string
	Message string
	Errors  []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid declaration: %s", e.Message)
	}
	return fmt.Sprintf("invalid declaration: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// DeviceError is returned when the device rejects a management API call
type DeviceError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// ResolutionError reports a declared hostname that could not be resolved
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve host %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// RollbackError carries the apply failure and the failure of the rollback that followed it
type RollbackError struct {
	Original error
	Rollback error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed: %v (original error: %v)", e.Rollback, e.Original)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Original, e.Rollback}
}

// MultiError joins independent failures, preserving their order
type MultiError []error

func (m MultiError) Error() string {
	msgs := make([]string, len(m))
	for i, err := range m {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m MultiError) Unwrap() []error {
	return m
}
