// Package errors defines the error taxonomy used across the runner: per-item
// failures that never abort a run, and the small set of errors that do.
package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies the error taxonomy of the runner.
type ErrorType string

const (
	// ErrorTypeWorkerCrash covers a worker exit, closed pipe, or timeout.
	ErrorTypeWorkerCrash ErrorType = "worker_crash"

	// ErrorTypeProtocol covers a malformed frame or unknown message id.
	// Treated identically to a worker crash by the supervisor.
	ErrorTypeProtocol ErrorType = "protocol"

	// ErrorTypeConfig covers invalid roots or an invalid worker count.
	// Fatal before any dispatch.
	ErrorTypeConfig ErrorType = "config"

	// ErrorTypeInternal covers a bug in the supervisor itself. Fatal,
	// surfaced with a stable diagnostic.
	ErrorTypeInternal ErrorType = "internal"
)

// RunnerError is the common error shape for everything in the taxonomy.
// It wraps an underlying cause and records enough context to explain where
// in the pipeline the failure happened.
type RunnerError struct {
	Type       ErrorType
	Operation  string
	Underlying error
	Timestamp  time.Time

	// Context fields populated depending on Type. Error() includes File
	// when it is set; WorkerIndex and Recoverable are not part of the
	// message.
	File        string
	WorkerIndex int
	Recoverable bool
}

// New creates a RunnerError of the given type wrapping err.
func New(t ErrorType, op string, err error) *RunnerError {
	return &RunnerError{
		Type:       t,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithFile attaches a source file path to the error.
func (e *RunnerError) WithFile(path string) *RunnerError {
	e.File = path
	return e
}

// WithWorker attaches the offending worker's pool index to the error.
func (e *RunnerError) WithWorker(idx int) *RunnerError {
	e.WorkerIndex = idx
	return e
}

// WithRecoverable marks whether the run can continue past this error.
func (e *RunnerError) WithRecoverable(recoverable bool) *RunnerError {
	e.Recoverable = recoverable
	return e
}

// Error implements the error interface.
func (e *RunnerError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.File, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *RunnerError) Unwrap() error {
	return e.Underlying
}

// IsRecoverable reports whether the run can continue past this error.
func (e *RunnerError) IsRecoverable() bool {
	return e.Recoverable
}

// IsFatal reports whether this error type must abort the run before
// dispatch, per spec.md §7 ("Only configuration and internal errors are
// fatal").
func (e *RunnerError) IsFatal() bool {
	return e.Type == ErrorTypeConfig || e.Type == ErrorTypeInternal
}

// DiscoveryWarning records a non-fatal problem found while collecting tests:
// an unparsable file, or a decorator call with an unsupported value shape.
type DiscoveryWarning struct {
	File    string
	Message string
}

func (w DiscoveryWarning) String() string {
	if w.File != "" {
		return fmt.Sprintf("%s: %s", w.File, w.Message)
	}
	return w.Message
}

// MultiError aggregates several independent errors (e.g. one per crashed
// worker during shutdown) into a single value.
type MultiError struct {
	Errors []error
}

// NewMultiError creates a MultiError, dropping any nil entries.
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface.
func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
	}
}

// Unwrap returns all wrapped errors for errors.Is/As (Go 1.20+ multi-unwrap).
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
