// Package errors provides the orchestrator's tagged error kinds.
//
// Per the error handling design, errors are propagated as tagged values
// rather than used as exceptions-as-control-flow. CapacityError is
// deliberately absent here: capacity-full is a return-value status
// (scheduler.Status), never an error.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies which of the spec's error categories an error belongs to.
type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION"
	KindDatabase      Kind = "DATABASE"
	KindSpawn         Kind = "SPAWN"
	KindValidation    Kind = "VALIDATION"
	KindTimeout       Kind = "TIMEOUT"
)

// OrchestratorError is the common shape for all tagged errors the core
// components produce.
type OrchestratorError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

// Configuration creates a fatal startup configuration error.
func Configuration(message string, err error) *OrchestratorError {
	return &OrchestratorError{Kind: KindConfiguration, Message: message, Err: err}
}

// Database wraps a persistence-layer failure. Callers feed the returned
// error to the DatabaseHealthMonitor in addition to propagating it.
func Database(message string, err error) *OrchestratorError {
	return &OrchestratorError{Kind: KindDatabase, Message: message, Err: err}
}

// Spawn wraps an agent runtime rejection. Single-task failure: the
// scheduler releases capacity and leaves the task queued.
func Spawn(message string, err error) *OrchestratorError {
	return &OrchestratorError{Kind: KindSpawn, Message: message, Err: err}
}

// Validation wraps a CLI argument or task-input issue with an actionable
// message.
func Validation(message string) *OrchestratorError {
	return &OrchestratorError{Kind: KindValidation, Message: message}
}

// Timeout wraps a deadline miss, e.g. EventDispatcher.WaitFor or a
// shutdown path that exceeded its grace period.
func Timeout(message string) *OrchestratorError {
	return &OrchestratorError{Kind: KindTimeout, Message: message}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}
