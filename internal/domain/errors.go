// Package domain defines core types, engine ports, and errors for the
// dual-engine query layer.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrRemoteDisabled is the rejection reason of the remote gate when no
// remote engine address is configured.
var ErrRemoteDisabled = errors.New("remote engine is not configured")

// ErrEngineClosed is returned by engine handles after Close.
var ErrEngineClosed = errors.New("engine is closed")

// InitializationError indicates the local engine failed to start or open.
type InitializationError struct {
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize engine (%s): %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TimeoutError indicates a readiness wait exceeded its bound.
type TimeoutError struct {
	Gate  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.After, e.Gate)
}

// RegistrationError indicates schema, file, or view creation failed.
type RegistrationError struct {
	Source   string
	Location string
	Err      error
}

func (e *RegistrationError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("register source %q: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("register source %q location %q: %v", e.Source, e.Location, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// RemoteQueryError wraps a failed remote attempt. It never reaches callers
// of the router directly; it is attached to QueryError when the local
// fallback fails too.
type RemoteQueryError struct {
	Err error
}

func (e *RemoteQueryError) Error() string { return "remote query: " + e.Err.Error() }

func (e *RemoteQueryError) Unwrap() error { return e.Err }

// QueryError is the terminal error of a query after both engines were tried.
type QueryError struct {
	SQL    string
	Remote error // nil when the remote engine was not attempted
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("local query: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ValidationError reports caller input that cannot be turned into a statement.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrInitialization creates an InitializationError for the given stage.
func ErrInitialization(stage string, err error) *InitializationError {
	return &InitializationError{Stage: stage, Err: err}
}

// ErrRegistration creates a RegistrationError with a formatted cause.
func ErrRegistration(source, location string, format string, args ...interface{}) *RegistrationError {
	return &RegistrationError{Source: source, Location: location, Err: fmt.Errorf(format, args...)}
}
