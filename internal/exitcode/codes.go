// Package exitcode defines structured exit codes for swarm commands.
// These codes allow agents and scripts to handle specific error conditions
// programmatically without parsing error messages.
//
// # Usage
//
// Create errors with specific codes:
//
//	return exitcode.DatabaseError("connect", err)
//	return exitcode.Newf(exitcode.ErrConfig, "missing key: %s", key)
//
// Extract codes from errors (works with wrapped errors):
//
//	code := exitcode.Code(err)  // Returns ErrInternal for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes for swarm commands. Each error class owns one code so a
// supervising process can branch on the exit status alone.
const (
	// Success indicates the command completed successfully.
	Success = 0

	ErrConfig        = 2 // Configuration missing or malformed
	ErrDatabase      = 3 // Database connectivity or query failure
	ErrAgent         = 4 // Agent state violation or missing agent
	ErrBead          = 5 // Bead lookup or claim failure
	ErrStage         = 6 // Stage execution or transition violation
	ErrIO            = 7 // Filesystem or process I/O failure
	ErrSerialization = 8 // JSON encode/decode failure
	ErrInternal      = 9 // Internal error (bug) or unclassified failure
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a code and printf-style message.
func Wrapf(code int, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrInternal (9) if the error doesn't carry a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrInternal
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// Convenience constructors for common error classes.

// ConfigError returns a configuration error.
func ConfigError(msg string) *Error {
	return New(ErrConfig, msg)
}

// DatabaseError wraps a database failure for an operation.
func DatabaseError(operation string, cause error) *Error {
	return Wrapf(ErrDatabase, cause, "database %s failed", operation)
}

// AgentNotFound returns an error for a missing agent.
func AgentNotFound(id string) *Error {
	return Newf(ErrAgent, "agent not found: %s", id)
}

// BeadNotFound returns an error for a missing bead.
func BeadNotFound(id string) *Error {
	return Newf(ErrBead, "bead not found: %s", id)
}

// StageViolation returns an error for a broken stage invariant.
func StageViolation(msg string) *Error {
	return New(ErrStage, msg)
}

// IOError wraps a filesystem or process failure.
func IOError(operation string, cause error) *Error {
	return Wrapf(ErrIO, cause, "%s failed", operation)
}

// SerializationError wraps a JSON encode/decode failure.
func SerializationError(what string, cause error) *Error {
	return Wrapf(ErrSerialization, cause, "serialize %s failed", what)
}
