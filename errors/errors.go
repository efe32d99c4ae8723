// Package errors provides custom error types for the offline sync engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeServerFailure     ErrorCode = "SERVER_FAILURE"
	ErrCodeClientRejected    ErrorCode = "CLIENT_REJECTED"
	ErrCodeRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the type of sync operation
type Operation string

const (
	OpEnqueue     Operation = "enqueue"
	OpListPending Operation = "list_pending"
	OpMarkStatus  Operation = "mark_status"
	OpRemove      Operation = "remove"
	OpDriveCycle  Operation = "drive_cycle"
	OpRemoteCall  Operation = "remote_call"
	OpResolve     Operation = "conflict_resolve"
	OpStore       Operation = "store"
	OpLoad        Operation = "load"
	OpClose       Operation = "close"
)

// SyncError represents an error that occurred while queueing or synchronizing
// a pending mutation.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "queue", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// HTTP status code when the error originated from the remote API (0 otherwise)
	Status int

	// RetryAfter carries the server's Retry-After hint for rate-limited
	// responses (0 when absent)
	RetryAfter time.Duration
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related SyncError. Local persistence
// failures are fatal for the engine, not part of retry handling.
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: false,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewConflictError creates a SyncError describing a remote version conflict.
// Conflicts are handed to the resolver, not the retry loop.
func NewConflictError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflict,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: false,
		Status:    409,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewExhaustedError marks a mutation whose retry budget is spent.
func NewExhaustedError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeRetriesExhausted,
		Op:        op,
		Component: "driver",
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError. Errors that do not
// carry a SyncError fall back to message classification.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return ClassifyMessage(err)
}

// IsConflict reports whether err is a remote version conflict.
func IsConflict(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodeConflict || syncErr.Status == 409
	}
	return false
}
