package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyStatus maps an HTTP status code from the remote API onto a SyncError
// code and retryability. The partition mirrors the engine's retry policy:
// 429 and 5xx are transient, any other 4xx permanently rejects the mutation.
func ClassifyStatus(status int) (ErrorCode, bool) {
	switch {
	case status == 409:
		return ErrCodeConflict, false
	case status == 429:
		return ErrCodeRateLimited, true
	case status >= 500:
		return ErrCodeServerFailure, true
	case status >= 400:
		return ErrCodeClientRejected, false
	default:
		return "", false
	}
}

// NewHTTPError builds a SyncError from a remote API status code.
func NewHTTPError(op Operation, status int, cause error) *SyncError {
	code, retryable := ClassifyStatus(status)
	return &SyncError{
		Op:        op,
		Component: "transport",
		Err:       cause,
		Code:      code,
		Retryable: retryable,
		Status:    status,
	}
}

// Classify inspects an arbitrary error and reports whether it is transient.
// Typed transport errors are preferred; message matching is a last resort for
// errors that arrive without type information.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}

	// Transport-layer timeouts surface as net.Error or context deadline.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return ClassifyMessage(err)
}

// retryableFragments are substrings that mark an untyped error as transient.
// The set matches the original error-message sniffing so the retryable
// partition is unchanged for callers that pass plain errors through.
var retryableFragments = []string{
	"network",
	"timeout",
	"connection",
	"offline",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// ClassifyMessage reports whether an untyped error message looks transient.
func ClassifyMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
