package utils

import (
	"errors"
	"fmt"
)

// Pipeline failure conditions. None of these is fatal to the process; the
// pipeline degrades detection quality before it stops running.
var (
	// ErrInvalidSnapshot marks a malformed or out-of-order snapshot. The
	// sample is dropped and counted, the pipeline continues.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrScoringUnavailable marks a failed or timed-out model call. The
	// scorer fails open: windows read as non-anomalous until recovery.
	ErrScoringUnavailable = errors.New("scoring unavailable")

	// ErrCorrelationUnavailable marks an empty log index or failed query.
	// Alerts still promote, with no culprit attribution.
	ErrCorrelationUnavailable = errors.New("correlation unavailable")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
