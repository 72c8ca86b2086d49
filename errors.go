package rbs

import (
	"context"
	stderrs "errors"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is the error returned
	// when a requested blob, record, or namespace log does not exist.
	ErrNotFound = stderrs.New("not found")

	// ErrBadRequest is the error returned for malformed input,
	// such as an invalid identifier or replication cursor.
	ErrBadRequest = stderrs.New("bad request")

	// ErrConflict is the error returned when a write contradicts stored state.
	ErrConflict = stderrs.New("conflict")

	// ErrStaleCursor is the error returned when a replication cursor
	// refers to a bucket that is no longer in the log.
	// The concrete error is a *StaleCursorError (in package replication).
	ErrStaleCursor = stderrs.New("stale cursor")

	// ErrTransient marks failures of an underlying store that are safe to retry.
	ErrTransient = stderrs.New("transient failure")
)

type transientErr struct {
	err error
}

func (e transientErr) Error() string {
	return fmt.Sprintf("%s (transient)", e.err)
}

func (e transientErr) Unwrap() error {
	return e.err
}

func (e transientErr) Is(target error) bool {
	return target == ErrTransient
}

// Transient marks err as retryable.
// It returns nil when err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientErr{err: err}
}

// IsTransient tells whether err is safe to retry:
// it is marked with Transient,
// or it is the result of a canceled context or expired deadline.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
