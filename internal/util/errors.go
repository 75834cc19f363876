package util

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrNotACompressedFile = errors.New("not a compressed file")
	ErrLockUnavailable    = errors.New("lock unavailable")
	ErrLockError          = errors.New("lock backend error")
	ErrBackend            = errors.New("extraction backend error")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrNewVersionBlocked  = errors.New("new version blocked by checkout")
	ErrTransientDB        = errors.New("transient database error")
	ErrValidation         = errors.New("validation error")
)

// ValidationError reports a rejected input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// BackendError is a failure of a single parser or OCR backend.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() []error { return []error{ErrBackend, e.Err} }

// Transient marks err as a retryable database failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientDB) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientDB, err)
}

// IsTransient reports whether a background job should retry after err.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientDB) || errors.Is(err, ErrLockError) {
		return true
	}
	// lock contention inside a backend is retried, a held job lock is not
	return errors.Is(err, ErrLockUnavailable) && errors.Is(err, ErrBackend)
}

// IsTimeout reports whether err came from an expired job deadline.
func IsTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
