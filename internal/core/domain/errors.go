package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrVendorNotFound   = errors.New("vendor not found")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")
	// ErrQueueUnavailable marks enqueue failures caused by an unreachable
	// broker; the dispatcher falls back to synchronous processing on it.
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
