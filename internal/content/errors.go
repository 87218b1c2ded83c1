package content

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every Repository implementation.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTransient    = errors.New("transient network error")
	ErrValidation   = errors.New("validation error")
)

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient marks err as retryable, keeping the original in the chain.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// classifyContextErr turns a deadline into a transient failure. Cancellation
// by the caller stays as is so it is never retried.
func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return err
}
