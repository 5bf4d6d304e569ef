package authflow

import (
	"context"
	"errors"
	"time"
)

// Backend issues and verifies one-time codes. Both calls block until the
// step finishes or ctx is done, and must return promptly after ctx is
// cancelled.
//
// Errors should wrap one of ErrServiceUnavailable, ErrRateLimited,
// ErrCodeMismatch, ErrCodeExpired or ErrAttemptsExceeded. Anything else is
// reported to callers as ErrServiceUnavailable.
type Backend interface {
	IssueCode(ctx context.Context, creds Credentials) (Challenge, error)
	VerifyCode(ctx context.Context, challenge Challenge, code string) error
}

// sleepContext waits for d or ctx, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isBackendSentinel reports whether err already carries a classified cause.
func isBackendSentinel(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrCodeMismatch) ||
		errors.Is(err, ErrCodeExpired) ||
		errors.Is(err, ErrAttemptsExceeded) ||
		errors.Is(err, ErrTimeout)
}
