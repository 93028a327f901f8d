package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Veraticus/invoice-match/internal/common"
)

// withRepoTimeout runs fn under a deadline and reports a blown deadline as a
// RepositoryTimeoutError. Cancellation of the parent context passes through untouched.
func withRepoTimeout(ctx context.Context, timeout time.Duration, operation string, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		var timeoutErr *common.RepositoryTimeoutError
		if errors.As(err, &timeoutErr) {
			return err
		}
		return &common.RepositoryTimeoutError{Operation: operation, Err: err}
	}
	return err
}
