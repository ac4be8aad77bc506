package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout, or under ctx unchanged
// when timeout is not positive. fn must honour its context. When the
// deadline rather than the caller ends the call, the error wraps
// apperrors.ErrTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(bounded)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", name, ctx.Err())
	case errors.Is(bounded.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s exceeded %v: %w: %w", name, timeout, apperrors.ErrTimeout, err)
	default:
		return err
	}
}
