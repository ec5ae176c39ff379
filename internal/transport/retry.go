package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const (
	defaultBackoff    = 100 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// RetryPolicy is an exponential backoff with a
// bounded number of attempts.
type RetryPolicy struct {
	// Attempts is the total number of tries. Zero
	// or one means no retry.
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

// Do runs fn until it succeeds, the attempts are
// used up, the context ends, or fn returns an error
// that retrying cannot fix.
func (p RetryPolicy) Do( // A
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	base := p.Base
	if base <= 0 {
		base = defaultBackoff
	}
	maxBackoff := p.Max
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	b, err := retry.NewExponential(base)
	if err != nil {
		return fmt.Errorf("create backoff: %w", err)
	}
	var retries uint64
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	b = retry.WithMaxRetries(retries, retry.WithCappedDuration(maxBackoff, b))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// Retryable reports whether err may succeed on a
// later attempt.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRejected) {
		return errors.Is(err, model.ErrEnclaveUnavailable) ||
			errors.Is(err, model.ErrNetwork)
	}
	return true
}
