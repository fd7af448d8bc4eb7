package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/colony/clock"
)

// DefaultBackoff is the delay before the first retry; it doubles per retry.
const DefaultBackoff = 500 * time.Millisecond

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retry calls op up to attempts times with exponential backoff
// (base, 2*base, 4*base, ...) between calls. It stops early on success, on a
// Permanent error, or when ctx is done.
func Retry(ctx context.Context, clk clock.Clock, attempts int, base time.Duration, op func(context.Context) error) error {
	if clk == nil {
		clk = clock.Real()
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-clk.After(backoff):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Fanout publishes every event to all adapters and joins their errors.
type Fanout []Adapter

// Publish implements Adapter.
func (f Fanout) Publish(ctx context.Context, event *MergeCompletedEvent) error {
	var errs []error
	for _, a := range f {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Adapter.
func (f Fanout) Close() error {
	var errs []error
	for _, a := range f {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Verify Fanout implements Adapter.
var _ Adapter = Fanout(nil)
