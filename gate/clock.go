package gate

import (
	"context"
	"errors"
	"time"
)

// Clock abstracts time for the polling loops so the pipeline is testable
// without real delays.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrPollExhausted is returned by Poll when every attempt ran without the
// predicate holding.
var ErrPollExhausted = errors.New("poll attempts exhausted")

// Poll invokes fn up to attempts times, sleeping interval between tries,
// until fn reports done. An error from fn aborts the loop immediately.
func Poll(ctx context.Context, clock Clock, attempts int, interval time.Duration, fn func(context.Context) (bool, error)) error {
	for i := 0; i < attempts; i++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i < attempts-1 {
			if err := clock.Sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return ErrPollExhausted
}
