package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollSucceedsImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Now()}

	calls := 0
	err := Poll(context.Background(), clock, 5, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, clock.slept, "no sleep before the first attempt or after success")
}

func TestPollSucceedsAfterRetries(t *testing.T) {
	clock := &fakeClock{now: time.Now()}

	calls := 0
	err := Poll(context.Background(), clock, 5, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, clock.slept)
}

func TestPollExhausted(t *testing.T) {
	clock := &fakeClock{now: time.Now()}

	calls := 0
	err := Poll(context.Background(), clock, 4, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, 4, calls)
	// No sleep after the final attempt.
	assert.Equal(t, 3, clock.slept)
}

func TestPollAbortsOnError(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	boom := errors.New("boom")

	calls := 0
	err := Poll(context.Background(), clock, 5, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return false, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPollStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	err := Poll(ctx, SystemClock{}, 3, 50*time.Millisecond, func(ctx context.Context) (bool, error) {
		cancel()
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemClockSleep(t *testing.T) {
	start := time.Now()
	err := SystemClock{}.Sleep(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
