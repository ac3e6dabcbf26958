package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{
		MaxAttempts: 5,
		IsRetryable: func(error) bool { return true },
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("fatal")
	err := Do(context.Background(), Options{
		MaxAttempts: 5,
		IsRetryable: func(e error) bool { return !errors.Is(e, sentinel) },
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	assert.Equal(t, 3, calls)
	assert.True(t, IsExhausted(err))
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultOptions(), func(ctx context.Context) error {
		t.Fatal("should not be called with a cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExponential_CapsAtMax(t *testing.T) {
	b := Exponential(time.Second, 4*time.Second)
	assert.Equal(t, time.Second, b(0))
	assert.Equal(t, 2*time.Second, b(1))
	assert.Equal(t, 4*time.Second, b(2))
	assert.Equal(t, 4*time.Second, b(10))
}
