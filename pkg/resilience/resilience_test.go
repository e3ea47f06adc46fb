package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(errBoom)
	})
	require.Equal(t, errBoom, err)
	require.Equal(t, 1, calls)
	require.NoError(t, Permanent(nil))
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "test", RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}, func() error { return errBoom })
	require.ErrorIs(t, err, context.Canceled)
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker("cache", BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	require.Equal(t, StateClosed, b.State())
	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrBreakerOpen)
	require.False(t, called)

	now = now.Add(time.Minute)
	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, b.State())

	now = now.Add(time.Minute)
	require.NoError(t, b.Do(func() error { return nil }))
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker("cache", BreakerConfig{FailureThreshold: 2})
	b.Do(func() error { return errBoom })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBoom })
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, "closed", b.State().String())
}

func TestBreakerIgnoresLateCallsDuringTrial(t *testing.T) {
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	b := NewBreaker("cache", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	// Admitted while closed, finishes after the breaker has gone half-open.
	lateStarted, lateRelease, lateDone := make(chan struct{}), make(chan struct{}), make(chan error, 1)
	go func() {
		lateDone <- b.Do(func() error {
			close(lateStarted)
			<-lateRelease
			return nil
		})
	}()
	<-lateStarted

	require.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, b.State())

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	trialStarted, trialRelease, trialDone := make(chan struct{}), make(chan struct{}), make(chan error, 1)
	go func() {
		trialDone <- b.Do(func() error {
			close(trialStarted)
			<-trialRelease
			return errBoom
		})
	}()
	<-trialStarted
	require.Equal(t, StateHalfOpen, b.State())

	close(lateRelease)
	require.NoError(t, <-lateDone)
	require.Equal(t, StateHalfOpen, b.State())
	require.ErrorIs(t, b.Do(func() error { return nil }), ErrBreakerOpen)

	close(trialRelease)
	require.ErrorIs(t, <-trialDone, errBoom)
	require.Equal(t, StateOpen, b.State())
}
