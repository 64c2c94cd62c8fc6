package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryReturnsLastErrorOnExhaustion(t *testing.T) {
	want := errors.New("persistent")
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	}, func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Hour,
		MaxDelay:      time.Hour,
		BackoffFactor: 2.0,
	}, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	}, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryWithResult failed: %v", err)
	}
	if got != 42 {
		t.Errorf("got = %d, want 42", got)
	}
}

func TestCalculateBackoffCapsAtMax(t *testing.T) {
	d := CalculateBackoff(10, 100*time.Millisecond, time.Second, 2.0)
	if d != time.Second {
		t.Errorf("backoff = %v, want cap at 1s", d)
	}
}
