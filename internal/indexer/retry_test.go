package indexer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("temporary")
		}
		return 42, nil
	})
	if err != nil || got != 42 || calls != 3 {
		t.Fatalf("got %d after %d calls: %v", got, calls, err)
	}
}

func TestRetryExhausted(t *testing.T) {
	errBoom := errors.New("boom")
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	if !errors.Is(err, errBoom) || calls != 3 {
		t.Fatalf("expected boom after 3 calls, got %d: %v", calls, err)
	}

	calls = 0
	_, _ = Retry(context.Background(), RetryPolicy{MaxRetries: -1}, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	if calls != 1 {
		t.Fatalf("negative retries should call once, got %d", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryPolicy{MaxRetries: 10, Backoff: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("temporary")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancel after 1 call, got %d: %v", calls, err)
	}
}
