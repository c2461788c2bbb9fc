package chitragupta

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry() RetryOptions {
	return RetryOptions{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Provider:   "test",
	}
}

func TestWithRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), fastRetry(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &ProviderError{StatusCode: 500, Message: "flaky"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryFatalImmediate(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "", &ProviderError{StatusCode: 401, Message: "bad key"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal errors never retry)", calls)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != ErrAuth {
		t.Errorf("error = %v, want auth ProviderError", err)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetry(), func() (int, error) {
		calls++
		return 0, errors.New("connect ECONNREFUSED")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// Initial attempt plus MaxRetries.
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestWithRetryUnknownEscalates(t *testing.T) {
	calls := 0
	opts := fastRetry()
	opts.MaxRetries = 10
	_, err := WithRetry(context.Background(), opts, func() (int, error) {
		calls++
		return 0, errors.New("mystery failure in subsystem")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// The same unknown message escalates to fatal at the third occurrence.
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := fastRetry()
	opts.BaseDelay = time.Minute
	opts.MaxDelay = time.Minute

	done := make(chan error, 1)
	go func() {
		_, err := WithRetry(ctx, opts, func() (int, error) {
			return 0, errors.New("connect ECONNREFUSED")
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the backoff sleep")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	base := 200 * time.Millisecond
	max := 8 * time.Second
	for i := 0; i < 20; i++ {
		d := backoffDelay(base, max, i)
		if d < 0 || d > max {
			t.Fatalf("backoffDelay(%d) = %v, out of [0, %v]", i, d, max)
		}
	}
}
