package chitragupta

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int
	// BaseDelay seeds the exponential backoff (default 200ms).
	BaseDelay time.Duration
	// MaxDelay caps a single backoff sleep (default 8s).
	MaxDelay time.Duration
	// Provider labels the classification and log output.
	Provider string
	// Logger receives retry warnings. Nil means no output.
	Logger *slog.Logger
}

func (o *RetryOptions) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 8 * time.Second
	}
	if o.Logger == nil {
		o.Logger = nopLogger
	}
}

// unknownEscalateAfter is how many times the same unknown error message may
// recur before it is treated as fatal instead of retried.
const unknownEscalateAfter = 3

// unknownPrefixLen bounds the message prefix used to bucket unknown errors.
const unknownPrefixLen = 80

// WithRetry calls fn with exponential backoff and jitter:
//
//	delay(i) = min(base·2^i + random(0, base), max)
//
// Fatal classifications (auth, context_length, content_filter) return
// immediately. Unknown errors are retried while counting occurrences per
// message prefix; after unknownEscalateAfter occurrences of the same prefix
// the error is escalated to fatal. Transient classifications sleep and
// retry up to MaxRetries. The sleep is a suspension point: ctx cancellation
// interrupts it.
func WithRetry[T any](ctx context.Context, opts RetryOptions, fn func() (T, error)) (T, error) {
	opts.defaults()
	var zero T
	unknownSeen := make(map[string]int)

	var last error
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		last = err

		c := Classify(err, opts.Provider)
		if c.Kind == ErrUnknown {
			prefix := errPrefix(err.Error())
			unknownSeen[prefix]++
			if unknownSeen[prefix] >= unknownEscalateAfter {
				opts.Logger.Warn("unknown error escalated to fatal",
					"provider", opts.Provider, "occurrences", unknownSeen[prefix], "error", err)
				return zero, AsProviderError(err, opts.Provider)
			}
		} else if !c.Retryable {
			return zero, AsProviderError(err, opts.Provider)
		}

		if attempt >= opts.MaxRetries {
			opts.Logger.Error("all retry attempts exhausted",
				"provider", opts.Provider, "attempts", attempt+1, "error", last)
			return zero, AsProviderError(last, opts.Provider)
		}

		delay := backoffDelay(opts.BaseDelay, opts.MaxDelay, attempt)
		if c.RetryAfter > delay {
			delay = c.RetryAfter
		}
		opts.Logger.Warn("retrying after error",
			"provider", opts.Provider, "kind", string(c.Kind),
			"attempt", attempt+1, "max_retries", opts.MaxRetries, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay returns min(base·2^i + random(0, base), max).
func backoffDelay(base, max time.Duration, i int) time.Duration {
	exp := base << i
	if exp <= 0 || exp > max {
		exp = max
	}
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	if exp+jitter > max {
		return max
	}
	return exp + jitter
}

// errPrefix buckets an error message by its leading characters.
func errPrefix(msg string) string {
	if len(msg) > unknownPrefixLen {
		return msg[:unknownPrefixLen]
	}
	return msg
}
