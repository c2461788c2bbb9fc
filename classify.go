package chitragupta

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorKind is the provider-side error taxonomy.
type ErrorKind string

const (
	ErrRateLimit     ErrorKind = "rate_limit"
	ErrAuth          ErrorKind = "auth"
	ErrContextLength ErrorKind = "context_length"
	ErrContentFilter ErrorKind = "content_filter"
	ErrNetwork       ErrorKind = "network"
	ErrTimeout       ErrorKind = "timeout"
	ErrServer        ErrorKind = "server_error"
	ErrOverloaded    ErrorKind = "overloaded"
	ErrUnknown       ErrorKind = "unknown"
)

// Classification is the result of mapping a raw error to the taxonomy.
type Classification struct {
	Provider   string
	StatusCode int
	Kind       ErrorKind
	Retryable  bool
	RetryAfter time.Duration
}

// networkNeedles are message substrings that indicate a connection-level
// failure. Matched case-insensitively, in order.
var networkNeedles = []string{
	"econnrefused", "econnreset", "etimedout", "enotfound",
	"socket hang up", "epipe", "network", "fetch failed",
}

// retryAfterRe extracts "retry-after: N" (seconds) from an error message.
var retryAfterRe = regexp.MustCompile(`(?i)retry-after:\s*(\d+)`)

// Classify maps err to the provider error taxonomy. Rules apply in order:
// status code first, then message substring search, then unknown. When err
// is already a *ProviderError its embedded status and message are used.
func Classify(err error, provider string) Classification {
	c := Classification{Provider: provider, Kind: ErrUnknown}
	if err == nil {
		return c
	}

	msg := err.Error()
	var pe *ProviderError
	if errors.As(err, &pe) {
		c.StatusCode = pe.StatusCode
		if pe.Provider != "" {
			c.Provider = pe.Provider
		}
		if pe.Message != "" {
			msg = pe.Message
		}
	}
	lower := strings.ToLower(msg)

	if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			c.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	switch {
	case c.StatusCode == 401 || c.StatusCode == 403:
		c.Kind = ErrAuth
	case c.StatusCode == 400 && strings.Contains(lower, "context length exceeded"):
		c.Kind = ErrContextLength
	case c.StatusCode == 400 && strings.Contains(lower, "filter"):
		c.Kind = ErrContentFilter
	case c.StatusCode == 429:
		c.Kind = ErrRateLimit
		c.Retryable = true
	case c.StatusCode == 529:
		c.Kind = ErrOverloaded
		c.Retryable = true
	case c.StatusCode >= 500 && c.StatusCode < 600:
		c.Kind = ErrServer
		c.Retryable = true
	case c.StatusCode != 0:
		// A status we have no rule for.
		c.Kind = ErrUnknown
	default:
		c.Kind, c.Retryable = classifyMessage(lower)
	}
	return c
}

// classifyMessage applies the substring rules used when no status code is
// available. Network patterns win over the bare "timeout" match because
// "etimedout" contains it.
func classifyMessage(lower string) (ErrorKind, bool) {
	for _, needle := range networkNeedles {
		if strings.Contains(lower, needle) {
			return ErrNetwork, true
		}
	}
	if strings.Contains(lower, "timeout") {
		return ErrTimeout, true
	}
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") {
		return ErrRateLimit, true
	}
	return ErrUnknown, false
}

// AsProviderError wraps err as a *ProviderError with its classification
// filled in. If err already is one, it is returned unchanged.
func AsProviderError(err error, provider string) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	c := Classify(err, provider)
	return &ProviderError{
		Provider:   c.Provider,
		StatusCode: c.StatusCode,
		Kind:       c.Kind,
		Message:    err.Error(),
		RetryAfter: c.RetryAfter,
		Cause:      err,
	}
}
