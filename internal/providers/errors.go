package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter reads a Retry-After header value in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Transient reports whether an error is worth retrying or falling back on:
// network failures, timeouts, rate limits, and 5xx responses. Permanent
// errors (auth, bad request, policy rejection) fail fast without trying
// another provider.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusTooManyRequests:
			return true
		case httpErr.Status == http.StatusRequestTimeout:
			return true
		case httpErr.Status >= 500:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unclassified transport errors (connection refused, DNS) arrive as
	// *url.Error wrapping an *OpError; treat anything non-HTTP as transient.
	return true
}

// ErrRateLimited marks a provider skipped because its token bucket was
// empty. The router treats it exactly like a transient failure.
var ErrRateLimited = errors.New("provider rate limited")

// fallbackPhrases is the fixed list a total provider failure draws from.
var fallbackPhrases = []string{
	"I lost my train of thought there. Mind asking again?",
	"Something went sideways on my end. Give me another shot?",
	"I couldn't put a good answer together just now. Try me again in a bit.",
	"My circuits hiccupped. Could you repeat that?",
}

// ProviderFailure is returned when every provider in the chain failed.
type ProviderFailure struct {
	Attempted []string
	LastErr   error
	Permanent bool
}

func (f *ProviderFailure) Error() string {
	return fmt.Sprintf("all providers failed (attempted %v): %v", f.Attempted, f.LastErr)
}

func (f *ProviderFailure) Unwrap() error { return f.LastErr }

// Fallback returns a deterministic user-visible phrase keyed on the
// attempt count, so identical failures produce identical replies.
func (f *ProviderFailure) Fallback() string {
	return fallbackPhrases[len(f.Attempted)%len(fallbackPhrases)]
}
