package llm

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff window bounds.
const (
	DefaultBackoff = 60 * time.Second
	MinBackoff     = time.Second
	MaxBackoff     = time.Hour
)

var resetHeaders = []string{
	"x-ratelimit-reset-requests",
	"x-ratelimit-reset",
	"x-ratelimit-reset-tokens",
}

var remainingHeaders = []string{
	"x-ratelimit-remaining-requests",
	"x-ratelimit-remaining",
}

// BackoffUntil computes when a throttled key may be tried again.
// Retry-After wins over reset headers. Falls back to DefaultBackoff.
func BackoffUntil(h http.Header, now time.Time) time.Time {
	at, ok := retryAfter(h.Get("Retry-After"), now)
	if !ok {
		for _, name := range resetHeaders {
			if at, ok = resetAt(h.Get(name), now); ok {
				break
			}
		}
	}
	if !ok {
		return now.Add(DefaultBackoff)
	}
	return clampWindow(at, now)
}

// QuotaExhausted reports whether a successful response says no requests remain.
func QuotaExhausted(h http.Header) bool {
	for _, name := range remainingHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		return err == nil && n <= 0
	}
	return false
}

// retryAfter parses delta seconds or an HTTP-date.
func retryAfter(v string, now time.Time) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(secs * float64(time.Second))), true
	}
	if t, err := http.ParseTime(v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// resetAt parses a rate-limit reset value. Numbers with more than 10 integer digits
// are epoch milliseconds, numbers >= 1e9 are epoch seconds, anything smaller is a
// delta in seconds. Duration strings like "6m0s" or "250ms" are deltas.
func resetAt(v string, now time.Time) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}

	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n < 0 {
			return time.Time{}, false
		}
		intPart := v
		if i := strings.IndexByte(v, '.'); i >= 0 {
			intPart = v[:i]
		}
		switch {
		case len(strings.TrimLeft(intPart, "+0")) > 10:
			return time.UnixMilli(int64(n)), true
		case n >= 1e9:
			return time.Unix(int64(n), 0), true
		default:
			return now.Add(time.Duration(n * float64(time.Second))), true
		}
	}

	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return now.Add(d), true
	}
	return time.Time{}, false
}

func clampWindow(at, now time.Time) time.Time {
	switch {
	case at.Before(now.Add(MinBackoff)):
		return now.Add(MinBackoff)
	case at.After(now.Add(MaxBackoff)):
		return now.Add(MaxBackoff)
	}
	return at
}
