package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate is an admission budget of Limit requests per Window.
type Rate struct {
	Limit  int
	Window time.Duration
}

var rateUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseRate parses "5/minute" or "5 per minute". Units are second, minute,
// hour and day, singular or plural.
func ParseRate(s string) (Rate, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	var count, unit string
	switch {
	case strings.Contains(raw, "/"):
		count, unit, _ = strings.Cut(raw, "/")
	case strings.Contains(raw, " per "):
		count, unit, _ = strings.Cut(raw, " per ")
	default:
		return Rate{}, fmt.Errorf("invalid rate %q: expected N/unit or N per unit", s)
	}

	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", s)
	}

	unit = strings.TrimSuffix(strings.TrimSpace(unit), "s")
	window, ok := rateUnits[unit]
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: unknown unit", s)
	}
	return Rate{Limit: n, Window: window}, nil
}

func (r Rate) String() string {
	for name, d := range rateUnits {
		if d == r.Window {
			return fmt.Sprintf("%d/%s", r.Limit, name)
		}
	}
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
	// Degraded marks results served by the local fallback while the shared store failed.
	Degraded bool `json:"-"`
}

// RateLimitExceededResponse is the API response when rate limit is exceeded.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds, minimum 1.
func RetryAfterSeconds(now, resetAt time.Time) int {
	wait := resetAt.Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
