package rate

import "errors"

var (
	// ErrRateLimited marks a rejected attempt.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps limiter backend failures.
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)
