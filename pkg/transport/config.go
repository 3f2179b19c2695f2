// Package transport implements the pooled HTTP Session that every D365 F&O
// API call goes through: bearer-token injection, Accept-header defaulting,
// 401 refresh-and-retry, and capped exponential backoff on 429/503 guarded
// by a circuit breaker.
package transport

import "time"

// Config is the subset of a profile that governs Session behavior. It is
// deliberately decoupled from pkg/profile.Profile so this package has no
// dependency on profile loading; pkg/profile.Profile converts to this type.
type Config struct {
	BaseURL               string
	VerifySSL             bool
	TimeoutSeconds        int
	MaxConcurrentRequests int
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) maxConcurrent() int {
	if c.MaxConcurrentRequests <= 0 {
		return 10
	}
	return c.MaxConcurrentRequests
}
