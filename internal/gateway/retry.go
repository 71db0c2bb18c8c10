package gateway

import (
	"time"
)

// RetryConfig bounds the retries Resilient makes for a failed exchange call
type RetryConfig struct {
	MaxRetries     int           // Retries after the first attempt; zero disables retrying
	InitialBackoff time.Duration // Delay before the first retry
	MaxBackoff     time.Duration // Upper bound for any single delay
	BackoffFactor  float64       // Growth of the delay per retry
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Delay returns the wait before retry number n (0-based): InitialBackoff
// grown by BackoffFactor per retry, capped at MaxBackoff.
func (c RetryConfig) Delay(n int) time.Duration {
	d := c.InitialBackoff
	for i := 0; i < n; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}
