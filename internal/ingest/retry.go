package ingest

import "time"

type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Multiplier scales Delay after each failed attempt. Values <= 1 keep the
	// delay fixed.
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second, Multiplier: 1}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier <= 1 {
		return d
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}
