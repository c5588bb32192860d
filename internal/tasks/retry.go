package tasks

import "time"

// RetryPolicy decides whether a failed attempt is retried and after how long.
type RetryPolicy struct {
	// MaxRetries is the number of re-executions after the first attempt.
	MaxRetries int
	// Delay returns the wait before retry number r (1-based).
	Delay func(r int) time.Duration
}

// NoRetry runs a task exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// ExponentialBackoff waits base, 2*base, 4*base, ... between attempts.
func ExponentialBackoff(maxRetries int, base time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Delay: func(r int) time.Duration {
			if r < 1 {
				r = 1
			}
			return base * time.Duration(1<<uint(r-1))
		},
	}
}

// FixedDelay waits d between attempts.
func FixedDelay(maxRetries int, d time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Delay:      func(int) time.Duration { return d },
	}
}

// Next reports the delay before the attempt following failedAttempt, and
// false once the retry budget is spent.
func (p RetryPolicy) Next(failedAttempt int) (time.Duration, bool) {
	retry := failedAttempt
	if retry < 1 {
		retry = 1
	}
	if retry > p.MaxRetries {
		return 0, false
	}
	if p.Delay == nil {
		return 0, true
	}
	return p.Delay(retry), true
}
