package app

import "time"

// RetryPolicy is exponential backoff with a hard cap on retries. With the
// defaults a notification gets one initial attempt and three retries spaced
// 2s, 4s and 8s apart.
type RetryPolicy struct {
	BaseDelay  time.Duration
	Factor     int
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 2 * time.Second, Factor: 2, MaxRetries: 3}
}

// Delay returns the wait before retry n, counting from 1.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < n; i++ {
		d *= time.Duration(factor)
	}
	return d
}

// Next reports the delay before the next retry given how many retries have
// already happened, or false once the budget is spent.
func (p RetryPolicy) Next(retryCount int) (time.Duration, bool) {
	if retryCount >= p.MaxRetries {
		return 0, false
	}
	return p.Delay(retryCount + 1), true
}
