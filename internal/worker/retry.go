package worker

import "time"

// RetryPolicy spaces out repeated refund attempts for one booking.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay is the wait after the given failed attempt (1-based): InitialDelay
// grown by BackoffFactor per earlier attempt, capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = 24 * time.Hour
	}

	for i := 1; i < attempt; i++ {
		if float64(delay)*factor >= float64(ceiling) {
			return ceiling
		}
		delay = time.Duration(float64(delay) * factor)
	}
	return min(delay, ceiling)
}

// Exhausted reports whether a booking with this many failed attempts should
// be left for manual handling.
func (p RetryPolicy) Exhausted(failures int) bool {
	return p.MaxRetries > 0 && failures >= p.MaxRetries
}
