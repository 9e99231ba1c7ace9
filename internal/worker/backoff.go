package worker

import "time"

// backoff returns the delay before the next attempt, doubling per prior
// failure and capped at max. attempt counts prior failures, so the first
// retry waits the base delay.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
