package service

import "time"

// BackoffDelay returns min(base * 2^round, ceiling) for a zero-based round.
// It is non-decreasing in round and never exceeds ceiling.
func BackoffDelay(base time.Duration, ceiling time.Duration, round int) time.Duration {
	if base <= 0 || ceiling <= 0 {
		return 0
	}
	if base >= ceiling {
		return ceiling
	}
	if round < 0 {
		round = 0
	}

	delay := base
	for i := 0; i < round; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}
