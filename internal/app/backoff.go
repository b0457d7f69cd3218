package app

import "time"

// BackoffDelay returns how long a worker sleeps after k consecutive empty
// cycles. Nothing happens until k passes half of maxWait; after that the
// delay is min(2^k, maxWait) units.
func BackoffDelay(k, maxWait int, unit time.Duration) time.Duration {
	if maxWait <= 0 || unit <= 0 || k <= maxWait/2 {
		return 0
	}

	n := maxWait
	if k < 62 && 1<<k < maxWait {
		n = 1 << k
	}
	return time.Duration(n) * unit
}
