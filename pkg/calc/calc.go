// Package calc holds small arithmetic helpers for progress reporting.
package calc

import (
	"math"
	"time"
)

// Progress returns done/total as a rounded percentage, 0 when total is not positive.
func Progress(done, total int) int {
	if total > 0 {
		return int(math.Round(float64(done) / float64(total) * 100))
	}

	return 0
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ETA extrapolates the remaining time of a task that reached percent after elapsed.
func ETA(percent int, elapsed time.Duration) time.Duration {
	if percent <= 0 || percent >= 100 {
		return 0
	}

	return time.Duration(float64(elapsed) * (100/float64(percent) - 1))
}
