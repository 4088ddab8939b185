package client

import (
	"math"
	"time"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxAttempts = 5
)

// Delay returns how long to wait before reconnect attempt n (1-based):
// base * multiplier^(n-1). Attempts below 1 are treated as 1.
func Delay(attempt int, base time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if multiplier < 1 {
		multiplier = 1
	}
	d := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
