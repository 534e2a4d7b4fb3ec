package jitter

import "time"

// Clock supplies the buffer's notion of now. The real implementation reads
// the system clock; tests substitute a manual one so scheduling decisions
// become deterministic.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock implements Clock with the wall clock.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
