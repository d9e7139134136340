package domain

import "time"

// Clock provides the current time. Implementations may be real (production)
// or deterministic (testing). This aligns with Clean Architecture - the domain
// defines the interface; adapters provide implementations.
type Clock interface {
	// Now returns the current time. The returned time includes both wall clock
	// and monotonic readings when using RealClock.
	Now() time.Time
}

// RealClock implements Clock using the system clock.
// It is a zero-allocation implementation (empty struct).
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// UTCDay returns the UTC calendar date of t as "2006-01-02". Rate-limit
// counters and other per-day keys are always bucketed by UTC day so that
// server timezone never shifts the window.
func UTCDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Ensure RealClock implements Clock at compile time.
var _ Clock = RealClock{}
