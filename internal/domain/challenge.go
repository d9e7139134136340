package domain

import "time"

// Challenge is a single issued OTP challenge. The plaintext code is never
// stored; only the salted hash survives issuance.
//
// Lifecycle: a challenge is pending until it is used. Every terminal outcome
// (verified, expired, exhausted, superseded) sets Used so a record can fail
// at most one way.
type Challenge struct {
	ID          ChallengeID
	Identifier  Identifier
	CodeHash    string
	Salt        string
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Used        bool
	CreatedAt   time.Time
}

// IsExpired reports whether the challenge has passed its expiry instant.
// Expiry is inclusive: a code presented exactly at ExpiresAt is rejected.
func (c Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AttemptsExhausted reports whether the attempt budget has been spent.
func (c Challenge) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// AttemptsRemaining returns the attempts left, never negative.
func (c Challenge) AttemptsRemaining() int {
	remaining := c.MaxAttempts - c.Attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
