package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrConflict      = errors.New("concurrent modification conflict")

	// Validation errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidIdentifier = errors.New("invalid identifier format")
	ErrInvalidChannel    = errors.New("unsupported delivery channel")

	// Rate limiting errors. Both variants match ErrRateLimited via errors.Is
	// so transport mappers only need the base sentinel.
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrCooldownActive    = fmt.Errorf("resend cooldown active: %w", ErrRateLimited)
	ErrDailyLimitReached = fmt.Errorf("daily request limit reached: %w", ErrRateLimited)

	// Verification errors
	ErrNoActiveChallenge         = errors.New("no active verification challenge")
	ErrChallengeExpired          = errors.New("verification code has expired")
	ErrTooManyAttempts           = errors.New("too many verification attempts")
	ErrInvalidCode               = errors.New("invalid verification code")
	ErrInvalidVerificationHandle = errors.New("invalid or unknown verification handle")

	// Account errors
	ErrUserNotFound            = errors.New("user account not found")
	ErrProfileCompletionFailed = errors.New("profile completion failed")

	// Token errors
	ErrUnauthorized        = errors.New("authentication required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Operational errors
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// InvalidCodeError reports a failed code comparison together with how many
// attempts the caller has left before the challenge is exhausted.
// Matches ErrInvalidCode via errors.Is.
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code (%d attempts remaining)", e.AttemptsRemaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// NewInvalidCodeError clamps remaining attempts at zero; the store may have
// raced past the limit between the read and the increment.
func NewInvalidCodeError(remaining int) *InvalidCodeError {
	if remaining < 0 {
		remaining = 0
	}
	return &InvalidCodeError{AttemptsRemaining: remaining}
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConflict)
}

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrInvalidInput,
	ErrInvalidIdentifier,
	ErrInvalidChannel,
	ErrNotFound,
	ErrEmptyID,
	ErrInvalidID,
	ErrNoActiveChallenge,
	ErrChallengeExpired,
	ErrTooManyAttempts,
	ErrInvalidCode,
	ErrInvalidVerificationHandle,
	ErrUserNotFound,
	ErrUnauthorized,
	ErrInvalidRefreshToken,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
