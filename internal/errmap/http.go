// Package errmap provides the HTTP wire mapping for domain errors.
// Every domain error a handler can surface has an explicit entry; anything
// unmapped collapses to a generic 500 so internals never leak to clients.
package errmap

import (
	"errors"
	"net/http"

	"github.com/medlinkhq/auth-service/internal/domain"
)

// HTTPError represents an HTTP error response body.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`

	// AttemptsRemaining is set only for failed code comparisons, telling the
	// client how many guesses are left before the challenge is retired.
	AttemptsRemaining *int `json:"attempts_remaining,omitempty"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping.
type httpMapping struct {
	err        error
	statusCode int
	code       string
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is), so wrapped variants
// precede the sentinels they wrap.
var httpMappings = []httpMapping{
	// Rate limiting — 429. The cooldown and daily variants both unwrap to
	// ErrRateLimited; list them first so clients get the precise code.
	{domain.ErrCooldownActive, http.StatusTooManyRequests, "RESEND_COOLDOWN"},
	{domain.ErrDailyLimitReached, http.StatusTooManyRequests, "DAILY_LIMIT_REACHED"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},

	// Verification outcomes — 401
	{domain.ErrInvalidCode, http.StatusUnauthorized, "INVALID_CODE"},
	{domain.ErrChallengeExpired, http.StatusUnauthorized, "CODE_EXPIRED"},
	{domain.ErrTooManyAttempts, http.StatusUnauthorized, "TOO_MANY_ATTEMPTS"},

	// Token errors — 401
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED"},
	{domain.ErrInvalidRefreshToken, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN"},

	// Resource errors
	{domain.ErrNoActiveChallenge, http.StatusNotFound, "NO_ACTIVE_CHALLENGE"},
	{domain.ErrInvalidVerificationHandle, http.StatusNotFound, "INVALID_HANDLE"},
	{domain.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrProfileCompletionFailed, http.StatusConflict, "PROFILE_COMPLETION_FAILED"},

	// Validation errors — 400
	{domain.ErrInvalidIdentifier, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidChannel, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrEmptyID, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidID, http.StatusBadRequest, "INVALID_ARGUMENT"},

	// Availability
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// ToHTTPError converts a domain error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			resp := HTTPError{StatusCode: m.statusCode, Code: m.code, Message: err.Error()}
			var invalidCode *domain.InvalidCodeError
			if errors.As(err, &invalidCode) {
				remaining := invalidCode.AttemptsRemaining
				resp.AttemptsRemaining = &remaining
			}
			return resp
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
