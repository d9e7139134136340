// Package app contains the OTP verification engine: challenge issuance,
// attempt-limited verification, profile completion, and token refresh.
// Storage, delivery, and key management live behind the interfaces defined
// here; adapters provide the implementations.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/medlinkhq/auth-service/internal/auth"
	"github.com/medlinkhq/auth-service/internal/domain"
)

var tracer = otel.Tracer("authsvc/app")

var (
	otpRequestsTotal       metric.Int64Counter
	tokenIssuedTotal       metric.Int64Counter
	authFailuresTotal      metric.Int64Counter
	rateLimitsTotal        metric.Int64Counter
	profileCompletionTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("authsvc/app")

	otpRequestsTotal, _ = m.Int64Counter("auth_otp_requests_total",
		metric.WithDescription("Total OTP requests"))
	tokenIssuedTotal, _ = m.Int64Counter("auth_token_issued_total",
		metric.WithDescription("Total session token pairs issued"))
	authFailuresTotal, _ = m.Int64Counter("security_auth_failures_total",
		metric.WithDescription("Total authentication failures"))
	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Total rate limit hits"))
	profileCompletionTotal, _ = m.Int64Counter("auth_profile_completions_total",
		metric.WithDescription("Total completed onboarding profiles"))
}

// ChallengeStore persists and retrieves OTP challenges.
type ChallengeStore interface {
	// Supersede atomically marks every active challenge for the record's
	// identifier as used and writes the new record, so at most one challenge
	// is ever live per identifier.
	Supersede(ctx context.Context, record domain.Challenge) error

	// FindLatestActive returns the newest unused challenge for the
	// identifier, or domain.ErrNotFound.
	FindLatestActive(ctx context.Context, identifier string) (*domain.Challenge, error)

	// GetByID resolves a challenge by its ID regardless of state.
	GetByID(ctx context.Context, id domain.ChallengeID) (*domain.Challenge, error)

	// MarkUsed flips the used flag on the record keyed by identifier and
	// creation time. Idempotent.
	MarkUsed(ctx context.Context, identifier string, createdAt time.Time) error

	// IncrementAttempts adds one to the attempt counter, conditional on the
	// stored counter still equalling expected. Returns domain.ErrConflict
	// when a concurrent verification got there first.
	IncrementAttempts(ctx context.Context, identifier string, createdAt time.Time, expected int) error
}

// UserStore persists and retrieves user accounts and their profiles.
type UserStore interface {
	GetByID(ctx context.Context, userID domain.UserID) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetOrCreateByPhone returns the account owning the candidate's phone
	// number, creating it from the candidate when absent. The bool reports
	// whether a new account was created.
	GetOrCreateByPhone(ctx context.Context, candidate domain.User) (*domain.User, bool, error)

	SetEmailVerified(ctx context.Context, userID domain.UserID) error

	// GetOrCreateProfile returns the user's profile, creating an empty one
	// when absent.
	GetOrCreateProfile(ctx context.Context, userID domain.UserID) (*domain.Profile, error)

	// ApplyProfile writes the onboarding fields and the account email in a
	// single atomic update.
	ApplyProfile(ctx context.Context, userID domain.UserID, email string, profile domain.Profile) error
}

// RateLimiter gates challenge issuance per identifier. CheckAndConsume
// returns domain.ErrCooldownActive or domain.ErrDailyLimitReached when the
// request must be refused; a nil return means the request was counted.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, identifier string) error
}

// Sender delivers a verification message to a destination on one channel.
// Delivery is fire-and-forget from the engine's point of view.
type Sender interface {
	Send(ctx context.Context, destination, message string) error
}

// Policy holds the tunable verification parameters.
type Policy struct {
	CodeLength  int
	TTL         time.Duration
	MaxAttempts int
	// IssuerName appears in the delivered message text.
	IssuerName string
	// ResendCooldown is echoed to clients as the retry-after hint.
	ResendCooldown time.Duration
}

// RequestOTPResult is returned by RequestOTP on success.
type RequestOTPResult struct {
	ExpiresAt         time.Time
	RetryAfterSeconds int
}

// VerifyOTPResult is returned by VerifyOTP on success.
type VerifyOTPResult struct {
	// EmailVerification is true when the challenge proved ownership of an
	// email address; no tokens are issued on that path.
	EmailVerification bool

	// ProfileComplete reports whether the account finished onboarding.
	// When false, Handle carries the verification handle for
	// CompleteProfile and Tokens is nil.
	ProfileComplete bool
	Handle          domain.ChallengeID

	User          domain.User
	EmailVerified bool
	Tokens        *auth.TokenPair
}

// CompleteProfileResult is returned by CompleteProfile on success.
type CompleteProfileResult struct {
	User    domain.User
	Profile domain.Profile
	Tokens  auth.TokenPair
}

// RefreshResult is returned by RefreshTokens on success.
type RefreshResult struct {
	Tokens auth.TokenPair
}

// ServiceConfig holds the dependencies for Service.
type ServiceConfig struct {
	Challenges  ChallengeStore
	Users       UserStore
	RateLimiter RateLimiter
	Senders     map[domain.Channel]Sender
	Issuer      *auth.Issuer
	Validator   *auth.Validator
	Clock       domain.Clock
	Logger      *slog.Logger
	Policy      Policy
}

// Service orchestrates the four verification flows: Request OTP, Verify OTP,
// Complete Profile, and Refresh Tokens.
type Service struct {
	challenges  ChallengeStore
	users       UserStore
	rateLimiter RateLimiter
	senders     map[domain.Channel]Sender
	issuer      *auth.Issuer
	validator   *auth.Validator
	clock       domain.Clock
	logger      *slog.Logger
	policy      Policy
	bgWG        sync.WaitGroup // owns background goroutines (message sends)
}

// NewService creates a new Service with the given dependencies.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		challenges:  cfg.Challenges,
		users:       cfg.Users,
		rateLimiter: cfg.RateLimiter,
		senders:     cfg.Senders,
		issuer:      cfg.Issuer,
		validator:   cfg.Validator,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		policy:      cfg.Policy,
	}
}

// Wait blocks until all background goroutines owned by this service complete.
// The caller (wiring layer) must invoke this during graceful shutdown to
// satisfy the goroutine ownership contract.
func (s *Service) Wait() {
	s.bgWG.Wait()
}
