package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/medlinkhq/auth-service/internal/domain"
	"github.com/medlinkhq/auth-service/internal/observability"
	"github.com/medlinkhq/auth-service/internal/otp"
)

// VerifyOTP checks a candidate code against the identifier's active
// challenge. Every terminal outcome retires the challenge before the result
// is reported, so a record can fail at most one way. The email channel
// confirms address ownership; the sms channel logs the account in, creating
// it on first contact.
func (s *Service) VerifyOTP(ctx context.Context, rawIdentifier string, channel domain.Channel, code string) (*VerifyOTPResult, error) {
	ctx, span := tracer.Start(ctx, "auth.verify_otp")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	identifier, err := domain.NewIdentifier(rawIdentifier, channel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if code == "" {
		err := fmt.Errorf("verification code is required: %w", domain.ErrInvalidInput)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	record, err := s.checkChallenge(ctx, identifier, code)
	if err != nil {
		logger.InfoContext(ctx, "auth.otp_failed", "identifier", identifier.Masked())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var result *VerifyOTPResult
	if channel == domain.ChannelEmail {
		result, err = s.verifyEmailOwnership(ctx, identifier)
	} else {
		result, err = s.loginByPhone(ctx, identifier, record)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("auth.email_verification", result.EmailVerification),
		attribute.Bool("auth.profile_complete", result.ProfileComplete),
	)
	logger.InfoContext(ctx, "auth.otp_verified",
		"identifier", identifier.Masked(),
		"user_id", result.User.ID.String(),
		"profile_complete", result.ProfileComplete,
	)

	return result, nil
}

// checkChallenge runs the verification state machine against the latest
// active challenge: expiry, then attempt budget, then the counted code
// comparison. Expiry and exhaustion retire the record before reporting.
func (s *Service) checkChallenge(ctx context.Context, identifier domain.Identifier, code string) (*domain.Challenge, error) {
	record, err := s.challenges.FindLatestActive(ctx, identifier.String())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "no_active_challenge")))
			return nil, domain.ErrNoActiveChallenge
		}
		return nil, fmt.Errorf("find active challenge: %w", err)
	}

	now := s.clock.Now().UTC()

	if record.IsExpired(now) {
		if markErr := s.challenges.MarkUsed(ctx, identifier.String(), record.CreatedAt); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to retire expired challenge", "error", markErr)
		}
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "expired")))
		return nil, domain.ErrChallengeExpired
	}

	if record.AttemptsExhausted() {
		if markErr := s.challenges.MarkUsed(ctx, identifier.String(), record.CreatedAt); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to retire exhausted challenge", "error", markErr)
		}
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "too_many_attempts")))
		return nil, domain.ErrTooManyAttempts
	}

	// Count the attempt before comparing. The conditional increment makes
	// concurrent verifications of the same record serialize: the loser gets
	// ErrConflict instead of a free guess.
	if err := s.challenges.IncrementAttempts(ctx, identifier.String(), record.CreatedAt, record.Attempts); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("increment attempts: %w", err)
	}
	record.Attempts++

	if !otp.VerifyCode(code, record.Salt, record.CodeHash) {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_code")))
		return nil, domain.NewInvalidCodeError(record.AttemptsRemaining())
	}

	if err := s.challenges.MarkUsed(ctx, identifier.String(), record.CreatedAt); err != nil {
		return nil, fmt.Errorf("retire verified challenge: %w", err)
	}

	return record, nil
}

// verifyEmailOwnership flips the verified flag on the account owning the
// address. The account must already exist; email challenges never create one.
func (s *Service) verifyEmailOwnership(ctx context.Context, identifier domain.Identifier) (*VerifyOTPResult, error) {
	user, err := s.users.FindByEmail(ctx, identifier.String())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "unknown_email")))
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("set email verified: %w", err)
	}
	user.EmailVerified = true

	return &VerifyOTPResult{
		EmailVerification: true,
		User:              *user,
		EmailVerified:     true,
	}, nil
}

// loginByPhone get-or-creates the account and its profile, then either
// issues tokens or hands back the challenge ID as the onboarding handle.
func (s *Service) loginByPhone(ctx context.Context, identifier domain.Identifier, record *domain.Challenge) (*VerifyOTPResult, error) {
	now := s.clock.Now().UTC()
	candidate := domain.User{
		ID:          domain.GenerateUserID(),
		PhoneNumber: identifier.String(),
		CreatedAt:   now,
	}

	user, created, err := s.users.GetOrCreateByPhone(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	profile, err := s.users.GetOrCreateProfile(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("get or create profile: %w", err)
	}

	if !profile.IsComplete(*user) {
		observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "auth.profile_incomplete",
			"user_id", user.ID.String(),
			"is_new_user", created,
		)
		return &VerifyOTPResult{
			ProfileComplete: false,
			Handle:          record.ID,
			User:            *user,
			EmailVerified:   user.EmailVerified,
		}, nil
	}

	tokens, err := s.issuer.IssueSessionTokens(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session tokens: %w", err)
	}

	tokenIssuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "login")))

	return &VerifyOTPResult{
		ProfileComplete: true,
		User:            *user,
		EmailVerified:   user.EmailVerified,
		Tokens:          &tokens,
	}, nil
}
