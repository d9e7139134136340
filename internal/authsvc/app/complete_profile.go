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
)

// CompleteProfile finishes onboarding for an account that verified a phone
// challenge but had no complete profile. The handle is the challenge ID
// returned by VerifyOTP; it stays redeemable until the original challenge
// expiry passes.
func (s *Service) CompleteProfile(ctx context.Context, handle string, input domain.ProfileInput) (*CompleteProfileResult, error) {
	ctx, span := tracer.Start(ctx, "auth.complete_profile")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)
	now := s.clock.Now().UTC()

	challengeID, err := domain.NewChallengeID(handle)
	if err != nil {
		err = fmt.Errorf("parse handle: %w", domain.ErrInvalidVerificationHandle)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := input.Validate(now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	record, err := s.challenges.GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "unknown_handle")))
			span.SetStatus(codes.Error, "unknown handle")
			return nil, domain.ErrInvalidVerificationHandle
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolve handle: %w", err)
	}

	// The onboarding window is bounded by the original challenge expiry.
	if record.IsExpired(now) {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "handle_expired")))
		span.SetStatus(codes.Error, "handle expired")
		return nil, domain.ErrChallengeExpired
	}

	candidate := domain.User{
		ID:          domain.GenerateUserID(),
		PhoneNumber: record.Identifier.String(),
		CreatedAt:   now,
	}
	user, _, err := s.users.GetOrCreateByPhone(ctx, candidate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	profile := domain.Profile{
		UserID:      user.ID,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		DateOfBirth: input.DateOfBirth,
		Gender:      input.Gender,
		Referred:    input.Referred,
		UpdatedAt:   now,
	}

	if err := s.users.ApplyProfile(ctx, user.ID, input.Email, profile); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("apply profile: %w", errors.Join(err, domain.ErrProfileCompletionFailed))
	}
	user.Email = input.Email

	tokens, err := s.issuer.IssueSessionTokens(user.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("issue session tokens: %w", err)
	}

	profileCompletionTotal.Add(ctx, 1)
	tokenIssuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "profile_completion")))
	logger.InfoContext(ctx, "auth.profile_completed",
		"user_id", user.ID.String(),
		"challenge_id", challengeID.String(),
	)

	return &CompleteProfileResult{
		User:    *user,
		Profile: profile,
		Tokens:  tokens,
	}, nil
}
