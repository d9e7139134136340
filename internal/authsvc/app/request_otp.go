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

// RequestOTP validates the identifier, enforces rate limits, issues a fresh
// challenge (superseding any active one), and fires message delivery in the
// background.
func (s *Service) RequestOTP(ctx context.Context, rawIdentifier string, channel domain.Channel) (*RequestOTPResult, error) {
	ctx, span := tracer.Start(ctx, "auth.request_otp")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Validate identifier against the channel format.
	identifier, err := domain.NewIdentifier(rawIdentifier, channel)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_identifier")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// 2. Rate limit (fail-closed: an unreachable limiter refuses issuance).
	if err := s.rateLimiter.CheckAndConsume(ctx, identifier.String()); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("endpoint", "request_otp"),
				attribute.Bool("daily", errors.Is(err, domain.ErrDailyLimitReached)),
			))
			span.SetStatus(codes.Error, "rate limited")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("check rate limit: %w", errors.Join(err, domain.ErrUnavailable))
	}

	// 3. Generate code, salt, and hash. The plaintext code exists only in
	// this frame and in the outgoing message.
	code, err := otp.GenerateCode(s.policy.CodeLength)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate code: %w", err)
	}
	salt, err := otp.GenerateSalt()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	now := s.clock.Now().UTC()
	record := domain.Challenge{
		ID:          domain.GenerateChallengeID(),
		Identifier:  identifier,
		CodeHash:    otp.HashCode(code, salt),
		Salt:        salt,
		ExpiresAt:   now.Add(s.policy.TTL),
		Attempts:    0,
		MaxAttempts: s.policy.MaxAttempts,
		Used:        false,
		CreatedAt:   now,
	}

	// 4. Persist, retiring any previously active challenge in the same write.
	if err := s.challenges.Supersede(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	// 5. Background delivery — owned by Service via bgWG. Detach from the
	// request context so cancellation does not kill the in-flight send.
	// WithoutCancel preserves trace values for structured logging. A failed
	// send never invalidates the stored challenge.
	sendCtx := context.WithoutCancel(ctx)
	sender := s.senders[channel]
	message := s.composeMessage(code)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if sendErr := sender.Send(sendCtx, identifier.String(), message); sendErr != nil {
			s.logger.ErrorContext(sendCtx, "failed to send verification message",
				"error", sendErr,
				"channel", string(channel),
				"identifier", identifier.Masked(),
			)
		}
	}()

	otpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(channel))))
	logger.InfoContext(ctx, "auth.otp_requested",
		"identifier", identifier.Masked(),
		"channel", string(channel),
		"challenge_id", record.ID.String(),
	)

	return &RequestOTPResult{
		ExpiresAt:         record.ExpiresAt,
		RetryAfterSeconds: int(s.policy.ResendCooldown.Seconds()),
	}, nil
}

func (s *Service) composeMessage(code string) string {
	minutes := int(s.policy.TTL.Minutes())
	return fmt.Sprintf("Your %s login OTP is %s. It expires in %d minutes. Do not share this code.",
		s.policy.IssuerName, code, minutes)
}
