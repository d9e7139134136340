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

// RefreshTokens exchanges a valid refresh token for a fresh session pair.
// The subject account must still exist; a deleted account invalidates its
// outstanding refresh tokens.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "auth.refresh_tokens")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	claims, err := s.validator.ValidateRefreshToken(refreshToken)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_refresh_token")))
		span.SetStatus(codes.Error, "invalid refresh token")
		return nil, err
	}

	userID, err := domain.NewUserID(claims.Subject)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_refresh_token")))
		span.SetStatus(codes.Error, "malformed subject")
		return nil, fmt.Errorf("parse subject: %w", domain.ErrInvalidRefreshToken)
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "unknown_subject")))
			span.SetStatus(codes.Error, "unknown subject")
			return nil, domain.ErrInvalidRefreshToken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("get user: %w", err)
	}

	tokens, err := s.issuer.IssueSessionTokens(userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("issue session tokens: %w", err)
	}

	tokenIssuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "refresh")))
	logger.InfoContext(ctx, "auth.tokens_refreshed", "user_id", userID.String())

	return &RefreshResult{Tokens: tokens}, nil
}
