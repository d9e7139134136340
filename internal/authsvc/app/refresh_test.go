package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlinkhq/auth-service/internal/domain"
)

func TestRefreshTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("valid refresh token yields a fresh pair", func(t *testing.T) {
		h := newTestHarness(t)
		user := sampleUser(testPhone)

		h.users.getByIDFn = func(ctx context.Context, userID domain.UserID) (*domain.User, error) {
			assert.Equal(t, user.ID, userID)
			u := *user
			return &u, nil
		}

		pair, err := h.issuer.IssueSessionTokens(user.ID)
		require.NoError(t, err)

		h.clock.Advance(30 * time.Minute)

		result, err := h.svc.RefreshTokens(ctx, pair.RefreshToken)
		require.NoError(t, err)

		claims, err := h.validator.ValidateAccessToken(result.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.Subject)
		assert.Equal(t, testStart.Add(30*time.Minute+domain.AccessTokenLifetime), result.Tokens.AccessExpiresAt)
	})

	t.Run("access token rejected", func(t *testing.T) {
		h := newTestHarness(t)
		user := sampleUser(testPhone)
		h.users.getByIDFn = func(ctx context.Context, userID domain.UserID) (*domain.User, error) {
			u := *user
			return &u, nil
		}

		pair, err := h.issuer.IssueSessionTokens(user.ID)
		require.NoError(t, err)

		_, err = h.svc.RefreshTokens(ctx, pair.AccessToken)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	})

	t.Run("expired refresh token rejected", func(t *testing.T) {
		h := newTestHarness(t)
		user := sampleUser(testPhone)

		pair, err := h.issuer.IssueSessionTokens(user.ID)
		require.NoError(t, err)

		h.clock.Advance(domain.RefreshTokenLifetime + time.Second)

		_, err = h.svc.RefreshTokens(ctx, pair.RefreshToken)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		h := newTestHarness(t)

		_, err := h.svc.RefreshTokens(ctx, "garbage")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	})

	t.Run("deleted account invalidates its refresh tokens", func(t *testing.T) {
		h := newTestHarness(t)
		user := sampleUser(testPhone)

		pair, err := h.issuer.IssueSessionTokens(user.ID)
		require.NoError(t, err)

		// default stub GetByID returns ErrNotFound
		_, err = h.svc.RefreshTokens(ctx, pair.RefreshToken)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	})
}
