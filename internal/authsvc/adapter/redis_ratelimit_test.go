package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlinkhq/auth-service/internal/authsvc/adapter"
	"github.com/medlinkhq/auth-service/internal/domain"
	"github.com/medlinkhq/auth-service/internal/domain/domaintest"
	redisclient "github.com/medlinkhq/auth-service/internal/redis"
)

func newTestRateLimiter(t *testing.T, cooldown time.Duration, dailyLimit int) (*adapter.RateLimiter, *miniredis.Miniredis, *domaintest.FakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	rl := adapter.NewRateLimiter(client.RDB, adapter.RateLimiterConfig{
		Cooldown:   cooldown,
		DailyLimit: dailyLimit,
		Clock:      clock,
	})

	return rl, mr, clock
}

func TestRateLimiter_CheckAndConsume(t *testing.T) {
	const phone = "+14155552671"

	t.Run("first request is admitted", func(t *testing.T) {
		rl, _, _ := newTestRateLimiter(t, 60*time.Second, 10)

		err := rl.CheckAndConsume(context.Background(), phone)

		require.NoError(t, err)
	})

	t.Run("second request inside the cooldown is refused", func(t *testing.T) {
		rl, _, _ := newTestRateLimiter(t, 60*time.Second, 10)
		ctx := context.Background()

		require.NoError(t, rl.CheckAndConsume(ctx, phone))

		err := rl.CheckAndConsume(ctx, phone)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrCooldownActive)
		assert.ErrorIs(t, err, domain.ErrRateLimited)
	})

	t.Run("request after the cooldown is admitted", func(t *testing.T) {
		rl, mr, _ := newTestRateLimiter(t, 60*time.Second, 10)
		ctx := context.Background()

		require.NoError(t, rl.CheckAndConsume(ctx, phone))
		mr.FastForward(61 * time.Second)

		err := rl.CheckAndConsume(ctx, phone)

		require.NoError(t, err)
	})

	t.Run("cooldown key carries the configured TTL", func(t *testing.T) {
		rl, mr, _ := newTestRateLimiter(t, 90*time.Second, 10)

		require.NoError(t, rl.CheckAndConsume(context.Background(), phone))

		key := "otp:cooldown:" + phone
		assert.True(t, mr.Exists(key), "cooldown flag should be set")
		assert.Equal(t, 90*time.Second, mr.TTL(key))
	})

	t.Run("daily counter increments only on admitted requests", func(t *testing.T) {
		rl, mr, _ := newTestRateLimiter(t, 60*time.Second, 10)
		ctx := context.Background()

		require.NoError(t, rl.CheckAndConsume(ctx, phone))
		// Refused by cooldown; must not burn daily quota.
		require.Error(t, rl.CheckAndConsume(ctx, phone))

		val, err := mr.Get("otp:daily:" + phone + ":2026-01-15")
		require.NoError(t, err)
		assert.Equal(t, "1", val)
	})

	t.Run("daily cap refuses once exhausted", func(t *testing.T) {
		rl, mr, _ := newTestRateLimiter(t, 60*time.Second, 3)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, rl.CheckAndConsume(ctx, phone), "request %d should be admitted", i+1)
			mr.FastForward(61 * time.Second)
		}

		err := rl.CheckAndConsume(ctx, phone)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDailyLimitReached)
		assert.ErrorIs(t, err, domain.ErrRateLimited)
	})

	t.Run("cap resets on the next UTC day", func(t *testing.T) {
		rl, mr, clock := newTestRateLimiter(t, 60*time.Second, 1)
		ctx := context.Background()

		require.NoError(t, rl.CheckAndConsume(ctx, phone))
		mr.FastForward(61 * time.Second)
		require.ErrorIs(t, rl.CheckAndConsume(ctx, phone), domain.ErrDailyLimitReached)

		// Cross midnight UTC: the counter lives under a new day key.
		clock.Advance(13 * time.Hour)
		mr.FastForward(13 * time.Hour)

		err := rl.CheckAndConsume(ctx, phone)

		require.NoError(t, err)
		assert.True(t, mr.Exists("otp:daily:"+phone+":2026-01-16"))
	})

	t.Run("identifiers are throttled independently", func(t *testing.T) {
		rl, _, _ := newTestRateLimiter(t, 60*time.Second, 10)
		ctx := context.Background()

		require.NoError(t, rl.CheckAndConsume(ctx, phone))

		err := rl.CheckAndConsume(ctx, "jane@example.com")

		require.NoError(t, err)
	})

	t.Run("redis failure surfaces as an error", func(t *testing.T) {
		rl, mr, _ := newTestRateLimiter(t, 60*time.Second, 10)
		mr.SetError("LOADING Redis is loading the dataset in memory")

		err := rl.CheckAndConsume(context.Background(), phone)

		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrRateLimited)
	})
}
