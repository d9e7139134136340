package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlinkhq/auth-service/internal/config"
	"github.com/medlinkhq/auth-service/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 8080, cfg.HTTP.Port)

	// Challenge policy defaults
	assert.Equal(t, domain.DefaultOTPLength, cfg.OTP.Length)
	assert.Equal(t, domain.DefaultOTPTTL, cfg.OTP.TTL())
	assert.Equal(t, domain.DefaultMaxVerifyAttempts, cfg.OTP.MaxAttempts)
	assert.Equal(t, domain.DefaultResendCooldown, cfg.OTP.ResendCooldown())
	assert.Equal(t, domain.DefaultDailyRequestLimit, cfg.OTP.DailyRequestLimit)

	// Token defaults
	assert.Equal(t, "auth-service", cfg.JWT.Issuer)
	assert.Equal(t, "medlink-api", cfg.JWT.Audience)

	// Infrastructure defaults
	assert.Equal(t, domain.DynamoDBTimeout, cfg.DynamoDB.Timeout)
	assert.Equal(t, "otp_challenges", cfg.DynamoDB.ChallengesTable)
	assert.Equal(t, "users", cfg.DynamoDB.UsersTable)
	assert.Equal(t, "user_profiles", cfg.DynamoDB.ProfilesTable)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, domain.RedisTimeout, cfg.Redis.Timeout)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("OTP_LENGTH", "8")
	t.Setenv("TTL_SECONDS", "120")
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("RESEND_COOLDOWN", "30")
	t.Setenv("DAILY_REQUEST_LIMIT", "5")
	t.Setenv("JWT_ISSUER", "staging-auth")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SENDGRID_API_KEY", "SG.live-key")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 8, cfg.OTP.Length)
	assert.Equal(t, 2*time.Minute, cfg.OTP.TTL())
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.OTP.ResendCooldown())
	assert.Equal(t, 5, cfg.OTP.DailyRequestLimit)
	assert.Equal(t, "staging-auth", cfg.JWT.Issuer)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)

	// Secret values load but never print themselves.
	assert.Equal(t, "SG.live-key", cfg.SendGrid.APIKey.Expose())
	assert.NotContains(t, cfg.SendGrid.APIKey.String(), "SG.live-key")
}

func TestLoadIgnoresUnlistedEnvVars(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("HTTP", "nonsense")
	t.Setenv("SOME_RANDOM_VAR", "42")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestValidateRequired_LocalAllowsMissingFields(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
}

func TestValidateRequired_ProdRequiresRedisAddr(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("SENDGRID_API_KEY", "SG.test")
	t.Setenv("REDIS_ADDR", "")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestValidateRequired_ProdRequiresSendGridKey(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS_ADDR", "redis:6379")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "sendgrid.api_key")
}

func TestValidateRequired_CodeLengthBounds(t *testing.T) {
	tests := []struct {
		name    string
		length  string
		wantErr bool
	}{
		{"minimum accepted", "4", false},
		{"maximum accepted", "10", false},
		{"below minimum rejected", "3", true},
		{"above maximum rejected", "11", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTP_LENGTH", tt.length)

			_, err := config.Load(context.Background())

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrConfigRequired)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"local returns true", "local", true},
		{"prod returns false", "prod", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsLocal())
		})
	}
}

func TestIsProd(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"prod returns true", "prod", true},
		{"local returns false", "local", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsProd())
		})
	}
}
