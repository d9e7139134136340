// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/medlinkhq/auth-service/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Service configuration
	HTTP HTTPConfig `koanf:"http"`
	OTP  OTPConfig  `koanf:"otp"`
	JWT  JWTConfig  `koanf:"jwt"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`
	SendGrid SendGridConfig `koanf:"sendgrid"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// HTTPConfig holds the HTTP listener configuration.
type HTTPConfig struct {
	Port int `koanf:"port"`
}

// OTPConfig holds the challenge issuance and verification policy.
// Durations are expressed in seconds so operators can set them as plain
// integers.
type OTPConfig struct {
	Length                int    `koanf:"length"`
	TTLSeconds            int    `koanf:"ttl_seconds"`
	MaxAttempts           int    `koanf:"max_attempts"`
	ResendCooldownSeconds int    `koanf:"resend_cooldown_seconds"`
	DailyRequestLimit     int    `koanf:"daily_request_limit"`
	IssuerName            string `koanf:"issuer_name"`
}

// TTL returns the challenge lifetime as a duration.
func (c OTPConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ResendCooldown returns the resend cooldown as a duration.
func (c OTPConfig) ResendCooldown() time.Duration {
	return time.Duration(c.ResendCooldownSeconds) * time.Second
}

// JWTConfig holds session token issuance configuration.
type JWTConfig struct {
	Issuer   string `koanf:"issuer"`
	Audience string `koanf:"audience"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint        string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout         time.Duration `koanf:"timeout"`
	ChallengesTable string        `koanf:"challenges_table"`
	UsersTable      string        `koanf:"users_table"`
	ProfilesTable   string        `koanf:"profiles_table"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string              `koanf:"addr"` // Required in production
	Password domain.SecretString `koanf:"password"`
	DB       int                 `koanf:"db"`
	Timeout  time.Duration       `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// SendGridConfig holds outbound email configuration. The API key is a
// SecretString so it redacts itself if it ever reaches a log line.
type SendGridConfig struct {
	APIKey      domain.SecretString `koanf:"api_key"` // Required in production
	FromName    string              `koanf:"from_name"`
	FromAddress string              `koanf:"from_address"`
	Subject     string              `koanf:"subject"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// envAliases maps environment variable names to koanf paths. An explicit
// table instead of a naming convention: variable names like TTL_SECONDS
// contain underscores inside a single key, so no delimiter rewrite can
// place them correctly.
var envAliases = map[string]string{
	"ENVIRONMENT": "environment",
	"LOG_LEVEL":   "log_level",
	"LOG_FORMAT":  "log_format",

	"HTTP_PORT": "http.port",

	"OTP_LENGTH":          "otp.length",
	"TTL_SECONDS":         "otp.ttl_seconds",
	"MAX_ATTEMPTS":        "otp.max_attempts",
	"RESEND_COOLDOWN":     "otp.resend_cooldown_seconds",
	"DAILY_REQUEST_LIMIT": "otp.daily_request_limit",
	"OTP_ISSUER_NAME":     "otp.issuer_name",

	"JWT_ISSUER":   "jwt.issuer",
	"JWT_AUDIENCE": "jwt.audience",

	"DYNAMODB_ENDPOINT":         "dynamodb.endpoint",
	"DYNAMODB_CHALLENGES_TABLE": "dynamodb.challenges_table",
	"DYNAMODB_USERS_TABLE":      "dynamodb.users_table",
	"DYNAMODB_PROFILES_TABLE":   "dynamodb.profiles_table",

	"REDIS_ADDR":     "redis.addr",
	"REDIS_PASSWORD": "redis.password",
	"REDIS_DB":       "redis.db",

	"AWS_REGION":   "aws.region",
	"AWS_ENDPOINT": "aws.endpoint",

	"SENDGRID_API_KEY":      "sendgrid.api_key",
	"SENDGRID_FROM_NAME":    "sendgrid.from_name",
	"SENDGRID_FROM_ADDRESS": "sendgrid.from_address",
	"SENDGRID_SUBJECT":      "sendgrid.subject",

	"OTEL_ENDPOINT":     "otel.endpoint",
	"OTEL_SERVICE_NAME": "otel.service_name",
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		HTTP: HTTPConfig{
			Port: 8080,
		},
		OTP: OTPConfig{
			Length:                domain.DefaultOTPLength,
			TTLSeconds:            int(domain.DefaultOTPTTL.Seconds()),
			MaxAttempts:           domain.DefaultMaxVerifyAttempts,
			ResendCooldownSeconds: int(domain.DefaultResendCooldown.Seconds()),
			DailyRequestLimit:     domain.DefaultDailyRequestLimit,
			IssuerName:            "MedLink",
		},
		JWT: JWTConfig{
			Issuer:   "auth-service",
			Audience: "medlink-api",
		},

		DynamoDB: DynamoDBConfig{
			Timeout:         domain.DynamoDBTimeout,
			ChallengesTable: "otp_challenges",
			UsersTable:      "users",
			ProfilesTable:   "user_profiles",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		SendGrid: SendGridConfig{
			FromName:    "MedLink",
			FromAddress: "no-reply@medlink.example",
			Subject:     "Your MedLink verification code",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
//
// Required keys missing in prod cause a startup failure; optional keys fall
// back to defaults.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	// Only variables in the alias table are loaded; everything else in the
	// process environment is ignored.
	err := k.Load(env.Provider("", ".", func(s string) string {
		return envAliases[s]
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	if cfg.OTP.Length < 4 || cfg.OTP.Length > 10 {
		return fmt.Errorf("%w: otp.length must be between 4 and 10", domain.ErrConfigRequired)
	}
	if cfg.OTP.MaxAttempts < 1 {
		return fmt.Errorf("%w: otp.max_attempts must be positive", domain.ErrConfigRequired)
	}

	// In local environment the remaining fields have usable defaults.
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
		if cfg.SendGrid.APIKey.IsEmpty() {
			return fmt.Errorf("%w: sendgrid.api_key", domain.ErrConfigRequired)
		}
		if cfg.AWS.Region == "" {
			return fmt.Errorf("%w: aws.region", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
