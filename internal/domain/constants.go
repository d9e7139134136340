package domain

import "time"

// Compiled defaults. Most of these can be overridden via configuration;
// the config package references them as the fallback values.
const (
	// OTP issuance
	DefaultOTPLength         = 6               // digits per code
	DefaultOTPTTL            = 5 * time.Minute // how long a code remains valid
	DefaultMaxVerifyAttempts = 5               // wrong guesses before the challenge is exhausted

	// OTP request rate limiting
	DefaultResendCooldown    = 60 * time.Second // min gap between requests per identifier
	DefaultDailyRequestLimit = 10               // requests per identifier per UTC day
	DailyLimitWindow         = 24 * time.Hour   // TTL on the daily counter key

	// Challenge retention: superseded and used records stay queryable for
	// audit before DynamoDB TTL cleanup removes them.
	ChallengeRetention = 24 * time.Hour

	// Token configuration
	AccessTokenLifetime  = 1 * time.Hour       // JWT access token validity
	RefreshTokenLifetime = 30 * 24 * time.Hour // Refresh token validity (30 days)

	// Timeout contracts
	DynamoDBTimeout = 5 * time.Second // Max time for DynamoDB operations
	RedisTimeout    = 2 * time.Second // Max time for Redis operations
	SendTimeout     = 10 * time.Second

	// Graceful shutdown. The per-phase budgets sum below the overall
	// timeout so orchestrators never SIGKILL a draining process.
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 3 * time.Second  // let load balancers drop the endpoint
	ShutdownHTTPTimeout     = 15 * time.Second // drain in-flight HTTP requests
	ShutdownOTELTimeout     = 5 * time.Second  // flush spans and metrics
)
