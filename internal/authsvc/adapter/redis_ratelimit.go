package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/medlinkhq/auth-service/internal/authsvc/app"
	"github.com/medlinkhq/auth-service/internal/domain"
	redisclient "github.com/medlinkhq/auth-service/internal/redis"
)

// checkAndConsumeScript enforces the resend cooldown and the daily request cap
// in a single atomic EVAL. Doing both checks and both writes in one script
// closes the window where two concurrent requests could each pass the GET
// check and both consume a slot.
//
// KEYS[1] = cooldown key, KEYS[2] = daily counter key.
// ARGV[1] = cooldown seconds, ARGV[2] = daily limit, ARGV[3] = daily TTL seconds.
//
// Returns "cooldown", "daily", or "ok". The daily counter is only incremented
// and the cooldown flag only set when the request is admitted, so refused
// requests never consume quota.
const checkAndConsumeScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'cooldown'
end
local count = tonumber(redis.call('GET', KEYS[2]) or '0')
if count >= tonumber(ARGV[2]) then
  return 'daily'
end
count = redis.call('INCR', KEYS[2])
if count == 1 then
  redis.call('EXPIRE', KEYS[2], ARGV[3])
end
redis.call('SET', KEYS[1], '1', 'EX', ARGV[1])
return 'ok'
`

// Compile-time check: RateLimiter implements app.RateLimiter.
var _ app.RateLimiter = (*RateLimiter)(nil)

// RateLimiterConfig holds the issuance throttling parameters.
type RateLimiterConfig struct {
	// Cooldown is the minimum interval between two challenge requests for
	// the same identifier.
	Cooldown time.Duration

	// DailyLimit is the maximum number of challenge requests per identifier
	// per UTC day.
	DailyLimit int

	// Clock supplies the current time for the daily bucket key.
	Clock domain.Clock
}

// RateLimiter implements the issuance rate limit backed by Redis.
// Errors are returned as-is; the caller treats any non-limit error as a
// refusal (fail-closed), so a Redis outage never opens the floodgates.
type RateLimiter struct {
	cmd        redisclient.Cmdable
	cooldown   time.Duration
	dailyLimit int
	clock      domain.Clock
}

// NewRateLimiter creates a RateLimiter that uses cmd for Redis operations.
func NewRateLimiter(cmd redisclient.Cmdable, cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		cmd:        cmd,
		cooldown:   cfg.Cooldown,
		dailyLimit: cfg.DailyLimit,
		clock:      cfg.Clock,
	}
}

// CheckAndConsume admits or refuses a challenge request for identifier.
// Returns domain.ErrCooldownActive when a previous request is still inside
// the cooldown window, domain.ErrDailyLimitReached when the UTC-day counter
// is exhausted, and the raw Redis error on infrastructure failure.
func (r *RateLimiter) CheckAndConsume(ctx context.Context, identifier string) error {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.check_and_consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	keys := []string{
		cooldownKey(identifier),
		dailyKey(identifier, domain.UTCDay(r.clock.Now())),
	}
	args := []interface{}{
		int(r.cooldown.Seconds()),
		r.dailyLimit,
		int(domain.DailyLimitWindow.Seconds()),
	}

	verdict, err := r.cmd.Eval(ctx, checkAndConsumeScript, keys, args...).Text()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("rate limit check %q: %w", identifier, err)
	}

	switch verdict {
	case "cooldown":
		return domain.ErrCooldownActive
	case "daily":
		return domain.ErrDailyLimitReached
	default:
		return nil
	}
}

func cooldownKey(identifier string) string {
	return "otp:cooldown:" + identifier
}

// dailyKey scopes the counter to a UTC calendar day, so the cap resets at
// midnight UTC rather than on a rolling window.
func dailyKey(identifier, day string) string {
	return "otp:daily:" + identifier + ":" + day
}
