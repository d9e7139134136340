package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sendgrid/sendgrid-go"

	"github.com/medlinkhq/auth-service/internal/auth"
	"github.com/medlinkhq/auth-service/internal/authsvc/adapter"
	"github.com/medlinkhq/auth-service/internal/authsvc/app"
	"github.com/medlinkhq/auth-service/internal/authsvc/port"
	"github.com/medlinkhq/auth-service/internal/config"
	"github.com/medlinkhq/auth-service/internal/domain"
	"github.com/medlinkhq/auth-service/internal/dynamo"
	"github.com/medlinkhq/auth-service/internal/redis"
	"github.com/medlinkhq/auth-service/internal/server"
)

// setup is the authsvc composition root. It creates infrastructure clients,
// adapters, the verification engine, and registers the HTTP handlers.
func setup(ctx context.Context, deps server.SetupDeps) (server.CleanupFunc, error) {
	cfg := deps.Config
	logger := deps.Logger

	// 1. Infrastructure clients.
	dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("authsvc setup: create dynamo client: %w", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password.Expose(),
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	// 2. Adapters.
	clock := domain.RealClock{}
	challengeStore := adapter.NewChallengeStore(dynamoClient.DB, cfg.DynamoDB.ChallengesTable)
	userStore := adapter.NewUserStore(dynamoClient.DB, cfg.DynamoDB.UsersTable, cfg.DynamoDB.ProfilesTable, clock)
	rateLimiter := adapter.NewRateLimiter(redisClient.RDB, adapter.RateLimiterConfig{
		Cooldown:   cfg.OTP.ResendCooldown(),
		DailyLimit: cfg.OTP.DailyRequestLimit,
		Clock:      clock,
	})

	// 3. Key store + senders (environment-dependent).
	keyStore, err := createKeyStore(ctx, cfg, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("authsvc setup: create key store: %w", err)
	}

	senders, err := createSenders(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("authsvc setup: create senders: %w", err)
	}

	// 4. Token core.
	issuer := auth.NewIssuer(auth.IssuerConfig{
		KeyStore:   keyStore,
		AccessTTL:  domain.AccessTokenLifetime,
		RefreshTTL: domain.RefreshTokenLifetime,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Clock:      clock,
	})
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Clock:    clock,
	})

	// 5. Verification engine.
	svc := app.NewService(app.ServiceConfig{
		Challenges:  challengeStore,
		Users:       userStore,
		RateLimiter: rateLimiter,
		Senders:     senders,
		Issuer:      issuer,
		Validator:   validator,
		Clock:       clock,
		Logger:      logger,
		Policy: app.Policy{
			CodeLength:     cfg.OTP.Length,
			TTL:            cfg.OTP.TTL(),
			MaxAttempts:    cfg.OTP.MaxAttempts,
			IssuerName:     cfg.OTP.IssuerName,
			ResendCooldown: cfg.OTP.ResendCooldown(),
		},
	})

	// 6. HTTP routes.
	port.NewHandler(svc, cfg.OTP.ResendCooldown()).Register(deps.HTTPMux)

	logger.InfoContext(ctx, "auth service initialized")

	cleanup := func(_ context.Context) error {
		svc.Wait()
		return redisClient.Close()
	}

	return cleanup, nil
}

// loadAWSConfig builds the shared AWS SDK config. A non-empty endpoint
// switches to static test credentials for LocalStack.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.Endpoint != "" {
		opts = append(opts,
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("test", "test", ""),
			),
		)
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// createKeyStore returns the appropriate key store for the environment.
// Local: generates an ephemeral RSA key pair (no AWS dependency).
// Production: loads signing material from Secrets Manager + SSM.
func createKeyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, clock domain.Clock) (auth.KeyStore, error) {
	if cfg.IsLocal() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate dev RSA key: %w", err)
		}
		logger.Info("using ephemeral RSA key for local development", slog.String("key_id", "dev-key-001"))
		return auth.NewStaticKeyStore(key, "dev-key-001"), nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	smClient := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})
	ssmClient := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	return adapter.NewAWSKeyStore(ctx, smClient, ssmClient, clock)
}

// createSenders returns the per-channel delivery adapters.
// Local: logs messages instead of sending them.
// Production: SMS via Amazon SNS, email via SendGrid.
func createSenders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[domain.Channel]app.Sender, error) {
	if cfg.IsLocal() {
		logger.Info("using log-only senders for local development")
		logSender := adapter.NewLogSender(logger)
		return map[domain.Channel]app.Sender{
			domain.ChannelSMS:   logSender,
			domain.ChannelEmail: logSender,
		}, nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	emailSender := adapter.NewSendGridSender(sendgrid.NewSendClient(cfg.SendGrid.APIKey.Expose()), adapter.SendGridSenderConfig{
		FromName:    cfg.SendGrid.FromName,
		FromAddress: cfg.SendGrid.FromAddress,
		Subject:     cfg.SendGrid.Subject,
	})

	return map[domain.Channel]app.Sender{
		domain.ChannelSMS:   adapter.NewSNSSender(snsClient),
		domain.ChannelEmail: emailSender,
	}, nil
}
