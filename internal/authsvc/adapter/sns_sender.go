package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/medlinkhq/auth-service/internal/authsvc/app"
)

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the SMS sender. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Compile-time interface satisfaction checks.
var _ app.Sender = (*SNSSender)(nil)
var _ app.Sender = (*LogSender)(nil)

// SNSSender delivers OTP messages via Amazon SNS SMS.
type SNSSender struct {
	client snsPublisher
}

// NewSNSSender creates an SNSSender backed by the given SNS client.
func NewSNSSender(client snsPublisher) *SNSSender {
	return &SNSSender{client: client}
}

// Send publishes message to the given phone number via SNS.
// Error messages carry the masked destination, never the full number.
func (p *SNSSender) Send(ctx context.Context, destination, message string) error {
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: &destination,
		Message:     &message,
	})
	if err != nil {
		return fmt.Errorf("sns sender: send to %s: %w", maskDestination(destination), err)
	}

	return nil
}

// LogSender is a fake Sender that logs OTP delivery instead of sending
// anything. Suitable for local development and testing environments.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender that writes delivery events to the given
// structured logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the delivery with a masked destination. The message body is
// logged verbatim; in dev that is the only way to read the code.
func (p *LogSender) Send(ctx context.Context, destination, message string) error {
	p.logger.InfoContext(ctx, "otp delivery (log-only)",
		slog.String("destination", maskDestination(destination)),
		slog.String("message", message),
	)

	return nil
}

// maskDestination masks a delivery destination for logs. Phone numbers keep
// the last 4 digits; email addresses keep the first character of the local
// part and the full domain.
func maskDestination(destination string) string {
	if at := strings.Index(destination, "@"); at > 0 {
		return destination[:1] + "***" + destination[at:]
	}
	if len(destination) <= 4 {
		return "****"
	}
	return "***" + destination[len(destination)-4:]
}
