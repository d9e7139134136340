package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Channel is the delivery channel for a verification code.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// IsValid checks if a channel is supported.
func (c Channel) IsValid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

// e164Pattern matches E.164 phone numbers: + followed by 7-15 digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// emailPattern is a pragmatic format check, not full RFC 5322.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Identifier is a value object representing the destination a challenge is
// issued against: an E.164 phone number on the sms channel or an email
// address on the email channel. Always valid in memory — use NewIdentifier
// to construct.
type Identifier struct {
	value   string
	channel Channel
}

// NewIdentifier creates an Identifier, validating the raw value against the
// channel's format. Email addresses are lowercased so the same inbox never
// yields two distinct rate-limit or challenge keys.
func NewIdentifier(raw string, channel Channel) (Identifier, error) {
	if !channel.IsValid() {
		return Identifier{}, fmt.Errorf("channel %q: %w", channel, ErrInvalidChannel)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, fmt.Errorf("identifier cannot be empty: %w", ErrInvalidIdentifier)
	}

	switch channel {
	case ChannelSMS:
		if !e164Pattern.MatchString(raw) {
			return Identifier{}, fmt.Errorf("identifier %q is not valid E.164: %w", raw, ErrInvalidIdentifier)
		}
	case ChannelEmail:
		raw = strings.ToLower(raw)
		if !emailPattern.MatchString(raw) {
			return Identifier{}, fmt.Errorf("identifier is not a valid email address: %w", ErrInvalidIdentifier)
		}
	}

	return Identifier{value: raw, channel: channel}, nil
}

// MustIdentifier creates an Identifier, panicking on invalid input. Use only in tests.
func MustIdentifier(raw string, channel Channel) Identifier {
	id, err := NewIdentifier(raw, channel)
	if err != nil {
		panic(err)
	}
	return id
}

func (i Identifier) String() string   { return i.value }
func (i Identifier) Channel() Channel { return i.channel }
func (i Identifier) IsZero() bool     { return i.value == "" }

// Masked returns a partially redacted form safe for logs:
// "+14155550123" -> "+1415***0123", "jane@example.com" -> "j***@example.com".
func (i Identifier) Masked() string {
	switch i.channel {
	case ChannelEmail:
		at := strings.IndexByte(i.value, '@')
		if at < 1 {
			return "***"
		}
		return i.value[:1] + "***" + i.value[at:]
	default:
		if len(i.value) < 10 {
			return "***"
		}
		return i.value[:5] + "***" + i.value[len(i.value)-4:]
	}
}
