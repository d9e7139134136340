// Package domain contains pure business logic and types.
// No external dependencies allowed - this is the innermost ring of Clean Architecture.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// UserID is a value object representing a unique user identifier.
// Always valid in memory - use NewUserID to construct.
type UserID struct {
	value string
}

// NewUserID creates a UserID from a raw string, validating it is a valid UUID.
func NewUserID(raw string) (UserID, error) {
	if raw == "" {
		return UserID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return UserID{}, fmt.Errorf("invalid user ID %q: %w", raw, ErrInvalidID)
	}
	return UserID{value: raw}, nil
}

// MustUserID creates a UserID, panicking on invalid input. Use only in tests.
func MustUserID(raw string) UserID {
	id, err := NewUserID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateUserID creates a new random UserID.
func GenerateUserID() UserID {
	return UserID{value: uuid.NewString()}
}

func (id UserID) String() string { return id.value }
func (id UserID) IsZero() bool   { return id.value == "" }

// ChallengeID is a value object representing a unique verification challenge
// identifier. It doubles as the verification handle handed to clients that
// still need to complete their profile.
type ChallengeID struct {
	value string
}

// NewChallengeID creates a ChallengeID from a raw string, validating it is a valid UUID.
func NewChallengeID(raw string) (ChallengeID, error) {
	if raw == "" {
		return ChallengeID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return ChallengeID{}, fmt.Errorf("invalid challenge ID %q: %w", raw, ErrInvalidID)
	}
	return ChallengeID{value: raw}, nil
}

// MustChallengeID creates a ChallengeID, panicking on invalid input. Use only in tests.
func MustChallengeID(raw string) ChallengeID {
	id, err := NewChallengeID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateChallengeID creates a new random ChallengeID.
func GenerateChallengeID() ChallengeID {
	return ChallengeID{value: uuid.NewString()}
}

func (id ChallengeID) String() string { return id.value }
func (id ChallengeID) IsZero() bool   { return id.value == "" }
