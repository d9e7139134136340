package domain

import (
	"fmt"
	"strings"
	"time"
)

// User is an authenticated account. Either PhoneNumber or Email may be empty
// depending on which channel the account was created through.
type User struct {
	ID            UserID
	PhoneNumber   string
	Email         string
	EmailVerified bool
	CreatedAt     time.Time
}

// Gender is the self-reported gender on a profile.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// IsValid checks if a gender value is one of the accepted options.
func (g Gender) IsValid() bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

// Profile holds the demographic fields collected after first login.
// Fields are empty until the owner completes onboarding.
type Profile struct {
	UserID      UserID
	FirstName   string
	LastName    string
	DateOfBirth string // ISO 8601 date, e.g. "1990-04-21"
	Gender      Gender
	Referred    bool
	UpdatedAt   time.Time
}

// IsComplete reports whether the account can receive session tokens directly.
// All five onboarding fields must be present: first name, last name, the
// account email, date of birth, and gender.
func (p Profile) IsComplete(u User) bool {
	return p.FirstName != "" &&
		p.LastName != "" &&
		u.Email != "" &&
		p.DateOfBirth != "" &&
		p.Gender != ""
}

// ProfileInput carries the fields a client submits to complete onboarding.
type ProfileInput struct {
	FirstName   string
	LastName    string
	Email       string
	DateOfBirth string
	Gender      Gender
	Referred    bool
}

// Validate normalizes and checks every field, returning errors that match
// ErrInvalidInput. It must pass before the input touches storage.
func (in *ProfileInput) Validate(now time.Time) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if in.FirstName == "" {
		return fmt.Errorf("first name is required: %w", ErrInvalidInput)
	}
	if in.LastName == "" {
		return fmt.Errorf("last name is required: %w", ErrInvalidInput)
	}
	if in.Email == "" || !emailPattern.MatchString(in.Email) {
		return fmt.Errorf("valid email is required: %w", ErrInvalidInput)
	}
	dob, err := time.Parse(time.DateOnly, in.DateOfBirth)
	if err != nil {
		return fmt.Errorf("date of birth must be YYYY-MM-DD: %w", ErrInvalidInput)
	}
	if dob.After(now) {
		return fmt.Errorf("date of birth cannot be in the future: %w", ErrInvalidInput)
	}
	if !in.Gender.IsValid() {
		return fmt.Errorf("gender must be one of male, female, other: %w", ErrInvalidInput)
	}
	return nil
}
