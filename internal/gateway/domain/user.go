package domain

import (
	"fmt"
	"time"
)

// TOTPState tracks second-factor enrollment.
type TOTPState string

const (
	TOTPNotEnrolled TOTPState = "not_enrolled"
	TOTPUnverified  TOTPState = "unverified" // secret issued, never used to log in
	TOTPVerified    TOTPState = "verified"
)

func ParseTOTPState(s string) (TOTPState, error) {
	switch st := TOTPState(s); st {
	case TOTPNotEnrolled, TOTPUnverified, TOTPVerified:
		return st, nil
	default:
		return "", fmt.Errorf("unknown totp state %q", s)
	}
}

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string // argon2id PHC string or bcrypt digest
	Role         Role
	Active       bool
	TOTPState    TOTPState
	TOTPSecret   *string // base32, nil iff TOTPState == TOTPNotEnrolled
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TwoFAEnabled reports whether the user has completed enrollment.
func (u User) TwoFAEnabled() bool { return u.TOTPState == TOTPVerified }

// HasTOTPSecret reports whether a usable secret is on record.
func (u User) HasTOTPSecret() bool { return u.TOTPSecret != nil && *u.TOTPSecret != "" }
