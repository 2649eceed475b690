package domain

import "time"

// RevokedToken marks a session token as unusable before its natural expiry.
type RevokedToken struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
	RevokedAt time.Time
}
