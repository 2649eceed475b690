package domain

import "time"

// Principal is the verified identity behind a request. It is built once by
// the authentication gate and only ever passed by value.
type Principal struct {
	UserID    string
	Username  string
	Role      Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
