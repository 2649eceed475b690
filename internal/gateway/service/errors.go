package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidRole       = fmt.Errorf("%w: invalid role", ErrValidation)
	ErrDuplicateIdentity = errors.New("username or email already exists")

	// ErrUnauthenticated is wrapped by every credential failure so callers
	// can map the family with a single errors.Is.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnknownUser     = fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	ErrBadPassword     = fmt.Errorf("%w: bad password", ErrUnauthenticated)
	ErrBadTwoFactor    = fmt.Errorf("%w: bad two-factor code", ErrUnauthenticated)

	ErrAccountDisabled   = errors.New("account disabled")
	ErrTwoFactorRequired = errors.New("two-factor code required")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
)
