package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure. Callers learn nothing
// about why a token was rejected; the cause is available via errors.Unwrap
// for logging only.
var ErrInvalidToken = errors.New("jwtx: invalid token")

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// HS256Verifier checks signature, algorithm, issuer, exp and nbf.
type HS256Verifier struct {
	secret []byte
	issuer string

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func NewVerifierHS256(secret []byte, issuer string) (*HS256Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &HS256Verifier{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		Now:    time.Now,
	}, nil
}

type invalidTokenError struct{ cause error }

func (e *invalidTokenError) Error() string        { return ErrInvalidToken.Error() + ": " + e.cause.Error() }
func (e *invalidTokenError) Is(target error) bool { return target == ErrInvalidToken }
func (e *invalidTokenError) Unwrap() error        { return e.cause }

func invalid(cause error) error { return &invalidTokenError{cause: cause} }

func (v *HS256Verifier) Verify(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, invalid(errors.New("empty token"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}

	var c Claims
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, invalid(err)
	}
	if !tok.Valid || c.Subject == "" || c.ID == "" {
		return Claims{}, invalid(errors.New("missing required claims"))
	}
	return c, nil
}
