// Package totpx wraps RFC 6238 time-based one-time passwords.
//
// Codes are 6 digits over a 30 second step using HMAC-SHA1, which is what
// every mainstream authenticator app expects. Validation accepts the current
// step and one step either side.
package totpx

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Period = 30
	Skew   = 1
	Digits = otp.DigitsSix

	qrSize = 200
)

// Key is the provisioning material for a new enrollment.
type Key struct {
	Secret          string // base32, no padding
	ProvisioningURI string // otpauth://totp/...
	QRCodeDataURL   string // data:image/png;base64,...
}

// Engine generates and validates TOTP codes.
type Engine struct {
	Issuer string

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func NewEngine(issuer string) *Engine {
	return &Engine{Issuer: issuer, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Generate creates a fresh secret for the given account label.
func (e *Engine) Generate(account string) (Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.Issuer,
		AccountName: account,
		Period:      Period,
		Digits:      Digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Key{}, fmt.Errorf("totp generate: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return Key{}, fmt.Errorf("totp qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Key{}, fmt.Errorf("totp qr encode: %w", err)
	}

	return Key{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Validate reports whether code is valid for secret right now.
// Malformed input is simply invalid.
func (e *Engine) Validate(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != Digits.Length() {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    Digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Code returns the code for secret at t. Used by tests and tooling.
func Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    Period,
		Digits:    Digits,
		Algorithm: otp.AlgorithmSHA1,
	})
}
