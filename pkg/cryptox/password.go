package cryptox

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Algorithm names a password hashing scheme.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// Argon2id output sizes.
const (
	keyLength  = 32
	saltLength = 16
)

// Argon2Params is the argon2id work factor.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultArgon2Params follows the OWASP minimum (19 MiB, t=2, p=1).
var DefaultArgon2Params = Argon2Params{MemoryKiB: 19 * 1024, Iterations: 2, Parallelism: 1}

var (
	ErrMalformedDigest = errors.New("cryptox: malformed password digest")
	ErrUnknownScheme   = errors.New("cryptox: unknown password hash scheme")
)

// HasherConfig configures a Hasher. Zero values fall back to defaults.
type HasherConfig struct {
	Algorithm  Algorithm
	Argon2     Argon2Params
	BcryptCost int

	// Pepper is mixed into argon2id inputs only. bcrypt digests stay
	// unpeppered so legacy records remain verifiable.
	Pepper string

	// Concurrency bounds simultaneous hash/verify operations.
	Concurrency int
}

// Hasher hashes and verifies passwords.
//
// Digests are self-describing: argon2id digests use the PHC string format
// and carry their own parameters, bcrypt digests carry their own cost. Verify
// therefore accepts any digest produced under an older configuration.
type Hasher struct {
	cfg   HasherConfig
	sem   *semaphore.Weighted
	decoy string
}

// NewHasher validates cfg and precomputes the decoy digest used by Equalize.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmArgon2id
	}
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = DefaultArgon2Params
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}

	switch cfg.Algorithm {
	case AlgorithmArgon2id:
		if cfg.Argon2.MemoryKiB == 0 || cfg.Argon2.Iterations == 0 || cfg.Argon2.Parallelism == 0 {
			return nil, fmt.Errorf("cryptox: invalid argon2id params %+v", cfg.Argon2)
		}
	case AlgorithmBcrypt:
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("cryptox: bcrypt cost %d out of range", cfg.BcryptCost)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, cfg.Algorithm)
	}

	h := &Hasher{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.Concurrency))}

	decoyPassword, err := GenerateToken(TokenSize128)
	if err != nil {
		return nil, err
	}
	h.decoy, err = h.hash(decoyPassword)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Algorithm returns the scheme used for new digests.
func (h *Hasher) Algorithm() Algorithm { return h.cfg.Algorithm }

// Hash returns a new salted digest of password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	return h.hash(password)
}

// Verify reports whether password matches digest. A mismatch is (false, nil);
// an error means the digest could not be evaluated at all.
func (h *Hasher) Verify(ctx context.Context, password, digest string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	return h.verify(password, digest)
}

// Equalize spends the same work as a real Verify against a decoy digest.
// Call it when the account does not exist so response timing does not
// reveal which usernames are registered.
func (h *Hasher) Equalize(ctx context.Context, password string) {
	_, _ = h.Verify(ctx, password, h.decoy)
}

// NeedsRehash reports whether digest was produced with a different scheme or
// work factor than the current configuration.
func (h *Hasher) NeedsRehash(digest string) bool {
	switch {
	case isBcrypt(digest):
		if h.cfg.Algorithm != AlgorithmBcrypt {
			return true
		}
		cost, err := bcrypt.Cost([]byte(digest))
		return err != nil || cost != h.cfg.BcryptCost
	case strings.HasPrefix(digest, "$argon2id$"):
		if h.cfg.Algorithm != AlgorithmArgon2id {
			return true
		}
		p, _, _, err := parseArgon2id(digest)
		return err != nil || p != h.cfg.Argon2
	default:
		return true
	}
}

func (h *Hasher) hash(password string) (string, error) {
	if h.cfg.Algorithm == AlgorithmBcrypt {
		out, err := bcrypt.GenerateFromPassword([]byte(password), h.cfg.BcryptCost)
		if err != nil {
			return "", fmt.Errorf("bcrypt: %w", err)
		}
		return string(out), nil
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := h.cfg.Argon2
	key := argon2.IDKey([]byte(password+h.cfg.Pepper), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Hasher) verify(password, digest string) (bool, error) {
	if isBcrypt(digest) {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
		}
	}

	if !strings.HasPrefix(digest, "$argon2id$") {
		return false, ErrUnknownScheme
	}

	p, salt, want, err := parseArgon2id(digest)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey(
		[]byte(password+h.cfg.Pepper),
		salt,
		p.Iterations,
		p.MemoryKiB,
		p.Parallelism,
		uint32(len(want)), // #nosec G115 - bounded by the decoded digest
	)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

// parseArgon2id splits $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
func parseArgon2id(digest string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, ErrMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unsupported version", ErrMalformedDigest)
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: params: %v", ErrMalformedDigest, err)
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: zero params", ErrMalformedDigest)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedDigest, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: key", ErrMalformedDigest)
	}
	return p, salt, key, nil
}
