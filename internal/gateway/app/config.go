package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/cryptox"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
)

// Deny-list backends.
const (
	DenyListSQLite = "sqlite"
	DenyListRedis  = "redis"
)

type Config struct {
	Issuer        string        // Issuer claim for session tokens (default: securehealth)
	JWTSecret     string        // HS256 secret; at least 32 bytes
	JWTSecretFile string        // Alternative to JWTSecret; file contents are trimmed
	TokenTTL      time.Duration // Session lifetime (default: 24h)

	DatabaseFile      string // Path to the SQLite database (default: ./gateway.db)
	PepperFile        string // Path to the password pepper, created on first boot (default: ./pepper)
	HashAlgorithm     string // argon2id or bcrypt (default: argon2id)
	Argon2MemoryKiB   int
	Argon2Iterations  int
	Argon2Parallelism int
	BcryptCost        int
	HashConcurrency   int // Concurrent hash operations (default: GOMAXPROCS)

	TOTPIssuer        string // Shown in authenticator apps (default: SecureHealth)
	TOTPPolicy        string // first-login or mandatory (default: first-login)
	UniformAuthErrors bool   // Hide whether a username exists (default: true)
	TrustedProxies    string // Comma-separated proxy IPs/CIDRs whose forwarding headers are honoured (default: none)

	DenyListBackend   string // sqlite or redis (default: sqlite)
	RedisAddr         string // Required for the redis backend
	DenyListCacheSize int    // Positive-lookup cache entries for the sqlite backend

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		Issuer:        getEnvOrDefault("GATEWAY_ISSUER", "securehealth"),
		JWTSecret:     os.Getenv("GATEWAY_JWT_SECRET"),
		JWTSecretFile: os.Getenv("GATEWAY_JWT_SECRET_FILE"),
		TokenTTL:      getEnvDurationOrDefault("GATEWAY_TOKEN_TTL", jwtx.DefaultSessionTTL),

		DatabaseFile:      getEnvOrDefault("GATEWAY_DATABASE_FILE", "gateway.db"),
		PepperFile:        getEnvOrDefault("GATEWAY_PEPPER_FILE", "pepper"),
		HashAlgorithm:     getEnvOrDefault("GATEWAY_HASH_ALGORITHM", string(cryptox.AlgorithmArgon2id)),
		Argon2MemoryKiB:   getEnvIntOrDefault("GATEWAY_ARGON2_MEMORY_KIB", int(cryptox.DefaultArgon2Params.MemoryKiB)),
		Argon2Iterations:  getEnvIntOrDefault("GATEWAY_ARGON2_ITERATIONS", int(cryptox.DefaultArgon2Params.Iterations)),
		Argon2Parallelism: getEnvIntOrDefault("GATEWAY_ARGON2_PARALLELISM", int(cryptox.DefaultArgon2Params.Parallelism)),
		BcryptCost:        getEnvIntOrDefault("GATEWAY_BCRYPT_COST", 12),
		HashConcurrency:   getEnvIntOrDefault("GATEWAY_HASH_CONCURRENCY", 0),

		TOTPIssuer:        getEnvOrDefault("GATEWAY_TOTP_ISSUER", "SecureHealth"),
		TOTPPolicy:        getEnvOrDefault("GATEWAY_TOTP_POLICY", string(service.TOTPPolicyFirstLogin)),
		UniformAuthErrors: getEnvBoolOrDefault("GATEWAY_UNIFORM_AUTH_ERRORS", true),
		TrustedProxies:    os.Getenv("GATEWAY_TRUSTED_PROXIES"),

		DenyListBackend:   getEnvOrDefault("GATEWAY_DENYLIST_BACKEND", DenyListSQLite),
		RedisAddr:         os.Getenv("GATEWAY_REDIS_ADDR"),
		DenyListCacheSize: getEnvIntOrDefault("GATEWAY_DENYLIST_CACHE_SIZE", service.DefaultDenyListCacheSize),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// Validate rejects unknown enum values and, outside dev, a missing or short
// JWT secret.
func (c Config) Validate() error {
	var errs []error

	switch cryptox.Algorithm(c.HashAlgorithm) {
	case cryptox.AlgorithmArgon2id:
		if c.Argon2MemoryKiB <= 0 || c.Argon2Iterations <= 0 || c.Argon2Parallelism <= 0 || c.Argon2Parallelism > 255 {
			errs = append(errs, errors.New("argon2 memory, iterations and parallelism must be positive (parallelism at most 255)"))
		}
	case cryptox.AlgorithmBcrypt:
	default:
		errs = append(errs, fmt.Errorf("unknown hash algorithm %q", c.HashAlgorithm))
	}

	if _, err := service.ParseTOTPPolicy(c.TOTPPolicy); err != nil {
		errs = append(errs, err)
	}

	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}

	switch c.DenyListBackend {
	case DenyListSQLite:
	case DenyListRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("GATEWAY_REDIS_ADDR is required for the redis deny-list"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown deny-list backend %q", c.DenyListBackend))
	}

	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < jwtx.MinSecretLength {
		errs = append(errs, jwtx.ErrWeakSecret)
	}
	if c.Env != "dev" && c.JWTSecret == "" && c.JWTSecretFile == "" {
		errs = append(errs, errors.New("GATEWAY_JWT_SECRET or GATEWAY_JWT_SECRET_FILE is required outside dev"))
	}

	return errors.Join(errs...)
}

// loadJWTSecret resolves the signing secret. In dev with nothing configured a
// random secret is generated, so tokens do not survive a restart.
func (c Config) loadJWTSecret() ([]byte, bool, error) {
	secret := c.JWTSecret
	if secret == "" && c.JWTSecretFile != "" {
		raw, err := os.ReadFile(c.JWTSecretFile)
		if err != nil {
			return nil, false, fmt.Errorf("read jwt secret: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret != "" {
		if len(secret) < jwtx.MinSecretLength {
			return nil, false, jwtx.ErrWeakSecret
		}
		return []byte(secret), false, nil
	}

	if c.Env != "dev" {
		return nil, false, errors.New("no jwt secret configured")
	}
	generated, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, false, err
	}
	return []byte(generated), true, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
