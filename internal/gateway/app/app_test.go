package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Issuer:               "securehealth",
		JWTSecret:            strings.Repeat("a", 32),
		TokenTTL:             time.Hour,
		DatabaseFile:         filepath.Join(dir, "gateway.db"),
		PepperFile:           filepath.Join(dir, "pepper"),
		HashAlgorithm:        "argon2id",
		Argon2MemoryKiB:      64,
		Argon2Iterations:     1,
		Argon2Parallelism:    1,
		TOTPIssuer:           "SecureHealth",
		TOTPPolicy:           "first-login",
		UniformAuthErrors:    true,
		DenyListBackend:      DenyListSQLite,
		Env:                  "test",
		LogLevel:             "error",
		Port:                 0,
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
	}
}

func runSession(t *testing.T, app *Application) {
	t.Helper()
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	ctx := context.Background()
	client := authsdk.NewClient(srv.URL)

	_, err := client.Signup(ctx, authsdk.SignupRequest{
		Username: "alice",
		Password: "alice-password",
		Email:    "alice@securehealth.test",
		Role:     authsdk.RoleDoctor,
	})
	require.NoError(t, err)

	login, err := client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: "alice-password"})
	require.NoError(t, err)

	alice := client.WithToken(login.Token)
	require.NoError(t, alice.Logout(ctx))
	_, err = alice.Me(ctx)
	require.Error(t, err)
}

func TestApplicationSQLiteDenyList(t *testing.T) {
	app, err := New(testConfig(t))
	require.NoError(t, err)

	runSession(t, app)

	app.housekeepingService.Start()
	require.NoError(t, app.Shutdown())
}

func TestApplicationRedisDenyList(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.DenyListBackend = DenyListRedis
	cfg.RedisAddr = mr.Addr()

	app, err := New(cfg)
	require.NoError(t, err)

	runSession(t, app)
	require.Len(t, mr.Keys(), 1)

	app.housekeepingService.Start()
	require.NoError(t, app.Shutdown())
}

func TestApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.TOTPPolicy = "never"

	_, err := New(cfg)
	require.Error(t, err)
}
