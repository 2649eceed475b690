package service_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/observability"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/securehealth/pkg/cryptox"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
	"github.com/aussiebroadwan/securehealth/pkg/totpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testIssuer = "securehealth-test"

var testSecret = []byte(strings.Repeat("s", 32))

// countingTOTP records how often codes are checked.
type countingTOTP struct {
	*totpx.Engine
	validations atomic.Int32
}

func (c *countingTOTP) Validate(secret, code string) bool {
	c.validations.Add(1)
	return c.Engine.Validate(secret, code)
}

type fixture struct {
	dbPath   string
	store    *sqlite.Store
	metrics  *observability.Metrics
	auth     *service.AuthService
	audit    *service.AuditService
	users    *service.UserService
	denylist *service.StoreDenyList
	totp     *countingTOTP
	verifier *jwtx.HS256Verifier
	now      time.Time
}

func newFixture(t *testing.T, policy service.TOTPPolicy) *fixture {
	t.Helper()

	f := &fixture{
		dbPath: filepath.Join(t.TempDir(), "gateway.db"),
		now:    time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	st, err := sqlite.NewStore(sqlite.DSN(f.dbPath))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	f.store = st

	hasher, err := cryptox.NewHasher(cryptox.HasherConfig{
		Argon2: cryptox.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1},
		Pepper: "test-pepper",
	})
	require.NoError(t, err)

	signer, err := jwtx.NewSignerHS256(testSecret)
	require.NoError(t, err)
	f.verifier, err = jwtx.NewVerifierHS256(testSecret, testIssuer)
	require.NoError(t, err)
	f.verifier.Now = clock

	engine := totpx.NewEngine("SecureHealth")
	engine.Now = clock
	f.totp = &countingTOTP{Engine: engine}

	f.metrics = observability.NewMetrics(prometheus.NewRegistry())
	f.audit = &service.AuditService{Store: st, Metrics: f.metrics, Now: clock}

	f.denylist, err = service.NewStoreDenyList(st, 16)
	require.NoError(t, err)

	f.auth = &service.AuthService{
		Store:    st,
		Hasher:   hasher,
		TOTP:     f.totp,
		Signer:   signer,
		Audit:    f.audit,
		DenyList: f.denylist,
		Metrics:  f.metrics,
		Issuer:   testIssuer,
		TokenTTL: jwtx.DefaultSessionTTL,
		Policy:   policy,
		Now:      clock,
	}
	f.users = &service.UserService{Store: st, Audit: f.audit, Now: clock}
	return f
}

func (f *fixture) signup(t *testing.T, username string, role domain.Role) service.SignupResult {
	t.Helper()
	res, err := f.auth.Signup(context.Background(), service.SignupInput{
		Username:  username,
		Password:  "correct horse " + username,
		Email:     username + "@example.com",
		Role:      string(role),
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	require.NoError(t, res.AuditErr)
	return res
}

func (f *fixture) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := totpx.Code(secret, f.now)
	require.NoError(t, err)
	return c
}

// entries returns every audit entry, newest first.
func (f *fixture) entries(t *testing.T) []domain.AuditRecord {
	t.Helper()
	out, err := f.audit.Query(context.Background(), domain.AuditFilter{Limit: service.MaxAuditLimit})
	require.NoError(t, err)
	return out
}

func (f *fixture) lastAction(t *testing.T) domain.AuditAction {
	t.Helper()
	es := f.entries(t)
	require.NotEmpty(t, es)
	return es[0].Action
}
