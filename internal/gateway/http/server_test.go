package http_test

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	gatewayhttp "github.com/aussiebroadwan/securehealth/internal/gateway/http"
	"github.com/aussiebroadwan/securehealth/internal/gateway/observability"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/aussiebroadwan/securehealth/pkg/cryptox"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
	"github.com/aussiebroadwan/securehealth/pkg/totpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Scenarios log in far more often than a real client would.
	httpx.StrictLimit = httpx.RateLimitConfig{RequestsPerWindow: 10_000, Window: time.Minute, Burst: 10_000}
	os.Exit(m.Run())
}

type harness struct {
	router *gatewayhttp.Router
	srv    *httptest.Server
	client *authsdk.Client
}

func newHarness(t *testing.T, uniform bool) *harness {
	t.Helper()

	st, err := sqlite.NewStore(sqlite.DSN(filepath.Join(t.TempDir(), "gateway.db")))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	secret := []byte(strings.Repeat("k", 32))
	signer, err := jwtx.NewSignerHS256(secret)
	require.NoError(t, err)
	verifier, err := jwtx.NewVerifierHS256(secret, "securehealth")
	require.NoError(t, err)

	hasher, err := cryptox.NewHasher(cryptox.HasherConfig{
		Argon2: cryptox.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1},
		Pepper: "pepper",
	})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	audit := &service.AuditService{Store: st, Metrics: metrics}
	deny, err := service.NewStoreDenyList(st, 0)
	require.NoError(t, err)

	router := gatewayhttp.NewRouter(verifier, deny, audit, metrics, slogx.Discard())
	router.AuthService = &service.AuthService{
		Store:    st,
		Hasher:   hasher,
		TOTP:     totpx.NewEngine("SecureHealth"),
		Signer:   signer,
		Audit:    audit,
		DenyList: deny,
		Metrics:  metrics,
		Issuer:   "securehealth",
		Policy:   service.TOTPPolicyFirstLogin,
	}
	router.AuditService = audit
	router.UserService = &service.UserService{Store: st, Audit: audit}
	router.UniformAuthErrors = uniform
	router.Ready = map[string]gatewayhttp.Pinger{"database": st}
	router.MetricsHandler = observability.Handler(registry)
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &harness{router: router, srv: srv, client: authsdk.NewClient(srv.URL)}
}

func (h *harness) signup(t *testing.T, username, role string) *authsdk.SignupResponse {
	t.Helper()
	res, err := h.client.Signup(context.Background(), authsdk.SignupRequest{
		Username: username,
		Password: username + "-password",
		Email:    username + "@securehealth.test",
		Role:     role,
	})
	require.NoError(t, err)
	return res
}

// login performs the first login, which completes TOTP enrollment.
func (h *harness) login(t *testing.T, username string) *authsdk.Client {
	t.Helper()
	res, err := h.client.Login(context.Background(), authsdk.LoginRequest{
		Username: username,
		Password: username + "-password",
	})
	require.NoError(t, err)
	return h.client.WithToken(res.Token)
}

func (h *harness) admin(t *testing.T) *authsdk.Client {
	t.Helper()
	h.signup(t, "root", authsdk.RoleAdmin)
	return h.login(t, "root")
}

func requireAPIError(t *testing.T, err error, status int, code string) *authsdk.APIError {
	t.Helper()
	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	require.Equal(t, status, apiErr.StatusCode)
	require.Equal(t, code, apiErr.Code)
	return apiErr
}

func TestAliceScenario(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	admin := h.admin(t)

	signup := h.signup(t, "alice", authsdk.RoleDoctor)
	require.Equal(t, "User registered successfully", signup.Message)
	require.NotEmpty(t, signup.TwoFASetup.Secret)
	require.Contains(t, signup.TwoFASetup.ProvisioningURI, "alice")
	require.True(t, strings.HasPrefix(signup.TwoFASetup.QRCodeDataURL, "data:image/png;base64,"))

	// First login without a code.
	first, err := h.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: "alice-password"})
	require.NoError(t, err)
	require.Equal(t, "Login successful", first.Message)
	require.Equal(t, "Doctor", first.User.Role)
	require.True(t, first.User.TwoFAEnabled)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), first.ExpiresAt, time.Minute)

	me, err := h.client.WithToken(first.Token).Me(ctx)
	require.NoError(t, err)
	require.Equal(t, signup.UserID, me.UserID)
	require.Equal(t, "Doctor", me.Role)

	// Second login needs the code.
	_, err = h.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: "alice-password"})
	apiErr := requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeTwoFactorRequired)
	require.Equal(t, "2FA token required", apiErr.Message)

	code, err := totpx.Code(signup.TwoFASetup.Secret, time.Now())
	require.NoError(t, err)
	_, err = h.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: "alice-password", TwoFAToken: code})
	require.NoError(t, err)

	// A doctor is not an admin.
	_, err = h.client.WithToken(first.Token).AuditLogs(ctx, authsdk.AuditLogQuery{})
	requireAPIError(t, err, http.StatusForbidden, authsdk.ErrorCodeForbidden)

	entries, err := admin.AuditLogs(ctx, authsdk.AuditLogQuery{UserID: signup.UserID})
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{
		string(domain.ActionAccessForbidden),
		string(domain.ActionLoginSuccess),
		string(domain.ActionLoginTwoFARequired),
		string(domain.ActionLoginSuccess),
		string(domain.ActionSignup),
	}, actions)
	require.Equal(t, "alice", entries[0].Username)
}

func TestGhostScenario(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	admin := h.admin(t)
	h.signup(t, "alice", authsdk.RoleDoctor)

	_, err := h.client.Login(ctx, authsdk.LoginRequest{Username: "ghost", Password: "boo"})
	ghost := requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)

	_, err = h.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: "wrong"})
	bad := requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	require.Equal(t, ghost.Message, bad.Message)

	entries, err := admin.AuditLogs(ctx, authsdk.AuditLogQuery{Action: string(domain.ActionLoginUnknownUser)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].UserID)
	require.Contains(t, entries[0].Details, "ghost")
	require.Equal(t, "127.0.0.1", entries[0].IPAddress)
}

func TestDistinctAuthErrors(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.signup(t, "alice", authsdk.RoleDoctor)

	_, err := h.client.Login(ctx, authsdk.LoginRequest{Username: "ghost", Password: "boo"})
	apiErr := requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	require.Equal(t, "User not found", apiErr.Message)

	_, err = h.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: "wrong"})
	apiErr = requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	require.Equal(t, "Invalid password", apiErr.Message)
}

func TestSignupErrors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signup(t, "alice", authsdk.RoleDoctor)

	_, err := h.client.Signup(ctx, authsdk.SignupRequest{Username: "bob", Password: "pw", Email: "bob@x.test", Role: "Nurse"})
	apiErr := requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
	require.Equal(t, "Invalid role specified", apiErr.Message)

	_, err = h.client.Signup(ctx, authsdk.SignupRequest{Username: "alice", Password: "pw", Email: "new@x.test", Role: "Patient"})
	requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeDuplicateIdentity)

	_, err = h.client.Signup(ctx, authsdk.SignupRequest{Username: "carol", Email: "carol@x.test", Role: "Patient"})
	requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)

	// Unknown fields are ignored; the role still comes from "role".
	resp, err := http.Post(h.srv.URL+"/signup", "application/json",
		strings.NewReader(`{"username":"dave","password":"pw","email":"d@x.test","role":"Patient","isAdmin":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dave, err := h.router.UserService.Store.Users().GetUserByUsername(ctx, "dave")
	require.NoError(t, err)
	require.Equal(t, domain.RolePatient, dave.Role)
}

func (h *harness) auditCount(t *testing.T) int {
	t.Helper()
	entries, err := h.router.AuditService.Query(context.Background(), domain.AuditFilter{Limit: service.MaxAuditLimit})
	require.NoError(t, err)
	return len(entries)
}

func TestMalformedAuthBodiesAreAudited(t *testing.T) {
	h := newHarness(t, true)
	h.signup(t, "alice", authsdk.RoleDoctor)

	cases := []struct {
		path   string
		body   string
		status int
		action domain.AuditAction
	}{
		{"/login", `not json`, http.StatusBadRequest, domain.ActionLoginError},
		{"/signup", `not json`, http.StatusBadRequest, domain.ActionSignupRejected},
		{"/login", `{"username":"alice","password":"x","extra":1}`, http.StatusUnauthorized, domain.ActionLoginBadPassword},
		{"/signup", `{"username":"alice","password":"x","extra":1}`, http.StatusBadRequest, domain.ActionSignupRejected},
		{"/login", `{"username":"alice"}{}`, http.StatusBadRequest, domain.ActionLoginError},
	}
	for _, tc := range cases {
		before := h.auditCount(t)

		resp, err := http.Post(h.srv.URL+tc.path, "application/json", strings.NewReader(tc.body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, tc.status, resp.StatusCode, "%s %s", tc.path, tc.body)

		require.Equal(t, before+1, h.auditCount(t), "%s %s", tc.path, tc.body)
		entries, err := h.router.AuditService.Query(context.Background(), domain.AuditFilter{Limit: 1})
		require.NoError(t, err)
		require.Equal(t, tc.action, entries[0].Action, "%s %s", tc.path, tc.body)
		require.Equal(t, "127.0.0.1", entries[0].IPAddress)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signup(t, "alice", authsdk.RoleDoctor)
	alice := h.login(t, "alice")

	_, err := alice.Me(ctx)
	require.NoError(t, err)

	require.NoError(t, alice.Logout(ctx))

	_, err = alice.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)
}

func TestUnauthenticatedRequestIsAudited(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	admin := h.admin(t)

	_, err := h.client.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)

	_, err = h.client.WithToken("forged").Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)

	entries, err := admin.AuditLogs(ctx, authsdk.AuditLogQuery{Action: string(domain.ActionAccessUnauthenticated)})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Contains(t, entries[0].Details, "GET /me")
}

func TestAdminUserManagement(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	admin := h.admin(t)
	bob := h.signup(t, "bob", authsdk.RolePatient)

	users, err := admin.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	u, err := admin.GetUser(ctx, bob.UserID)
	require.NoError(t, err)
	require.Equal(t, "Patient", u.Role)
	require.Equal(t, string(domain.TOTPUnverified), u.TwoFAState)

	u, err = admin.UpdateUserRole(ctx, bob.UserID, authsdk.RoleDoctor)
	require.NoError(t, err)
	require.Equal(t, "Doctor", u.Role)

	_, err = admin.UpdateUserRole(ctx, bob.UserID, "Surgeon")
	requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)

	u, err = admin.SetUserStatus(ctx, bob.UserID, false)
	require.NoError(t, err)
	require.False(t, u.Active)

	_, err = h.client.Login(ctx, authsdk.LoginRequest{Username: "bob", Password: "bob-password"})
	requireAPIError(t, err, http.StatusForbidden, authsdk.ErrorCodeAccountDisabled)

	_, err = admin.GetUser(ctx, "01J0000000000000000000000")
	requireAPIError(t, err, http.StatusNotFound, authsdk.ErrorCodeNotFound)
}

func TestForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	h := newHarness(t, true)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/login",
		strings.NewReader(`{"username":"ghost","password":"boo"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.99")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	entries, err := h.router.AuditService.Query(context.Background(), domain.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, domain.ActionLoginUnknownUser, entries[0].Action)
	require.Equal(t, "127.0.0.1", entries[0].IPAddress)
}

func TestUpdateStatusRequiresActive(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signup(t, "root", authsdk.RoleAdmin)
	login, err := h.client.Login(ctx, authsdk.LoginRequest{Username: "root", Password: "root-password"})
	require.NoError(t, err)
	bob := h.signup(t, "bob", authsdk.RolePatient)

	for _, body := range []string{`{}`, `{"active":null}`, `{"activ":false}`} {
		before := h.auditCount(t)

		req, err := http.NewRequest(http.MethodPut, h.srv.URL+"/admin/users/"+bob.UserID+"/status", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+login.Token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

		require.Equal(t, before, h.auditCount(t), body)
	}

	u, err := h.client.WithToken(login.Token).GetUser(ctx, bob.UserID)
	require.NoError(t, err)
	require.True(t, u.Active)
}

func TestAuditDownloadAndVerify(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	admin := h.admin(t)
	_, _ = h.client.Login(ctx, authsdk.LoginRequest{Username: "ghost", Password: "boo"})

	raw, err := admin.DownloadAuditLogs(ctx, authsdk.AuditLogQuery{})
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"id", "username", "email", "action", "ipAddress", "details", "timestamp"}, rows[0])
	require.Len(t, rows, 4) // header, signup, login, ghost
	require.Equal(t, "N/A", rows[1][1])

	report, err := admin.VerifyAuditChain(ctx)
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 3, report.Checked)

	_, err = admin.AuditLogs(ctx, authsdk.AuditLogQuery{Action: "Not An Action"})
	requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
}

func TestRoleScopedRouteGroup(t *testing.T) {
	h := newHarness(t, true)
	h.router.Handle("GET /doctor/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := gatewayhttp.PrincipalFrom(r.Context())
		httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "pong " + p.Username})
	}), domain.RoleDoctor)

	h.signup(t, "alice", authsdk.RoleDoctor)
	h.signup(t, "pat", authsdk.RolePatient)

	get := func(c *authsdk.Client) *http.Response {
		req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/doctor/ping", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+c.Token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := get(h.login(t, "alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "pong alice")

	require.Equal(t, http.StatusForbidden, get(h.login(t, "pat")).StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	live, err := h.client.Livez(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)

	resp, err := http.Get(h.srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, _ = h.client.Login(ctx, authsdk.LoginRequest{Username: "ghost", Password: "boo"})

	resp, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `gateway_http_requests_total{method="POST",route="POST /login",status="401"} 1`)
	require.Contains(t, string(body), `gateway_auth_attempts_total{operation="login",outcome="unknown_user"} 1`)
}

func TestResponsesCarryRequestID(t *testing.T) {
	h := newHarness(t, true)

	resp, err := http.Get(h.srv.URL + "/livez")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get(slogx.HeaderRequestID))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}
