package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var gateSecret = []byte(strings.Repeat("g", 32))

type recordingAuditor struct {
	mu     sync.Mutex
	events []service.AuditEvent
	err    error
}

func (a *recordingAuditor) Record(_ context.Context, ev service.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return a.err
}

type memDenyList struct {
	revoked map[string]bool
	err     error
}

func (d *memDenyList) Revoke(_ context.Context, t domain.RevokedToken) error {
	d.revoked[t.JTI] = true
	return nil
}

func (d *memDenyList) IsRevoked(_ context.Context, jti string) (bool, error) {
	return d.revoked[jti], d.err
}

func newTestGate(t *testing.T) (*Gate, *recordingAuditor, *memDenyList) {
	t.Helper()
	verifier, err := jwtx.NewVerifierHS256(gateSecret, "test")
	require.NoError(t, err)
	audit := &recordingAuditor{}
	deny := &memDenyList{revoked: map[string]bool{}}
	return &Gate{Verifier: verifier, DenyList: deny, Audit: audit}, audit, deny
}

func mintToken(t *testing.T, role string) (string, jwtx.Claims) {
	t.Helper()
	signer, err := jwtx.NewSignerHS256(gateSecret)
	require.NoError(t, err)
	c := jwtx.NewSessionClaims("user-1", "alice", role, "test", time.Hour, time.Now())
	tok, err := signer.Sign(c)
	require.NoError(t, err)
	return tok, c
}

func gated(g *Gate, roles ...domain.Role) http.Handler {
	return httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(p.Username + ":" + string(p.Role)))
	}), g.Authenticate, g.RequireRoles(roles...))
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/logs", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGateAdmitsPermittedRole(t *testing.T) {
	g, audit, _ := newTestGate(t)
	tok, _ := mintToken(t, "Admin")

	rec := serve(gated(g, domain.RoleAdmin), tok)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice:Admin", rec.Body.String())
	require.Empty(t, audit.events)
}

func TestGateUnauthenticated(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", func() string {
			s, _ := jwtx.NewSignerHS256([]byte(strings.Repeat("x", 32)))
			tok, _ := s.Sign(jwtx.NewSessionClaims("u", "eve", "Admin", "test", time.Hour, time.Now()))
			return tok
		}()},
		{"expired", func() string {
			s, _ := jwtx.NewSignerHS256(gateSecret)
			tok, _ := s.Sign(jwtx.NewSessionClaims("u", "eve", "Admin", "test", time.Hour, time.Now().Add(-2*time.Hour)))
			return tok
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, audit, _ := newTestGate(t)

			rec := serve(gated(g, domain.RoleAdmin), tt.token)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Contains(t, rec.Body.String(), `"error":"unauthenticated"`)
			require.Len(t, audit.events, 1)
			require.Equal(t, domain.ActionAccessUnauthenticated, audit.events[0].Action)
			require.Nil(t, audit.events[0].UserID)
			require.Equal(t, "10.1.2.3", audit.events[0].IPAddress)
		})
	}
}

func TestGateRevokedToken(t *testing.T) {
	g, audit, deny := newTestGate(t)
	tok, c := mintToken(t, "Admin")
	deny.revoked[c.ID] = true

	rec := serve(gated(g, domain.RoleAdmin), tok)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, audit.events[0].Details, "revoked")
}

func TestGateDenyListFailureFailsClosed(t *testing.T) {
	g, _, deny := newTestGate(t)
	deny.err = errors.New("redis down")
	tok, _ := mintToken(t, "Admin")

	rec := serve(gated(g, domain.RoleAdmin), tok)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGateForbidden(t *testing.T) {
	g, audit, _ := newTestGate(t)
	tok, _ := mintToken(t, "Doctor")

	rec := serve(gated(g, domain.RoleAdmin), tok)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Access denied")
	require.Len(t, audit.events, 1)
	require.Equal(t, domain.ActionAccessForbidden, audit.events[0].Action)
	require.NotNil(t, audit.events[0].UserID)
	require.Equal(t, "user-1", *audit.events[0].UserID)
}

func TestGateUnknownRoleFailsClosed(t *testing.T) {
	g, audit, _ := newTestGate(t)
	tok, _ := mintToken(t, "Nurse")

	rec := serve(gated(g, domain.Roles...), tok)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, domain.ActionAccessForbidden, audit.events[0].Action)

	// Not even an allow-list naming the role admits it.
	rec = serve(gated(g, domain.Role("Nurse")), tok)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGateAuditFailureKeepsDecision(t *testing.T) {
	g, audit, _ := newTestGate(t)
	audit.err = errors.New("disk full")

	rec := serve(gated(g, domain.RoleAdmin), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "failed", rec.Header().Get(HeaderAuditStatus))
}

func TestRequireRolesWithoutAuthenticate(t *testing.T) {
	g, _, _ := newTestGate(t)
	h := g.RequireRoles(domain.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := serve(h, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIErrorMapping(t *testing.T) {
	require.Equal(t, "Invalid username or password", apiError(service.ErrUnknownUser, true).Message)
	require.Equal(t, "Invalid username or password", apiError(service.ErrBadPassword, true).Message)
	require.Equal(t, "User not found", apiError(service.ErrUnknownUser, false).Message)
	require.Equal(t, "Invalid password", apiError(service.ErrBadPassword, false).Message)
	require.Equal(t, http.StatusBadRequest, apiError(service.ErrTwoFactorRequired, true).StatusCode)
	require.Equal(t, http.StatusUnauthorized, apiError(service.ErrBadTwoFactor, true).StatusCode)
	require.Equal(t, http.StatusForbidden, apiError(service.ErrAccountDisabled, true).StatusCode)
	require.Equal(t, "Invalid role specified", apiError(service.ErrInvalidRole, true).Message)
	require.Equal(t, "since must be before until",
		apiError(fmt.Errorf("%w: since must be before until", service.ErrValidation), true).Message)
	require.Equal(t, authsdk.ErrInvalidRequest.Message, apiError(service.ErrValidation, true).Message)
	require.Equal(t, http.StatusInternalServerError, apiError(errors.New("boom"), true).StatusCode)
}
