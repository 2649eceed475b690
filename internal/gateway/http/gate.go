package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/observability"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
)

type principalKey struct{}

// PrincipalFrom returns the principal attached by Gate.Authenticate.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Gate authenticates bearer tokens and authorizes roles. Every rejection is
// audited before the response is written.
type Gate struct {
	Verifier jwtx.Verifier
	DenyList service.DenyList // optional
	Audit    service.Auditor
	Metrics  *observability.Metrics
}

// Authenticate rejects requests without a valid, unrevoked bearer token and
// attaches the verified Principal to the request context.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, ok := httpx.BearerToken(r)
		if !ok {
			g.unauthenticated(w, r, "missing bearer token")
			return
		}

		claims, err := g.Verifier.Verify(raw)
		if err != nil {
			g.unauthenticated(w, r, "invalid or expired token")
			return
		}

		if g.DenyList != nil {
			revoked, err := g.DenyList.IsRevoked(ctx, claims.ID)
			if err != nil {
				g.Metrics.GateDecision("error")
				slogx.FromContext(ctx).Error("deny-list lookup failed", "jti", claims.ID, "err", err)
				authsdk.ErrServerError.WriteError(w)
				return
			}
			if revoked {
				g.unauthenticated(w, r, "revoked token")
				return
			}
		}

		p := domain.Principal{
			UserID:    claims.Subject,
			Username:  claims.Username,
			Role:      domain.Role(claims.Role),
			TokenID:   claims.ID,
			IssuedAt:  claims.IssuedAtTime(),
			ExpiresAt: claims.ExpiresAtTime(),
		}
		ctx = slogx.With(ctx, "user_id", p.UserID)
		next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, p)))
	})
}

// RequireRoles admits principals whose role is in roles. It must run after
// Authenticate.
func (g *Gate) RequireRoles(roles ...domain.Role) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				g.unauthenticated(w, r, "no principal")
				return
			}
			if !permitted(p.Role, roles) {
				g.forbidden(w, r, p)
				return
			}
			g.Metrics.GateDecision("allow")
			next.ServeHTTP(w, r)
		})
	}
}

// permitted fails closed for any role outside the known set.
func permitted(role domain.Role, allowed []domain.Role) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleDoctor, domain.RolePatient:
		return slices.Contains(allowed, role)
	default:
		return false
	}
}

func (g *Gate) unauthenticated(w http.ResponseWriter, r *http.Request, reason string) {
	g.Metrics.GateDecision("unauthenticated")
	err := g.Audit.Record(r.Context(), service.AuditEvent{
		Action:    domain.ActionAccessUnauthenticated,
		Details:   fmt.Sprintf("%s %s: %s", r.Method, r.URL.Path, reason),
		IPAddress: httpx.ClientIP(r),
	})
	markAudit(w, err)
	authsdk.ErrUnauthenticated.WriteError(w)
}

func (g *Gate) forbidden(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	g.Metrics.GateDecision("forbidden")
	uid := p.UserID
	err := g.Audit.Record(r.Context(), service.AuditEvent{
		Action:    domain.ActionAccessForbidden,
		UserID:    &uid,
		Details:   fmt.Sprintf("%s %s: role %q not permitted for user %s", r.Method, r.URL.Path, p.Role, p.Username),
		IPAddress: httpx.ClientIP(r),
	})
	markAudit(w, err)
	authsdk.ErrForbidden.WriteError(w)
}

var errNoPrincipal = errors.New("no principal in request context")

// mustPrincipal is for handlers mounted behind the gate.
func mustPrincipal(r *http.Request) (domain.Principal, error) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		return domain.Principal{}, errNoPrincipal
	}
	return p, nil
}
