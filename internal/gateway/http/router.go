package http

import (
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/observability"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"

	_ "github.com/aussiebroadwan/securehealth/api/gateway" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	gate    *Gate
	logger  *slog.Logger
	metrics *observability.Metrics

	AuthService  *service.AuthService
	AuditService *service.AuditService
	UserService  *service.UserService

	// UniformAuthErrors answers unknown user and bad password identically.
	UniformAuthErrors bool

	// Ready lists the dependencies checked by /readyz.
	Ready map[string]Pinger

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

func NewRouter(
	verifier jwtx.Verifier,
	denylist service.DenyList,
	auditor service.Auditor,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux: http.NewServeMux(),
		gate: &Gate{
			Verifier: verifier,
			DenyList: denylist,
			Audit:    auditor,
			Metrics:  metrics,
		},
		logger:  logger,
		metrics: metrics,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recover(),
		httpx.MaxBodyBytes(maxBodyBytes),
	}

	return r
}

// Gate exposes the authorization gate for route groups mounted elsewhere.
func (r *Router) Gate() *Gate { return r.gate }

// Handle mounts h behind the gate. With no roles any authenticated principal
// with a known role is admitted.
func (r *Router) Handle(pattern string, h http.Handler, roles ...domain.Role) {
	if len(roles) == 0 {
		roles = domain.Roles
	}
	r.Mux.Handle(pattern, r.metrics.Instrument(pattern,
		httpx.Chain(h,
			r.gate.Authenticate,
			r.gate.RequireRoles(roles...),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	))
}

func (r *Router) handlePublic(pattern string, h http.Handler, mws ...httpx.Middleware) {
	r.Mux.Handle(pattern, r.metrics.Instrument(pattern, httpx.Chain(h, mws...)))
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerAdmin()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			SecureHealth Gateway API
//	@version		0.1.0
//	@description	Authentication and authorization gateway for the SecureHealth platform.
//	@description
//	@description				Session tokens are HS256 JWTs valid for 24 hours. Every security decision is written to a hash-chained audit log.
//
//	@contact.name				AussieBroadWAN Team
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		AuthService:   r.AuthService,
		UniformErrors: r.UniformAuthErrors,
	}

	// Credential endpoints - strict rate limit by IP (brute force)
	r.handlePublic("POST /signup", http.HandlerFunc(h.HandleSignup),
		httpx.RateLimitByIP(httpx.StrictLimit),
	)
	r.handlePublic("POST /login", http.HandlerFunc(h.HandleLogin),
		httpx.RateLimitByIP(httpx.StrictLimit),
	)

	r.Handle("POST /logout", http.HandlerFunc(h.HandleLogout))
	r.Handle("GET /me", http.HandlerFunc(h.HandleMe))
}

func (r *Router) registerAdmin() {
	audit := &AuditHandler{AuditService: r.AuditService}
	users := &UsersHandler{UserService: r.UserService}

	r.Handle("GET /admin/logs", http.HandlerFunc(audit.HandleList), domain.RoleAdmin)
	r.Handle("GET /admin/logs/download", http.HandlerFunc(audit.HandleDownload), domain.RoleAdmin)
	r.Handle("GET /admin/logs/verify", http.HandlerFunc(audit.HandleVerify), domain.RoleAdmin)

	r.Handle("GET /admin/users", http.HandlerFunc(users.HandleList), domain.RoleAdmin)
	r.Handle("GET /admin/users/{id}", http.HandlerFunc(users.HandleGet), domain.RoleAdmin)
	r.Handle("PUT /admin/users/{id}/role", http.HandlerFunc(users.HandleUpdateRole), domain.RoleAdmin)
	r.Handle("PUT /admin/users/{id}/status", http.HandlerFunc(users.HandleUpdateStatus), domain.RoleAdmin)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.handlePublic("GET /livez", LivezHandler(),
		httpx.RateLimitByIP(httpx.LenientLimit),
	)
	r.handlePublic("GET /readyz", ReadyzHandler(r.Ready),
		httpx.RateLimitByIP(httpx.LenientLimit),
	)
	if r.MetricsHandler != nil {
		r.Mux.Handle("GET /metrics", r.MetricsHandler)
	}
}
