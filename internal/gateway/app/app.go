package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/securehealth/internal/gateway/http"
	"github.com/aussiebroadwan/securehealth/internal/gateway/observability"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store"
	redisstore "github.com/aussiebroadwan/securehealth/internal/gateway/store/drivers/redis"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/securehealth/pkg/cryptox"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
	"github.com/aussiebroadwan/securehealth/pkg/totpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the gateway with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	redis    *redisstore.DenyList // nil unless the redis backend is selected
	denylist service.DenyList
	hasher   *cryptox.Hasher
	signer   jwtx.Signer
	verifier jwtx.Verifier
	registry *prometheus.Registry
	metrics  *observability.Metrics

	// Services
	auditService        *service.AuditService
	authService         *service.AuthService
	userService         *service.UserService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "securehealth-gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = observability.NewMetrics(app.registry)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initCrypto(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initDenyList(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("gateway starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"totp_policy", app.cfg.TOTPPolicy,
		"denylist", app.cfg.DenyListBackend,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("gateway stopped")
	return nil
}

// Handler exposes the fully wired router, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initCrypto loads the pepper and the signing secret.
func (app *Application) initCrypto() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}

	app.hasher, err = cryptox.NewHasher(cryptox.HasherConfig{
		Algorithm: cryptox.Algorithm(app.cfg.HashAlgorithm),
		Argon2: cryptox.Argon2Params{
			MemoryKiB:   uint32(app.cfg.Argon2MemoryKiB),
			Iterations:  uint32(app.cfg.Argon2Iterations),
			Parallelism: uint8(app.cfg.Argon2Parallelism),
		},
		BcryptCost:  app.cfg.BcryptCost,
		Pepper:      pepper,
		Concurrency: app.cfg.HashConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to configure password hasher: %w", err)
	}

	secret, generated, err := app.cfg.loadJWTSecret()
	if err != nil {
		return fmt.Errorf("failed to load jwt secret: %w", err)
	}
	if generated {
		app.logger.Warn("no jwt secret configured, generated an ephemeral one; sessions will not survive a restart")
	}

	signer, err := jwtx.NewSignerHS256(secret)
	if err != nil {
		return err
	}
	verifier, err := jwtx.NewVerifierHS256(secret, app.cfg.Issuer)
	if err != nil {
		return err
	}
	app.signer, app.verifier = signer, verifier
	return nil
}

func (app *Application) initDenyList() error {
	switch app.cfg.DenyListBackend {
	case DenyListRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dl, err := redisstore.NewDenyList(ctx, app.cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redis = dl
		app.denylist = dl
	default:
		dl, err := service.NewStoreDenyList(app.db, app.cfg.DenyListCacheSize)
		if err != nil {
			return err
		}
		app.denylist = dl
	}
	app.logger.Info("token deny-list ready", "backend", app.cfg.DenyListBackend)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.auditService = &service.AuditService{
		Store:   app.db,
		Metrics: app.metrics,
	}

	policy, _ := service.ParseTOTPPolicy(app.cfg.TOTPPolicy) // validated in New
	app.authService = &service.AuthService{
		Store:    app.db,
		Hasher:   app.hasher,
		TOTP:     totpx.NewEngine(app.cfg.TOTPIssuer),
		Signer:   app.signer,
		Audit:    app.auditService,
		DenyList: app.denylist,
		Metrics:  app.metrics,
		Issuer:   app.cfg.Issuer,
		TokenTTL: app.cfg.TokenTTL,
		Policy:   policy,
	}

	app.userService = &service.UserService{
		Store: app.db,
		Audit: app.auditService,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.metrics,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	proxies, _ := httpx.ParseTrustedProxies(app.cfg.TrustedProxies) // validated in New
	httpx.SetTrustedProxies(proxies)
	if len(proxies) > 0 {
		app.logger.Info("honouring forwarding headers", "trusted_proxies", app.cfg.TrustedProxies)
	}

	router := httpapi.NewRouter(
		app.verifier,
		app.denylist,
		app.auditService,
		app.metrics,
		app.logger,
	)

	// Wire services to router
	router.AuthService = app.authService
	router.AuditService = app.auditService
	router.UserService = app.userService
	router.UniformAuthErrors = app.cfg.UniformAuthErrors
	router.Ready = map[string]httpapi.Pinger{"database": app.db}
	if app.redis != nil {
		router.Ready["redis"] = app.redis
	}
	router.MetricsHandler = observability.Handler(app.registry)
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
