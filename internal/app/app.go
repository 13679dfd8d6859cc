package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/observability"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the external resources the application is built on.
type Deps struct {
	DB       *database.DB
	Store    ratelimit.Store
	Notifier services.Notifier
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// App is the wired service graph.
type App struct {
	Router  http.Handler
	Sweeper *background.Sweeper
	Users   *repositories.UserRepository
	Hasher  *pkgauth.PasswordHasher

	dispatcher *services.NotificationDispatcher
}

type healthResponse struct {
	Status   string              `json:"status"`
	Database string              `json:"database"`
	Pool     database.PoolHealth `json:"pool"`
}

// New wires repositories, services, handlers and routes.
func New(cfg *config.Config, deps Deps) (*App, error) {
	logger := deps.Logger
	db := deps.DB
	dispatcher := services.NewNotificationDispatcher(deps.Notifier, cfg.Email.MaxSendRate, logger)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	refreshRepo := repositories.NewRefreshTokenRepository(db)
	twoFactorRepo := repositories.NewTwoFactorRepository(db)
	handshakeRepo := repositories.NewHandshakeRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Token and crypto primitives
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	totpManager, err := auth.NewTOTPManager(cfg.TwoFactor.EncryptionKey, cfg.TwoFactor.Issuer)
	if err != nil {
		return nil, err
	}
	hasher := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Initialize services
	eventService := services.NewSecurityEventService(eventRepo, logger)
	lockoutService := services.NewLockoutService(userRepo, LockoutPolicy(cfg.Lockout), eventService, dispatcher, deps.Metrics, logger)
	limiterService := services.NewRateLimiterService(deps.Store, cfg.RateLimit, loginAttemptRepo, eventService, deps.Metrics, logger)
	sessionService := services.NewSessionService(sessionRepo, eventService, logger)
	refreshService := services.NewRefreshTokenService(
		refreshRepo, userRepo, tokenManager, sessionService,
		services.RefreshTTLConfig{Normal: cfg.Auth.RefreshTokenExpiry, RememberMe: cfg.Auth.RefreshTokenRememberExpiry},
		eventService, dispatcher, deps.Metrics, logger,
	)
	twoFactorService := services.NewTwoFactorService(
		twoFactorRepo, handshakeRepo, userRepo, totpManager, tokenManager,
		services.TwoFactorConfig{BackupCodeCount: cfg.TwoFactor.BackupCodeCount, HandshakeMaxAttempts: cfg.TwoFactor.HandshakeMaxAttempts},
		eventService, deps.Metrics, logger,
	)
	verifier := services.NewCredentialVerifier(
		userRepo, loginAttemptRepo, lockoutService, limiterService, hasher, timingDelay,
		auditLogger, deps.Metrics, cfg.Auth.RequireEmailVerification, logger,
	)
	authService := services.NewAuthService(
		userRepo, verifier, twoFactorService, sessionService, refreshService,
		lockoutService, tokenManager, hasher, eventService, auditLogger, logger,
	)
	adminService := services.NewAdminService(
		lockoutService, limiterService, eventService, loginAttemptRepo, sessionRepo, refreshRepo, logger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authenticator := auth.NewAuthenticator(tokenManager, sessionService)
	guard := middlewareCustom.NewGuard(limiterService, authenticator, userRepo, ipConfig, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middlewareCustom.GlobalRateLimit(cfg.RateLimit.Global.Max, cfg.RateLimit.Global.Window, ipConfig))

	// Register routes
	routes.RegisterRoutes(router, guard, routes.Handlers{
		Auth:      handlers.NewAuthHandler(authService, ipConfig, logger),
		Sessions:  handlers.NewSessionHandler(sessionService, refreshService, logger),
		TwoFactor: handlers.NewTwoFactorHandler(twoFactorService, userRepo, logger),
		Admin:     handlers.NewAdminHandler(adminService, logger),
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pool, err := db.HealthCheck(r.Context())
		if err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Database: "down", Pool: pool})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, healthResponse{Status: "healthy", Database: "up", Pool: pool})
	})

	sweeper := background.NewSweeper(cfg.Auth.CleanupInterval, deps.Metrics, logger, MaintenanceTasks(cfg, db, limiterService)...)

	return &App{
		Router:     router,
		Sweeper:    sweeper,
		Users:      userRepo,
		Hasher:     hasher,
		dispatcher: dispatcher,
	}, nil
}

// Close drains queued notifications.
func (a *App) Close(ctx context.Context) error {
	return a.dispatcher.Close(ctx)
}

// MaintenanceTasks builds the sweeper tasks over the database tables and
// the limiter store.
func MaintenanceTasks(cfg *config.Config, db *database.DB, limiter *services.RateLimiterService) []background.Task {
	return background.Tasks(
		background.Stores{
			Sessions:       repositories.NewSessionRepository(db),
			RefreshTokens:  repositories.NewRefreshTokenRepository(db),
			Handshakes:     repositories.NewHandshakeRepository(db),
			LoginAttempts:  repositories.NewLoginAttemptRepository(db),
			SecurityEvents: repositories.NewSecurityEventRepository(db),
			Lockouts:       repositories.NewUserRepository(db),
			Limiter:        limiter,
		},
		background.Retention{
			LoginAttempts:  cfg.Auth.LoginAttemptRetention,
			SecurityEvents: cfg.Auth.SecurityEventRetention,
			RevokedTokens:  cfg.Auth.RevokedTokenRetention,
		},
	)
}

// LockoutPolicy converts the configured lockout settings.
func LockoutPolicy(c config.LockoutConfig) models.LockoutPolicy {
	return models.LockoutPolicy{
		MaxAttempts:   c.MaxAttempts,
		AttemptWindow: c.AttemptWindow,
		BaseDuration:  c.BaseDuration,
		MaxDuration:   c.MaxDuration,
		Progressive:   c.Progressive,
	}
}
