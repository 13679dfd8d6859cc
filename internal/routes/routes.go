package routes

import (
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth      *handlers.AuthHandler
	Sessions  *handlers.SessionHandler
	TwoFactor *handlers.TwoFactorHandler
	Admin     *handlers.AdminHandler
}

// Route policies. Login carries no class here because the credential
// verifier charges it after the block check. The second factor is charged
// to the same budget so codes cannot be guessed faster than passwords.
var (
	publicLogin    = middleware.Policy{}
	secondFactor   = middleware.Policy{Class: models.RateClassLogin}
	publicRegister = middleware.Policy{Class: models.RateClassRegister}
	publicRefresh  = middleware.Policy{Class: models.RateClassGlobal}
	lockoutCheck   = middleware.Policy{Class: models.RateClassLockoutCheck}
	authenticated  = middleware.Policy{Authenticated: true}
	sensitive      = middleware.Policy{Class: models.RateClassSensitive, Authenticated: true}
	passwordChange = middleware.Policy{Class: models.RateClassPasswordReset, Authenticated: true}
	adminOnly      = middleware.Policy{Roles: []string{models.RoleAdmin}}
	adminSensitive = middleware.Policy{Class: models.RateClassSensitive, Roles: []string{models.RoleAdmin}}
)

// RegisterRoutes registers all application routes. Every route states its
// policy; the guard evaluates it before the handler runs.
func RegisterRoutes(router chi.Router, guard *middleware.Guard, h Handlers) {
	// Public routes
	router.With(guard.Enforce(publicLogin)).Post("/auth/login", h.Auth.Login)
	router.With(guard.Enforce(secondFactor)).Post("/auth/login/second-factor", h.Auth.CompleteSecondFactor)
	router.With(guard.Enforce(publicRegister)).Post("/auth/register", h.Auth.Register)
	router.With(guard.Enforce(publicRefresh)).Post("/auth/refresh", h.Auth.Refresh)
	router.With(guard.Enforce(publicRefresh)).Post("/auth/refresh/rotate", h.Auth.Rotate)
	router.With(guard.Enforce(lockoutCheck)).Post("/auth/lockout/check", h.Auth.LockoutCheck)

	// Any authenticated caller
	router.Group(func(r chi.Router) {
		r.Use(guard.Enforce(authenticated))

		r.Post("/auth/logout", h.Auth.Logout)
		r.Post("/auth/logout-all", h.Auth.LogoutAll)

		r.Get("/sessions", h.Sessions.ListSessions)
		r.Delete("/sessions", h.Sessions.RevokeOtherSessions)
		r.Delete("/sessions/{id}", h.Sessions.RevokeSession)

		r.Get("/refresh-tokens", h.Sessions.ListRefreshTokens)
		r.Delete("/refresh-tokens", h.Sessions.RevokeAllRefreshTokens)
		r.Delete("/refresh-tokens/{id}", h.Sessions.RevokeRefreshToken)

		r.Get("/auth/2fa/status", h.TwoFactor.Status)
	})

	router.With(guard.Enforce(passwordChange)).Post("/auth/password", h.Auth.ChangePassword)

	// Authenticated and charged against the sensitive budget
	router.Group(func(r chi.Router) {
		r.Use(guard.Enforce(sensitive))

		r.Post("/auth/refresh-tokens", h.Auth.IssueDeviceToken)
		r.Post("/auth/2fa/setup", h.TwoFactor.Setup)
		r.Post("/auth/2fa/enable", h.TwoFactor.Enable)
		r.Post("/auth/2fa/disable", h.TwoFactor.Disable)
		r.Post("/auth/2fa/backup-codes", h.TwoFactor.RegenerateBackupCodes)
	})

	// Admin-only routes
	router.Route("/admin", func(r chi.Router) {
		r.With(guard.Enforce(adminOnly)).Get("/lockouts", h.Admin.ListLockedAccounts)
		r.With(guard.Enforce(adminSensitive)).Post("/lockouts/{userID}/unlock", h.Admin.UnlockAccount)

		r.With(guard.Enforce(adminOnly)).Get("/addresses", h.Admin.ListBlockedAddresses)
		r.With(guard.Enforce(adminSensitive)).Post("/addresses/block", h.Admin.BlockAddress)
		r.With(guard.Enforce(adminOnly)).Get("/addresses/{address}", h.Admin.InspectAddress)
		r.With(guard.Enforce(adminSensitive)).Delete("/addresses/{address}", h.Admin.UnblockAddress)

		r.With(guard.Enforce(adminOnly)).Get("/security-events", h.Admin.ListSecurityEvents)
		r.With(guard.Enforce(adminOnly)).Get("/metrics", h.Admin.Metrics)
	})
}
