package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

const msgAuthFailed = "Authentication failed"

// writeServiceError renders a service error. Every reason an identity could
// fail to sign in collapses into the same 401 so callers cannot tell an
// unknown account from a wrong password.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	now := time.Now()

	var (
		locked  *models.LockoutError
		limited *models.RateLimitError
		blocked *models.AddressBlockedError
		weak    *pkgauth.PasswordValidationError
		invalid *ValidationError
	)
	switch {
	case errors.As(err, &locked):
		pkghttp.WriteAccountLocked(w, "Account temporarily locked due to repeated failed sign-in attempts", locked.RetryAfter(now))
	case errors.As(err, &limited):
		pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later", limited.RetryAfter(now))
	case errors.As(err, &blocked):
		pkghttp.WriteAddressBlocked(w, "Too many suspicious requests from this address", blocked.RetryAfter(now))
	case errors.As(err, &weak):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", "Password does not meet requirements", strings.Join(weak.Errors, "; "))
	case errors.As(err, &invalid):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "validation_failed", "Request validation failed", invalid.Error())

	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteUnauthorized(w, msgAuthFailed)
	case errors.Is(err, models.ErrInvalidSecondFactorCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_code", "Invalid verification code")
	case errors.Is(err, models.ErrHandshakeExpiredOrReused):
		pkghttp.WriteError(w, http.StatusUnauthorized, "handshake_expired", "Sign-in challenge expired, please sign in again")
	case errors.Is(err, models.ErrRefreshTokenInvalid),
		errors.Is(err, models.ErrRefreshTokenExpired),
		errors.Is(err, models.ErrRefreshTokenRevoked):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_refresh_token", "Refresh token is invalid or expired")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication required")

	case errors.Is(err, models.ErrCannotRevokeCurrentSession):
		pkghttp.WriteBadRequest(w, "Use logout to end the current session")
	case errors.Is(err, models.ErrTwoFactorNotSetUp):
		pkghttp.WriteBadRequest(w, "Two-factor authentication has not been set up")
	case errors.Is(err, models.ErrTwoFactorNotEnabled):
		pkghttp.WriteBadRequest(w, "Two-factor authentication is not enabled")
	case errors.Is(err, models.ErrTwoFactorAlreadyEnabled):
		pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")

	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Access denied")
	case errors.Is(err, models.ErrSessionNotFound):
		pkghttp.WriteNotFound(w, "Session not found")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")

	default:
		logger.Error("request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "An unexpected error occurred")
	}
}
