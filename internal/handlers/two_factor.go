package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// TwoFactorServiceInterface defines second factor management for the owner
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, user *models.User) (*models.TwoFactorSetup, error)
	Enable(ctx context.Context, userID, code string) error
	Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
	Disable(ctx context.Context, userID, code string) error
	RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error)
}

// UserLookup loads the identity behind the caller's token
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TwoFactorHandler handles second factor enrollment and removal
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
	users   UserLookup
	logger  *slog.Logger
}

func NewTwoFactorHandler(service TwoFactorServiceInterface, users UserLookup, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{service: service, users: users, logger: logger}
}

// TwoFactorCodeRequest carries a TOTP or backup code
type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,min=6,max=32"`
}

// BackupCodesResponse returns freshly generated backup codes. They are
// shown once and only their hashes are kept.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// Status handles GET /auth/2fa/status
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	status, err := h.service.Status(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// Setup handles POST /auth/2fa/setup. The secret stays pending until Enable
// confirms it.
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}

	setup, err := h.service.Setup(r.Context(), user)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, setup)
}

// Enable handles POST /auth/2fa/enable
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Enable(r.Context(), claims.UserID, strings.TrimSpace(req.Code)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disable handles POST /auth/2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, strings.TrimSpace(req.Code)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes handles POST /auth/2fa/backup-codes
func (h *TwoFactorHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID, strings.TrimSpace(req.Code))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}
