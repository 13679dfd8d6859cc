package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// AuthServiceInterface defines the login state machine used by AuthHandler
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
	CompleteSecondFactor(ctx context.Context, handshakeToken, code string, info models.DeviceInfo) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error)
	RotateRefresh(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error)
	Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error
	LogoutAll(ctx context.Context, claims *models.TokenClaims) error
	Register(ctx context.Context, email, password, name string) error
	ChangePassword(ctx context.Context, claims *models.TokenClaims, currentPassword, newPassword string) error
	IssueDeviceRefreshToken(ctx context.Context, claims *models.TokenClaims, info models.DeviceInfo) (*services.AuthResponse, error)
	LockoutStatus(ctx context.Context, email string) (*models.LockoutStatus, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
	RememberMe bool   `json:"remember_me"`
	DeviceName string `json:"device_name" validate:"max=100"`
}

// SecondFactorRequest completes a login that returned a handshake token
type SecondFactorRequest struct {
	HandshakeToken string `json:"handshake_token" validate:"required"`
	Code           string `json:"code" validate:"required,min=6,max=32"`
	DeviceName     string `json:"device_name" validate:"max=100"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	DeviceName   string `json:"device_name" validate:"max=100"`
}

// LogoutRequest optionally names a refresh token to revoke with the session
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

// DeviceTokenRequest names the device a refresh token is issued to
type DeviceTokenRequest struct {
	DeviceName string `json:"device_name" validate:"max=100"`
}

// LockoutCheckRequest represents the public lockout query
type LockoutCheckRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (h *AuthHandler) deviceInfo(r *http.Request, name string) models.DeviceInfo {
	return models.DeviceInfo{
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  pkghttp.UserAgent(r),
		DeviceName: strings.TrimSpace(name),
	}
}

// Login handles POST /auth/login. The response either carries the tokens or
// a handshake token for the second factor.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		Password:   req.Password,
		RememberMe: req.RememberMe,
		Device:     h.deviceInfo(r, req.DeviceName),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// CompleteSecondFactor handles POST /auth/login/second-factor
func (h *AuthHandler) CompleteSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req SecondFactorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.CompleteSecondFactor(r.Context(), req.HandshakeToken, strings.TrimSpace(req.Code), h.deviceInfo(r, req.DeviceName))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Register handles POST /auth/register. A taken email gets the same 202 as
// a new one.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Register(r.Context(), req.Email, req.Password, req.Name); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Registration received. If the email is not already registered, you can now sign in.",
	})
}

// Refresh handles POST /auth/refresh. The presented token stays valid.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Refresh(r.Context(), req.RefreshToken, h.deviceInfo(r, req.DeviceName))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Rotate handles POST /auth/refresh/rotate. The presented token is revoked
// and replaced.
func (h *AuthHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.RotateRefresh(r.Context(), req.RefreshToken, h.deviceInfo(r, req.DeviceName))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req LogoutRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	if err := h.service.Logout(r.Context(), claims, req.RefreshToken); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles POST /auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IssueDeviceToken handles POST /auth/refresh-tokens
func (h *AuthHandler) IssueDeviceToken(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DeviceTokenRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	resp, err := h.service.IssueDeviceRefreshToken(r.Context(), claims, h.deviceInfo(r, req.DeviceName))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// LockoutCheck handles POST /auth/lockout/check. Unknown emails report the
// same unlocked status as a clean account.
func (h *AuthHandler) LockoutCheck(w http.ResponseWriter, r *http.Request) {
	var req LockoutCheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	status, err := h.service.LockoutStatus(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}
