package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SessionServiceInterface defines the session registry operations exposed to owners
type SessionServiceInterface interface {
	List(ctx context.Context, userID, currentTokenID string) ([]models.SessionView, *models.SessionStats, error)
	Revoke(ctx context.Context, userID, sessionID, currentTokenID string) error
	RevokeAll(ctx context.Context, userID, exceptTokenID string) (int64, error)
}

// RefreshTokenServiceInterface defines the refresh token operations exposed to owners
type RefreshTokenServiceInterface interface {
	List(ctx context.Context, userID string) ([]models.RefreshTokenView, error)
	RevokeByID(ctx context.Context, userID, tokenID string) error
	RevokeAll(ctx context.Context, userID, exceptID, reason string) (int64, error)
}

// SessionHandler lets a caller inspect and end their own sessions and
// refresh tokens.
type SessionHandler struct {
	sessions SessionServiceInterface
	tokens   RefreshTokenServiceInterface
	logger   *slog.Logger
}

func NewSessionHandler(sessions SessionServiceInterface, tokens RefreshTokenServiceInterface, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens, logger: logger}
}

// SessionListResponse is the body of GET /sessions
type SessionListResponse struct {
	Sessions []models.SessionView `json:"sessions"`
	Stats    *models.SessionStats `json:"stats"`
}

// RefreshTokenListResponse is the body of GET /refresh-tokens
type RefreshTokenListResponse struct {
	RefreshTokens []models.RefreshTokenView `json:"refresh_tokens"`
}

// RevokedResponse reports how many credentials a bulk revoke ended
type RevokedResponse struct {
	Revoked int64 `json:"revoked"`
}

// ListSessions handles GET /sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, stats, err := h.sessions.List(r.Context(), claims.UserID, claims.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionView{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions, Stats: stats})
}

// RevokeSession handles DELETE /sessions/{id}. The caller's own session
// ends through logout instead.
func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session ID is required")
		return
	}

	if err := h.sessions.Revoke(r.Context(), claims.UserID, sessionID, claims.ID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeOtherSessions handles DELETE /sessions and keeps the current one
func (h *SessionHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	n, err := h.sessions.RevokeAll(r.Context(), claims.UserID, claims.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{Revoked: n})
}

// ListRefreshTokens handles GET /refresh-tokens
func (h *SessionHandler) ListRefreshTokens(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	tokens, err := h.tokens.List(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RefreshTokenListResponse{RefreshTokens: tokens})
}

// RevokeRefreshToken handles DELETE /refresh-tokens/{id}. Another user's
// token is refused with 403.
func (h *SessionHandler) RevokeRefreshToken(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	tokenID := chi.URLParam(r, "id")
	if tokenID == "" {
		pkghttp.WriteBadRequest(w, "Token ID is required")
		return
	}

	if err := h.tokens.RevokeByID(r.Context(), claims.UserID, tokenID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeAllRefreshTokens handles DELETE /refresh-tokens
func (h *SessionHandler) RevokeAllRefreshTokens(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	n, err := h.tokens.RevokeAll(r.Context(), claims.UserID, "", models.RevokeReasonRevokeAll)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{Revoked: n})
}
