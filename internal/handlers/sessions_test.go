package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSessions_MarksCurrent(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	sessions := &handlers.MockSessionService{
		ListFunc: func(ctx context.Context, userID, currentTokenID string) ([]models.SessionView, *models.SessionStats, error) {
			require.Equal(t, "u1", userID)
			require.Equal(t, "tok-1", currentTokenID)
			return []models.SessionView{
					{ID: "s1", Device: "Safari on macOS", Address: "203.0.113.xxx", LastActive: now, Current: true},
					{ID: "s2", Device: "Chrome on Android", Address: "198.51.100.xxx", LastActive: now.Add(-time.Hour)},
				}, &models.SessionStats{Total: 2, ByDevice: map[string]int{"desktop": 1, "mobile": 1}},
				nil
		},
	}
	h := handlers.NewSessionHandler(sessions, &handlers.MockRefreshTokenService{}, handlers.TestLogger())

	w := httptest.NewRecorder()
	h.ListSessions(w, handlers.WithAuthContext(httptest.NewRequest("GET", "/sessions", nil), "u1", "tok-1"))

	var resp handlers.SessionListResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Sessions, 2)
	assert.True(t, resp.Sessions[0].Current)
	assert.Equal(t, "203.0.113.xxx", resp.Sessions[0].Address)
	assert.Equal(t, 2, resp.Stats.Total)
	assert.Equal(t, 1, resp.Stats.ByDevice["mobile"])
}

func TestListSessions_EmptyIsArray(t *testing.T) {
	h := handlers.NewSessionHandler(&handlers.MockSessionService{}, &handlers.MockRefreshTokenService{}, handlers.TestLogger())

	w := httptest.NewRecorder()
	h.ListSessions(w, handlers.WithAuthContext(httptest.NewRequest("GET", "/sessions", nil), "u1", "tok-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":[]`)
}

func TestRevokeSession(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"revoked", nil, http.StatusNoContent},
		{"current session", models.ErrCannotRevokeCurrentSession, http.StatusBadRequest},
		{"not owned or unknown", models.ErrSessionNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &handlers.MockSessionService{
				RevokeFunc: func(ctx context.Context, userID, sessionID, currentTokenID string) error {
					assert.Equal(t, "u1", userID)
					assert.Equal(t, "s2", sessionID)
					assert.Equal(t, "tok-1", currentTokenID)
					return tt.err
				},
			}
			h := handlers.NewSessionHandler(sessions, &handlers.MockRefreshTokenService{}, handlers.TestLogger())

			req := httptest.NewRequest("DELETE", "/sessions/s2", nil)
			req = handlers.WithChiRouteContext(req, map[string]string{"id": "s2"})
			w := httptest.NewRecorder()
			h.RevokeSession(w, handlers.WithAuthContext(req, "u1", "tok-1"))

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRevokeOtherSessions_KeepsCurrent(t *testing.T) {
	var kept string
	sessions := &handlers.MockSessionService{
		RevokeAllFunc: func(ctx context.Context, userID, exceptTokenID string) (int64, error) {
			kept = exceptTokenID
			return 3, nil
		},
	}
	h := handlers.NewSessionHandler(sessions, &handlers.MockRefreshTokenService{}, handlers.TestLogger())

	w := httptest.NewRecorder()
	h.RevokeOtherSessions(w, handlers.WithAuthContext(httptest.NewRequest("DELETE", "/sessions", nil), "u1", "tok-1"))

	var resp handlers.RevokedResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(3), resp.Revoked)
	assert.Equal(t, "tok-1", kept)
}

func TestRevokeRefreshToken_OwnershipEnforced(t *testing.T) {
	tokens := &handlers.MockRefreshTokenService{
		RevokeByIDFunc: func(ctx context.Context, userID, tokenID string) error {
			if tokenID == "theirs" {
				return models.ErrForbidden
			}
			return models.ErrNotFound
		},
	}
	h := handlers.NewSessionHandler(&handlers.MockSessionService{}, tokens, handlers.TestLogger())

	req := handlers.WithChiRouteContext(httptest.NewRequest("DELETE", "/refresh-tokens/theirs", nil), map[string]string{"id": "theirs"})
	w := httptest.NewRecorder()
	h.RevokeRefreshToken(w, handlers.WithAuthContext(req, "u1", "tok-1"))
	handlers.AssertErrorResponse(t, w, http.StatusForbidden, "forbidden")

	req = handlers.WithChiRouteContext(httptest.NewRequest("DELETE", "/refresh-tokens/gone", nil), map[string]string{"id": "gone"})
	w = httptest.NewRecorder()
	h.RevokeRefreshToken(w, handlers.WithAuthContext(req, "u1", "tok-1"))
	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestRefreshTokens_ListAndRevokeAll(t *testing.T) {
	var reason string
	tokens := &handlers.MockRefreshTokenService{
		ListFunc: func(ctx context.Context, userID string) ([]models.RefreshTokenView, error) {
			return []models.RefreshTokenView{{ID: "rt1", Device: "Firefox on Linux", RememberMe: true}}, nil
		},
		RevokeAllFunc: func(ctx context.Context, userID, exceptID, r string) (int64, error) {
			assert.Empty(t, exceptID)
			reason = r
			return 1, nil
		},
	}
	h := handlers.NewSessionHandler(&handlers.MockSessionService{}, tokens, handlers.TestLogger())

	w := httptest.NewRecorder()
	h.ListRefreshTokens(w, handlers.WithAuthContext(httptest.NewRequest("GET", "/refresh-tokens", nil), "u1", "tok-1"))
	var list handlers.RefreshTokenListResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &list)
	require.Len(t, list.RefreshTokens, 1)
	assert.True(t, list.RefreshTokens[0].RememberMe)

	w = httptest.NewRecorder()
	h.RevokeAllRefreshTokens(w, handlers.WithAuthContext(httptest.NewRequest("DELETE", "/refresh-tokens", nil), "u1", "tok-1"))
	var revoked handlers.RevokedResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &revoked)
	assert.Equal(t, int64(1), revoked.Revoked)
	assert.Equal(t, models.RevokeReasonRevokeAll, reason)
}

func TestSessionHandler_RequiresClaims(t *testing.T) {
	h := handlers.NewSessionHandler(&handlers.MockSessionService{}, &handlers.MockRefreshTokenService{}, handlers.TestLogger())

	for name, fn := range map[string]http.HandlerFunc{
		"list sessions":       h.ListSessions,
		"revoke others":       h.RevokeOtherSessions,
		"list refresh tokens": h.ListRefreshTokens,
		"revoke all tokens":   h.RevokeAllRefreshTokens,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, httptest.NewRequest("GET", "/", nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
