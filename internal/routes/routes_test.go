package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// countingLimiter never denies and records which classes were charged.
type countingLimiter struct {
	charged map[models.RateClass]int
}

func (l *countingLimiter) CheckBlocked(context.Context, string) error { return nil }

func (l *countingLimiter) Check(_ context.Context, _ string, class models.RateClass) (*models.RateDecision, error) {
	l.charged[class]++
	return &models.RateDecision{Allowed: true}, nil
}

// headerAuthenticator treats the bearer value as the user id.
type headerAuthenticator struct{}

func (headerAuthenticator) Authenticate(r *http.Request) (*models.TokenClaims, error) {
	token, ok := pkghttp.BearerToken(r)
	if !ok {
		return nil, models.ErrUnauthorized
	}
	claims := &models.TokenClaims{UserID: token, Type: models.TokenTypeAccess}
	claims.ID = "tok-" + token
	return claims, nil
}

func newRouter(t *testing.T) (http.Handler, *countingLimiter) {
	t.Helper()
	limiter := &countingLimiter{charged: map[models.RateClass]int{}}
	users := handlers.MockUserLookup{
		"root":  {ID: "root", Role: models.RoleAdmin, Status: models.UserStatusActive},
		"alice": {ID: "alice", Role: models.RoleUser, Status: models.UserStatusActive},
	}
	logger := handlers.TestLogger()
	guard := middleware.NewGuard(limiter, headerAuthenticator{}, users, nil, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, guard, Handlers{
		Auth:      handlers.NewAuthHandler(&handlers.MockAuthService{}, nil, logger),
		Sessions:  handlers.NewSessionHandler(&handlers.MockSessionService{}, &handlers.MockRefreshTokenService{}, logger),
		TwoFactor: handlers.NewTwoFactorHandler(&handlers.MockTwoFactorService{}, users, logger),
		Admin:     handlers.NewAdminHandler(&handlers.MockAdminService{}, logger),
	})
	return router, limiter
}

func do(router http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoutes_AuthenticationRequired(t *testing.T) {
	router, _ := newRouter(t)

	for _, route := range []struct{ method, path string }{
		{"GET", "/sessions"},
		{"DELETE", "/sessions"},
		{"DELETE", "/sessions/s1"},
		{"GET", "/refresh-tokens"},
		{"DELETE", "/refresh-tokens/rt1"},
		{"POST", "/auth/logout"},
		{"POST", "/auth/logout-all"},
		{"POST", "/auth/password"},
		{"POST", "/auth/refresh-tokens"},
		{"GET", "/auth/2fa/status"},
		{"POST", "/auth/2fa/setup"},
		{"GET", "/admin/metrics"},
	} {
		w := do(router, route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}
}

func TestRoutes_AdminRequiresRole(t *testing.T) {
	router, _ := newRouter(t)

	w := do(router, "GET", "/admin/lockouts", "alice", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, "GET", "/admin/lockouts", "root", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, "GET", "/admin/addresses/198.51.100.4", "root", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_ChargeTheirClass(t *testing.T) {
	router, limiter := newRouter(t)

	do(router, "POST", "/auth/login", "", `{"email":"a@example.com","password":"x"}`)
	do(router, "POST", "/auth/register", "", `{"email":"a@example.com","password":"x","name":"A"}`)
	do(router, "POST", "/auth/lockout/check", "", `{"email":"a@example.com"}`)
	do(router, "POST", "/auth/2fa/setup", "alice", "")
	do(router, "POST", "/auth/password", "alice", `{"current_password":"a","new_password":"b"}`)
	do(router, "GET", "/sessions", "alice", "")

	assert.Zero(t, limiter.charged[models.RateClassLogin], "login is charged by the verifier")

	do(router, "POST", "/auth/login/second-factor", "", `{"handshake_token":"h","code":"123456"}`)
	assert.Equal(t, 1, limiter.charged[models.RateClassLogin])
	assert.Equal(t, 1, limiter.charged[models.RateClassRegister])
	assert.Equal(t, 1, limiter.charged[models.RateClassLockoutCheck])
	assert.Equal(t, 1, limiter.charged[models.RateClassSensitive])
	assert.Equal(t, 1, limiter.charged[models.RateClassPasswordReset])
}

func TestRoutes_PublicLoginReachesHandler(t *testing.T) {
	router, _ := newRouter(t)

	w := do(router, "POST", "/auth/login", "", `{"email":"a@example.com","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication failed")
}
