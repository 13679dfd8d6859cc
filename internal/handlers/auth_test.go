package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthHandler(svc *handlers.MockAuthService) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, nil, handlers.TestLogger())
}

func TestLogin_Success(t *testing.T) {
	var got services.LoginRequest
	mock := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
			got = req
			return &services.AuthResponse{AccessToken: "access-123", TokenType: "Bearer", ExpiresIn: 3600, RefreshToken: "refresh-123", RememberMe: true}, nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:      "User@Example.com",
		Password:   "password123",
		RememberMe: true,
		DeviceName: " Work laptop ",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mock).Login(w, req)

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access-123", resp.AccessToken)
	assert.Equal(t, "refresh-123", resp.RefreshToken)
	assert.True(t, resp.RememberMe)

	assert.Equal(t, "user@example.com", got.Email)
	assert.True(t, got.RememberMe)
	assert.Equal(t, "203.0.113.7", got.Device.IPAddress)
	assert.Contains(t, got.Device.UserAgent, "Safari")
	assert.Equal(t, "Work laptop", got.Device.DeviceName)
}

func TestLogin_SecondFactorChallenge(t *testing.T) {
	mock := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
			return &services.AuthResponse{RequiresSecondFactor: true, HandshakeToken: "hs-1", ExpiresIn: 300}, nil
		},
	}

	w := httptest.NewRecorder()
	newAuthHandler(mock).Login(w, handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email: "user@example.com", Password: "password123",
	}))

	var resp map[string]interface{}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, true, resp["requires_second_factor"])
	assert.Equal(t, "hs-1", resp["handshake_token"])
	assert.Equal(t, float64(300), resp["expires_in"])
	assert.NotContains(t, resp, "access_token")
}

func TestLogin_FailuresLookAlike(t *testing.T) {
	for _, err := range []error{
		models.ErrInvalidCredentials,
		models.ErrEmailNotVerified,
		wrapped(models.ErrInvalidCredentials),
	} {
		mock := &handlers.MockAuthService{
			LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
				return nil, err
			},
		}
		w := httptest.NewRecorder()
		newAuthHandler(mock).Login(w, handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
			Email: "user@example.com", Password: "wrong",
		}))

		resp := handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
		assert.Equal(t, "Authentication failed", resp.Message)
	}
}

func TestLogin_LockedAndThrottled(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"locked", &models.LockoutError{ExpiresAt: now.Add(15 * time.Minute)}, http.StatusForbidden, "account_locked"},
		{"rate limited", &models.RateLimitError{Class: models.RateClassLogin, ResetAt: now.Add(30 * time.Second)}, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"blocked", &models.AddressBlockedError{Until: now.Add(time.Hour)}, http.StatusForbidden, "address_blocked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			newAuthHandler(mock).Login(w, handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
				Email: "user@example.com", Password: "password123",
			}))

			resp := handlers.AssertErrorResponse(t, w, tt.status, tt.code)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
			assert.Positive(t, resp.RetryAfterSeconds)
		})
	}
}

func TestLogin_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty", "", "bad_request"},
		{"malformed", "{", "bad_request"},
		{"unknown field", `{"email":"user@example.com","password":"x","admin":true}`, "bad_request"},
		{"bad email", `{"email":"not-an-email","password":"x"}`, "validation_failed"},
		{"missing password", `{"email":"user@example.com"}`, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mock := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
					called = true
					return nil, nil
				},
			}
			req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			newAuthHandler(mock).Login(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, tt.code)
			assert.False(t, called)
		})
	}
}

func TestLogin_UnexpectedErrorIs500(t *testing.T) {
	mock := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
			return nil, errors.New("connection reset")
		},
	}
	w := httptest.NewRecorder()
	newAuthHandler(mock).Login(w, handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email: "user@example.com", Password: "password123",
	}))

	resp := handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
	assert.NotContains(t, resp.Message, "connection reset")
}

func TestCompleteSecondFactor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"wrong code", models.ErrInvalidSecondFactorCode, http.StatusUnauthorized, "invalid_code"},
		{"reused handshake", models.ErrHandshakeExpiredOrReused, http.StatusUnauthorized, "handshake_expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAuthService{
				CompleteSecondFactorFunc: func(ctx context.Context, handshakeToken, code string, info models.DeviceInfo) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			newAuthHandler(mock).CompleteSecondFactor(w, handlers.NewTestRequest(t, "POST", "/auth/login/second-factor", handlers.SecondFactorRequest{
				HandshakeToken: "hs-1", Code: "123456",
			}))
			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}

	t.Run("success", func(t *testing.T) {
		mock := &handlers.MockAuthService{
			CompleteSecondFactorFunc: func(ctx context.Context, handshakeToken, code string, info models.DeviceInfo) (*services.AuthResponse, error) {
				assert.Equal(t, "hs-1", handshakeToken)
				assert.Equal(t, "123456", code)
				return &services.AuthResponse{AccessToken: "access-1", ExpiresIn: 3600}, nil
			},
		}
		w := httptest.NewRecorder()
		newAuthHandler(mock).CompleteSecondFactor(w, handlers.NewTestRequest(t, "POST", "/auth/login/second-factor", handlers.SecondFactorRequest{
			HandshakeToken: "hs-1", Code: " 123456 ",
		}))

		var resp services.AuthResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "access-1", resp.AccessToken)
	})
}

func TestRegister_SameResponseForNewAndTakenEmail(t *testing.T) {
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}).Register(w, handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email: "new@example.com", Password: "C0rrect-Horse!", Name: "New User",
	}))

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, http.StatusAccepted, &resp)
	assert.Contains(t, resp["message"], "If the email is not already registered")
}

func TestRegister_WeakPassword(t *testing.T) {
	mock := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, name string) error {
			return &pkgauth.PasswordValidationError{Errors: []string{"password must be at least 12 characters"}}
		},
	}
	w := httptest.NewRecorder()
	newAuthHandler(mock).Register(w, handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email: "new@example.com", Password: "short", Name: "New User",
	}))

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "weak_password")
	assert.Contains(t, resp.Details, "at least 12 characters")
}

func TestRefreshAndRotate(t *testing.T) {
	mock := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error) {
			return &services.AuthResponse{AccessToken: "access-2", ExpiresIn: 3600}, nil
		},
		RotateRefreshFunc: func(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error) {
			if refreshToken == "stolen" {
				return nil, models.ErrRefreshTokenRevoked
			}
			return &services.AuthResponse{AccessToken: "access-3", RefreshToken: "refresh-next", ExpiresIn: 3600}, nil
		},
	}
	h := newAuthHandler(mock)

	w := httptest.NewRecorder()
	h.Refresh(w, handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "refresh-1"}))
	var refreshed services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &refreshed)
	assert.Equal(t, "access-2", refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken)

	w = httptest.NewRecorder()
	h.Rotate(w, handlers.NewTestRequest(t, "POST", "/auth/refresh/rotate", handlers.RefreshTokenRequest{RefreshToken: "refresh-1"}))
	var rotated services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &rotated)
	assert.Equal(t, "refresh-next", rotated.RefreshToken)

	w = httptest.NewRecorder()
	h.Rotate(w, handlers.NewTestRequest(t, "POST", "/auth/refresh/rotate", handlers.RefreshTokenRequest{RefreshToken: "stolen"}))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "invalid_refresh_token")
}

func TestLogout(t *testing.T) {
	var revoked string
	mock := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
			assert.Equal(t, "tok-1", claims.ID)
			revoked = refreshToken
			return nil
		},
	}
	h := newAuthHandler(mock)

	t.Run("without body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Logout(w, handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/auth/logout", nil), "u1", "tok-1"))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, revoked)
	})

	t.Run("with refresh token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := handlers.NewTestRequest(t, "POST", "/auth/logout", handlers.LogoutRequest{RefreshToken: "refresh-1"})
		h.Logout(w, handlers.WithAuthContext(req, "u1", "tok-1"))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "refresh-1", revoked)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Logout(w, handlers.NewTestRequest(t, "POST", "/auth/logout", nil))
		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("someone else's refresh token", func(t *testing.T) {
		mock.LogoutFunc = func(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
			return models.ErrForbidden
		}
		w := httptest.NewRecorder()
		req := handlers.NewTestRequest(t, "POST", "/auth/logout", handlers.LogoutRequest{RefreshToken: "other"})
		h.Logout(w, handlers.WithAuthContext(req, "u1", "tok-1"))
		handlers.AssertErrorResponse(t, w, http.StatusForbidden, "forbidden")
	})
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	mock := &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, claims *models.TokenClaims, currentPassword, newPassword string) error {
			return models.ErrInvalidCredentials
		},
	}
	w := httptest.NewRecorder()
	req := handlers.NewTestRequest(t, "POST", "/auth/password", handlers.ChangePasswordRequest{
		CurrentPassword: "wrong", NewPassword: "N3w-Passphrase!",
	})
	newAuthHandler(mock).ChangePassword(w, handlers.WithAuthContext(req, "u1", "tok-1"))

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestIssueDeviceToken(t *testing.T) {
	w := httptest.NewRecorder()
	req := handlers.NewTestRequest(t, "POST", "/auth/refresh-tokens", handlers.DeviceTokenRequest{DeviceName: "CI runner"})
	newAuthHandler(&handlers.MockAuthService{}).IssueDeviceToken(w, handlers.WithAuthContext(req, "u1", "tok-1"))

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "device-token", resp.RefreshToken)
	assert.Equal(t, 604800, resp.ExpiresIn)
}

func TestLockoutCheck(t *testing.T) {
	until := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	mock := &handlers.MockAuthService{
		LockoutStatusFunc: func(ctx context.Context, email string) (*models.LockoutStatus, error) {
			require.Equal(t, "locked@example.com", email)
			return &models.LockoutStatus{IsLocked: true, LockoutExpiresAt: &until}, nil
		},
	}
	w := httptest.NewRecorder()
	newAuthHandler(mock).LockoutCheck(w, handlers.NewTestRequest(t, "POST", "/auth/lockout/check", handlers.LockoutCheckRequest{
		Email: "Locked@Example.com",
	}))

	var status models.LockoutStatus
	handlers.AssertJSONResponse(t, w, http.StatusOK, &status)
	assert.True(t, status.IsLocked)
	assert.Zero(t, status.AttemptsRemaining)
	require.NotNil(t, status.LockoutExpiresAt)
	assert.True(t, until.Equal(*status.LockoutExpiresAt))
}

func wrapped(err error) error {
	return errors.Join(errors.New("verify"), err)
}
