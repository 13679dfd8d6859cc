package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15")
	return req
}

// WithAuthContext attaches claims for userID with session reference tokenID
func WithAuthContext(req *http.Request, userID, tokenID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID, Email: userID + "@example.com", Type: models.TokenTypeAccess}
	claims.ID = tokenID
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// TestLogger discards output
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc                   func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
	CompleteSecondFactorFunc    func(ctx context.Context, handshakeToken, code string, info models.DeviceInfo) (*services.AuthResponse, error)
	RefreshFunc                 func(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error)
	RotateRefreshFunc           func(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error)
	LogoutFunc                  func(ctx context.Context, claims *models.TokenClaims, refreshToken string) error
	LogoutAllFunc               func(ctx context.Context, claims *models.TokenClaims) error
	RegisterFunc                func(ctx context.Context, email, password, name string) error
	ChangePasswordFunc          func(ctx context.Context, claims *models.TokenClaims, currentPassword, newPassword string) error
	IssueDeviceRefreshTokenFunc func(ctx context.Context, claims *models.TokenClaims, info models.DeviceInfo) (*services.AuthResponse, error)
	LockoutStatusFunc           func(ctx context.Context, email string) (*models.LockoutStatus, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) CompleteSecondFactor(ctx context.Context, handshakeToken, code string, info models.DeviceInfo) (*services.AuthResponse, error) {
	if m.CompleteSecondFactorFunc == nil {
		return nil, models.ErrHandshakeExpiredOrReused
	}
	return m.CompleteSecondFactorFunc(ctx, handshakeToken, code, info)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrRefreshTokenInvalid
	}
	return m.RefreshFunc(ctx, refreshToken, info)
}

func (m *MockAuthService) RotateRefresh(ctx context.Context, refreshToken string, info models.DeviceInfo) (*services.AuthResponse, error) {
	if m.RotateRefreshFunc == nil {
		return nil, models.ErrRefreshTokenInvalid
	}
	return m.RotateRefreshFunc(ctx, refreshToken, info)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims, refreshToken)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims) error {
	if m.LogoutAllFunc == nil {
		return nil
	}
	return m.LogoutAllFunc(ctx, claims)
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string) error {
	if m.RegisterFunc == nil {
		return nil
	}
	return m.RegisterFunc(ctx, email, password, name)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, claims *models.TokenClaims, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, claims, currentPassword, newPassword)
}

func (m *MockAuthService) IssueDeviceRefreshToken(ctx context.Context, claims *models.TokenClaims, info models.DeviceInfo) (*services.AuthResponse, error) {
	if m.IssueDeviceRefreshTokenFunc == nil {
		return &services.AuthResponse{RefreshToken: "device-token", ExpiresIn: 604800}, nil
	}
	return m.IssueDeviceRefreshTokenFunc(ctx, claims, info)
}

func (m *MockAuthService) LockoutStatus(ctx context.Context, email string) (*models.LockoutStatus, error) {
	if m.LockoutStatusFunc == nil {
		return &models.LockoutStatus{AttemptsRemaining: 5}, nil
	}
	return m.LockoutStatusFunc(ctx, email)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListFunc      func(ctx context.Context, userID, currentTokenID string) ([]models.SessionView, *models.SessionStats, error)
	RevokeFunc    func(ctx context.Context, userID, sessionID, currentTokenID string) error
	RevokeAllFunc func(ctx context.Context, userID, exceptTokenID string) (int64, error)
}

func (m *MockSessionService) List(ctx context.Context, userID, currentTokenID string) ([]models.SessionView, *models.SessionStats, error) {
	if m.ListFunc == nil {
		return nil, &models.SessionStats{ByDevice: map[string]int{}}, nil
	}
	return m.ListFunc(ctx, userID, currentTokenID)
}

func (m *MockSessionService) Revoke(ctx context.Context, userID, sessionID, currentTokenID string) error {
	if m.RevokeFunc == nil {
		return nil
	}
	return m.RevokeFunc(ctx, userID, sessionID, currentTokenID)
}

func (m *MockSessionService) RevokeAll(ctx context.Context, userID, exceptTokenID string) (int64, error) {
	if m.RevokeAllFunc == nil {
		return 0, nil
	}
	return m.RevokeAllFunc(ctx, userID, exceptTokenID)
}

// MockRefreshTokenService implements RefreshTokenServiceInterface for testing
type MockRefreshTokenService struct {
	ListFunc       func(ctx context.Context, userID string) ([]models.RefreshTokenView, error)
	RevokeByIDFunc func(ctx context.Context, userID, tokenID string) error
	RevokeAllFunc  func(ctx context.Context, userID, exceptID, reason string) (int64, error)
}

func (m *MockRefreshTokenService) List(ctx context.Context, userID string) ([]models.RefreshTokenView, error) {
	if m.ListFunc == nil {
		return []models.RefreshTokenView{}, nil
	}
	return m.ListFunc(ctx, userID)
}

func (m *MockRefreshTokenService) RevokeByID(ctx context.Context, userID, tokenID string) error {
	if m.RevokeByIDFunc == nil {
		return nil
	}
	return m.RevokeByIDFunc(ctx, userID, tokenID)
}

func (m *MockRefreshTokenService) RevokeAll(ctx context.Context, userID, exceptID, reason string) (int64, error) {
	if m.RevokeAllFunc == nil {
		return 0, nil
	}
	return m.RevokeAllFunc(ctx, userID, exceptID, reason)
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	SetupFunc                 func(ctx context.Context, user *models.User) (*models.TwoFactorSetup, error)
	EnableFunc                func(ctx context.Context, userID, code string) error
	StatusFunc                func(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
	DisableFunc               func(ctx context.Context, userID, code string) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID, code string) ([]string, error)
}

func (m *MockTwoFactorService) Setup(ctx context.Context, user *models.User) (*models.TwoFactorSetup, error) {
	if m.SetupFunc == nil {
		return &models.TwoFactorSetup{}, nil
	}
	return m.SetupFunc(ctx, user)
}

func (m *MockTwoFactorService) Enable(ctx context.Context, userID, code string) error {
	if m.EnableFunc == nil {
		return nil
	}
	return m.EnableFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	if m.StatusFunc == nil {
		return &models.TwoFactorStatus{}, nil
	}
	return m.StatusFunc(ctx, userID)
}

func (m *MockTwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return []string{}, nil
	}
	return m.RegenerateBackupCodesFunc(ctx, userID, code)
}

// MockUserLookup implements UserLookup over a fixed set of users
type MockUserLookup map[string]*models.User

func (m MockUserLookup) GetByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ListLockedAccountsFunc   func(ctx context.Context, limit, offset int) ([]models.LockedAccount, error)
	UnlockAccountFunc        func(ctx context.Context, actorID, userID string) error
	InspectAddressFunc       func(ctx context.Context, address string) (*models.AddressReport, error)
	BlockAddressFunc         func(ctx context.Context, actorID, address string, duration time.Duration) (*models.BlockedAddress, error)
	UnblockAddressFunc       func(ctx context.Context, actorID, address string) error
	ListBlockedAddressesFunc func(ctx context.Context) ([]models.BlockedAddress, error)
	ListSecurityEventsFunc   func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	MetricsFunc              func(ctx context.Context, window time.Duration) (*models.SecurityMetrics, error)
}

func (m *MockAdminService) ListLockedAccounts(ctx context.Context, limit, offset int) ([]models.LockedAccount, error) {
	if m.ListLockedAccountsFunc == nil {
		return nil, nil
	}
	return m.ListLockedAccountsFunc(ctx, limit, offset)
}

func (m *MockAdminService) UnlockAccount(ctx context.Context, actorID, userID string) error {
	if m.UnlockAccountFunc == nil {
		return nil
	}
	return m.UnlockAccountFunc(ctx, actorID, userID)
}

func (m *MockAdminService) InspectAddress(ctx context.Context, address string) (*models.AddressReport, error) {
	if m.InspectAddressFunc == nil {
		return &models.AddressReport{Address: address}, nil
	}
	return m.InspectAddressFunc(ctx, address)
}

func (m *MockAdminService) BlockAddress(ctx context.Context, actorID, address string, duration time.Duration) (*models.BlockedAddress, error) {
	if m.BlockAddressFunc == nil {
		return &models.BlockedAddress{Address: address, Reason: models.BlockReasonManual}, nil
	}
	return m.BlockAddressFunc(ctx, actorID, address, duration)
}

func (m *MockAdminService) UnblockAddress(ctx context.Context, actorID, address string) error {
	if m.UnblockAddressFunc == nil {
		return nil
	}
	return m.UnblockAddressFunc(ctx, actorID, address)
}

func (m *MockAdminService) ListBlockedAddresses(ctx context.Context) ([]models.BlockedAddress, error) {
	if m.ListBlockedAddressesFunc == nil {
		return []models.BlockedAddress{}, nil
	}
	return m.ListBlockedAddressesFunc(ctx)
}

func (m *MockAdminService) ListSecurityEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if m.ListSecurityEventsFunc == nil {
		return nil, nil
	}
	return m.ListSecurityEventsFunc(ctx, filter)
}

func (m *MockAdminService) Metrics(ctx context.Context, window time.Duration) (*models.SecurityMetrics, error) {
	if m.MetricsFunc == nil {
		return &models.SecurityMetrics{}, nil
	}
	return m.MetricsFunc(ctx, window)
}
