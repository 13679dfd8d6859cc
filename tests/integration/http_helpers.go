//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/app"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// RecordingNotifier keeps every notification instead of delivering it
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []services.Notification
}

func (n *RecordingNotifier) Send(_ context.Context, msg services.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

// Subjects returns the subjects delivered so far
func (n *RecordingNotifier) Subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	subjects := make([]string, 0, len(n.sent))
	for _, msg := range n.sent {
		subjects = append(subjects, msg.Subject)
	}
	return subjects
}

// TestServer is the fully wired application behind httptest
type TestServer struct {
	Server   *httptest.Server
	App      *app.App
	Notifier *RecordingNotifier
}

// TestConfig returns a configuration with fast hashing and generous rate
// budgets so tests only hit the limits they exercise.
func TestConfig() *config.Config {
	generous := config.RateLimitRule{Max: 1000, Window: time.Minute}
	return &config.Config{
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
		Auth: config.AuthConfig{
			JWTSecret:                  "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:          15 * time.Minute,
			RefreshTokenExpiry:         7 * 24 * time.Hour,
			RefreshTokenRememberExpiry: 30 * 24 * time.Hour,
			BcryptCost:                 10,
			CleanupInterval:            time.Hour,
			LoginAttemptRetention:      24 * time.Hour,
			SecurityEventRetention:     24 * time.Hour,
			RevokedTokenRetention:      time.Hour,
		},
		Lockout: config.LockoutConfig{
			MaxAttempts:   3,
			AttemptWindow: 5 * time.Minute,
			BaseDuration:  15 * time.Minute,
			MaxDuration:   24 * time.Hour,
			Progressive:   true,
		},
		RateLimit: config.RateLimitConfig{
			Store:                "memory",
			Login:                generous,
			Register:             generous,
			PasswordReset:        generous,
			Sensitive:            generous,
			Global:               generous,
			LockoutCheck:         generous,
			BruteForceThreshold:  10,
			BruteForceWindow:     10 * time.Minute,
			AddressBlockDuration: time.Hour,
			RiskScoreThreshold:   70,
		},
		TwoFactor: config.TwoFactorConfig{
			EncryptionKey:        bytes.Repeat([]byte{0x42}, 32),
			Issuer:               "BastionTest",
			BackupCodeCount:      4,
			HandshakeMaxAttempts: 5,
		},
		Email: config.EmailConfig{
			Provider:    "none",
			FromAddress: "security@test.local",
		},
	}
}

// NewTestServer wires the application against db
func NewTestServer(db *database.DB, cfg *config.Config) (*TestServer, error) {
	notifier := &RecordingNotifier{}
	application, err := app.New(cfg, app.Deps{
		DB:       db,
		Store:    ratelimit.NewMemoryStore(),
		Notifier: notifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return nil, err
	}

	return &TestServer{
		Server:   httptest.NewServer(application.Router),
		App:      application,
		Notifier: notifier,
	}, nil
}

// Close stops the server and drains notifications
func (ts *TestServer) Close() {
	ts.Server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ts.App.Close(ctx)
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{"Authorization": "Bearer " + accessToken})
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ParseError decodes an error body
func ParseError(resp *http.Response) (pkghttp.ErrorResponse, error) {
	var e pkghttp.ErrorResponse
	err := ParseJSONResponse(resp, &e)
	return e, err
}
