package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword  = "CorrectHorse9!"
	testIP        = "203.0.113.7"
	testUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15"
	testJWTSecret = "test-secret-key-at-least-32-bytes-long"
)

var testDevice = models.DeviceInfo{IPAddress: testIP, UserAgent: testUserAgent}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLockoutPolicy() models.LockoutPolicy {
	return models.LockoutPolicy{
		MaxAttempts:   5,
		AttemptWindow: 15 * time.Minute,
		BaseDuration:  15 * time.Minute,
		MaxDuration:   24 * time.Hour,
		Progressive:   true,
	}
}

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Store:                "memory",
		Login:                config.RateLimitRule{Max: 100, Window: 15 * time.Minute},
		Register:             config.RateLimitRule{Max: 3, Window: time.Hour},
		PasswordReset:        config.RateLimitRule{Max: 3, Window: time.Hour},
		Sensitive:            config.RateLimitRule{Max: 10, Window: time.Hour},
		Global:               config.RateLimitRule{Max: 1000, Window: time.Minute},
		LockoutCheck:         config.RateLimitRule{Max: 20, Window: time.Minute},
		BruteForceThreshold:  50,
		BruteForceWindow:     time.Hour,
		AddressBlockDuration: time.Hour,
		RiskScoreThreshold:   90,
	}
}

// testStack is every service wired against in-memory stores.
type testStack struct {
	users      *MockUserRepository
	attempts   *MockLoginAttemptRepository
	sessRepo   *MockSessionRepository
	refreshRep *MockRefreshTokenRepository
	tfRepo     *MockTwoFactorRepository
	handshakes *MockHandshakeRepository
	eventRepo  *MockSecurityEventRepository
	notifier   *RecordingNotifier
	store      *ratelimit.MemoryStore

	hasher   *pkgauth.PasswordHasher
	tokens   *auth.TokenManager
	totp     *auth.TOTPManager
	events   *SecurityEventService
	lockout  *LockoutService
	limiter  *RateLimiterService
	verifier *CredentialVerifier
	sessions *SessionService
	refresh  *RefreshTokenService
	tf       *TwoFactorService
	auth     *AuthService
	admin    *AdminService
}

type stackOption func(*stackOptions)

type stackOptions struct {
	rateLimit                config.RateLimitConfig
	lockout                  models.LockoutPolicy
	requireEmailVerification bool
}

func withRateLimit(cfg config.RateLimitConfig) stackOption {
	return func(o *stackOptions) { o.rateLimit = cfg }
}

func withLockoutPolicy(policy models.LockoutPolicy) stackOption {
	return func(o *stackOptions) { o.lockout = policy }
}

func withEmailVerification() stackOption {
	return func(o *stackOptions) { o.requireEmailVerification = true }
}

func newTestStack(t *testing.T, opts ...stackOption) *testStack {
	t.Helper()
	o := stackOptions{rateLimit: testRateLimitConfig(), lockout: testLockoutPolicy()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := testLogger()
	s := &testStack{
		users:      NewMockUserRepository(),
		attempts:   &MockLoginAttemptRepository{},
		sessRepo:   &MockSessionRepository{},
		refreshRep: &MockRefreshTokenRepository{},
		tfRepo:     &MockTwoFactorRepository{},
		handshakes: &MockHandshakeRepository{},
		eventRepo:  &MockSecurityEventRepository{},
		notifier:   &RecordingNotifier{},
		store:      ratelimit.NewMemoryStore(),
		hasher:     pkgauth.NewPasswordHasher(bcrypt.MinCost),
		tokens:     auth.NewTokenManager(testJWTSecret, 15*time.Minute),
	}

	totp, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "bastion-test")
	require.NoError(t, err)
	s.totp = totp

	audit := pkglogger.NewAuditLogger(logger)
	s.events = NewSecurityEventService(s.eventRepo, logger)
	s.lockout = NewLockoutService(s.users, o.lockout, s.events, s.notifier, nil, logger)
	s.limiter = NewRateLimiterService(s.store, o.rateLimit, s.attempts, s.events, nil, logger)
	s.verifier = NewCredentialVerifier(s.users, s.attempts, s.lockout, s.limiter, s.hasher,
		auth.NewTimingDelay(auth.TimingConfig{}), audit, nil, o.requireEmailVerification, logger)
	s.sessions = NewSessionService(s.sessRepo, s.events, logger)
	s.refresh = NewRefreshTokenService(s.refreshRep, s.users, s.tokens, s.sessions,
		RefreshTTLConfig{Normal: 7 * 24 * time.Hour, RememberMe: 30 * 24 * time.Hour},
		s.events, s.notifier, nil, logger)
	s.tf = NewTwoFactorService(s.tfRepo, s.handshakes, s.users, s.totp, s.tokens,
		TwoFactorConfig{BackupCodeCount: 10, HandshakeMaxAttempts: 3}, s.events, nil, logger)
	s.auth = NewAuthService(s.users, s.verifier, s.tf, s.sessions, s.refresh, s.lockout,
		s.tokens, s.hasher, s.events, audit, logger)
	s.admin = NewAdminService(s.lockout, s.limiter, s.events, s.attempts, s.sessRepo, s.refreshRep, logger)
	return s
}

// addUser stores an active, verified user whose password is testPassword.
func (s *testStack) addUser(t *testing.T, id, email string) *models.User {
	t.Helper()
	hash, err := s.hasher.Hash(testPassword)
	require.NoError(t, err)
	user := NewTestUser(id, email, "Test User")
	user.PasswordHash = hash
	s.users.Put(user)
	return user
}

// setClock pins every service clock to the value returned by now.
func (s *testStack) setClock(now func() time.Time) {
	s.lockout.now = now
	s.limiter.now = now
	s.verifier.now = now
	s.sessions.now = now
	s.refresh.now = now
	s.tf.now = now
	s.auth.now = now
	s.admin.now = now
}

// fakeClock is a settable clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
