package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsExactlyMaxThenDenies(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.Login = config.RateLimitRule{Max: 5, Window: time.Minute}
	s := newTestStack(t, withRateLimit(cfg))
	clock := &fakeClock{t: time.Now()}
	s.setClock(clock.Now)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision, err := s.limiter.Check(ctx, testIP, models.RateClassLogin)
		require.NoError(t, err, "request %d", i)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 5-i, decision.Remaining)
	}

	decision, err := s.limiter.Check(ctx, testIP, models.RateClassLogin)
	var rlErr *models.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, models.RateClassLogin, rlErr.Class)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, time.Minute, rlErr.RetryAfter(clock.Now()))

	// a second denial in the same window does not add another event
	_, err = s.limiter.Check(ctx, testIP, models.RateClassLogin)
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Len(t, s.eventRepo.OfType(models.EventRateLimited), 1)

	clock.Advance(time.Minute)
	decision, err = s.limiter.Check(ctx, testIP, models.RateClassLogin)
	require.NoError(t, err)
	assert.Equal(t, 4, decision.Remaining)
}

func TestRateLimiter_ClassesAndAddressesAreIndependent(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.Login = config.RateLimitRule{Max: 1, Window: time.Minute}
	cfg.Register = config.RateLimitRule{Max: 1, Window: time.Minute}
	s := newTestStack(t, withRateLimit(cfg))
	ctx := context.Background()

	_, err := s.limiter.Check(ctx, testIP, models.RateClassLogin)
	require.NoError(t, err)
	_, err = s.limiter.Check(ctx, testIP, models.RateClassRegister)
	require.NoError(t, err)
	_, err = s.limiter.Check(ctx, "198.51.100.1", models.RateClassLogin)
	require.NoError(t, err)

	_, err = s.limiter.Check(ctx, testIP, models.RateClassLogin)
	assert.ErrorIs(t, err, models.ErrRateLimited)
}

func TestRateLimiter_UnconfiguredClassAllows(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.Sensitive = config.RateLimitRule{}
	s := newTestStack(t, withRateLimit(cfg))

	for i := 0; i < 50; i++ {
		decision, err := s.limiter.Check(context.Background(), testIP, models.RateClassSensitive)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}

func TestRateLimiter_StoreErrorFailsOpen(t *testing.T) {
	cfg := testRateLimitConfig()
	limiter := NewRateLimiterService(failingStore{}, cfg, &MockLoginAttemptRepository{},
		NewSecurityEventService(&MockSecurityEventRepository{}, testLogger()), nil, testLogger())
	ctx := context.Background()

	decision, err := limiter.Check(ctx, testIP, models.RateClassLogin)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.NoError(t, limiter.CheckBlocked(ctx, testIP))
}

func TestRateLimiter_BruteForceBlocksAddress(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.BruteForceThreshold = 10
	cfg.RiskScoreThreshold = 100
	s := newTestStack(t, withRateLimit(cfg))
	ctx := context.Background()

	// unknown accounts, so only the address-level counters move
	for i := 0; i < 10; i++ {
		email := []string{"a@example.com", "b@example.com", "c@example.com"}[i%3]
		_, err := verifyWith(s, email, "wrong-password")
		require.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d", i)
	}

	var blocked *models.AddressBlockedError
	_, err := verifyWith(s, "a@example.com", "anything")
	require.True(t, errors.As(err, &blocked))
	assert.WithinDuration(t, time.Now().Add(time.Hour), blocked.Until, 5*time.Second)

	events := s.eventRepo.OfType(models.EventBruteForceDetected)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)

	// blocked attempts do not feed the failure count
	failures, err := s.attempts.CountFailuresByIP(ctx, testIP, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 10, failures)
}

func TestRateLimiter_RiskScore(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	score, err := s.limiter.RiskScore(ctx, testIP, testUserAgent)
	require.NoError(t, err)
	assert.Equal(t, 0, score)

	score, err = s.limiter.RiskScore(ctx, testIP, "")
	require.NoError(t, err)
	assert.Equal(t, riskEmptyUserAgent, score)

	score, err = s.limiter.RiskScore(ctx, testIP, "python-requests/2.31")
	require.NoError(t, err)
	assert.Equal(t, riskToolingUserAgent, score)

	for i := 0; i < 8; i++ {
		_, _ = verifyWith(s, "nobody@example.com", "x")
	}
	score, err = s.limiter.RiskScore(ctx, testIP, "curl/8.4.0")
	require.NoError(t, err)
	// 8 (8 of 50 brute-force failures) + 2 (8/100 of the login density cap) + 25 (tooling)
	assert.Equal(t, 35, score)
}

func TestRateLimiter_HighRiskBlocks(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.BruteForceThreshold = 10
	cfg.RiskScoreThreshold = 70
	s := newTestStack(t, withRateLimit(cfg))

	for i := 0; i < 8; i++ {
		_, err := s.verifier.Verify(context.Background(), VerifyRequest{
			Email: "nobody@example.com", Password: "x", IPAddress: testIP, UserAgent: "sqlmap/1.7",
		})
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	// 8 failures: 40 + 2 + 25 = 67
	assert.Empty(t, s.eventRepo.OfType(models.EventSuspiciousActivity))

	// 9 failures: 45 + 2 + 25 > 70, still short of the brute-force rule
	_, _ = s.verifier.Verify(context.Background(), VerifyRequest{
		Email: "nobody@example.com", Password: "x", IPAddress: testIP, UserAgent: "sqlmap/1.7",
	})
	assert.Len(t, s.eventRepo.OfType(models.EventSuspiciousActivity), 1)
	assert.Empty(t, s.eventRepo.OfType(models.EventBruteForceDetected))
	assert.ErrorIs(t, s.limiter.CheckBlocked(context.Background(), testIP), models.ErrAddressBlocked)
}

func TestRateLimiter_RiskNeedsHalfTheBruteForceFailures(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.BruteForceThreshold = 10
	cfg.RiskScoreThreshold = 10
	s := newTestStack(t, withRateLimit(cfg))

	// a high score alone does not block below five failures
	for i := 0; i < 4; i++ {
		_, _ = s.verifier.Verify(context.Background(), VerifyRequest{
			Email: "nobody@example.com", Password: "x", IPAddress: testIP, UserAgent: "curl/8.4.0",
		})
	}
	assert.NoError(t, s.limiter.CheckBlocked(context.Background(), testIP))

	_, _ = s.verifier.Verify(context.Background(), VerifyRequest{
		Email: "nobody@example.com", Password: "x", IPAddress: testIP, UserAgent: "curl/8.4.0",
	})
	assert.ErrorIs(t, s.limiter.CheckBlocked(context.Background(), testIP), models.ErrAddressBlocked)
}

func TestRateLimiter_ManualBlockAndUnblock(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	block, err := s.limiter.Block(ctx, "admin-1", testIP, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.BlockReasonManual, block.Reason)

	report, err := s.limiter.Inspect(ctx, testIP)
	require.NoError(t, err)
	require.NotNil(t, report.Blocked)

	blocks, err := s.limiter.ListBlocked(ctx)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	require.NoError(t, s.limiter.Unblock(ctx, "admin-1", testIP))
	assert.NoError(t, s.limiter.CheckBlocked(ctx, testIP))
	assert.ErrorIs(t, s.limiter.Unblock(ctx, "admin-1", testIP), models.ErrNotFound)

	assert.Len(t, s.eventRepo.OfType(models.EventAddressBlocked), 1)
	assert.Len(t, s.eventRepo.OfType(models.EventAddressUnblocked), 1)
}

func TestRateLimiter_BlockExpires(t *testing.T) {
	s := newTestStack(t)
	clock := &fakeClock{t: time.Now()}
	s.setClock(clock.Now)
	ctx := context.Background()

	_, err := s.limiter.Block(ctx, "admin-1", testIP, time.Minute)
	require.NoError(t, err)
	require.Error(t, s.limiter.CheckBlocked(ctx, testIP))

	clock.Advance(time.Minute + time.Second)
	swept, err := s.limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.NoError(t, s.limiter.CheckBlocked(ctx, testIP))
}

// failingStore is a rate limit store whose backend is down.
type failingStore struct{}

var errStoreDown = errors.New("store unavailable")

func (failingStore) Increment(context.Context, string, time.Duration, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errStoreDown
}
func (failingStore) Count(context.Context, string, time.Time) (int, error) { return 0, errStoreDown }
func (failingStore) Reset(context.Context, string) error                   { return errStoreDown }
func (failingStore) Block(context.Context, models.BlockedAddress) error    { return errStoreDown }
func (failingStore) Unblock(context.Context, string) (bool, error)         { return false, errStoreDown }
func (failingStore) Blocked(context.Context, string, time.Time) (*models.BlockedAddress, error) {
	return nil, errStoreDown
}
func (failingStore) ListBlocked(context.Context, time.Time) ([]models.BlockedAddress, error) {
	return nil, errStoreDown
}
func (failingStore) Sweep(context.Context, time.Time) (int, error) { return 0, errStoreDown }
func (failingStore) Close() error                                  { return nil }
