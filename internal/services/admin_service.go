package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// defaultMetricsWindow is the lookback of the admin metrics view.
const defaultMetricsWindow = 24 * time.Hour

// AdminAttemptStats is the subset of the login attempt log needed by AdminService.
type AdminAttemptStats interface {
	Stats(ctx context.Context, since time.Time) (*models.LoginAttemptStats, error)
}

// ActiveCounter counts live rows in a credential table.
type ActiveCounter interface {
	CountActive(ctx context.Context, now time.Time) (int, error)
}

// AdminService aggregates lockout, address and event data for the
// administrative endpoints.
type AdminService struct {
	lockout  *LockoutService
	limiter  *RateLimiterService
	events   *SecurityEventService
	attempts AdminAttemptStats
	sessions ActiveCounter
	refresh  ActiveCounter
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	lockout *LockoutService,
	limiter *RateLimiterService,
	events *SecurityEventService,
	attempts AdminAttemptStats,
	sessions ActiveCounter,
	refresh ActiveCounter,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		lockout:  lockout,
		limiter:  limiter,
		events:   events,
		attempts: attempts,
		sessions: sessions,
		refresh:  refresh,
		logger:   logger,
		now:      time.Now,
	}
}

// ListLockedAccounts returns identities under an active lockout.
func (s *AdminService) ListLockedAccounts(ctx context.Context, limit, offset int) ([]models.LockedAccount, error) {
	return s.lockout.ListLocked(ctx, limit, offset)
}

// UnlockAccount clears the lockout of userID on behalf of actorID.
func (s *AdminService) UnlockAccount(ctx context.Context, actorID, userID string) error {
	return s.lockout.Unlock(ctx, actorID, userID)
}

// InspectAddress reports block state and risk for one client address.
func (s *AdminService) InspectAddress(ctx context.Context, address string) (*models.AddressReport, error) {
	return s.limiter.Inspect(ctx, address)
}

// BlockAddress applies a manual block.
func (s *AdminService) BlockAddress(ctx context.Context, actorID, address string, duration time.Duration) (*models.BlockedAddress, error) {
	return s.limiter.Block(ctx, actorID, address, duration)
}

// UnblockAddress lifts a block.
func (s *AdminService) UnblockAddress(ctx context.Context, actorID, address string) error {
	return s.limiter.Unblock(ctx, actorID, address)
}

// ListBlockedAddresses returns all active blocks.
func (s *AdminService) ListBlockedAddresses(ctx context.Context) ([]models.BlockedAddress, error) {
	blocks, err := s.limiter.ListBlocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blocked addresses: %w", err)
	}
	if blocks == nil {
		blocks = []models.BlockedAddress{}
	}
	return blocks, nil
}

// ListSecurityEvents returns the event log, newest first.
func (s *AdminService) ListSecurityEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	return s.events.List(ctx, filter)
}

// Metrics returns aggregate security counters over the window ending now.
// A non-positive window uses the last 24 hours.
func (s *AdminService) Metrics(ctx context.Context, window time.Duration) (*models.SecurityMetrics, error) {
	if window <= 0 {
		window = defaultMetricsWindow
	}
	now := s.now()
	since := now.Add(-window)

	attempts, err := s.attempts.Stats(ctx, since)
	if err != nil {
		s.logger.Error("metrics: failed to aggregate login attempts", slog.Any("error", err))
		return nil, err
	}

	locked, err := s.lockout.CountLocked(ctx)
	if err != nil {
		s.logger.Error("metrics: failed to count locked accounts", slog.Any("error", err))
		return nil, err
	}

	blocks, err := s.limiter.ListBlocked(ctx)
	if err != nil {
		s.logger.Error("metrics: failed to list blocked addresses", slog.Any("error", err))
		return nil, err
	}

	sessions, err := s.sessions.CountActive(ctx, now)
	if err != nil {
		s.logger.Error("metrics: failed to count sessions", slog.Any("error", err))
		return nil, err
	}

	tokens, err := s.refresh.CountActive(ctx, now)
	if err != nil {
		s.logger.Error("metrics: failed to count refresh tokens", slog.Any("error", err))
		return nil, err
	}

	bySeverity, byType, err := s.events.CountsSince(ctx, since)
	if err != nil {
		s.logger.Error("metrics: failed to count security events", slog.Any("error", err))
		return nil, err
	}

	return &models.SecurityMetrics{
		Since:               since,
		LoginAttempts:       *attempts,
		LockedAccounts:      locked,
		BlockedAddresses:    len(blocks),
		ActiveSessions:      sessions,
		ActiveRefreshTokens: tokens,
		EventsBySeverity:    bySeverity,
		EventsByType:        byType,
	}, nil
}
