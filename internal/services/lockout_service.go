package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/observability"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// LockoutRepository defines the identity operations the lockout tracker needs
type LockoutRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	RecordFailedAttempt(ctx context.Context, id string, policy models.LockoutPolicy, now time.Time) (*models.LockoutResult, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	ClearExpiredLockout(ctx context.Context, id string, now time.Time) (bool, error)
	Unlock(ctx context.Context, id string) error
	ListLocked(ctx context.Context, now time.Time, limit, offset int) ([]models.LockedAccount, error)
	CountLocked(ctx context.Context, now time.Time) (int, error)
}

// LockoutService tracks failed attempts per identity and applies
// progressive lockouts. Lock state is evaluated lazily from stored
// timestamps.
type LockoutService struct {
	repo     LockoutRepository
	policy   models.LockoutPolicy
	events   EventRecorder
	notifier SecurityNotifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo LockoutRepository, policy models.LockoutPolicy, events EventRecorder, notifier SecurityNotifier, metrics *observability.Metrics, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:     repo,
		policy:   policy,
		events:   events,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Policy returns the thresholds in force.
func (s *LockoutService) Policy() models.LockoutPolicy {
	return s.policy
}

// Status derives the lockout window for user. An expired lockout is
// cleared in the store on the way through.
func (s *LockoutService) Status(ctx context.Context, user *models.User) *models.LockoutStatus {
	now := s.now()

	if user.IsLockedAt(now) {
		expires := *user.LockoutExpiresAt
		return &models.LockoutStatus{IsLocked: true, AttemptsRemaining: 0, LockoutExpiresAt: &expires}
	}

	if user.HasExpiredLockout(now) {
		if _, err := s.repo.ClearExpiredLockout(ctx, user.ID, now); err != nil {
			s.logger.Error("failed to clear expired lockout",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		}
		user.FailedAttemptCount = 0
		user.LastFailedAttemptAt = nil
		user.LockedAt = nil
		user.LockoutExpiresAt = nil
		return &models.LockoutStatus{AttemptsRemaining: s.policy.MaxAttempts}
	}

	failures := user.FailedAttemptCount
	if user.LastFailedAttemptAt == nil || user.LastFailedAttemptAt.Before(now.Add(-s.policy.AttemptWindow)) {
		failures = 0
	}
	remaining := s.policy.MaxAttempts - failures
	if remaining < 0 {
		remaining = 0
	}
	return &models.LockoutStatus{AttemptsRemaining: remaining}
}

// Check returns a *models.LockoutError when user is locked.
func (s *LockoutService) Check(ctx context.Context, user *models.User) error {
	status := s.Status(ctx, user)
	if status.IsLocked {
		return &models.LockoutError{ExpiresAt: *status.LockoutExpiresAt}
	}
	return nil
}

// RecordFailure counts one failed verification. When it crosses the
// threshold the lockout is recorded, logged and the owner notified.
func (s *LockoutService) RecordFailure(ctx context.Context, user *models.User, ipAddress, userAgent string) (*models.LockoutResult, error) {
	result, err := s.repo.RecordFailedAttempt(ctx, user.ID, s.policy, s.now())
	if err != nil {
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}

	if result.Triggered && result.LockoutExpiresAt != nil {
		s.logger.Warn("account locked",
			slog.String("user_id", user.ID),
			slog.Int("lockout_count", result.LockoutCount),
			slog.Time("expires_at", *result.LockoutExpiresAt))
		s.metrics.RecordLockout(ctx)
		s.events.Record(ctx, newEvent(models.EventAccountLocked, models.SeverityWarning, strPtr(user.ID), ipAddress, userAgent,
			models.EventMetadata{
				"failed_attempts": result.FailedAttemptCount,
				"lockout_count":   result.LockoutCount,
				"expires_at":      result.LockoutExpiresAt.UTC().Format(time.RFC3339),
			}))
		s.notifier.AccountLocked(ctx, user, *result.LockoutExpiresAt)
	}

	return result, nil
}

// Reset clears the failure counter after a successful verification.
func (s *LockoutService) Reset(ctx context.Context, userID string) error {
	if err := s.repo.ResetFailedAttempts(ctx, userID); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}

// Unlock clears lockout state out of band, including the progressive streak.
func (s *LockoutService) Unlock(ctx context.Context, actorID, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.repo.Unlock(ctx, userID); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}

	s.logger.Info("account unlocked",
		slog.String("user_id", userID),
		slog.String("actor_id", actorID))
	s.events.Record(ctx, newEvent(models.EventAccountUnlocked, models.SeverityInfo, strPtr(userID), "", "",
		models.EventMetadata{"actor_id": actorID}))
	s.notifier.AccountUnlocked(ctx, user)
	return nil
}

// PublicStatus answers an unauthenticated lockout query. Unknown, inactive
// and unlocked identities produce the same response.
func (s *LockoutService) PublicStatus(ctx context.Context, email string) (*models.LockoutStatus, error) {
	unlocked := &models.LockoutStatus{AttemptsRemaining: s.policy.MaxAttempts}

	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return unlocked, nil
		}
		s.logger.Error("failed to load identity for lockout status",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if !user.IsActive() {
		return unlocked, nil
	}

	status := s.Status(ctx, user)
	if !status.IsLocked {
		return unlocked, nil
	}
	return status, nil
}

// ListLocked returns identities under an active lockout.
func (s *LockoutService) ListLocked(ctx context.Context, limit, offset int) ([]models.LockedAccount, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	accounts, err := s.repo.ListLocked(ctx, s.now(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list locked accounts: %w", err)
	}
	return accounts, nil
}

// CountLocked returns the number of identities under an active lockout.
func (s *LockoutService) CountLocked(ctx context.Context) (int, error) {
	return s.repo.CountLocked(ctx, s.now())
}
