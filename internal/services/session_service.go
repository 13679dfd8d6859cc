package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/device"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// SessionTouchInterval bounds how often lastActivityAt is written for one session.
const SessionTouchInterval = time.Minute

// SessionRepository defines the persistence operations for sessions
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByTokenID(ctx context.Context, tokenID string) (*models.Session, error)
	GetForUser(ctx context.Context, id, userID string) (*models.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
	Touch(ctx context.Context, tokenID string, now time.Time, minInterval time.Duration) error
	DeleteByTokenID(ctx context.Context, tokenID string) (int64, error)
	DeleteForUser(ctx context.Context, id, userID string) error
	DeleteAllForUser(ctx context.Context, userID, exceptTokenID string) (int64, error)
	DeleteByRefreshFamily(ctx context.Context, familyID string) (int64, error)
}

// SessionService is the registry of issued access credentials. An access
// token is honoured only while its session row exists and is unexpired.
type SessionService struct {
	repo   SessionRepository
	events EventRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, events EventRecorder, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:   repo,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Create records the session for a freshly minted access token. The
// session lives exactly as long as the token.
func (s *SessionService) Create(ctx context.Context, user *models.User, token *auth.IssuedToken, info models.DeviceInfo, refreshFamilyID *string) (*models.Session, error) {
	now := s.now()
	deviceName := info.DeviceName
	if deviceName == "" {
		deviceName = device.Parse(info.UserAgent).Name()
	}

	session := &models.Session{
		UserID:          user.ID,
		TokenID:         token.ID,
		RefreshFamilyID: refreshFamilyID,
		IPAddress:       info.IPAddress,
		UserAgent:       info.UserAgent,
		DeviceName:      deviceName,
		ExpiresAt:       token.ExpiresAt,
		LastActivityAt:  now,
		CreatedAt:       now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ValidateSession confirms that the access token's session is still live
// and records activity on it. It returns models.ErrSessionNotFound when the
// session is gone, expired or belongs to someone else.
func (s *SessionService) ValidateSession(ctx context.Context, claims *models.TokenClaims) error {
	session, err := s.repo.GetByTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionNotFound
		}
		return fmt.Errorf("load session: %w", err)
	}

	now := s.now()
	if session.UserID != claims.UserID || session.IsExpiredAt(now) {
		return models.ErrSessionNotFound
	}

	if now.Sub(session.LastActivityAt) >= SessionTouchInterval {
		if err := s.repo.Touch(ctx, claims.ID, now, SessionTouchInterval); err != nil {
			s.logger.Warn("failed to record session activity", slog.Any("error", err))
		}
	}
	return nil
}

// List returns the user's live sessions annotated for display, and a
// summary of them. currentTokenID marks the caller's own session.
func (s *SessionService) List(ctx context.Context, userID, currentTokenID string) ([]models.SessionView, *models.SessionStats, error) {
	sessions, err := s.repo.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, nil, fmt.Errorf("list sessions: %w", err)
	}

	views := make([]models.SessionView, 0, len(sessions))
	stats := &models.SessionStats{ByDevice: make(map[string]int)}
	for _, session := range sessions {
		info := device.Parse(session.UserAgent)
		name := session.DeviceName
		if name == "" {
			name = info.Name()
		}

		views = append(views, models.SessionView{
			ID:         session.ID,
			Device:     name,
			Browser:    info.Browser,
			OS:         info.OS,
			DeviceType: info.Type,
			Address:    pkglogger.MaskIP(session.IPAddress),
			LastActive: session.LastActivityAt,
			CreatedAt:  session.CreatedAt,
			ExpiresAt:  session.ExpiresAt,
			Current:    session.TokenID == currentTokenID,
		})

		stats.Total++
		stats.ByDevice[info.Type]++
		if stats.OldestStart == nil || session.CreatedAt.Before(*stats.OldestStart) {
			created := session.CreatedAt
			stats.OldestStart = &created
		}
	}
	return views, stats, nil
}

// Revoke deletes one of the user's sessions. The session carrying the
// caller's own credential cannot be revoked this way.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID, currentTokenID string) error {
	session, err := s.repo.GetForUser(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionNotFound
		}
		return fmt.Errorf("load session: %w", err)
	}
	if session.TokenID == currentTokenID {
		return models.ErrCannotRevokeCurrentSession
	}

	if err := s.repo.DeleteForUser(ctx, sessionID, userID); err != nil {
		return err
	}

	s.events.Record(ctx, newEvent(models.EventSessionRevoked, models.SeverityInfo, strPtr(userID), session.IPAddress, "",
		models.EventMetadata{"session_id": sessionID}))
	return nil
}

// RevokeAll deletes every session of the user except the one bound to
// exceptTokenID (empty revokes all).
func (s *SessionService) RevokeAll(ctx context.Context, userID, exceptTokenID string) (int64, error) {
	n, err := s.repo.DeleteAllForUser(ctx, userID, exceptTokenID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	s.events.Record(ctx, newEvent(models.EventAllSessionsRevoked, models.SeverityInfo, strPtr(userID), "", "",
		models.EventMetadata{"count": n, "kept_current": exceptTokenID != ""}))
	return n, nil
}

// RevokeByTokenID deletes the session of one access credential. It is a
// no-op when the session is already gone.
func (s *SessionService) RevokeByTokenID(ctx context.Context, tokenID string) error {
	if _, err := s.repo.DeleteByTokenID(ctx, tokenID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeFamily deletes every session minted from one refresh lineage.
func (s *SessionService) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	n, err := s.repo.DeleteByRefreshFamily(ctx, familyID)
	if err != nil {
		return 0, fmt.Errorf("revoke lineage sessions: %w", err)
	}
	return n, nil
}
