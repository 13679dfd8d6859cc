package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/observability"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	"github.com/BradenHooton/bastion/pkg/device"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/google/uuid"
)

// RefreshTokenRepository defines the persistence operations for refresh tokens
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, next *models.RefreshToken, now time.Time) error
	Revoke(ctx context.Context, id, reason string, now time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID, exceptID, reason string, now time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)
}

// IdentityByID loads identities by id
type IdentityByID interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RefreshTTLConfig holds refresh token lifetimes
type RefreshTTLConfig struct {
	Normal     time.Duration
	RememberMe time.Duration
}

// IssuedRefreshToken is a newly minted refresh token. Secret is shown to the
// caller once and never stored.
type IssuedRefreshToken struct {
	Secret string
	Token  *models.RefreshToken
}

// RefreshTokenService issues, redeems, rotates and revokes refresh tokens.
// Every token belongs to a lineage (family); rotation extends the lineage
// and a replayed token revokes all of it.
type RefreshTokenService struct {
	repo     RefreshTokenRepository
	users    IdentityByID
	tokens   *auth.TokenManager
	sessions *SessionService
	ttl      RefreshTTLConfig
	events   EventRecorder
	notifier SecurityNotifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRefreshTokenService creates a new RefreshTokenService
func NewRefreshTokenService(
	repo RefreshTokenRepository,
	users IdentityByID,
	tokens *auth.TokenManager,
	sessions *SessionService,
	ttl RefreshTTLConfig,
	events EventRecorder,
	notifier SecurityNotifier,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *RefreshTokenService {
	return &RefreshTokenService{
		repo:     repo,
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		ttl:      ttl,
		events:   events,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *RefreshTokenService) ttlFor(rememberMe bool) time.Duration {
	if rememberMe {
		return s.ttl.RememberMe
	}
	return s.ttl.Normal
}

// Issue starts a new lineage for user.
func (s *RefreshTokenService) Issue(ctx context.Context, user *models.User, rememberMe bool, info models.DeviceInfo) (*IssuedRefreshToken, error) {
	secret, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	token := s.newToken(user.ID, uuid.New().String(), nil, rememberMe, secret, info, now)
	if err := s.repo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.logger.Info("refresh token issued",
		slog.String("user_id", user.ID),
		slog.Bool("remember_me", rememberMe))
	return &IssuedRefreshToken{Secret: secret, Token: token}, nil
}

func (s *RefreshTokenService) newToken(userID, familyID string, parentID *string, rememberMe bool, secret string, info models.DeviceInfo, now time.Time) *models.RefreshToken {
	deviceName := info.DeviceName
	if deviceName == "" {
		deviceName = device.Parse(info.UserAgent).Name()
	}
	return &models.RefreshToken{
		ID:         uuid.New().String(),
		UserID:     userID,
		TokenHash:  pkgauth.HashToken(secret),
		FamilyID:   familyID,
		ParentID:   parentID,
		RememberMe: rememberMe,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
		DeviceName: deviceName,
		ExpiresAt:  now.Add(s.ttlFor(rememberMe)),
		CreatedAt:  now,
	}
}

// Redeem validates a presented refresh token and returns the token row and
// its owner. Nothing is mutated on success.
//
// Errors: models.ErrRefreshTokenInvalid (unknown token, inactive owner),
// models.ErrRefreshTokenExpired (the token is revoked on the way),
// models.ErrRefreshTokenRevoked (a rotated token triggers lineage revocation).
func (s *RefreshTokenService) Redeem(ctx context.Context, secret string, info models.DeviceInfo) (*models.RefreshToken, *models.User, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil, models.ErrRefreshTokenInvalid
	}

	token, err := s.repo.GetByHash(ctx, pkgauth.HashToken(secret))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metrics.RecordRefresh(ctx, "invalid")
			return nil, nil, models.ErrRefreshTokenInvalid
		}
		return nil, nil, fmt.Errorf("load refresh token: %w", err)
	}

	now := s.now()
	if token.IsRevoked() {
		return nil, nil, s.revokedPresented(ctx, token, info)
	}
	if token.IsExpiredAt(now) {
		if _, err := s.repo.Revoke(ctx, token.ID, models.RevokeReasonExpired, now); err != nil {
			s.logger.Error("failed to revoke expired refresh token", slog.String("token_id", token.ID), slog.Any("error", err))
		}
		s.metrics.RecordRefresh(ctx, "expired")
		return nil, nil, models.ErrRefreshTokenExpired
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrRefreshTokenInvalid
		}
		return nil, nil, fmt.Errorf("load identity: %w", err)
	}
	if !user.IsActive() {
		s.metrics.RecordRefresh(ctx, "inactive")
		return nil, nil, models.ErrRefreshTokenInvalid
	}
	return token, user, nil
}

// revokedPresented handles a revoked token coming back. A token that was
// rotated away is a theft signal: the whole lineage and its sessions go.
func (s *RefreshTokenService) revokedPresented(ctx context.Context, token *models.RefreshToken, info models.DeviceInfo) error {
	if !token.RevokedFor(models.RevokeReasonRotated) && !token.RevokedFor(models.RevokeReasonReuseDetected) {
		s.metrics.RecordRefresh(ctx, "revoked")
		s.events.Record(ctx, newEvent(models.EventRefreshTokenRevoked, models.SeverityWarning, strPtr(token.UserID), info.IPAddress, info.UserAgent,
			models.EventMetadata{"token_id": token.ID, "revoked_reason": *token.RevokedReason}))
		return models.ErrRefreshTokenRevoked
	}

	s.revokeLineage(ctx, token, info)
	return models.ErrRefreshTokenRevoked
}

func (s *RefreshTokenService) revokeLineage(ctx context.Context, token *models.RefreshToken, info models.DeviceInfo) {
	now := s.now()
	revoked, err := s.repo.RevokeFamily(ctx, token.FamilyID, models.RevokeReasonReuseDetected, now)
	if err != nil {
		s.logger.Error("failed to revoke refresh lineage", slog.String("family_id", token.FamilyID), slog.Any("error", err))
	}
	sessions, err := s.sessions.RevokeFamily(ctx, token.FamilyID)
	if err != nil {
		s.logger.Error("failed to revoke lineage sessions", slog.String("family_id", token.FamilyID), slog.Any("error", err))
	}

	s.logger.Error("refresh token reuse detected",
		slog.String("user_id", token.UserID),
		slog.String("family_id", token.FamilyID),
		slog.String("ip_address", pkglogger.MaskIP(info.IPAddress)),
		slog.Int64("tokens_revoked", revoked),
		slog.Int64("sessions_revoked", sessions))
	s.metrics.RecordReuse(ctx)
	s.metrics.RecordRefresh(ctx, "reuse")
	s.events.Record(ctx, newEvent(models.EventRefreshTokenReuse, models.SeverityCritical, strPtr(token.UserID), info.IPAddress, info.UserAgent,
		models.EventMetadata{
			"token_id":         token.ID,
			"family_id":        token.FamilyID,
			"tokens_revoked":   revoked,
			"sessions_revoked": sessions,
		}))

	if user, err := s.users.GetByID(ctx, token.UserID); err == nil {
		s.notifier.RefreshTokenReuse(ctx, user, info.IPAddress)
	}
}

// Refresh mints a new access token and session from a refresh token. The
// refresh token itself stays valid.
func (s *RefreshTokenService) Refresh(ctx context.Context, secret string, info models.DeviceInfo) (*AuthResponse, error) {
	token, user, err := s.Redeem(ctx, secret, info)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.GenerateAccessToken(user, token.RememberMe)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	family := token.FamilyID
	if _, err := s.sessions.Create(ctx, user, access, info, &family); err != nil {
		return nil, err
	}

	s.metrics.RecordRefresh(ctx, "refreshed")
	return &AuthResponse{
		AccessToken: access.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int(s.tokens.AccessTokenExpiry().Seconds()),
	}, nil
}

// Rotate exchanges a refresh token for a new access token and a new refresh
// token in the same lineage.
//
// The old token and its owner are read and validated first, the access
// token and the successor are minted from that captured state, and only
// then is the old token revoked with a compare-and-swap inside the same
// transaction that stores the successor. Losing the swap means another
// request already rotated this token, which is handled as reuse.
func (s *RefreshTokenService) Rotate(ctx context.Context, secret string, info models.DeviceInfo) (*AuthResponse, error) {
	current, user, err := s.Redeem(ctx, secret, info)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.GenerateAccessToken(user, current.RememberMe)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	nextSecret, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now()
	parentID := current.ID
	next := s.newToken(user.ID, current.FamilyID, &parentID, current.RememberMe, nextSecret, info, now)

	if err := s.repo.Rotate(ctx, current.ID, next, now); err != nil {
		if errors.Is(err, models.ErrRefreshTokenRevoked) {
			s.revokeLineage(ctx, current, info)
			return nil, models.ErrRefreshTokenRevoked
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	family := current.FamilyID
	if _, err := s.sessions.Create(ctx, user, access, info, &family); err != nil {
		s.discard(ctx, next.ID)
		return nil, err
	}

	s.metrics.RecordRefresh(ctx, "rotated")
	s.logger.Info("refresh token rotated", slog.String("user_id", user.ID))
	return &AuthResponse{
		AccessToken:  access.Token,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int(s.tokens.AccessTokenExpiry().Seconds()),
		RefreshToken: nextSecret,
		RememberMe:   current.RememberMe,
	}, nil
}

// discard revokes a token whose session could not be created.
func (s *RefreshTokenService) discard(ctx context.Context, tokenID string) {
	if _, err := s.repo.Revoke(ctx, tokenID, models.RevokeReasonSessionIssue, s.now()); err != nil {
		s.logger.Error("failed to revoke orphaned refresh token", slog.String("token_id", tokenID), slog.Any("error", err))
	}
}

// Revoke revokes a presented refresh token owned by userID. Unknown tokens
// are ignored.
func (s *RefreshTokenService) Revoke(ctx context.Context, userID, secret string) error {
	token, err := s.repo.GetByHash(ctx, pkgauth.HashToken(strings.TrimSpace(secret)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load refresh token: %w", err)
	}
	if token.UserID != userID {
		return models.ErrForbidden
	}
	if _, err := s.repo.Revoke(ctx, token.ID, models.RevokeReasonLogout, s.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeByID revokes one of the owner's tokens by id.
func (s *RefreshTokenService) RevokeByID(ctx context.Context, userID, tokenID string) error {
	token, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("load refresh token: %w", err)
	}
	if token.UserID != userID {
		s.logger.Warn("refresh token revoke denied: not owner",
			slog.String("user_id", userID),
			slog.String("token_id", tokenID))
		return models.ErrForbidden
	}
	if token.IsRevoked() {
		return models.ErrNotFound
	}

	if _, err := s.repo.Revoke(ctx, tokenID, models.RevokeReasonUserRevoked, s.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every token of the user except exceptID (may be empty).
func (s *RefreshTokenService) RevokeAll(ctx context.Context, userID, exceptID, reason string) (int64, error) {
	if reason == "" {
		reason = models.RevokeReasonRevokeAll
	}
	n, err := s.repo.RevokeAllForUser(ctx, userID, exceptID, reason, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return n, nil
}

// List returns the owner's active refresh tokens.
func (s *RefreshTokenService) List(ctx context.Context, userID string) ([]models.RefreshTokenView, error) {
	tokens, err := s.repo.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}

	views := make([]models.RefreshTokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, models.RefreshTokenView{
			ID:         t.ID,
			Device:     t.DeviceName,
			Address:    pkglogger.MaskIP(t.IPAddress),
			RememberMe: t.RememberMe,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
		})
	}
	return views, nil
}
