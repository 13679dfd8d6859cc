package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/observability"
	"github.com/google/uuid"
)

// Second factor methods
const (
	methodTOTP       = "totp"
	methodBackupCode = "backup_code"
)

// TwoFactorRepository defines the persistence operations for TOTP secrets
type TwoFactorRepository interface {
	UpsertPending(ctx context.Context, s *models.TwoFactorSecret) error
	GetByUserID(ctx context.Context, userID string) (*models.TwoFactorSecret, error)
	Enable(ctx context.Context, userID string, usedStep, now time.Time) error
	MarkUsed(ctx context.Context, userID string, step time.Time) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	Delete(ctx context.Context, userID string) error
}

// HandshakeRepository defines the persistence operations for handshake tokens
type HandshakeRepository interface {
	Create(ctx context.Context, h *models.HandshakeToken) error
	GetByID(ctx context.Context, id string) (*models.HandshakeToken, error)
	Consume(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error)
	RecordFailure(ctx context.Context, id string) (int, error)
}

// TwoFactorConfig holds second factor settings
type TwoFactorConfig struct {
	BackupCodeCount      int
	HandshakeMaxAttempts int
}

// TwoFactorService bridges a verified password to a full login through a
// short-lived handshake and a TOTP or backup code check.
type TwoFactorService struct {
	repo       TwoFactorRepository
	handshakes HandshakeRepository
	users      IdentityByID
	totp       *auth.TOTPManager
	tokens     *auth.TokenManager
	config     TwoFactorConfig
	events     EventRecorder
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(
	repo TwoFactorRepository,
	handshakes HandshakeRepository,
	users IdentityByID,
	totp *auth.TOTPManager,
	tokens *auth.TokenManager,
	config TwoFactorConfig,
	events EventRecorder,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *TwoFactorService {
	return &TwoFactorService{
		repo:       repo,
		handshakes: handshakes,
		users:      users,
		totp:       totp,
		tokens:     tokens,
		config:     config,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// secondFactorMatch is a code that verified but has not been consumed yet.
type secondFactorMatch struct {
	method   string
	step     time.Time
	codeHash string
}

// Setup generates a pending secret and a fresh set of backup codes. The
// second factor stays disabled until Enable confirms a code.
func (s *TwoFactorService) Setup(ctx context.Context, user *models.User) (*models.TwoFactorSetup, error) {
	generated, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.repo.UpsertPending(ctx, &models.TwoFactorSecret{
		UserID:          user.ID,
		SecretEncrypted: generated.Encrypted,
		SecretNonce:     generated.Nonce,
		BackupCodes:     hashes,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		if errors.Is(err, models.ErrTwoFactorAlreadyEnabled) {
			return nil, err
		}
		return nil, fmt.Errorf("store pending secret: %w", err)
	}

	s.logger.Info("two-factor setup started", slog.String("user_id", user.ID))
	return &models.TwoFactorSetup{
		Secret:      generated.Secret,
		QRCode:      generated.QRCode,
		OTPAuthURL:  generated.OTPAuthURL,
		BackupCodes: codes,
	}, nil
}

func (s *TwoFactorService) newBackupCodes() ([]string, []string, error) {
	codes, err := s.totp.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = auth.HashBackupCode(code)
	}
	return codes, hashes, nil
}

// Enable confirms the pending secret with a current TOTP code.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	secret, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if secret.Enabled {
		return models.ErrTwoFactorAlreadyEnabled
	}

	plain, err := s.totp.DecryptSecret(secret.SecretEncrypted, secret.SecretNonce)
	if err != nil {
		return fmt.Errorf("decrypt secret: %w", err)
	}
	step, ok, err := s.totp.VerifyCode(plain, code)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrInvalidSecondFactorCode
	}

	if err := s.repo.Enable(ctx, userID, step, s.now()); err != nil {
		if errors.Is(err, models.ErrTwoFactorAlreadyEnabled) {
			return err
		}
		return fmt.Errorf("enable second factor: %w", err)
	}

	s.events.Record(ctx, newEvent(models.EventTwoFactorEnabled, models.SeverityInfo, strPtr(userID), "", "", nil))
	return nil
}

// Status describes the user's second factor.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	secret, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.TwoFactorStatus{}, nil
		}
		return nil, fmt.Errorf("load second factor: %w", err)
	}
	return &models.TwoFactorStatus{
		Enabled:              secret.Enabled,
		Pending:              !secret.Enabled,
		BackupCodesRemaining: len(secret.BackupCodes),
		EnabledAt:            secret.EnabledAt,
		LastUsedAt:           secret.LastUsedAt,
	}, nil
}

// IsEnabled reports whether logins for userID need a second factor.
func (s *TwoFactorService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	secret, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load second factor: %w", err)
	}
	return secret.Enabled, nil
}

// BeginLogin issues the handshake token that stands in for a session until
// the second factor is presented.
func (s *TwoFactorService) BeginLogin(ctx context.Context, user *models.User, rememberMe bool, info models.DeviceInfo) (*auth.IssuedToken, error) {
	now := s.now()
	handshake := &models.HandshakeToken{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		RememberMe: rememberMe,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
		DeviceName: info.DeviceName,
		ExpiresAt:  now.Add(models.HandshakeTTL),
		CreatedAt:  now,
	}
	if err := s.handshakes.Create(ctx, handshake); err != nil {
		return nil, fmt.Errorf("store handshake: %w", err)
	}

	issued, err := s.tokens.GenerateHandshakeToken(handshake)
	if err != nil {
		return nil, fmt.Errorf("sign handshake: %w", err)
	}
	return issued, nil
}

// CompleteLogin redeems a handshake token with a TOTP or backup code. The
// code is matched first, including the TOTP replay guard, and a wrong or
// replayed code counts against the handshake until it is burned. Only a
// matching code consumes the handshake, and then the code itself.
func (s *TwoFactorService) CompleteLogin(ctx context.Context, handshakeToken, code string) (*models.User, *models.HandshakeToken, error) {
	claims, err := s.tokens.ValidateHandshakeToken(handshakeToken)
	if err != nil {
		return nil, nil, models.ErrHandshakeExpiredOrReused
	}

	handshake, err := s.handshakes.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrHandshakeExpiredOrReused
		}
		return nil, nil, fmt.Errorf("load handshake: %w", err)
	}
	now := s.now()
	if handshake.UserID != claims.UserID || !handshake.IsUsableAt(now, s.config.HandshakeMaxAttempts) {
		return nil, nil, models.ErrHandshakeExpiredOrReused
	}

	secret, err := s.load(ctx, handshake.UserID)
	if err != nil {
		return nil, nil, err
	}
	if !secret.Enabled {
		return nil, nil, models.ErrHandshakeExpiredOrReused
	}

	match, err := s.match(secret, code)
	if err != nil {
		return nil, nil, err
	}
	if match == nil {
		attempts, ferr := s.handshakes.RecordFailure(ctx, handshake.ID)
		if ferr != nil {
			s.logger.Error("failed to record handshake failure", slog.Any("error", ferr))
		}
		s.metrics.RecordSecondFactor(ctx, "unknown", "invalid")
		s.events.Record(ctx, newEvent(models.EventTwoFactorFailed, models.SeverityWarning, strPtr(handshake.UserID), handshake.IPAddress, handshake.UserAgent,
			models.EventMetadata{"attempts": attempts}))
		return nil, nil, models.ErrInvalidSecondFactorCode
	}

	consumed, err := s.handshakes.Consume(ctx, handshake.ID, now, s.config.HandshakeMaxAttempts)
	if err != nil {
		return nil, nil, fmt.Errorf("consume handshake: %w", err)
	}
	if !consumed {
		return nil, nil, models.ErrHandshakeExpiredOrReused
	}

	if err := s.consume(ctx, handshake.UserID, match); err != nil {
		s.metrics.RecordSecondFactor(ctx, match.method, "replayed")
		return nil, nil, err
	}

	user, err := s.users.GetByID(ctx, handshake.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("load identity: %w", err)
	}
	if !user.IsActive() {
		return nil, nil, models.ErrInvalidCredentials
	}

	s.metrics.RecordSecondFactor(ctx, match.method, "success")
	return user, handshake, nil
}

// Disable removes the second factor. A fresh code is required.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if err := s.verifyFresh(ctx, userID, code); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}

	s.events.Record(ctx, newEvent(models.EventTwoFactorDisabled, models.SeverityWarning, strPtr(userID), "", "", nil))
	return nil
}

// RegenerateBackupCodes replaces every backup code. A fresh code is required.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := s.verifyFresh(ctx, userID, code); err != nil {
		return nil, err
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}

	s.events.Record(ctx, newEvent(models.EventBackupCodesRegenerate, models.SeverityInfo, strPtr(userID), "", "", nil))
	return codes, nil
}

// verifyFresh checks and consumes a code for an enabled second factor.
func (s *TwoFactorService) verifyFresh(ctx context.Context, userID, code string) error {
	secret, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if !secret.Enabled {
		return models.ErrTwoFactorNotEnabled
	}

	match, err := s.match(secret, code)
	if err != nil {
		return err
	}
	if match == nil {
		s.events.Record(ctx, newEvent(models.EventTwoFactorFailed, models.SeverityWarning, strPtr(userID), "", "", nil))
		return models.ErrInvalidSecondFactorCode
	}
	return s.consume(ctx, userID, match)
}

func (s *TwoFactorService) load(ctx context.Context, userID string) (*models.TwoFactorSecret, error) {
	secret, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTwoFactorNotSetUp
		}
		return nil, fmt.Errorf("load second factor: %w", err)
	}
	return secret, nil
}

// match checks code against the secret without consuming anything. It
// returns nil for a wrong or replayed code.
func (s *TwoFactorService) match(secret *models.TwoFactorSecret, code string) (*secondFactorMatch, error) {
	switch {
	case auth.IsTOTPCode(code):
		plain, err := s.totp.DecryptSecret(secret.SecretEncrypted, secret.SecretNonce)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret: %w", err)
		}
		step, ok, err := s.totp.VerifyCode(plain, code)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		// a step that is not newer than the last accepted one is a replay
		if secret.LastUsedAt != nil && !step.After(*secret.LastUsedAt) {
			return nil, nil
		}
		return &secondFactorMatch{method: methodTOTP, step: step}, nil

	case auth.IsBackupCode(code):
		hash := auth.HashBackupCode(code)
		for _, stored := range secret.BackupCodes {
			if stored == hash {
				return &secondFactorMatch{method: methodBackupCode, codeHash: hash}, nil
			}
		}
		return nil, nil
	}
	return nil, nil
}

// consume marks a matched code used. Both paths are compare-and-swap
// updates, so a code wins at most once across concurrent requests.
func (s *TwoFactorService) consume(ctx context.Context, userID string, m *secondFactorMatch) error {
	var (
		ok  bool
		err error
	)
	switch m.method {
	case methodTOTP:
		ok, err = s.repo.MarkUsed(ctx, userID, m.step)
	case methodBackupCode:
		ok, err = s.repo.ConsumeBackupCode(ctx, userID, m.codeHash)
	}
	if err != nil {
		return fmt.Errorf("consume second factor: %w", err)
	}
	if !ok {
		return models.ErrInvalidSecondFactorCode
	}

	if m.method == methodBackupCode {
		s.events.Record(ctx, newEvent(models.EventBackupCodeUsed, models.SeverityInfo, strPtr(userID), "", "", nil))
	}
	return nil
}
