package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

const tokenTypeBearer = "Bearer"

// UserRepository defines the identity operations used by login orchestration
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
}

// AuthResponse is returned by every operation that mints credentials. A
// second-factor challenge carries only the handshake fields.
type AuthResponse struct {
	AccessToken          string `json:"access_token,omitempty"`
	TokenType            string `json:"token_type,omitempty"`
	ExpiresIn            int    `json:"expires_in"`
	RefreshToken         string `json:"refresh_token,omitempty"`
	RememberMe           bool   `json:"remember_me,omitempty"`
	RequiresSecondFactor bool   `json:"requires_second_factor,omitempty"`
	HandshakeToken       string `json:"handshake_token,omitempty"`
}

// LoginRequest is a first-factor login.
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	Device     models.DeviceInfo
}

// AuthService composes the verifier, the second factor gate, the session
// registry and the refresh token manager into the login state machine.
type AuthService struct {
	users     UserRepository
	verifier  *CredentialVerifier
	twoFactor *TwoFactorService
	sessions  *SessionService
	refresh   *RefreshTokenService
	lockout   *LockoutService
	tokens    *auth.TokenManager
	hasher    *pkgauth.PasswordHasher
	events    EventRecorder
	audit     *pkglogger.AuditLogger
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	verifier *CredentialVerifier,
	twoFactor *TwoFactorService,
	sessions *SessionService,
	refresh *RefreshTokenService,
	lockout *LockoutService,
	tokens *auth.TokenManager,
	hasher *pkgauth.PasswordHasher,
	events EventRecorder,
	audit *pkglogger.AuditLogger,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		verifier:  verifier,
		twoFactor: twoFactor,
		sessions:  sessions,
		refresh:   refresh,
		lockout:   lockout,
		tokens:    tokens,
		hasher:    hasher,
		events:    events,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// Login verifies the password and either finalizes the login or, when a
// second factor is enabled, returns a handshake challenge.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := s.verifier.Verify(ctx, VerifyRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: req.Device.IPAddress,
		UserAgent: req.Device.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	enabled, err := s.twoFactor.IsEnabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if enabled {
		handshake, err := s.twoFactor.BeginLogin(ctx, user, req.RememberMe, req.Device)
		if err != nil {
			return nil, err
		}
		s.logger.Info("second factor required", slog.String("user_id", user.ID))
		return &AuthResponse{
			RequiresSecondFactor: true,
			HandshakeToken:       handshake.Token,
			ExpiresIn:            int(models.HandshakeTTL.Seconds()),
		}, nil
	}

	return s.finalize(ctx, user, req.RememberMe, req.Device)
}

// CompleteSecondFactor redeems a handshake and finalizes the login it was
// issued for.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, handshakeToken, code string, info models.DeviceInfo) (*AuthResponse, error) {
	user, handshake, err := s.twoFactor.CompleteLogin(ctx, handshakeToken, code)
	if err != nil {
		s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "second_factor_failed",
			IPAddress:     info.IPAddress,
			UserAgent:     info.UserAgent,
			FailureReason: err.Error(),
		})
		return nil, err
	}

	s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "second_factor_success",
		UserID:    user.ID,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		Success:   true,
	})
	if info.DeviceName == "" {
		info.DeviceName = handshake.DeviceName
	}
	return s.finalize(ctx, user, handshake.RememberMe, info)
}

// finalize mints the access token and its session, plus a refresh token
// when rememberMe is set.
func (s *AuthService) finalize(ctx context.Context, user *models.User, rememberMe bool, info models.DeviceInfo) (*AuthResponse, error) {
	access, err := s.tokens.GenerateAccessToken(user, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	resp := &AuthResponse{
		AccessToken: access.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int(s.tokens.AccessTokenExpiry().Seconds()),
	}

	var family *string
	var issued *IssuedRefreshToken
	if rememberMe {
		issued, err = s.refresh.Issue(ctx, user, true, info)
		if err != nil {
			return nil, err
		}
		family = &issued.Token.FamilyID
		resp.RefreshToken = issued.Secret
		resp.RememberMe = true
	}

	if _, err := s.sessions.Create(ctx, user, access, info, family); err != nil {
		if issued != nil {
			s.refresh.discard(ctx, issued.Token.ID)
		}
		return nil, err
	}

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.Bool("remember_me", rememberMe))
	return resp, nil
}

// Refresh mints a new access token from a refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, info models.DeviceInfo) (*AuthResponse, error) {
	return s.refresh.Refresh(ctx, refreshToken, info)
}

// RotateRefresh exchanges a refresh token for a new pair.
func (s *AuthService) RotateRefresh(ctx context.Context, refreshToken string, info models.DeviceInfo) (*AuthResponse, error) {
	return s.refresh.Rotate(ctx, refreshToken, info)
}

// Logout ends the caller's session and optionally revokes a refresh token.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if err := s.sessions.RevokeByTokenID(ctx, claims.ID); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.refresh.Revoke(ctx, claims.UserID, refreshToken); err != nil {
			return err
		}
	}
	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// LogoutAll ends every session and revokes every refresh token of the caller.
func (s *AuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims) error {
	sessions, err := s.sessions.RevokeAll(ctx, claims.UserID, "")
	if err != nil {
		return err
	}
	tokens, err := s.refresh.RevokeAll(ctx, claims.UserID, "", models.RevokeReasonRevokeAll)
	if err != nil {
		return err
	}
	s.audit.LogAccountAction(ctx, "logout_all", claims.UserID, "", revocationCounts(sessions, tokens))
	return nil
}

// Register creates an identity. A taken email is not reported to the caller.
func (s *AuthService) Register(ctx context.Context, email, password, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if err := pkgauth.ValidatePassword(password); err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	_, err = s.users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hashed,
		Name:         name,
		Role:         models.RoleUser,
		Status:       models.UserStatusActive,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration for existing email ignored")
			return nil
		}
		return fmt.Errorf("create identity: %w", err)
	}

	s.logger.Info("user registered", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}

// ChangePassword replaces the caller's password and signs out every other
// session and every refresh token.
func (s *AuthService) ChangePassword(ctx context.Context, claims *models.TokenClaims, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return err
	}
	if user.PasswordHash == "" {
		return models.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return models.ErrInvalidCredentials
		}
		return fmt.Errorf("compare password: %w", err)
	}
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed, s.now()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	sessions, err := s.sessions.RevokeAll(ctx, user.ID, claims.ID)
	if err != nil {
		return err
	}
	tokens, err := s.refresh.RevokeAll(ctx, user.ID, "", models.RevokeReasonPasswordReset)
	if err != nil {
		return err
	}

	s.events.Record(ctx, newEvent(models.EventPasswordChanged, models.SeverityInfo, strPtr(user.ID), "", "",
		models.EventMetadata{"sessions_revoked": sessions, "refresh_tokens_revoked": tokens}))
	s.audit.LogAccountAction(ctx, "password_changed", user.ID, "", revocationCounts(sessions, tokens))
	return nil
}

func revocationCounts(sessions, tokens int64) map[string]string {
	return map[string]string{
		"sessions_revoked":       strconv.FormatInt(sessions, 10),
		"refresh_tokens_revoked": strconv.FormatInt(tokens, 10),
	}
}

// IssueDeviceRefreshToken gives an authenticated caller a standard-lifetime
// refresh token for the current device.
func (s *AuthService) IssueDeviceRefreshToken(ctx context.Context, claims *models.TokenClaims, info models.DeviceInfo) (*AuthResponse, error) {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	issued, err := s.refresh.Issue(ctx, user, false, info)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		RefreshToken: issued.Secret,
		ExpiresIn:    int(issued.Token.ExpiresAt.Sub(s.now()).Seconds()),
	}, nil
}

// LockoutStatus answers the public lockout query.
func (s *AuthService) LockoutStatus(ctx context.Context, email string) (*models.LockoutStatus, error) {
	return s.lockout.PublicStatus(ctx, email)
}
