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
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// IdentityLookup loads identities by email
type IdentityLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginAttemptRecorder appends to the login attempt log
type LoginAttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
}

// VerifyRequest is one credential presentation.
type VerifyRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// CredentialVerifier runs the first-factor login pipeline: address block,
// login rate class, lockout, then the password itself.
type CredentialVerifier struct {
	users                    IdentityLookup
	attempts                 LoginAttemptRecorder
	lockout                  *LockoutService
	limiter                  *RateLimiterService
	hasher                   *pkgauth.PasswordHasher
	timing                   *auth.TimingDelay
	audit                    *pkglogger.AuditLogger
	metrics                  *observability.Metrics
	requireEmailVerification bool
	logger                   *slog.Logger
	now                      func() time.Time
}

// NewCredentialVerifier creates a new CredentialVerifier
func NewCredentialVerifier(
	users IdentityLookup,
	attempts LoginAttemptRecorder,
	lockout *LockoutService,
	limiter *RateLimiterService,
	hasher *pkgauth.PasswordHasher,
	timing *auth.TimingDelay,
	audit *pkglogger.AuditLogger,
	metrics *observability.Metrics,
	requireEmailVerification bool,
	logger *slog.Logger,
) *CredentialVerifier {
	return &CredentialVerifier{
		users:                    users,
		attempts:                 attempts,
		lockout:                  lockout,
		limiter:                  limiter,
		hasher:                   hasher,
		timing:                   timing,
		audit:                    audit,
		metrics:                  metrics,
		requireEmailVerification: requireEmailVerification,
		logger:                   logger,
		now:                      time.Now,
	}
}

// Verify checks a credential presentation and returns the verified identity.
//
// Errors: *models.AddressBlockedError, *models.RateLimitError,
// *models.LockoutError, models.ErrInvalidCredentials (unknown, inactive or
// wrong password), models.ErrEmailNotVerified when verification is
// enforced. Anything else is an internal failure.
func (v *CredentialVerifier) Verify(ctx context.Context, req VerifyRequest) (*models.User, error) {
	start := v.now()
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if err := v.limiter.CheckBlocked(ctx, req.IPAddress); err != nil {
		v.fail(ctx, nil, email, req, models.FailureReasonAddressBlocked, false)
		v.metrics.RecordLogin(ctx, "blocked")
		return nil, err
	}

	if _, err := v.limiter.Check(ctx, req.IPAddress, models.RateClassLogin); err != nil {
		v.fail(ctx, nil, email, req, models.FailureReasonRateLimited, false)
		v.metrics.RecordLogin(ctx, "rate_limited")
		return nil, err
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			v.logger.Error("failed to load identity", slog.Any("error", err))
			return nil, fmt.Errorf("lookup identity: %w", err)
		}
		return nil, v.reject(ctx, start, nil, email, req, models.FailureReasonUnknownAccount)
	}

	if err := v.lockout.Check(ctx, user); err != nil {
		v.fail(ctx, &user.ID, email, req, models.FailureReasonAccountLocked, false)
		v.metrics.RecordLogin(ctx, "locked")
		return nil, err
	}

	if !user.IsActive() {
		return nil, v.reject(ctx, start, &user.ID, email, req, models.FailureReasonInactiveAccount)
	}
	if user.PasswordHash == "" {
		return nil, v.reject(ctx, start, &user.ID, email, req, models.FailureReasonNoPassword)
	}

	if err := v.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		return nil, v.wrongPassword(ctx, start, user, email, req)
	}

	if v.requireEmailVerification && !user.EmailVerified {
		if err := v.lockout.Reset(ctx, user.ID); err != nil {
			v.logger.Error("failed to reset lockout counter", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		v.fail(ctx, &user.ID, email, req, models.FailureReasonEmailNotVerified, false)
		v.metrics.RecordLogin(ctx, "email_not_verified")
		v.timing.WaitFrom(ctx, start)
		return nil, models.ErrEmailNotVerified
	}

	if err := v.lockout.Reset(ctx, user.ID); err != nil {
		return nil, err
	}
	if err := v.attempts.RecordAttempt(ctx, &models.LoginAttempt{
		UserID:    &user.ID,
		Email:     email,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	}); err != nil {
		return nil, fmt.Errorf("record login attempt: %w", err)
	}

	v.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		Email:     email,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	})
	v.metrics.RecordLogin(ctx, "success")
	return user, nil
}

// wrongPassword records the failure against the identity and the address.
// The error escalates to a lockout only when this failure crossed the
// threshold.
func (v *CredentialVerifier) wrongPassword(ctx context.Context, start time.Time, user *models.User, email string, req VerifyRequest) error {
	result, err := v.lockout.RecordFailure(ctx, user, req.IPAddress, req.UserAgent)
	if err != nil {
		v.logger.Error("failed to record failed attempt", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	triggered := result != nil && result.Triggered && result.LockoutExpiresAt != nil

	v.fail(ctx, &user.ID, email, req, models.FailureReasonInvalidPassword, triggered)
	v.limiter.EvaluateFailure(ctx, req.IPAddress, req.UserAgent)
	v.timing.WaitFrom(ctx, start)

	if triggered {
		v.metrics.RecordLogin(ctx, "locked")
		return &models.LockoutError{ExpiresAt: *result.LockoutExpiresAt, AttemptsRemaining: 0}
	}
	v.metrics.RecordLogin(ctx, "invalid_credentials")
	return models.ErrInvalidCredentials
}

// reject handles identities that cannot authenticate at all. A dummy hash
// comparison keeps their timing in line with a wrong password.
func (v *CredentialVerifier) reject(ctx context.Context, start time.Time, userID *string, email string, req VerifyRequest, reason string) error {
	v.hasher.CompareDummy(req.Password)
	v.fail(ctx, userID, email, req, reason, false)
	v.limiter.EvaluateFailure(ctx, req.IPAddress, req.UserAgent)
	v.timing.WaitFrom(ctx, start)
	v.metrics.RecordLogin(ctx, "invalid_credentials")
	return models.ErrInvalidCredentials
}

// fail records a failed attempt. A store error is logged and does not
// change the outcome.
func (v *CredentialVerifier) fail(ctx context.Context, userID *string, email string, req VerifyRequest, reason string, triggeredLockout bool) {
	attempt := &models.LoginAttempt{
		UserID:           userID,
		Email:            email,
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
		Success:          false,
		FailureReason:    &reason,
		TriggeredLockout: triggeredLockout,
	}
	if err := v.attempts.RecordAttempt(ctx, attempt); err != nil {
		v.logger.Error("failed to record login attempt",
			slog.String("reason", reason),
			slog.Any("error", err))
	}

	event := pkglogger.AuditEvent{
		EventType:     "login_failed",
		Email:         email,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		FailureReason: reason,
	}
	if userID != nil {
		event.UserID = *userID
	}
	v.audit.LogAuthAttempt(ctx, event)
}
