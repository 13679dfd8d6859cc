package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Credential verification errors. ErrInvalidCredentials covers unknown
// accounts, wrong secrets and inactive accounts alike.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrAddressBlocked     = errors.New("client address is blocked")
	ErrEmailNotVerified   = errors.New("email address not verified")
)

// Second factor errors
var (
	ErrSecondFactorRequired     = errors.New("second factor required")
	ErrInvalidSecondFactorCode  = errors.New("invalid second factor code")
	ErrHandshakeExpiredOrReused = errors.New("handshake token expired or already used")
	ErrTwoFactorNotSetUp        = errors.New("two-factor authentication has not been set up")
	ErrTwoFactorAlreadyEnabled  = errors.New("two-factor authentication is already enabled")
	ErrTwoFactorNotEnabled      = errors.New("two-factor authentication is not enabled")
)

// Token and session errors
var (
	ErrRefreshTokenInvalid        = errors.New("refresh token is invalid")
	ErrRefreshTokenExpired        = errors.New("refresh token has expired")
	ErrRefreshTokenRevoked        = errors.New("refresh token has been revoked")
	ErrSessionNotFound            = errors.New("session not found")
	ErrCannotRevokeCurrentSession = errors.New("cannot revoke the current session")
)

// LockoutError reports a locked identity together with when it unlocks.
type LockoutError struct {
	ExpiresAt         time.Time
	AttemptsRemaining int
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *LockoutError) Unwrap() error { return ErrAccountLocked }

// RetryAfter returns the remaining lock time relative to now, rounded up to a second.
func (e *LockoutError) RetryAfter(now time.Time) time.Duration {
	return ceilSeconds(e.ExpiresAt.Sub(now))
}

// RateLimitError reports an exhausted budget for one endpoint class.
type RateLimitError struct {
	Class   RateClass
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s for class %s", ErrRateLimited, e.Class)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	return ceilSeconds(e.ResetAt.Sub(now))
}

// AddressBlockedError reports a blocked client address.
type AddressBlockedError struct {
	Until time.Time
}

func (e *AddressBlockedError) Error() string { return ErrAddressBlocked.Error() }

func (e *AddressBlockedError) Unwrap() error { return ErrAddressBlocked }

func (e *AddressBlockedError) RetryAfter(now time.Time) time.Duration {
	return ceilSeconds(e.Until.Sub(now))
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
