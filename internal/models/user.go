package models

import (
	"time"
)

// Account statuses
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusDisabled  = "disabled"
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the identity record. The lockout fields are written only by the
// lockout tracker and the credential verifier.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string // empty for federated-only identities
	Name                string
	EmailVerified       bool
	Role                string
	Status              string
	FailedAttemptCount  int
	LastFailedAttemptAt *time.Time
	LockedAt            *time.Time
	LockoutExpiresAt    *time.Time
	LockoutCount        int        // lockouts in the current 24h streak
	LastLockoutAt       *time.Time // start of the most recent lockout
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsActive reports whether the account may authenticate at all.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// IsLockedAt reports whether a lockout is in force at the given instant.
func (u *User) IsLockedAt(now time.Time) bool {
	return u.LockoutExpiresAt != nil && u.LockoutExpiresAt.After(now)
}

// HasExpiredLockout reports whether lockout fields are still set although the
// lockout is over.
func (u *User) HasExpiredLockout(now time.Time) bool {
	return u.LockoutExpiresAt != nil && !u.LockoutExpiresAt.After(now)
}
