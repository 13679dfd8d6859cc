package models

import "time"

// LockoutStatus is the derived lockout window for one identity.
type LockoutStatus struct {
	IsLocked          bool       `json:"is_locked"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	LockoutExpiresAt  *time.Time `json:"lockout_expires_at,omitempty"`
}

// LockoutResult is what a single recorded failure produced.
type LockoutResult struct {
	FailedAttemptCount int
	Triggered          bool
	LockoutExpiresAt   *time.Time
	LockoutCount       int
}

// LockedAccount is an admin view row for an identity under lockout.
type LockedAccount struct {
	UserID             string    `json:"user_id"`
	Email              string    `json:"email"`
	FailedAttemptCount int       `json:"failed_attempt_count"`
	LockedAt           time.Time `json:"locked_at"`
	LockoutExpiresAt   time.Time `json:"lockout_expires_at"`
	LockoutCount       int       `json:"lockout_count"`
}

// LockoutPolicy holds the thresholds applied when a failure is recorded.
type LockoutPolicy struct {
	MaxAttempts   int
	AttemptWindow time.Duration
	BaseDuration  time.Duration
	MaxDuration   time.Duration
	Progressive   bool
}

// LockoutStreakWindow is how far back earlier lockouts count toward progressive backoff.
const LockoutStreakWindow = 24 * time.Hour

// DurationFor returns the length of the nth lockout (1-based) within the streak window.
func (p LockoutPolicy) DurationFor(n int) time.Duration {
	if !p.Progressive || n <= 1 {
		return p.BaseDuration
	}
	d := p.BaseDuration
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDuration {
			return p.MaxDuration
		}
	}
	return d
}
