package models

import "time"

// Failure reasons recorded on login attempts. They are never returned to callers.
const (
	FailureReasonUnknownAccount   = "unknown_account"
	FailureReasonInactiveAccount  = "inactive_account"
	FailureReasonNoPassword       = "no_password"
	FailureReasonInvalidPassword  = "invalid_password"
	FailureReasonAccountLocked    = "account_locked"
	FailureReasonEmailNotVerified = "email_not_verified"
	FailureReasonRateLimited      = "rate_limited"
	FailureReasonAddressBlocked   = "address_blocked"
	FailureReasonInvalidCode      = "invalid_second_factor"
)

// LoginAttempt is an immutable record of one verification attempt.
type LoginAttempt struct {
	ID               string     `db:"id"`
	UserID           *string    `db:"user_id"`
	Email            string     `db:"email"`
	IPAddress        string     `db:"ip_address"`
	UserAgent        string     `db:"user_agent"`
	Success          bool       `db:"success"`
	FailureReason    *string    `db:"failure_reason"`
	TriggeredLockout bool       `db:"triggered_lockout"`
	AttemptTime      time.Time  `db:"attempt_time"`
}

// LoginAttemptStats aggregates login attempts over a period for the admin metrics view
type LoginAttemptStats struct {
	Successful       int `json:"successful"`
	Failed           int `json:"failed"`
	TriggeredLockout int `json:"triggered_lockout"`
	DistinctIPs      int `json:"distinct_ips"`
}
