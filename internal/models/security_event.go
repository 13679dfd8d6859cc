package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Security event types
const (
	EventLoginSucceeded        = "login_succeeded"
	EventLoginFailed           = "login_failed"
	EventAccountLocked         = "account_locked"
	EventAccountUnlocked       = "account_unlocked"
	EventBruteForceDetected    = "brute_force_detected"
	EventAddressBlocked        = "address_blocked"
	EventAddressUnblocked      = "address_unblocked"
	EventSuspiciousActivity    = "suspicious_activity"
	EventRateLimited           = "rate_limited"
	EventRefreshTokenReuse     = "refresh_token_reuse"
	EventRefreshTokenRevoked   = "refresh_token_revoked_presented"
	EventSessionRevoked        = "session_revoked"
	EventAllSessionsRevoked    = "all_sessions_revoked"
	EventTwoFactorEnabled      = "two_factor_enabled"
	EventTwoFactorDisabled     = "two_factor_disabled"
	EventTwoFactorFailed       = "two_factor_failed"
	EventBackupCodeUsed        = "backup_code_used"
	EventBackupCodesRegenerate = "backup_codes_regenerated"
	EventPasswordChanged       = "password_changed"
)

// Severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent is an append-only security record.
type SecurityEvent struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Severity  string        `json:"severity"`
	UserID    *string       `json:"user_id,omitempty"`
	IPAddress string        `json:"ip_address,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
	Metadata  EventMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// SecurityEventFilter narrows an event listing.
type SecurityEventFilter struct {
	Type     string
	Severity string
	UserID   string
	Since    *time.Time
	Limit    int
	Offset   int
}

// EventMetadata holds additional context for security events
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (em *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*em = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*em = EventMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (em EventMetadata) Value() (driver.Value, error) {
	if em == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(em))
}

// SecurityMetrics is the aggregate admin view.
type SecurityMetrics struct {
	Since               time.Time         `json:"since"`
	LoginAttempts       LoginAttemptStats `json:"login_attempts"`
	LockedAccounts      int               `json:"locked_accounts"`
	BlockedAddresses    int               `json:"blocked_addresses"`
	ActiveSessions      int               `json:"active_sessions"`
	ActiveRefreshTokens int               `json:"active_refresh_tokens"`
	EventsBySeverity    map[string]int    `json:"events_by_severity"`
	EventsByType        map[string]int    `json:"events_by_type"`
}
