package models

import "time"

// Session is the durable record of one issued access credential. The
// credential is valid only while its row exists and has not expired.
type Session struct {
	ID              string
	UserID          string
	TokenID         string // jti of the access credential
	RefreshFamilyID *string
	IPAddress       string
	UserAgent       string
	DeviceName      string
	ExpiresAt       time.Time
	LastActivityAt  time.Time
	CreatedAt       time.Time
}

// IsExpiredAt reports whether the session has passed its expiry.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionView is a session annotated for display to its owner.
type SessionView struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Browser    string    `json:"browser"`
	OS         string    `json:"os"`
	DeviceType string    `json:"device_type"`
	Address    string    `json:"address"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

// SessionStats summarizes an identity's live sessions.
type SessionStats struct {
	Total       int            `json:"total"`
	ByDevice    map[string]int `json:"by_device_type"`
	OldestStart *time.Time     `json:"oldest_start,omitempty"`
}
