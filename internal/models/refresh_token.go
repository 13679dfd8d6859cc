package models

import "time"

// Refresh token revocation reasons
const (
	RevokeReasonRotated       = "rotated"
	RevokeReasonReuseDetected = "reuse_detected"
	RevokeReasonExpired       = "expired"
	RevokeReasonLogout        = "logout"
	RevokeReasonUserRevoked   = "user_revoked"
	RevokeReasonRevokeAll     = "revoke_all"
	RevokeReasonPasswordReset = "password_changed"
	RevokeReasonSessionIssue  = "session_issue_failed"
)

// RefreshToken is one link in a rotation lineage. Only the SHA-256 hash of
// the opaque secret is stored.
type RefreshToken struct {
	ID            string
	UserID        string
	TokenHash     string
	FamilyID      string
	ParentID      *string
	RememberMe    bool
	IPAddress     string
	UserAgent     string
	DeviceName    string
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason *string
	ReplacedBy    *string
	CreatedAt     time.Time
}

// IsRevoked reports whether the token has been revoked for any reason.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpiredAt reports whether the token has passed its expiry.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// RevokedFor reports whether the token was revoked with the given reason.
func (t *RefreshToken) RevokedFor(reason string) bool {
	return t.RevokedReason != nil && *t.RevokedReason == reason
}

// RefreshTokenView is the owner-facing listing of a refresh token.
type RefreshTokenView struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Address    string    `json:"address"`
	RememberMe bool      `json:"remember_me"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
