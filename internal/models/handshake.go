package models

import "time"

// HandshakeTTL is how long a second-factor handshake stays redeemable.
const HandshakeTTL = 5 * time.Minute

// HandshakeToken carries "password verified, second factor pending" between
// two requests. It finalizes at most one login.
type HandshakeToken struct {
	ID             string
	UserID         string
	RememberMe     bool
	IPAddress      string
	UserAgent      string
	DeviceName     string
	FailedAttempts int
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	CreatedAt      time.Time
}

// IsUsableAt reports whether the handshake can still be redeemed.
func (h *HandshakeToken) IsUsableAt(now time.Time, maxAttempts int) bool {
	return h.ConsumedAt == nil && h.ExpiresAt.After(now) && h.FailedAttempts < maxAttempts
}
