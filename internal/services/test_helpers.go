package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
)

// MockUserRepository is an in-memory identity store. It implements
// UserRepository and LockoutRepository with the same lockout arithmetic as
// the SQL implementation. The Func fields override single methods.
type MockUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User

	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)
}

// NewMockUserRepository seeds the store with users.
func NewMockUserRepository(users ...*models.User) *MockUserRepository {
	m := &MockUserRepository{users: make(map[string]*models.User)}
	for _, u := range users {
		m.Put(u)
	}
	return m
}

// Put stores a copy of user.
func (m *MockUserRepository) Put(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	u := *user
	m.users[u.ID] = &u
}

// Snapshot returns a copy of the stored user, or nil.
func (m *MockUserRepository) Snapshot(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	c := *u
	return &c
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	if u := m.Snapshot(id); u != nil {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	if _, err := m.GetByEmail(ctx, user.Email); err == nil {
		return nil, models.ErrConflict
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.Put(user)
	return user, nil
}

func (m *MockUserRepository) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &changedAt
	return nil
}

func (m *MockUserRepository) RecordFailedAttempt(_ context.Context, id string, policy models.LockoutPolicy, now time.Time) (*models.LockoutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	lockoutOver := u.LockoutExpiresAt != nil && !u.LockoutExpiresAt.After(now)
	count := u.FailedAttemptCount + 1
	if u.LastFailedAttemptAt == nil || u.LastFailedAttemptAt.Before(now.Add(-policy.AttemptWindow)) || lockoutOver {
		count = 1
	}
	trigger := count >= policy.MaxAttempts && (u.LockoutExpiresAt == nil || lockoutOver)

	at := now
	u.FailedAttemptCount = count
	u.LastFailedAttemptAt = &at
	switch {
	case trigger:
		streak := 1
		if u.LastLockoutAt != nil && u.LastLockoutAt.After(now.Add(-models.LockoutStreakWindow)) {
			streak = u.LockoutCount + 1
		}
		expires := now.Add(policy.DurationFor(streak))
		u.LockedAt = &at
		u.LockoutExpiresAt = &expires
		u.LockoutCount = streak
		u.LastLockoutAt = &at
	case lockoutOver:
		u.LockedAt = nil
		u.LockoutExpiresAt = nil
	}

	result := &models.LockoutResult{
		FailedAttemptCount: count,
		Triggered:          trigger,
		LockoutCount:       u.LockoutCount,
	}
	if u.LockoutExpiresAt != nil {
		expires := *u.LockoutExpiresAt
		result.LockoutExpiresAt = &expires
	}
	return result, nil
}

func (m *MockUserRepository) ResetFailedAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.FailedAttemptCount = 0
		u.LastFailedAttemptAt = nil
		u.LockedAt = nil
		u.LockoutExpiresAt = nil
	}
	return nil
}

func (m *MockUserRepository) ClearExpiredLockout(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.LockoutExpiresAt == nil || u.LockoutExpiresAt.After(now) {
		return false, nil
	}
	u.FailedAttemptCount = 0
	u.LastFailedAttemptAt = nil
	u.LockedAt = nil
	u.LockoutExpiresAt = nil
	return true, nil
}

func (m *MockUserRepository) Unlock(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.FailedAttemptCount = 0
	u.LastFailedAttemptAt = nil
	u.LockedAt = nil
	u.LockoutExpiresAt = nil
	u.LockoutCount = 0
	u.LastLockoutAt = nil
	return nil
}

func (m *MockUserRepository) ListLocked(_ context.Context, now time.Time, limit, offset int) ([]models.LockedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LockedAccount
	for _, u := range m.users {
		if !u.IsLockedAt(now) {
			continue
		}
		out = append(out, models.LockedAccount{
			UserID:             u.ID,
			Email:              u.Email,
			FailedAttemptCount: u.FailedAttemptCount,
			LockedAt:           *u.LockedAt,
			LockoutExpiresAt:   *u.LockoutExpiresAt,
			LockoutCount:       u.LockoutCount,
		})
	}
	if offset >= len(out) {
		return []models.LockedAccount{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockUserRepository) CountLocked(ctx context.Context, now time.Time) (int, error) {
	locked, err := m.ListLocked(ctx, now, 1<<30, 0)
	return len(locked), err
}

// MockLoginAttemptRepository keeps login attempts in memory
type MockLoginAttemptRepository struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt

	RecordAttemptFunc func(ctx context.Context, attempt *models.LoginAttempt) error
	StatsFunc         func(ctx context.Context, since time.Time) (*models.LoginAttemptStats, error)
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := *attempt
	if a.AttemptTime.IsZero() {
		a.AttemptTime = time.Now()
	}
	m.attempts = append(m.attempts, a)
	return nil
}

// CountFailuresByIP ignores attempts rejected before verification, as the
// SQL implementation does.
func (m *MockLoginAttemptRepository) CountFailuresByIP(_ context.Context, ipAddress string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.IPAddress != ipAddress || a.Success || a.AttemptTime.Before(since) {
			continue
		}
		if a.FailureReason != nil && (*a.FailureReason == models.FailureReasonRateLimited || *a.FailureReason == models.FailureReasonAddressBlocked) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MockLoginAttemptRepository) Stats(ctx context.Context, since time.Time) (*models.LoginAttemptStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, since)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.LoginAttemptStats{}
	ips := make(map[string]struct{})
	for _, a := range m.attempts {
		if a.AttemptTime.Before(since) {
			continue
		}
		if a.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		if a.TriggeredLockout {
			stats.TriggeredLockout++
		}
		ips[a.IPAddress] = struct{}{}
	}
	stats.DistinctIPs = len(ips)
	return stats, nil
}

// Attempts returns a copy of every recorded attempt.
func (m *MockLoginAttemptRepository) Attempts() []models.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LoginAttempt(nil), m.attempts...)
}

// MockSessionRepository keeps sessions in memory keyed by token id
type MockSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.Session

	CreateFunc      func(ctx context.Context, s *models.Session) error
	CountActiveFunc func(ctx context.Context, now time.Time) (int, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, s *models.Session) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]*models.Session)
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	c := *s
	m.sessions[s.TokenID] = &c
	return nil
}

func (m *MockSessionRepository) GetByTokenID(_ context.Context, tokenID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *MockSessionRepository) GetForUser(_ context.Context, id, userID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id && s.UserID == userID {
			c := *s
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && !s.IsExpiredAt(now) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockSessionRepository) Touch(_ context.Context, tokenID string, now time.Time, minInterval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[tokenID]; ok && now.Sub(s.LastActivityAt) >= minInterval {
		s.LastActivityAt = now
	}
	return nil
}

func (m *MockSessionRepository) DeleteByTokenID(_ context.Context, tokenID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[tokenID]; !ok {
		return 0, nil
	}
	delete(m.sessions, tokenID)
	return 1, nil
}

func (m *MockSessionRepository) DeleteForUser(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tokenID, s := range m.sessions {
		if s.ID == id && s.UserID == userID {
			delete(m.sessions, tokenID)
			return nil
		}
	}
	return models.ErrSessionNotFound
}

func (m *MockSessionRepository) DeleteAllForUser(_ context.Context, userID, exceptTokenID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for tokenID, s := range m.sessions {
		if s.UserID == userID && tokenID != exceptTokenID {
			delete(m.sessions, tokenID)
			n++
		}
	}
	return n, nil
}

func (m *MockSessionRepository) DeleteByRefreshFamily(_ context.Context, familyID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for tokenID, s := range m.sessions {
		if s.RefreshFamilyID != nil && *s.RefreshFamilyID == familyID {
			delete(m.sessions, tokenID)
			n++
		}
	}
	return n, nil
}

func (m *MockSessionRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	if m.CountActiveFunc != nil {
		return m.CountActiveFunc(ctx, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !s.IsExpiredAt(now) {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (m *MockSessionRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MockRefreshTokenRepository keeps refresh tokens in memory. Rotate and
// Revoke are compare-and-swap under one lock like their SQL counterparts.
type MockRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken

	CreateFunc func(ctx context.Context, t *models.RefreshToken) error
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(t)
	return nil
}

func (m *MockRefreshTokenRepository) put(t *models.RefreshToken) {
	if m.tokens == nil {
		m.tokens = make(map[string]*models.RefreshToken)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	c := *t
	m.tokens[t.ID] = &c
}

func (m *MockRefreshTokenRepository) GetByHash(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash {
			c := *t
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) GetByID(_ context.Context, id string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *MockRefreshTokenRepository) Rotate(_ context.Context, oldID string, next *models.RefreshToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok || old.RevokedAt != nil {
		return models.ErrRefreshTokenRevoked
	}
	m.put(next)
	m.revoke(old, models.RevokeReasonRotated, now)
	old.ReplacedBy = &next.ID
	return nil
}

func (m *MockRefreshTokenRepository) revoke(t *models.RefreshToken, reason string, now time.Time) {
	at := now
	r := reason
	t.RevokedAt = &at
	t.RevokedReason = &r
}

func (m *MockRefreshTokenRepository) Revoke(_ context.Context, id, reason string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	m.revoke(t, reason, now)
	return true, nil
}

func (m *MockRefreshTokenRepository) RevokeFamily(_ context.Context, familyID, reason string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			m.revoke(t, reason, now)
			n++
		}
	}
	return n, nil
}

func (m *MockRefreshTokenRepository) RevokeAllForUser(_ context.Context, userID, exceptID, reason string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID && t.ID != exceptID && t.RevokedAt == nil {
			m.revoke(t, reason, now)
			n++
		}
	}
	return n, nil
}

func (m *MockRefreshTokenRepository) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RefreshToken
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil && !t.IsExpiredAt(now) {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockRefreshTokenRepository) CountActive(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.RevokedAt == nil && !t.IsExpiredAt(now) {
			n++
		}
	}
	return n, nil
}

// Family returns copies of every token of a lineage.
func (m *MockRefreshTokenRepository) Family(familyID string) []models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RefreshToken
	for _, t := range m.tokens {
		if t.FamilyID == familyID {
			out = append(out, *t)
		}
	}
	return out
}

// MockTwoFactorRepository keeps second factor secrets in memory
type MockTwoFactorRepository struct {
	mu      sync.Mutex
	secrets map[string]*models.TwoFactorSecret
}

func (m *MockTwoFactorRepository) UpsertPending(_ context.Context, s *models.TwoFactorSecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secrets == nil {
		m.secrets = make(map[string]*models.TwoFactorSecret)
	}
	if existing, ok := m.secrets[s.UserID]; ok && existing.Enabled {
		return models.ErrTwoFactorAlreadyEnabled
	}
	c := *s
	c.BackupCodes = append([]string(nil), s.BackupCodes...)
	m.secrets[s.UserID] = &c
	return nil
}

func (m *MockTwoFactorRepository) GetByUserID(_ context.Context, userID string) (*models.TwoFactorSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *s
	c.BackupCodes = append([]string(nil), s.BackupCodes...)
	return &c, nil
}

func (m *MockTwoFactorRepository) Enable(_ context.Context, userID string, usedStep, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[userID]
	if !ok || s.Enabled {
		return models.ErrTwoFactorAlreadyEnabled
	}
	s.Enabled = true
	s.EnabledAt = &now
	s.LastUsedAt = &usedStep
	return nil
}

func (m *MockTwoFactorRepository) MarkUsed(_ context.Context, userID string, step time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[userID]
	if !ok || (s.LastUsedAt != nil && !s.LastUsedAt.Before(step)) {
		return false, nil
	}
	s.LastUsedAt = &step
	return true, nil
}

func (m *MockTwoFactorRepository) ConsumeBackupCode(_ context.Context, userID, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[userID]
	if !ok || !s.Enabled {
		return false, nil
	}
	for i, h := range s.BackupCodes {
		if h == codeHash {
			s.BackupCodes = append(s.BackupCodes[:i], s.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockTwoFactorRepository) ReplaceBackupCodes(_ context.Context, userID string, codeHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[userID]
	if !ok || !s.Enabled {
		return models.ErrTwoFactorNotEnabled
	}
	s.BackupCodes = append([]string(nil), codeHashes...)
	return nil
}

func (m *MockTwoFactorRepository) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[userID]; !ok {
		return models.ErrNotFound
	}
	delete(m.secrets, userID)
	return nil
}

// MockHandshakeRepository keeps handshake tokens in memory
type MockHandshakeRepository struct {
	mu         sync.Mutex
	handshakes map[string]*models.HandshakeToken
}

func (m *MockHandshakeRepository) Create(_ context.Context, h *models.HandshakeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handshakes == nil {
		m.handshakes = make(map[string]*models.HandshakeToken)
	}
	c := *h
	m.handshakes[h.ID] = &c
	return nil
}

func (m *MockHandshakeRepository) GetByID(_ context.Context, id string) (*models.HandshakeToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handshakes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *h
	return &c, nil
}

func (m *MockHandshakeRepository) Consume(_ context.Context, id string, now time.Time, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handshakes[id]
	if !ok || !h.IsUsableAt(now, maxAttempts) {
		return false, nil
	}
	h.ConsumedAt = &now
	return true, nil
}

func (m *MockHandshakeRepository) RecordFailure(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handshakes[id]
	if !ok || h.ConsumedAt != nil {
		return 0, models.ErrNotFound
	}
	h.FailedAttempts++
	return h.FailedAttempts, nil
}

// Len returns the number of stored handshakes.
func (m *MockHandshakeRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handshakes)
}

// MockSecurityEventRepository records events in memory
type MockSecurityEventRepository struct {
	mu     sync.Mutex
	events []*models.SecurityEvent

	CreateFunc func(ctx context.Context, e *models.SecurityEvent) error
	ListFunc   func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.events = append(m.events, e)
	return nil
}

func (m *MockSecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MockSecurityEventRepository) CountsSince(_ context.Context, since time.Time) (map[string]int, map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySeverity := make(map[string]int)
	byType := make(map[string]int)
	for _, e := range m.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		bySeverity[e.Severity]++
		byType[e.Type]++
	}
	return bySeverity, byType, nil
}

// OfType returns recorded events of the given type, oldest first.
func (m *MockSecurityEventRepository) OfType(eventType string) []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityEvent
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// RecordingNotifier captures security notices
type RecordingNotifier struct {
	mu       sync.Mutex
	Locked   []string
	Unlocked []string
	Reuse    []string
}

func (n *RecordingNotifier) AccountLocked(_ context.Context, user *models.User, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Locked = append(n.Locked, user.ID)
}

func (n *RecordingNotifier) AccountUnlocked(_ context.Context, user *models.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Unlocked = append(n.Unlocked, user.ID)
}

func (n *RecordingNotifier) RefreshTokenReuse(_ context.Context, user *models.User, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Reuse = append(n.Reuse, user.ID)
}

// ReuseCount returns the number of reuse notices sent.
func (n *RecordingNotifier) ReuseCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Reuse)
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	mu   sync.Mutex
	Sent []Notification

	SendFunc func(ctx context.Context, n Notification) error
}

func (m *MockNotifier) Send(ctx context.Context, n Notification) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, n); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, n)
	return nil
}

// Messages returns a copy of every delivered notification.
func (m *MockNotifier) Messages() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.Sent...)
}

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{}, nil
}

// NewTestUser creates an active test user
func NewTestUser(id, email, name string) *models.User {
	now := time.Now()
	return &models.User{
		ID:            id,
		Email:         email,
		Name:          name,
		EmailVerified: true,
		Role:          models.RoleUser,
		Status:        models.UserStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
