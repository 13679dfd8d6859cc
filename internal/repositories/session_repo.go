package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository stores one row per issued access credential
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

const sessionColumns = `id, user_id, token_id, refresh_family_id, ip_address, user_agent, device_name,
	expires_at, last_activity_at, created_at`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.TokenID, &s.RefreshFamilyID, &s.IPAddress, &s.UserAgent, &s.DeviceName,
		&s.ExpiresAt, &s.LastActivityAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return sessions, nil
}

// Create inserts a session row
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sessions (id, user_id, token_id, refresh_family_id, ip_address, user_agent, device_name, expires_at, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.UserID, s.TokenID, s.RefreshFamilyID, s.IPAddress, s.UserAgent, s.DeviceName,
		s.ExpiresAt, s.LastActivityAt, s.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// GetByTokenID returns the session for an access credential
func (r *SessionRepository) GetByTokenID(ctx context.Context, tokenID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, tokenID))
}

// GetForUser returns a session only if it belongs to the user
func (r *SessionRepository) GetForUser(ctx context.Context, id, userID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_id = $2`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id, userID))
}

// ListActiveByUser returns unexpired sessions, most recently active first
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY last_activity_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessionRows(rows)
}

// Touch records activity, writing at most once per minInterval
func (r *SessionRepository) Touch(ctx context.Context, tokenID string, now time.Time, minInterval time.Duration) error {
	query := `UPDATE sessions SET last_activity_at = $2 WHERE token_id = $1 AND last_activity_at < $3`
	_, err := r.pool.Exec(ctx, query, tokenID, now, now.Add(-minInterval))
	return database.MapPostgresError(err)
}

// DeleteByTokenID removes the session for an access credential
func (r *SessionRepository) DeleteByTokenID(ctx context.Context, tokenID string) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token_id = $1`, tokenID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteForUser removes a session owned by the user
func (r *SessionRepository) DeleteForUser(ctx context.Context, id, userID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeleteAllForUser removes every session of the user except the one bound to exceptTokenID
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID, exceptTokenID string) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1 AND token_id <> $2`, userID, exceptTokenID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteByRefreshFamily removes sessions minted from a refresh lineage
func (r *SessionRepository) DeleteByRefreshFamily(ctx context.Context, familyID string) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE refresh_family_id = $1`, familyID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions past their expiry
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// CountActive returns the number of unexpired sessions
func (r *SessionRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE expires_at > $1`, now).Scan(&count)
	return count, database.MapPostgresError(err)
}
