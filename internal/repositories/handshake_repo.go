package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HandshakeRepository stores pending second-factor handshakes
type HandshakeRepository struct {
	pool *pgxpool.Pool
}

func NewHandshakeRepository(db *database.DB) *HandshakeRepository {
	return &HandshakeRepository{pool: db.Pool}
}

// Create inserts a handshake
func (r *HandshakeRepository) Create(ctx context.Context, h *models.HandshakeToken) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}

	query := `
		INSERT INTO handshake_tokens (id, user_id, remember_me, ip_address, user_agent, device_name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		h.ID, h.UserID, h.RememberMe, h.IPAddress, h.UserAgent, h.DeviceName, h.ExpiresAt, h.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// GetByID returns a handshake, or models.ErrNotFound
func (r *HandshakeRepository) GetByID(ctx context.Context, id string) (*models.HandshakeToken, error) {
	query := `
		SELECT id, user_id, remember_me, ip_address, user_agent, device_name,
			failed_attempts, expires_at, consumed_at, created_at
		FROM handshake_tokens WHERE id = $1
	`

	var h models.HandshakeToken
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&h.ID, &h.UserID, &h.RememberMe, &h.IPAddress, &h.UserAgent, &h.DeviceName,
		&h.FailedAttempts, &h.ExpiresAt, &h.ConsumedAt, &h.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &h, nil
}

// Consume marks a handshake used. Only one caller can win; false means the
// handshake was already consumed, expired or burned by failed attempts.
func (r *HandshakeRepository) Consume(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error) {
	query := `
		UPDATE handshake_tokens SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2 AND failed_attempts < $3
	`
	result, err := r.pool.Exec(ctx, query, id, now, maxAttempts)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// RecordFailure increments the wrong-code counter and returns its new value
func (r *HandshakeRepository) RecordFailure(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE handshake_tokens SET failed_attempts = failed_attempts + 1
		WHERE id = $1 AND consumed_at IS NULL
		RETURNING failed_attempts
	`
	var attempts int
	err := r.pool.QueryRow(ctx, query, id).Scan(&attempts)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

// DeleteStale removes handshakes that expired before the cutoff
func (r *HandshakeRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM handshake_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
