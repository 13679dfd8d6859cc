package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepository stores refresh tokens and their rotation lineage
type RefreshTokenRepository struct {
	db *database.DB
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, user_id, token_hash, family_id, parent_id, remember_me,
	ip_address, user_agent, device_name, expires_at, revoked_at, revoked_reason, replaced_by, created_at`

func scanRefreshTokenRow(scanner rowScanner) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := scanner.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.FamilyID, &t.ParentID, &t.RememberMe,
		&t.IPAddress, &t.UserAgent, &t.DeviceName, &t.ExpiresAt, &t.RevokedAt, &t.RevokedReason,
		&t.ReplacedBy, &t.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

const insertRefreshTokenQuery = `
	INSERT INTO refresh_tokens (id, user_id, token_hash, family_id, parent_id, remember_me,
		ip_address, user_agent, device_name, expires_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

func insertArgs(t *models.RefreshToken) []interface{} {
	return []interface{}{
		t.ID, t.UserID, t.TokenHash, t.FamilyID, t.ParentID, t.RememberMe,
		t.IPAddress, t.UserAgent, t.DeviceName, t.ExpiresAt, t.CreatedAt,
	}
}

// Create inserts the first token of a lineage
func (r *RefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := r.db.Pool.Exec(ctx, insertRefreshTokenQuery, insertArgs(t)...)
	return database.MapPostgresError(err)
}

// GetByHash looks a token up by the hash of its secret
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// GetByID looks a token up by its id
func (r *RefreshTokenRepository) GetByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE id = $1`
	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query, id))
}

// Rotate inserts next and revokes oldID in one transaction. The revoke is a
// compare-and-swap: if oldID was already revoked nothing is written and
// models.ErrRefreshTokenRevoked is returned.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, next *models.RefreshToken, now time.Time) error {
	if next.ID == "" {
		next.ID = uuid.New().String()
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRefreshTokenQuery, insertArgs(next)...); err != nil {
			return database.MapPostgresError(err)
		}

		result, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3, replaced_by = $4
			WHERE id = $1 AND revoked_at IS NULL
		`, oldID, now, models.RevokeReasonRotated, next.ID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrRefreshTokenRevoked
		}
		return nil
	})
}

// Revoke revokes one token if it is not revoked yet
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, id, now, reason)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// RevokeFamily revokes every unrevoked token of a lineage
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, now, reason)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// RevokeAllForUser revokes every unrevoked token of the user except exceptID (may be empty)
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, exceptID, reason string, now time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL
	`
	args := []interface{}{userID, now, reason}
	if exceptID != "" {
		query += ` AND id <> $4`
		args = append(args, exceptID)
	}

	result, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// ListActiveByUser returns the user's unrevoked, unexpired tokens
func (r *RefreshTokenRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		t, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tokens, nil
}

// CountActive returns the number of unrevoked, unexpired tokens
func (r *RefreshTokenRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE revoked_at IS NULL AND expires_at > $1`, now,
	).Scan(&count)
	return count, database.MapPostgresError(err)
}

// RevokeExpired marks expired, unrevoked tokens as revoked
func (r *RefreshTokenRepository) RevokeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1, revoked_reason = $2
		WHERE revoked_at IS NULL AND expires_at <= $1
	`, now, models.RevokeReasonExpired)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteRevokedBefore removes tokens revoked or expired before the cutoff.
// Rows are kept until then so that a replayed token is still recognized as
// reuse.
func (r *RefreshTokenRepository) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE (revoked_at IS NOT NULL AND revoked_at < $1) OR expires_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
