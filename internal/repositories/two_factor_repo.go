package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// TwoFactorRepository stores TOTP secrets and backup code hashes
type TwoFactorRepository struct {
	pool *pgxpool.Pool
}

func NewTwoFactorRepository(db *database.DB) *TwoFactorRepository {
	return &TwoFactorRepository{pool: db.Pool}
}

const twoFactorColumns = `user_id, secret_encrypted, secret_nonce, enabled, backup_codes,
	last_used_at, enabled_at, created_at, updated_at`

func scanTwoFactorRow(scanner rowScanner) (*models.TwoFactorSecret, error) {
	var s models.TwoFactorSecret
	err := scanner.Scan(
		&s.UserID, &s.SecretEncrypted, &s.SecretNonce, &s.Enabled, pq.Array(&s.BackupCodes),
		&s.LastUsedAt, &s.EnabledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// UpsertPending stores a new, not yet enabled secret. An enabled secret is
// never overwritten; models.ErrTwoFactorAlreadyEnabled is returned instead.
func (r *TwoFactorRepository) UpsertPending(ctx context.Context, s *models.TwoFactorSecret) error {
	query := `
		INSERT INTO two_factor_secrets (user_id, secret_encrypted, secret_nonce, enabled, backup_codes, created_at, updated_at)
		VALUES ($1, $2, $3, false, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			secret_nonce = EXCLUDED.secret_nonce,
			backup_codes = EXCLUDED.backup_codes,
			last_used_at = NULL,
			updated_at = EXCLUDED.updated_at
		WHERE two_factor_secrets.enabled = false
	`
	result, err := r.pool.Exec(ctx, query, s.UserID, s.SecretEncrypted, s.SecretNonce, pq.Array(s.BackupCodes), s.CreatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrTwoFactorAlreadyEnabled
	}
	return nil
}

// GetByUserID returns the user's secret, or models.ErrNotFound
func (r *TwoFactorRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorSecret, error) {
	query := `SELECT ` + twoFactorColumns + ` FROM two_factor_secrets WHERE user_id = $1`
	return scanTwoFactorRow(r.pool.QueryRow(ctx, query, userID))
}

// Enable flips a pending secret to enabled
func (r *TwoFactorRepository) Enable(ctx context.Context, userID string, usedStep, now time.Time) error {
	query := `
		UPDATE two_factor_secrets SET enabled = true, enabled_at = $2, last_used_at = $3, updated_at = $2
		WHERE user_id = $1 AND enabled = false
	`
	result, err := r.pool.Exec(ctx, query, userID, now, usedStep)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrTwoFactorAlreadyEnabled
	}
	return nil
}

// MarkUsed records the time step of an accepted code. It fails when a code
// from the same or a later step was already accepted, so each code is
// redeemable once.
func (r *TwoFactorRepository) MarkUsed(ctx context.Context, userID string, step time.Time) (bool, error) {
	query := `
		UPDATE two_factor_secrets SET last_used_at = $2, updated_at = NOW()
		WHERE user_id = $1 AND (last_used_at IS NULL OR last_used_at < $2)
	`
	result, err := r.pool.Exec(ctx, query, userID, step)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// ConsumeBackupCode removes a backup code hash if it is still present.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	query := `
		UPDATE two_factor_secrets SET backup_codes = array_remove(backup_codes, $2), updated_at = NOW()
		WHERE user_id = $1 AND enabled = true AND $2 = ANY(backup_codes)
	`
	result, err := r.pool.Exec(ctx, query, userID, codeHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// ReplaceBackupCodes swaps the full backup code set
func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	query := `UPDATE two_factor_secrets SET backup_codes = $2, updated_at = NOW() WHERE user_id = $1 AND enabled = true`
	result, err := r.pool.Exec(ctx, query, userID, pq.Array(codeHashes))
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrTwoFactorNotEnabled
	}
	return nil
}

// Delete removes the user's secret and backup codes
func (r *TwoFactorRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM two_factor_secrets WHERE user_id = $1`, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrTwoFactorNotEnabled
	}
	return nil
}
