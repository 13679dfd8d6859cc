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

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, password_hash, name, email_verified, role, status,
	failed_attempt_count, last_failed_attempt_at, locked_at, lockout_expires_at,
	lockout_count, last_lockout_at, password_changed_at, created_at, updated_at`

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash, &user.Name, &user.EmailVerified, &user.Role, &user.Status,
		&user.FailedAttemptCount, &user.LastFailedAttemptAt, &user.LockedAt, &user.LockoutExpiresAt,
		&user.LockoutCount, &user.LastLockoutAt, &user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}

	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, email_verified, role, status, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, passwordHash, user.Name, user.EmailVerified,
		user.Role, user.Status, user.PasswordChangedAt,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

// UpdatePassword stores a new password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	query := `UPDATE users SET password_hash = $2, password_changed_at = $3, updated_at = $3 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, passwordHash, changedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// The failure counter, trigger check, progressive duration and 24h streak are
// evaluated inside one UPDATE so concurrent failures for the same identity
// serialize on the row lock.
//
//	$1 id  $2 now  $3 window start  $4 max attempts
//	$5 base seconds  $6 max seconds  $7 progressive  $8 streak start
const (
	failedCountExpr = `(CASE
		WHEN last_failed_attempt_at IS NULL
			OR last_failed_attempt_at < $3::timestamptz
			OR (lockout_expires_at IS NOT NULL AND lockout_expires_at <= $2::timestamptz)
		THEN 1
		ELSE failed_attempt_count + 1
	END)`

	lockTriggerExpr = `(` + failedCountExpr + ` >= $4::int
		AND (lockout_expires_at IS NULL OR lockout_expires_at <= $2::timestamptz))`

	lockStreakExpr = `(CASE
		WHEN last_lockout_at IS NOT NULL AND last_lockout_at > $8::timestamptz THEN lockout_count + 1
		ELSE 1
	END)`

	lockSecondsExpr = `(CASE
		WHEN $7::boolean THEN LEAST($5::float8 * power(2, ` + lockStreakExpr + ` - 1), $6::float8)
		ELSE $5::float8
	END)`

	recordFailureQuery = `
		UPDATE users SET
			failed_attempt_count = ` + failedCountExpr + `,
			last_failed_attempt_at = $2::timestamptz,
			locked_at = CASE
				WHEN ` + lockTriggerExpr + ` THEN $2::timestamptz
				WHEN lockout_expires_at IS NOT NULL AND lockout_expires_at <= $2::timestamptz THEN NULL
				ELSE locked_at
			END,
			lockout_expires_at = CASE
				WHEN ` + lockTriggerExpr + ` THEN $2::timestamptz + make_interval(secs => ` + lockSecondsExpr + `)
				WHEN lockout_expires_at IS NOT NULL AND lockout_expires_at <= $2::timestamptz THEN NULL
				ELSE lockout_expires_at
			END,
			lockout_count = CASE WHEN ` + lockTriggerExpr + ` THEN ` + lockStreakExpr + ` ELSE lockout_count END,
			last_lockout_at = CASE WHEN ` + lockTriggerExpr + ` THEN $2::timestamptz ELSE last_lockout_at END,
			updated_at = $2::timestamptz
		WHERE id = $1
		RETURNING failed_attempt_count, lockout_expires_at, lockout_count,
			COALESCE(last_lockout_at = $2::timestamptz, false)`
)

// RecordFailedAttempt increments the failure counter and applies a lockout
// when the threshold is crossed.
func (r *UserRepository) RecordFailedAttempt(ctx context.Context, id string, policy models.LockoutPolicy, now time.Time) (*models.LockoutResult, error) {
	now = now.Truncate(time.Microsecond)

	var result models.LockoutResult
	err := r.pool.QueryRow(ctx, recordFailureQuery,
		id,
		now,
		now.Add(-policy.AttemptWindow),
		policy.MaxAttempts,
		policy.BaseDuration.Seconds(),
		policy.MaxDuration.Seconds(),
		policy.Progressive,
		now.Add(-models.LockoutStreakWindow),
	).Scan(&result.FailedAttemptCount, &result.LockoutExpiresAt, &result.LockoutCount, &result.Triggered)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &result, nil
}

// ResetFailedAttempts clears the counter and any lockout after a successful
// verification. The lockout streak is kept for progressive backoff.
func (r *UserRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	query := `
		UPDATE users SET failed_attempt_count = 0, last_failed_attempt_at = NULL,
			locked_at = NULL, lockout_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND (failed_attempt_count <> 0 OR lockout_expires_at IS NOT NULL OR last_failed_attempt_at IS NOT NULL)
	`
	_, err := r.pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// ClearExpiredLockout clears lockout fields only if the lockout has ended.
func (r *UserRepository) ClearExpiredLockout(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE users SET failed_attempt_count = 0, last_failed_attempt_at = NULL,
			locked_at = NULL, lockout_expires_at = NULL, updated_at = $2
		WHERE id = $1 AND lockout_expires_at IS NOT NULL AND lockout_expires_at <= $2
	`
	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// ClearExpiredLockouts is the sweeper variant of ClearExpiredLockout.
func (r *UserRepository) ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE users SET failed_attempt_count = 0, last_failed_attempt_at = NULL,
			locked_at = NULL, lockout_expires_at = NULL, updated_at = $1
		WHERE lockout_expires_at IS NOT NULL AND lockout_expires_at <= $1
	`
	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// Unlock clears all lockout state including the progressive streak.
func (r *UserRepository) Unlock(ctx context.Context, id string) error {
	query := `
		UPDATE users SET failed_attempt_count = 0, last_failed_attempt_at = NULL,
			locked_at = NULL, lockout_expires_at = NULL, lockout_count = 0,
			last_lockout_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListLocked returns identities whose lockout is still in force.
func (r *UserRepository) ListLocked(ctx context.Context, now time.Time, limit, offset int) ([]models.LockedAccount, error) {
	query := `
		SELECT id, email, failed_attempt_count, locked_at, lockout_expires_at, lockout_count
		FROM users
		WHERE lockout_expires_at > $1
		ORDER BY lockout_expires_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, now, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked users: %w", err)
	}

	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LockedAccount, error) {
		var a models.LockedAccount
		var lockedAt *time.Time
		err := row.Scan(&a.UserID, &a.Email, &a.FailedAttemptCount, &lockedAt, &a.LockoutExpiresAt, &a.LockoutCount)
		if lockedAt != nil {
			a.LockedAt = *lockedAt
		}
		return a, err
	})
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return accounts, nil
}

// CountLocked returns the number of identities currently locked out.
func (r *UserRepository) CountLocked(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE lockout_expires_at > $1`, now).Scan(&count)
	return count, database.MapPostgresError(err)
}
