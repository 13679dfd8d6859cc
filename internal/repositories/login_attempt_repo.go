package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
)

// LoginAttemptRepository handles the append-only login attempt log
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt appends a login attempt
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.AttemptTime.IsZero() {
		attempt.AttemptTime = time.Now()
	}

	query := `
		INSERT INTO login_attempts (id, user_id, email, ip_address, user_agent, success, failure_reason, triggered_lockout, attempt_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.UserID,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.FailureReason,
		attempt.TriggeredLockout,
		attempt.AttemptTime,
	)

	return database.MapPostgresError(err)
}

// CountFailuresByIP returns the number of failed credential checks from an
// address since a point in time. Requests turned away before the check
// (rate limited, blocked) are not counted.
func (r *LoginAttemptRepository) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
			AND COALESCE(failure_reason, '') NOT IN ('rate_limited', 'address_blocked')
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// Stats aggregates attempts since a point in time
func (r *LoginAttemptRepository) Stats(ctx context.Context, since time.Time) (*models.LoginAttemptStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COUNT(*) FILTER (WHERE triggered_lockout),
			COUNT(DISTINCT ip_address)
		FROM login_attempts
		WHERE attempt_time >= $1
	`

	var stats models.LoginAttemptStats
	err := r.db.Pool.QueryRow(ctx, query, since).Scan(
		&stats.Successful, &stats.Failed, &stats.TriggeredLockout, &stats.DistinctIPs,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &stats, nil
}

// DeleteOlderThan prunes attempts older than the cutoff
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempt_time < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
