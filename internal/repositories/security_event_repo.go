package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository handles the append-only security event log
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

const securityEventColumns = `id, event_type, severity, user_id, ip_address, user_agent, metadata, created_at`

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := row.Scan(&e.ID, &e.Type, &e.Severity, &e.UserID, &e.IPAddress, &e.UserAgent, &e.Metadata, &e.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}

// Create appends an event
func (r *SecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (` + securityEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID, e.Type, e.Severity, e.UserID, e.IPAddress, e.UserAgent, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// List returns events matching the filter, newest first
func (r *SecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Type != "" {
		add("event_type = $%d", filter.Type)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}

	query := `SELECT ` + securityEventColumns + ` FROM security_events`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}

// CountsSince returns event counts grouped by severity and by type
func (r *SecurityEventRepository) CountsSince(ctx context.Context, since time.Time) (map[string]int, map[string]int, error) {
	query := `
		SELECT event_type, severity, COUNT(*)
		FROM security_events
		WHERE created_at >= $1
		GROUP BY event_type, severity
	`
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count security events: %w", err)
	}
	defer rows.Close()

	bySeverity := make(map[string]int)
	byType := make(map[string]int)
	for rows.Next() {
		var eventType, severity string
		var count int
		if err := rows.Scan(&eventType, &severity, &count); err != nil {
			return nil, nil, fmt.Errorf("failed to scan security event count: %w", err)
		}
		bySeverity[severity] += count
		byType[eventType] += count
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating security event counts: %w", err)
	}
	return bySeverity, byType, nil
}

// DeleteOlderThan prunes events older than the cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup security events: %w", err)
	}
	return result.RowsAffected(), nil
}
