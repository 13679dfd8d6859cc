package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

const (
	defaultEventListLimit = 50
	maxEventListLimit     = 500
)

// SecurityEventRepository defines the persistence operations for security events
type SecurityEventRepository interface {
	Create(ctx context.Context, e *models.SecurityEvent) error
	List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	CountsSince(ctx context.Context, since time.Time) (map[string]int, map[string]int, error)
}

// EventRecorder appends to the security event log. Recording never fails
// the operation that produced the event.
type EventRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent)
}

// SecurityEventService is the append-only security event log.
type SecurityEventService struct {
	repo   SecurityEventRepository
	logger *slog.Logger
}

// NewSecurityEventService creates a new SecurityEventService
func NewSecurityEventService(repo SecurityEventRepository, logger *slog.Logger) *SecurityEventService {
	return &SecurityEventService{repo: repo, logger: logger}
}

// Record persists the event. A store failure is logged at error level and
// otherwise ignored.
func (s *SecurityEventService) Record(ctx context.Context, event *models.SecurityEvent) {
	level := slog.LevelInfo
	switch event.Severity {
	case models.SeverityWarning:
		level = slog.LevelWarn
	case models.SeverityCritical:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("type", event.Type),
		slog.String("severity", event.Severity),
	}
	if event.UserID != nil {
		attrs = append(attrs, slog.String("user_id", *event.UserID))
	}
	s.logger.LogAttrs(ctx, level, "security event", attrs...)

	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.Error("failed to record security event",
			slog.String("type", event.Type),
			slog.Any("error", err))
	}
}

// List returns events matching filter, newest first.
func (s *SecurityEventService) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultEventListLimit
	case filter.Limit > maxEventListLimit:
		filter.Limit = maxEventListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}

// CountsSince aggregates events by severity and by type.
func (s *SecurityEventService) CountsSince(ctx context.Context, since time.Time) (map[string]int, map[string]int, error) {
	bySeverity, byType, err := s.repo.CountsSince(ctx, since)
	if err != nil {
		return nil, nil, fmt.Errorf("count security events: %w", err)
	}
	return bySeverity, byType, nil
}

func newEvent(eventType, severity string, userID *string, ip, userAgent string, metadata models.EventMetadata) *models.SecurityEvent {
	return &models.SecurityEvent{
		Type:      eventType,
		Severity:  severity,
		UserID:    userID,
		IPAddress: ip,
		UserAgent: userAgent,
		Metadata:  metadata,
	}
}

func strPtr(s string) *string {
	return &s
}
