package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityEvent_RecordSwallowsStoreErrors(t *testing.T) {
	repo := &MockSecurityEventRepository{
		CreateFunc: func(ctx context.Context, e *models.SecurityEvent) error {
			return errors.New("insert failed")
		},
	}
	svc := NewSecurityEventService(repo, testLogger())

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), newEvent(models.EventAccountLocked, models.SeverityWarning, strPtr("u1"), testIP, "", nil))
	})
}

func TestSecurityEvent_ListClampsLimit(t *testing.T) {
	var got models.SecurityEventFilter
	repo := &MockSecurityEventRepository{
		ListFunc: func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
			got = filter
			return nil, nil
		},
	}
	svc := NewSecurityEventService(repo, testLogger())
	ctx := context.Background()

	tests := []struct {
		name       string
		filter     models.SecurityEventFilter
		wantLimit  int
		wantOffset int
	}{
		{"default", models.SecurityEventFilter{}, 50, 0},
		{"capped", models.SecurityEventFilter{Limit: 10000}, 500, 0},
		{"negative offset", models.SecurityEventFilter{Limit: 20, Offset: -5}, 20, 0},
		{"passthrough", models.SecurityEventFilter{Limit: 20, Offset: 40}, 20, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, got.Limit)
			assert.Equal(t, tt.wantOffset, got.Offset)
		})
	}
}

func TestSecurityEvent_ListNewestFirstAndFiltered(t *testing.T) {
	repo := &MockSecurityEventRepository{}
	svc := NewSecurityEventService(repo, testLogger())
	ctx := context.Background()

	svc.Record(ctx, newEvent(models.EventLoginFailed, models.SeverityWarning, nil, testIP, "", nil))
	svc.Record(ctx, newEvent(models.EventAccountLocked, models.SeverityWarning, strPtr("u1"), testIP, "", nil))
	svc.Record(ctx, newEvent(models.EventRefreshTokenReuse, models.SeverityCritical, strPtr("u1"), testIP, "", nil))

	all, err := svc.List(ctx, models.SecurityEventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.EventRefreshTokenReuse, all[0].Type)

	warnings, err := svc.List(ctx, models.SecurityEventFilter{Severity: models.SeverityWarning})
	require.NoError(t, err)
	assert.Len(t, warnings, 2)

	bySeverity, byType, err := svc.CountsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, bySeverity[models.SeverityWarning])
	assert.Equal(t, 1, bySeverity[models.SeverityCritical])
	assert.Equal(t, 1, byType[models.EventAccountLocked])
}

func TestSecurityEvent_ListStoreError(t *testing.T) {
	repo := &MockSecurityEventRepository{
		ListFunc: func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
			return nil, errors.New("timeout")
		},
	}
	_, err := NewSecurityEventService(repo, testLogger()).List(context.Background(), models.SecurityEventFilter{})
	assert.ErrorContains(t, err, "list security events")
}
