package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func TestMetrics_RecordsWithAttributes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordLogin(ctx, "success")
	m.RecordLogin(ctx, "success")
	m.RecordLogin(ctx, "invalid_credentials")
	m.RecordReuse(ctx)
	m.RecordRateLimited(ctx, "login")

	sums := collect(t, reader)

	logins := sums["auth.login.attempts"]
	require.Len(t, logins.DataPoints, 2)
	byOutcome := map[string]int64{}
	for _, dp := range logins.DataPoints {
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		byOutcome[outcome.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), byOutcome["success"])
	assert.Equal(t, int64(1), byOutcome["invalid_credentials"])

	require.Len(t, sums["auth.refresh.reuse"].DataPoints, 1)
	assert.Equal(t, int64(1), sums["auth.refresh.reuse"].DataPoints[0].Value)
	require.Len(t, sums["ratelimit.denied"].DataPoints, 1)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordLogin(ctx, "success")
		m.RecordLockout(ctx)
		m.RecordRateLimited(ctx, "login")
		m.RecordBlock(ctx, "brute_force")
		m.RecordRefresh(ctx, "rotated")
		m.RecordReuse(ctx)
		m.RecordSecondFactor(ctx, "totp", "success")
	})
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mp, err := NewMeterProvider(context.Background(), config.TelemetryConfig{MetricsEnabled: false}, logger)
	require.NoError(t, err)
	require.NotNil(t, mp)

	_, err = NewMetrics(mp)
	assert.NoError(t, err)
	assert.NoError(t, mp.Shutdown(context.Background()))
}
