// Package observability wires OpenTelemetry metrics for the engine.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/bastion/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/BradenHooton/bastion"

// Metrics holds the counters the services record into. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	logins       metric.Int64Counter
	lockouts     metric.Int64Counter
	rateLimited  metric.Int64Counter
	blocks       metric.Int64Counter
	refreshes    metric.Int64Counter
	reuse        metric.Int64Counter
	secondFactor metric.Int64Counter
	swept        metric.Int64Counter
}

// NewMeterProvider builds the SDK provider. With metrics disabled the
// provider has no reader, so instruments are live but nothing is exported.
func NewMeterProvider(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.MetricsEnabled {
		logger.Info("otel metrics disabled")
		return sdkmetric.NewMeterProvider(), nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTLPEndpoint)
	return mp, nil
}

// NewMetrics registers the engine's instruments on provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.logins, "auth.login.attempts", "Credential verifications by outcome"},
		{&m.lockouts, "auth.lockouts", "Accounts locked after repeated failures"},
		{&m.rateLimited, "ratelimit.denied", "Requests denied by rate class"},
		{&m.blocks, "ratelimit.blocks", "Addresses blocked by reason"},
		{&m.refreshes, "auth.refresh.attempts", "Refresh token redemptions by outcome"},
		{&m.reuse, "auth.refresh.reuse", "Refresh token reuse detections"},
		{&m.secondFactor, "auth.second_factor.attempts", "Second factor verifications by method and outcome"},
		{&m.swept, "maintenance.swept", "Rows removed by the sweeper by task"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// RecordLogin counts a verification outcome such as "success",
// "invalid_credentials" or "locked".
func (m *Metrics) RecordLogin(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockouts.Add(ctx, 1)
}

func (m *Metrics) RecordRateLimited(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

func (m *Metrics) RecordBlock(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.blocks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordRefresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordReuse(ctx context.Context) {
	if m == nil {
		return
	}
	m.reuse.Add(ctx, 1)
}

func (m *Metrics) RecordSecondFactor(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	m.secondFactor.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// RecordSwept counts rows removed by one sweeper task.
func (m *Metrics) RecordSwept(ctx context.Context, task string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(ctx, n, metric.WithAttributes(attribute.String("task", task)))
}
