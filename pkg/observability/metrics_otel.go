package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the decision and usage counters onto OpenTelemetry
// instruments, exported through the OTLP pipeline when it is enabled. The
// Prometheus metrics stay authoritative for scraping; these exist for
// deployments that ship telemetry to a collector instead.
type OTelMetrics struct {
	decisionsTotal   metric.Int64Counter
	decisionDuration metric.Float64Histogram
	usageRecorded    metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the globally registered meter
// provider. Safe to call before InitOTel; instruments on the default no-op
// provider simply discard.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/scoutline/entitlements")

	m := &OTelMetrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"entitlements.decisions.total",
		metric.WithDescription("Total number of entitlement decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"entitlements.decision.duration",
		metric.WithDescription("Entitlement decision duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	m.usageRecorded, err = meter.Int64Counter(
		"entitlements.usage.recorded.total",
		metric.WithDescription("Total number of usage units recorded"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage counter: %w", err)
	}

	return m, nil
}

// RecordEntitlementDecision records one decision with its evaluation latency
func (m *OTelMetrics) RecordEntitlementDecision(ctx context.Context, requirement, reason string, allowed bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("entitlements.requirement", requirement),
		attribute.String("entitlements.reason", reason),
		attribute.Bool("entitlements.allowed", allowed),
	)
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.decisionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordUsageUnits records units consumed against a metered limit
func (m *OTelMetrics) RecordUsageUnits(ctx context.Context, meterName string, units int64) {
	m.usageRecorded.Add(ctx, units, metric.WithAttributes(
		attribute.String("entitlements.metric", meterName),
	))
}
