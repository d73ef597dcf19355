package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// MeterName is the instrumentation scope used for OpenTelemetry metrics
const MeterName = "github.com/platinummonkey/rebill"

// OTelMetrics records the billing metrics as OpenTelemetry instruments
type OTelMetrics struct {
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	due            metric.Int64Gauge
	outcomes       metric.Int64Counter
	collected      metric.Float64Counter
	charges        metric.Int64Counter
	chargeDuration metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on meter, usually otel.Meter(MeterName)
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"rebill.runs",
		metric.WithDescription("Total number of billing runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	m.runDuration, err = meter.Float64Histogram(
		"rebill.run.duration",
		metric.WithDescription("Billing run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	m.due, err = meter.Int64Gauge(
		"rebill.run.due",
		metric.WithDescription("Number of occurrences due in the last run"),
		metric.WithUnit("{occurrence}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create due gauge: %w", err)
	}

	m.outcomes, err = meter.Int64Counter(
		"rebill.outcomes",
		metric.WithDescription("Processed occurrences by outcome"),
		metric.WithUnit("{occurrence}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcomes counter: %w", err)
	}

	m.collected, err = meter.Float64Counter(
		"rebill.collected",
		metric.WithDescription("Amount collected by currency"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collected counter: %w", err)
	}

	m.charges, err = meter.Int64Counter(
		"rebill.gateway.charges",
		metric.WithDescription("Gateway charge attempts"),
		metric.WithUnit("{charge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create charges counter: %w", err)
	}

	m.chargeDuration, err = meter.Float64Histogram(
		"rebill.gateway.charge.duration",
		metric.WithDescription("Gateway charge latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create charge duration histogram: %w", err)
	}

	return m, nil
}

// ObserveOutcome records one processed occurrence
func (m *OTelMetrics) ObserveOutcome(o billing.Outcome) {
	ctx := context.Background()
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(o.Kind))))
	if o.Collected() {
		m.collected.Add(ctx, o.Amount.InexactFloat64(), metric.WithAttributes(attribute.String("currency", o.Currency)))
	}
}

// ObserveRun records a finished run
func (m *OTelMetrics) ObserveRun(result *billing.RunResult) {
	ctx := context.Background()
	status := "completed"
	if result.Aborted != "" {
		status = "aborted"
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("dry_run", strconv.FormatBool(result.DryRun)),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, result.FinishedAt.Sub(result.StartedAt).Seconds(), attrs)
	m.due.Record(ctx, int64(result.Due))
}

// ObserveCharge records one gateway call
func (m *OTelMetrics) ObserveCharge(provider, result string, elapsed time.Duration) {
	ctx := context.Background()
	m.charges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	))
	m.chargeDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
}

// Observers fans run and charge observations out to several recorders
type Observers []interface {
	billing.RunObserver
	ObserveCharge(provider, result string, elapsed time.Duration)
}

func (o Observers) ObserveOutcome(outcome billing.Outcome) {
	for _, obs := range o {
		obs.ObserveOutcome(outcome)
	}
}

func (o Observers) ObserveRun(result *billing.RunResult) {
	for _, obs := range o {
		obs.ObserveRun(result)
	}
}

func (o Observers) ObserveCharge(provider, result string, elapsed time.Duration) {
	for _, obs := range o {
		obs.ObserveCharge(provider, result, elapsed)
	}
}
