package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/platinummonkey/rebill/pkg/billing"
)

func newTestOTelMetrics(t *testing.T) (*OTelMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewOTelMetrics(provider.Meter(MeterName))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func intSumFor(t *testing.T, data metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestOTelMetrics_Outcomes(t *testing.T) {
	m, reader := newTestOTelMetrics(t)

	m.ObserveOutcome(billing.Outcome{Kind: billing.OutcomeSuccess, Amount: decimal.RequireFromString("12.50"), Currency: "USD"})
	m.ObserveOutcome(billing.Outcome{Kind: billing.OutcomeSuccess, Amount: decimal.RequireFromString("7.50"), Currency: "USD"})
	m.ObserveOutcome(billing.Outcome{Kind: billing.OutcomeSkippedNoCard})

	data := collect(t, reader)
	assert.Equal(t, int64(2), intSumFor(t, data["rebill.outcomes"], "kind", "success"))
	assert.Equal(t, int64(1), intSumFor(t, data["rebill.outcomes"], "kind", "skipped_no_card"))

	collected, ok := data["rebill.collected"].(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, collected.DataPoints, 1)
	assert.InDelta(t, 20.0, collected.DataPoints[0].Value, 0.0001)
}

func TestOTelMetrics_RunsAndCharges(t *testing.T) {
	m, reader := newTestOTelMetrics(t)

	m.ObserveRun(sampleRun())
	m.ObserveCharge("rest", "approved", time.Second)
	m.ObserveCharge("rest", "error", 2*time.Second)

	data := collect(t, reader)
	assert.Equal(t, int64(1), intSumFor(t, data["rebill.runs"], "status", "completed"))
	assert.Equal(t, int64(1), intSumFor(t, data["rebill.gateway.charges"], "result", "approved"))
	assert.Equal(t, int64(1), intSumFor(t, data["rebill.gateway.charges"], "result", "error"))

	due, ok := data["rebill.run.due"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, due.DataPoints, 1)
	assert.Equal(t, int64(2), due.DataPoints[0].Value)

	hist, ok := data["rebill.gateway.charge.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestObservers_FanOut(t *testing.T) {
	prom := NewMetrics(prometheus.NewRegistry())
	otelMetrics, reader := newTestOTelMetrics(t)
	observers := Observers{prom, otelMetrics}

	observers.ObserveOutcome(billing.Outcome{Kind: billing.OutcomeFailure})
	observers.ObserveRun(sampleRun())
	observers.ObserveCharge("stripe", "declined", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.OutcomesTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.GatewayChargesTotal.WithLabelValues("stripe", "declined")))

	data := collect(t, reader)
	assert.Equal(t, int64(1), intSumFor(t, data["rebill.outcomes"], "kind", "failure"))
	assert.Equal(t, int64(1), intSumFor(t, data["rebill.runs"], "status", "completed"))
}
