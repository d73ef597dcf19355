package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestShutdownOTel(t *testing.T) {
	t.Run("nil providers", func(t *testing.T) {
		assert.NoError(t, ShutdownOTel(context.Background(), nil, quietLogger()))
	})

	t.Run("local providers", func(t *testing.T) {
		providers := &OTelProviders{
			TracerProvider: sdktrace.NewTracerProvider(),
			MeterProvider:  sdkmetric.NewMeterProvider(),
		}
		assert.NoError(t, ShutdownOTel(context.Background(), providers, quietLogger()))
	})
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), OTelConfig{ServiceName: "rebill", ServiceVersion: "1.0.0"})
	require.NoError(t, err)

	names := map[string]string{}
	for _, kv := range res.Attributes() {
		names[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "rebill", names["service.name"])
	assert.Equal(t, "1.0.0", names["service.version"])
}
