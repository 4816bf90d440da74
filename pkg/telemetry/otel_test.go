package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("test-service")
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	m := GetGlobalMetrics()
	assert.NotNil(t, m.QuotesReceivedTotal)
	assert.NotNil(t, m.RollbackFailuresTotal)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestTelemetry_TraceOutput(t *testing.T) {
	var buf bytes.Buffer
	tel, err := SetupWithOptions("trace-service", Options{TraceOutput: &buf})
	require.NoError(t, err)

	_, span := GetTracer("test").Start(context.Background(), "execute_entry")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.Contains(t, buf.String(), "execute_entry")
}

func TestMetricsHolder_GaugeState(t *testing.T) {
	m := GetGlobalMetrics()
	m.SetConnectionUp("bybit", true)
	m.SetConnectionUp("bingx", false)
	m.SetSpread("BTC/USDT", 2.5, 0.12)
	m.SetBaselineSize("BTC/USDT", 60)
	m.SetOpenPositions(1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Equal(t, int64(1), m.connectionUpMap["bybit"])
	assert.Equal(t, int64(0), m.connectionUpMap["bingx"])
	assert.Equal(t, 2.5, m.zScoreMap["BTC/USDT"])
	assert.Equal(t, 0.12, m.netSpreadMap["BTC/USDT"])
	assert.Equal(t, int64(60), m.baselineMap["BTC/USDT"])
	assert.Equal(t, int64(1), m.openPositions)
}

func TestHelpers_NilInstruments(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		Inc(ctx, nil, attribute.String("exchange", "bybit"))
		AddFloat(ctx, nil, 1.5)
		Record(ctx, nil, 3)
	})
}
