package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covidseir/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestInitializeOTel_Defaults(t *testing.T) {
	providers, err := InitializeOTel(nil, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.Nil(t, providers.TracerProvider, "tracing is off by default")
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestInitializeOTel_MetricsDisabledUsesNoop(t *testing.T) {
	cfg := DefaultOTelConfig()
	cfg.EnableMetrics = false

	providers, err := InitializeOTel(cfg, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, providers.MeterProvider)
	assert.Nil(t, providers.PrometheusHTTP)

	metrics, err := CreateSimulationMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RecordRunStart(context.Background(), "Italy")
	metrics.RecordRunEnd(context.Background(), "Italy", "horizon", 10, time.Second, nil)
}

func TestInitializeOTel_TracingToWriter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultOTelConfig()
	cfg.EnableMetrics = false
	cfg.EnableTracing = true
	cfg.TraceWriter = &buf

	providers, err := InitializeOTel(cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, providers.TracerProvider)

	ctx, span := providers.Tracer.Start(context.Background(), "simulation.run")
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	RecordError(ctx, errors.New("boom"))
	span.End()

	require.NoError(t, providers.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "simulation.run")
	assert.Contains(t, buf.String(), "boom")
}

func TestInitializeOTel_UnsupportedExporter(t *testing.T) {
	cfg := DefaultOTelConfig()
	cfg.EnableTracing = true
	cfg.TraceExporter = "jaeger"

	_, err := InitializeOTel(cfg, quietLogger())
	assert.Error(t, err)
}

func TestSimulationMetrics_Exposed(t *testing.T) {
	providers, err := InitializeOTel(DefaultOTelConfig(), quietLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateSimulationMetrics(providers.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRunStart(ctx, "Italy")
	metrics.RecordRunEnd(ctx, "Italy", "horizon", 580, 250*time.Millisecond, nil)
	metrics.RecordJobEnqueued(ctx)
	metrics.RecordClientChange(ctx, 1)

	body := scrape(t, providers.PrometheusHTTP)
	assert.Contains(t, body, "seir_runs_started")
	assert.Contains(t, body, "seir_runs_finished")
	assert.Contains(t, body, "seir_run_steps")
	assert.Contains(t, body, "seir_jobs_enqueued")
	assert.Contains(t, body, `country="Italy"`)
	assert.Contains(t, body, `termination="horizon"`)
}

func TestSimulationMetrics_NilReceiver(t *testing.T) {
	var m *SimulationMetrics
	assert.NotPanics(t, func() {
		m.RecordRunStart(context.Background(), "Spain")
		m.RecordRunEnd(context.Background(), "Spain", "horizon", 1, time.Millisecond, errors.New("x"))
		m.RecordJobEnqueued(context.Background())
		m.RecordClientChange(context.Background(), -1)
	})
}

func TestOTelConfigFrom(t *testing.T) {
	cfg := OTelConfigFrom(config.TelemetryConfig{
		ServiceName:   "seir-test",
		Environment:   "ci",
		EnableMetrics: true,
	})
	assert.Equal(t, "seir-test", cfg.ServiceName)
	assert.Equal(t, "ci", cfg.Environment)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.True(t, cfg.EnableMetrics)
	assert.False(t, cfg.EnableTracing)
}
