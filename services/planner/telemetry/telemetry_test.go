// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
)

func clearOTelEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"POMCP_ENV", "OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	clearOTelEnv(t)
	cfg := DefaultConfig()

	assert.Equal(t, "pomcp", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	clearOTelEnv(t)
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("POMCP_ENV", "ci")

	cfg := DefaultConfig()
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "ci", cfg.Environment)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutExporters(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"
	cfg.Stdout = &out

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "select_action")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "select_action")
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"trace", func(c *Config) { c.TraceExporter = "zipkin"; c.MetricExporter = "none" }},
		{"metric", func(c *Config) { c.TraceExporter = "none"; c.MetricExporter = "statsd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := Init(context.Background(), cfg)
			assert.ErrorIs(t, err, ErrUnknownExporter)
		})
	}
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("telemetry_test").Int64Counter("pomcp_test_events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	h := MetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pomcp_test_events")
}

func TestLoggerWithTrace(t *testing.T) {
	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	tests := []struct {
		name      string
		ctx       context.Context
		wantTrace bool
	}{
		{"no span", context.Background(), false},
		{"nil context", nil, false},
		{"with span", trace.ContextWithSpanContext(context.Background(), spanCtx), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			LoggerWithTrace(tt.ctx, logger).Info("test message")

			out := buf.String()
			assert.Contains(t, out, "test message")
			if tt.wantTrace {
				assert.Contains(t, out, traceID.String())
				assert.Contains(t, out, spanID.String())
			} else {
				assert.NotContains(t, out, "trace_id")
			}
		})
	}

	assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
}

// collect reads every metric from reader.
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

// sumWhere adds the int64 sum points carrying attr.
func sumWhere(t *testing.T, data metricdata.Aggregation, attr attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "want Sum[int64], got %T", data)

	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
			total += dp.Value
		}
	}
	return total
}

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("telemetry_test"))
	require.NoError(t, err)
	return m, reader
}

func TestMetrics_RecordEpisode(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEpisode(ctx, EpisodeSample{
		Domain:           "rocksample",
		Steps:            10,
		FallbackSteps:    4,
		DiscountedReturn: 12.5,
		Elapsed:          2 * time.Second,
		OutOfParticles:   true,
	})
	m.RecordEpisode(ctx, EpisodeSample{Domain: "rocksample", Steps: 3, Terminated: true})

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumWhere(t, data["pomcp_episodes_total"], attribute.String("domain", "rocksample")))
	assert.Equal(t, int64(1), sumWhere(t, data["pomcp_episodes_total"], attribute.Bool("out_of_particles", true)))
	assert.Equal(t, int64(9), sumWhere(t, data["pomcp_episode_steps_total"], attribute.String("policy", "planner")))
	assert.Equal(t, int64(4), sumWhere(t, data["pomcp_episode_steps_total"], attribute.String("policy", "fallback")))

	hist, ok := data["pomcp_episode_discounted_return"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.InDelta(t, 12.5, hist.DataPoints[0].Sum, 1e-12)
}

func TestMetrics_NilRecordEpisode(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEpisode(context.Background(), EpisodeSample{Steps: 1})
	})
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	var meter metric.Meter = sdkmetric.NewMeterProvider().Meter("noop")
	m, err := NewMetrics(meter)
	require.NoError(t, err)
	assert.NotNil(t, m.EpisodesTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
}

func TestServe_Shutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := Serve("127.0.0.1:0", NewRouter(nil, nil), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
