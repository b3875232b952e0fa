// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// recordingProcessor keeps the body of every emitted log record.
type recordingProcessor struct {
	mu     sync.Mutex
	bodies []string
}

func (p *recordingProcessor) OnEmit(_ context.Context, r *sdklog.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, r.Body().AsString())
	return nil
}

func (p *recordingProcessor) Shutdown(context.Context) error   { return nil }
func (p *recordingProcessor) ForceFlush(context.Context) error { return nil }

func (p *recordingProcessor) Bodies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.bodies...)
}

func TestNewTelemetry(t *testing.T) {
	tel := NewTelemetry()
	require.NotNil(t, tel)
	assert.False(t, tel.initialized)
	assert.Nil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
}

func TestInitTelemetry(t *testing.T) {
	setup := SetupTestTelemetry(t, nil)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "lensqld"))
	assert.True(t, setup.Telemetry.initialized)
	assert.Equal(t, setup.Telemetry.GetTracerProvider(), otel.GetTracerProvider())
	assert.Equal(t, setup.Telemetry.GetMeterProvider(), otel.GetMeterProvider())

	_, span := otel.Tracer("test").Start(ctx, "run-batch")
	span.End()
	spans := setup.SpanExporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "run-batch", spans[0].Name)
	name, ok := spans[0].Resource.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "lensqld", name.AsString())

	counter, err := otel.Meter("test").Int64Counter("lensql.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 3)
	var rm metricdata.ResourceMetrics
	require.NoError(t, setup.MetricReader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	assert.Equal(t, "lensql.test.count", rm.ScopeMetrics[0].Metrics[0].Name)

	require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
	assert.False(t, setup.Telemetry.initialized)
}

func TestInitTelemetryServiceNameFromEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "lensqld-staging")
	setup := SetupTestTelemetry(t, nil)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "lensqld"))
	t.Cleanup(func() { require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx)) })

	_, span := otel.Tracer("test").Start(ctx, "op")
	span.End()
	spans := setup.SpanExporter.GetSpans()
	require.Len(t, spans, 1)
	name, _ := spans[0].Resource.Set().Value(semconv.ServiceNameKey)
	assert.Equal(t, "lensqld-staging", name.AsString())
}

func TestInitTelemetryIdempotent(t *testing.T) {
	setup := SetupTestTelemetry(t, nil)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "lensqld"))
	tp := setup.Telemetry.tracerProvider
	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "other"))
	assert.Same(t, tp, setup.Telemetry.tracerProvider)

	require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
}

func TestInitTelemetryAutoexportNone(t *testing.T) {
	setupRestoreDefaultGlobals(t)
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("OTEL_LOGS_EXPORTER", "none")
	tel := NewTelemetry()
	ctx := context.Background()

	require.NoError(t, tel.InitTelemetry(ctx, "lensqld"))
	assert.NotNil(t, tel.tracerProvider)
	assert.NotNil(t, tel.meterProvider)
	assert.Nil(t, tel.loggerProvider, "no logger provider without a log exporter")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, tel.ShutdownTelemetry(shutdownCtx))
}

func TestShutdownBeforeInit(t *testing.T) {
	assert.NoError(t, NewTelemetry().ShutdownTelemetry(context.Background()))
}

func TestWrapSlogHandlerInjectsTraceContext(t *testing.T) {
	setup := SetupTestTelemetry(t, nil)
	ctx := context.Background()
	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "lensqld"))
	t.Cleanup(func() { require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx)) })

	var buf bytes.Buffer
	logger := slog.New(setup.Telemetry.WrapSlogHandler(slog.NewJSONHandler(&buf, nil)))

	spanCtx, span := otel.Tracer("test").Start(ctx, "op")
	logger.InfoContext(spanCtx, "with span")
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])

	buf.Reset()
	logger.InfoContext(ctx, "without span")
	rec = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, "trace_id")
	assert.NotContains(t, rec, "span_id")
}

func TestWrapSlogHandlerBridgesToLoggerProvider(t *testing.T) {
	proc := &recordingProcessor{}
	setup := SetupTestTelemetry(t, proc)
	ctx := context.Background()
	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "lensqld"))
	t.Cleanup(func() { require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx)) })

	var buf bytes.Buffer
	handler := setup.Telemetry.WrapSlogHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	logger := slog.New(handler).With("identity", "alice")

	logger.Info("opened session")
	logger.Warn("failed to close session")

	// The local handler keeps its own level; the bridge gets everything.
	assert.NotContains(t, buf.String(), "opened session")
	assert.Contains(t, buf.String(), "failed to close session")
	assert.Contains(t, buf.String(), "identity=alice")
	assert.Equal(t, []string{"opened session", "failed to close session"}, proc.Bodies())
}
