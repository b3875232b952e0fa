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
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestSetup bundles a Telemetry wired to in-memory exporters.
type TestSetup struct {
	Telemetry    *Telemetry
	SpanExporter *tracetest.InMemoryExporter
	MetricReader *metric.ManualReader
}

// ForceFlush flushes pending spans and metrics.
func (s *TestSetup) ForceFlush(ctx context.Context) error {
	if err := s.Telemetry.tracerProvider.ForceFlush(ctx); err != nil {
		return err
	}
	return s.Telemetry.meterProvider.ForceFlush(ctx)
}

// setupRestoreDefaultGlobals restores the global OTel providers once the
// test and its subtests complete.
func setupRestoreDefaultGlobals(t testing.TB) {
	t.Helper()
	originalTracerProvider := otel.GetTracerProvider()
	originalMeterProvider := otel.GetMeterProvider()
	originalTextMapPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(originalTracerProvider)
		otel.SetMeterProvider(originalMeterProvider)
		otel.SetTextMapPropagator(originalTextMapPropagator)
	})
}

// SetupTestTelemetry creates an uninitialized Telemetry with in-memory
// exporters. logProcessor may be nil.
func SetupTestTelemetry(t testing.TB, logProcessor sdklog.Processor) *TestSetup {
	t.Helper()
	setupRestoreDefaultGlobals(t)

	spanExporter := tracetest.NewInMemoryExporter()
	metricReader := metric.NewManualReader()
	return &TestSetup{
		Telemetry:    NewTelemetry().WithTestExporters(spanExporter, metricReader, logProcessor),
		SpanExporter: spanExporter,
		MetricReader: metricReader,
	}
}
