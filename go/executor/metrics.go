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

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lensql/lensql/go/sqltypes"
)

const instrumentationName = "github.com/lensql/lensql/go/executor"

// StatementDuration wraps a Float64Histogram for recording statement
// durations.
type StatementDuration struct {
	metric.Float64Histogram
}

// Record records a statement duration, tagged with the result kind and,
// for errors, the condition name.
func (m StatementDuration) Record(ctx context.Context, duration time.Duration, r *sqltypes.Result) {
	attrs := []attribute.KeyValue{attribute.String("lensql.result.kind", r.Kind.String())}
	if r.Kind == sqltypes.KindError {
		attrs = append(attrs, attribute.String("lensql.error.name", r.Error.Name))
	}
	m.Float64Histogram.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

type metrics struct {
	statementDuration StatementDuration
	batches           metric.Int64Counter
}

// newMetrics follows the usual pattern: instruments that fail to initialize
// use noop implementations and are reported in the returned error.
func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &metrics{}

	var errs []error

	hist, err := meter.Float64Histogram(
		"lensql.statement.duration",
		metric.WithDescription("Duration of user statements"),
		metric.WithUnit("s"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("lensql.statement.duration histogram: %w", err))
		m.statementDuration = StatementDuration{noop.Float64Histogram{}}
	} else {
		m.statementDuration = StatementDuration{hist}
	}

	batches, err := meter.Int64Counter(
		"lensql.batches",
		metric.WithDescription("Number of batches run"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("lensql.batches counter: %w", err))
		m.batches = noop.Int64Counter{}
	} else {
		m.batches = batches
	}

	if len(errs) > 0 {
		return m, errors.Join(errs...)
	}
	return m, nil
}
