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

package connmanager

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/lensql/lensql/go/connmanager"

// Close reasons recorded on the sessions.closed counter.
const (
	reasonLogout   = "logout"
	reasonExpired  = "expired"
	reasonShutdown = "shutdown"
	reasonConnLost = "conn_lost"
)

// metrics holds the OpenTelemetry instruments for the registry.
type metrics struct {
	sessionsActive metric.Int64UpDownCounter
	sessionsClosed metric.Int64Counter
	dialFailures   metric.Int64Counter
}

// newMetrics creates the registry's instruments from mp, or from the global
// provider if mp is nil. Instruments that fail to initialize fall back to
// noop implementations and are reported in the returned error.
func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &metrics{}

	var errs []error

	active, err := meter.Int64UpDownCounter(
		"lensql.sessions.active",
		metric.WithDescription("Number of live user sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("lensql.sessions.active counter: %w", err))
		m.sessionsActive = noop.Int64UpDownCounter{}
	} else {
		m.sessionsActive = active
	}

	closed, err := meter.Int64Counter(
		"lensql.sessions.closed",
		metric.WithDescription("Number of user sessions closed, by reason"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("lensql.sessions.closed counter: %w", err))
		m.sessionsClosed = noop.Int64Counter{}
	} else {
		m.sessionsClosed = closed
	}

	failures, err := meter.Int64Counter(
		"lensql.sessions.dial_failures",
		metric.WithDescription("Number of failed attempts to open a user session"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("lensql.sessions.dial_failures counter: %w", err))
		m.dialFailures = noop.Int64Counter{}
	} else {
		m.dialFailures = failures
	}

	if len(errs) > 0 {
		return m, errors.Join(errs...)
	}
	return m, nil
}

func (m *metrics) opened(ctx context.Context) {
	m.sessionsActive.Add(ctx, 1)
}

func (m *metrics) closed(ctx context.Context, reason string) {
	m.sessionsActive.Add(ctx, -1)
	m.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) dialFailed(ctx context.Context) {
	m.dialFailures.Add(ctx, 1)
}
