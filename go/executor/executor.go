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

// Package executor runs user batches and builtin queries on a session.
//
// A batch is partial-failure: every statement produces exactly one result,
// and a failed statement does not stop the ones after it. After a failure
// the session's open transaction is rolled back so the next statement starts
// clean.
package executor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/sqlscript"
	"github.com/lensql/lensql/go/sqltypes"
)

var tracer = otel.Tracer(instrumentationName)

// Executor runs statements on sessions it borrows from the caller. It keeps
// no per-session state and is safe for concurrent use.
type Executor struct {
	logger  *slog.Logger
	metrics *metrics
}

// NewExecutor creates an Executor. mp may be nil to use the global meter
// provider.
func NewExecutor(logger *slog.Logger, mp metric.MeterProvider) *Executor {
	m, err := newMetrics(mp)
	if err != nil {
		logger.Warn("failed to initialize executor metrics", "error", err)
	}
	return &Executor{logger: logger, metrics: m}
}

// Execute strips comments from script, splits it and runs the statements.
func (e *Executor) Execute(ctx context.Context, s *dbconn.Session, script string) iter.Seq[*sqltypes.Result] {
	return e.RunBatch(ctx, s, sqlscript.Prepare(script))
}

// RunBatch runs stmts in order and yields one result per statement as each
// one completes. The session's batch lock is held until iteration ends, so
// batches of one session never interleave. Breaking out of the loop stops
// the remaining statements from running. Once ctx is done the remaining
// statements are not run but still get a query_canceled result each.
//
// The returned sequence is single-use: ranging over it again yields nothing
// and runs nothing.
func (e *Executor) RunBatch(ctx context.Context, s *dbconn.Session, stmts []sqlscript.Statement) iter.Seq[*sqltypes.Result] {
	var consumed atomic.Bool
	return func(yield func(*sqltypes.Result) bool) {
		if consumed.Swap(true) {
			e.logger.WarnContext(ctx, "batch already consumed", "identity", s.Identity())
			return
		}
		ctx, span := tracer.Start(ctx, "executor.RunBatch", trace.WithAttributes(
			attribute.String("lensql.identity", s.Identity()),
			attribute.Int("lensql.statements", len(stmts)),
		))
		defer span.End()
		e.metrics.batches.Add(ctx, 1)

		lockCtx, err := s.BeginBatch(ctx, "batch")
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			se := lockFailure(err)
			for _, stmt := range stmts {
				if !yield(sqltypes.NewError(stmt.Text, toError(se), nil)) {
					return
				}
			}
			return
		}
		defer s.EndBatch(lockCtx)

		failed := 0
		cancelled := false
		for _, stmt := range stmts {
			var r *sqltypes.Result
			if err := ctx.Err(); err != nil {
				if !cancelled {
					e.logger.InfoContext(ctx, "batch cancelled", "identity", s.Identity(), "error", err)
					cancelled = true
				}
				r = sqltypes.NewError(stmt.Text, &sqltypes.Error{
					Name:        mterrors.QueryCanceled,
					Description: "statement not run: " + err.Error(),
				}, nil)
			} else {
				first := stmt.FirstToken
				if first == "" {
					first, _ = sqlscript.FirstToken(stmt.Text)
				}
				r = e.runStatement(lockCtx, s, stmt.Text, stmt.Text, first)
			}
			if !r.Success {
				failed++
			}
			if !yield(r) {
				break
			}
		}
		span.SetAttributes(attribute.Int("lensql.statements.failed", failed))
	}
}

// RunBuiltin runs b on the session. The result's Query is the builtin's
// name rather than its SQL.
func (e *Executor) RunBuiltin(ctx context.Context, s *dbconn.Session, b Builtin) *sqltypes.Result {
	ctx, span := tracer.Start(ctx, "executor.RunBuiltin", trace.WithAttributes(
		attribute.String("lensql.identity", s.Identity()),
		attribute.String("lensql.builtin", b.String()),
	))
	defer span.End()

	if !b.Valid() {
		err := mterrors.LS01004(b.String())
		span.SetStatus(codes.Error, err.Error())
		return sqltypes.NewError(b.String(), &sqltypes.Error{Name: "unknown_builtin", Description: err.Error()}, nil)
	}

	lockCtx, err := s.BeginBatch(ctx, b.String())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return sqltypes.NewError(b.String(), toError(lockFailure(err)), nil)
	}
	defer s.EndBatch(lockCtx)

	return e.runStatement(lockCtx, s, b.SQL(), b.String(), "SELECT")
}

// runStatement executes one statement and converts the outcome. ctx must
// hold the session's batch lock.
func (e *Executor) runStatement(ctx context.Context, s *dbconn.Session, sql, query, firstToken string) *sqltypes.Result {
	start := time.Now()
	res, err := s.Exec(ctx, sql)

	var r *sqltypes.Result
	switch {
	case err != nil:
		se := mterrors.Classify(err, s.ConnGone())
		if !s.IsClosed() && !s.ConnGone() {
			if rbErr := s.RollbackIfInTx(ctx); rbErr != nil {
				e.logger.WarnContext(ctx, "rollback after failed statement failed", "identity", s.Identity(), "error", rbErr)
			}
		}
		e.logger.DebugContext(ctx, "statement failed", "identity", s.Identity(), "error_name", se.Name, "error", err)
		r = sqltypes.NewError(query, toError(se), nil)
	case res.HasRowDescription:
		r = sqltypes.NewDataset(query, &sqltypes.Dataset{Columns: res.Columns, Rows: res.Rows}, nil)
	default:
		r = sqltypes.NewMessage(query, messageText(res, firstToken), nil)
	}

	s.Touch()
	r.Notices = s.DrainNotices()
	e.metrics.statementDuration.Record(ctx, time.Since(start), r)
	return r
}

// messageText is "<FIRST_TOKEN> <n>" when the command tag carries a row
// count and "<FIRST_TOKEN>" otherwise.
func messageText(res *dbconn.ExecResult, firstToken string) string {
	if firstToken == "" {
		return res.CommandTag
	}
	if n, ok := res.RowsAffected(); ok {
		return fmt.Sprintf("%s %d", firstToken, n)
	}
	return firstToken
}

func lockFailure(err error) mterrors.StatementError {
	if errors.Is(err, mterrors.ErrSessionClosed) {
		return mterrors.Classify(err, true)
	}
	return mterrors.StatementError{
		Name:        mterrors.SessionBusy,
		Description: "another batch is still running on this session",
		Trace:       []string{err.Error()},
	}
}

func toError(se mterrors.StatementError) *sqltypes.Error {
	return &sqltypes.Error{
		Name:        se.Name,
		Description: se.Description,
		Trace:       se.Trace,
		Code:        se.Code,
	}
}
