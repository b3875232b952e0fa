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

package executor_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/executor"
	"github.com/lensql/lensql/go/fakepgdb"
	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/sqltypes"
)

var divisionByZero = &pgconn.PgError{Severity: "ERROR", Code: "22012", Message: "division by zero"}

func newExecutor() *executor.Executor {
	return executor.NewExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func newSession(t *testing.T, db *fakepgdb.DB, autocommit bool) *dbconn.Session {
	t.Helper()
	s, err := dbconn.Open(t.Context(), db, "alice", dbconn.Credentials{User: "alice"}, dbconn.Options{Autocommit: autocommit})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func selectResult(v any) *fakepgdb.ExpectedResult {
	return &fakepgdb.ExpectedResult{Columns: []string{"?column?"}, Rows: [][]any{{v}}}
}

func TestExecuteMixedBatch(t *testing.T) {
	db := fakepgdb.New(t)
	db.AddQuery("SELECT 1", selectResult(1))
	db.AddQuery("SELECT 2", selectResult(2))
	db.AddRejectedQuery("SELECT 1/0", divisionByZero)
	s := newSession(t, db, true)

	results := slices.Collect(newExecutor().Execute(t.Context(), s, "SELECT 1; SELECT 1/0; SELECT 2;"))
	require.Len(t, results, 3)

	assert.Equal(t, sqltypes.KindDataset, results[0].Kind)
	assert.True(t, results[0].Success)
	assert.Equal(t, "SELECT 1;", results[0].Query)
	assert.Equal(t, []string{"?column?"}, results[0].Dataset.Columns)
	assert.Equal(t, [][]sqltypes.Value{{sqltypes.Value("1")}}, results[0].Dataset.Rows)

	assert.Equal(t, sqltypes.KindError, results[1].Kind)
	assert.False(t, results[1].Success)
	assert.Equal(t, "division_by_zero", results[1].Error.Name)
	assert.Equal(t, "division by zero", results[1].Error.Description)
	assert.Equal(t, "22012", results[1].Error.Code)

	assert.Equal(t, sqltypes.KindDataset, results[2].Kind)
	assert.Equal(t, [][]sqltypes.Value{{sqltypes.Value("2")}}, results[2].Dataset.Rows)
}

func TestExecuteOneResultPerStatement(t *testing.T) {
	db := fakepgdb.New(t)
	db.SetNeverFail(true)
	s := newSession(t, db, true)

	script := `-- setup
CREATE TABLE t (a int);
INSERT INTO t VALUES (1); /* two */ INSERT INTO t VALUES (2);
;;
SELECT 'a;b' FROM t;`
	results := slices.Collect(newExecutor().Execute(t.Context(), s, script))
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Success, r.Query)
	}
	assert.Equal(t, "create table t (a int);insert into t values (1);insert into t values (2);select 'a;b' from t", db.QueryLog())
}

func TestExecuteEmptyScript(t *testing.T) {
	db := fakepgdb.New(t)
	s := newSession(t, db, true)

	results := slices.Collect(newExecutor().Execute(t.Context(), s, "  -- nothing here\n/* at all */ ;"))
	assert.Empty(t, results)
	assert.Empty(t, db.QueryLog())
}

func TestExecuteMessageText(t *testing.T) {
	tcs := []struct {
		name       string
		script     string
		commandTag string
		want       string
	}{
		{name: "insert", script: "INSERT INTO t VALUES (1);", commandTag: "INSERT 0 1", want: "INSERT 1"},
		{name: "update", script: "update t set a = 2", commandTag: "UPDATE 3", want: "UPDATE 3"},
		{name: "create", script: "CREATE TABLE t (a int)", commandTag: "CREATE TABLE", want: "CREATE"},
		{name: "comment first", script: "/* hi */ DELETE FROM t", commandTag: "DELETE 0", want: "DELETE 0"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			db := fakepgdb.New(t)
			db.AddQueryPattern(".*", &fakepgdb.ExpectedResult{CommandTag: tc.commandTag})
			s := newSession(t, db, true)

			results := slices.Collect(newExecutor().Execute(t.Context(), s, tc.script))
			require.Len(t, results, 1)
			assert.Equal(t, sqltypes.KindMessage, results[0].Kind)
			assert.Equal(t, tc.want, results[0].Message.Text)
		})
	}
}

func TestExecuteRollsBackAfterFailure(t *testing.T) {
	db := fakepgdb.New(t)
	db.AddQuery("INSERT INTO t VALUES (1)", &fakepgdb.ExpectedResult{CommandTag: "INSERT 0 1"})
	db.AddQuery("INSERT INTO t VALUES (2)", &fakepgdb.ExpectedResult{CommandTag: "INSERT 0 1"})
	db.AddRejectedQuery("SELECT 1/0", divisionByZero)
	s := newSession(t, db, false)

	results := slices.Collect(newExecutor().Execute(t.Context(), s,
		"INSERT INTO t VALUES (1); SELECT 1/0; INSERT INTO t VALUES (2);"))
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success, "statement after a failure runs in a fresh transaction")

	assert.Equal(t, "begin;insert into t values (1);select 1/0;rollback;begin;insert into t values (2)", db.QueryLog())
	assert.Equal(t, dbconn.TxActive, s.TxStatus())
}

func TestExecuteNotices(t *testing.T) {
	db := fakepgdb.New(t)
	res := selectResult(1)
	res.Notices = []string{"table t does not exist, skipping"}
	db.AddQuery("DROP TABLE IF EXISTS t", res)
	db.AddQuery("SELECT 2", selectResult(2))
	s := newSession(t, db, true)

	results := slices.Collect(newExecutor().Execute(t.Context(), s, "DROP TABLE IF EXISTS t; SELECT 2"))
	require.Len(t, results, 2)
	assert.Equal(t, []string{"NOTICE: table t does not exist, skipping"}, results[0].Notices)
	assert.Empty(t, results[1].Notices)
	assert.Empty(t, s.Notices())
}

func TestExecuteEarlyStop(t *testing.T) {
	db := fakepgdb.New(t)
	db.AddQuery("SELECT 1", selectResult(1))
	db.AddQuery("SELECT 2", selectResult(2))
	s := newSession(t, db, true)

	for r := range newExecutor().Execute(t.Context(), s, "SELECT 1; SELECT 2") {
		assert.Equal(t, "SELECT 1;", r.Query)
		break
	}
	assert.Equal(t, 0, db.GetQueryCalledNum("SELECT 2"))
	assert.False(t, s.Busy(), "lock is released when iteration stops")
}

func TestExecuteRunsOnce(t *testing.T) {
	db := fakepgdb.New(t)
	db.AddQuery("INSERT INTO t VALUES (1)", &fakepgdb.ExpectedResult{CommandTag: "INSERT 0 1"})
	s := newSession(t, db, true)

	seq := newExecutor().Execute(t.Context(), s, "INSERT INTO t VALUES (1);")
	first := slices.Collect(seq)
	require.Len(t, first, 1)
	assert.Equal(t, "INSERT 1", first[0].Message.Text)

	assert.Empty(t, slices.Collect(seq))
	assert.Equal(t, 1, db.GetQueryCalledNum("INSERT INTO t VALUES (1)"))
}

func TestExecuteContextCancelled(t *testing.T) {
	db := fakepgdb.New(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	res := selectResult(1)
	res.BeforeFunc = cancel
	db.AddQuery("SELECT 1", res)
	db.AddQuery("SELECT 2", selectResult(2))
	s := newSession(t, db, true)

	results := slices.Collect(newExecutor().Execute(ctx, s, "SELECT 1; SELECT 2; SELECT 3"))
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	for _, r := range results[1:] {
		assert.False(t, r.Success)
		assert.Equal(t, mterrors.QueryCanceled, r.Error.Name)
		assert.Contains(t, r.Error.Description, "context canceled")
	}
	assert.Equal(t, 0, db.GetQueryCalledNum("SELECT 2"))
	assert.False(t, s.Busy())
}

func TestExecuteSessionClosedMidBatch(t *testing.T) {
	db := fakepgdb.New(t)
	s := newSession(t, db, true)
	res := selectResult(1)
	res.BeforeFunc = func() { _ = s.Close(context.Background()) }
	db.AddQuery("SELECT 1", res)
	db.AddQuery("SELECT 2", selectResult(2))

	results := slices.Collect(newExecutor().Execute(t.Context(), s, "SELECT 1; SELECT 2; SELECT 3"))
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	for _, r := range results[1:] {
		assert.Equal(t, mterrors.SessionClosedName, r.Error.Name)
	}
	assert.Equal(t, 0, db.GetQueryCalledNum("SELECT 2"))
	assert.Equal(t, 0, db.OpenConns(), "connection is closed once the batch ends")
}

func TestExecuteClosedSession(t *testing.T) {
	db := fakepgdb.New(t)
	s := newSession(t, db, true)
	require.NoError(t, s.Close(t.Context()))

	results := slices.Collect(newExecutor().Execute(t.Context(), s, "SELECT 1; SELECT 2"))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, sqltypes.KindError, r.Kind)
		assert.Equal(t, mterrors.SessionClosedName, r.Error.Name)
	}
	assert.Empty(t, db.QueryLog())
}

func TestExecuteBusySession(t *testing.T) {
	db := fakepgdb.New(t)
	db.SetNeverFail(true)
	s := newSession(t, db, true)

	held, err := s.BeginBatch(t.Context(), "other batch")
	require.NoError(t, err)
	defer s.EndBatch(held)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	results := slices.Collect(newExecutor().Execute(ctx, s, "SELECT 1; SELECT 2"))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, mterrors.SessionBusy, r.Error.Name)
	}
	assert.Empty(t, db.QueryLog())
}

func TestExecuteConnectionLost(t *testing.T) {
	db := fakepgdb.New(t)
	db.SetNeverFail(true)
	s := newSession(t, db, true)
	db.Conns()[0].Kill()

	results := slices.Collect(newExecutor().Execute(t.Context(), s, "SELECT 1"))
	require.Len(t, results, 1)
	assert.Equal(t, mterrors.ConnectionFailure, results[0].Error.Name)
}

func TestExecuteUnsupportedQuery(t *testing.T) {
	db := fakepgdb.New(t)
	s := newSession(t, db, true)

	results := slices.Collect(newExecutor().Execute(t.Context(), s, "SELECT nope"))
	require.Len(t, results, 1)
	assert.Equal(t, mterrors.DriverError, results[0].Error.Name)
	assert.Contains(t, results[0].Error.Description, "not supported")
}

func TestExecuteTouchesSession(t *testing.T) {
	db := fakepgdb.New(t)
	db.SetNeverFail(true)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := dbconn.Open(t.Context(), db, "alice", dbconn.Credentials{User: "alice"}, dbconn.Options{
		Autocommit: true,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	now = now.Add(time.Minute)
	_ = slices.Collect(newExecutor().Execute(t.Context(), s, "SELECT 1"))
	assert.Equal(t, now, s.LastActivity().UTC())
	assert.Equal(t, dbconn.StateActive, s.State())
}

func TestRunBuiltin(t *testing.T) {
	db := fakepgdb.New(t)
	db.AddQuery(executor.ListSchemas.SQL(), &fakepgdb.ExpectedResult{
		Columns: []string{"schema_name", "owner"},
		Rows:    [][]any{{"public", "postgres"}, {"training", "postgres"}},
	})
	s := newSession(t, db, true)

	r := newExecutor().RunBuiltin(t.Context(), s, executor.ListSchemas)
	require.True(t, r.Success)
	assert.Equal(t, "LIST_SCHEMAS", r.Query)
	assert.Equal(t, sqltypes.KindDataset, r.Kind)
	rows, cols := r.Dataset.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.False(t, s.Busy())
}

func TestRunBuiltinFailure(t *testing.T) {
	db := fakepgdb.New(t)
	db.AddRejectedQuery(executor.ShowSearchPath.SQL(), &pgconn.PgError{Severity: "ERROR", Code: "42501", Message: "permission denied"})
	s := newSession(t, db, true)

	r := newExecutor().RunBuiltin(t.Context(), s, executor.ShowSearchPath)
	assert.False(t, r.Success)
	assert.Equal(t, "SHOW_SEARCH_PATH", r.Query)
	assert.Equal(t, "insufficient_privilege", r.Error.Name)

	r = newExecutor().RunBuiltin(t.Context(), s, executor.Builtin(99))
	assert.False(t, r.Success)
	assert.Equal(t, "unknown_builtin", r.Error.Name)
}

func TestExecutorMetrics(t *testing.T) {
	db := fakepgdb.New(t)
	db.SetNeverFail(true)
	db.AddRejectedQuery("SELECT 1/0", divisionByZero)
	s := newSession(t, db, true)

	reader := sdkmetric.NewManualReader()
	e := executor.NewExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	_ = slices.Collect(e.Execute(t.Context(), s, "SELECT 1; SELECT 1/0; SELECT 2"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	var statements uint64
	var batches int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Histogram[float64]:
				if m.Name == "lensql.statement.duration" {
					for _, dp := range data.DataPoints {
						statements += dp.Count
					}
				}
			case metricdata.Sum[int64]:
				if m.Name == "lensql.batches" {
					for _, dp := range data.DataPoints {
						batches += dp.Value
					}
				}
			}
		}
	}
	assert.Equal(t, uint64(3), statements)
	assert.Equal(t, int64(1), batches)
}
