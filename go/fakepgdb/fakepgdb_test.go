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

package fakepgdb

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/sqltypes"
)

func dial(t *testing.T, db *DB) *Conn {
	t.Helper()
	c, err := db.Dial(t.Context(), dbconn.Credentials{User: "alice", Password: "pw"}, nil)
	require.NoError(t, err)
	return c.(*Conn)
}

func TestBasicQuery(t *testing.T) {
	db := New(t)
	db.AddQuery("SELECT 1", &ExpectedResult{
		Columns: []string{"?column?"},
		Rows:    [][]any{{int64(1)}},
	})
	c := dial(t, db)

	res, err := c.Exec(t.Context(), "select 1;")
	require.NoError(t, err)
	assert.True(t, res.HasRowDescription)
	assert.Equal(t, []string{"?column?"}, res.Columns)
	assert.Equal(t, [][]sqltypes.Value{{sqltypes.Value("1")}}, res.Rows)
	assert.Equal(t, "SELECT 1", res.CommandTag)
	assert.Equal(t, 1, db.GetQueryCalledNum("SELECT 1"))
	assert.Equal(t, "select 1", db.QueryLog())
}

func TestNullValues(t *testing.T) {
	db := New(t)
	db.AddQuery("SELECT NULL, ''", &ExpectedResult{
		Columns: []string{"a", "b"},
		Rows:    [][]any{{nil, ""}},
	})
	res, err := dial(t, db).Exec(t.Context(), "SELECT NULL, ''")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0][0].IsNull())
	assert.False(t, res.Rows[0][1].IsNull())
}

func TestQueryPattern(t *testing.T) {
	db := New(t)
	db.AddQueryPattern(`INSERT INTO t VALUES \(.*\);?`, &ExpectedResult{CommandTag: "INSERT 0 1"})
	res, err := dial(t, db).Exec(t.Context(), "INSERT INTO t VALUES (42);")
	require.NoError(t, err)
	assert.False(t, res.HasRowDescription)
	n, ok := res.RowsAffected()
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestRejectedQuery(t *testing.T) {
	db := New(t)
	pgErr := &pgconn.PgError{Severity: "ERROR", Code: "22012", Message: "division by zero"}
	db.AddRejectedQuery("SELECT 1/0", pgErr)
	_, err := dial(t, db).Exec(t.Context(), "SELECT 1/0;")
	assert.ErrorIs(t, err, pgErr)
}

func TestUnsupportedQuery(t *testing.T) {
	db := New(t)
	c := dial(t, db)
	_, err := c.Exec(t.Context(), "SELECT 2")
	require.Error(t, err)

	db.SetNeverFail(true)
	res, err := c.Exec(t.Context(), "SELECT 2")
	require.NoError(t, err)
	assert.False(t, res.HasRowDescription)
}

func TestTransactionStatus(t *testing.T) {
	db := New(t)
	db.AddRejectedQuery("bad", &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: "syntax error"})
	db.SetNeverFail(true)
	c := dial(t, db)

	assert.Equal(t, dbconn.TxIdle, c.TxStatus())
	_, err := c.Exec(t.Context(), "BEGIN")
	require.NoError(t, err)
	assert.Equal(t, dbconn.TxActive, c.TxStatus())

	_, err = c.Exec(t.Context(), "bad")
	require.Error(t, err)
	assert.Equal(t, dbconn.TxFailed, c.TxStatus())

	_, err = c.Exec(t.Context(), "SELECT 1")
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "25P02", pgErr.Code)

	res, err := c.Exec(t.Context(), "COMMIT")
	require.NoError(t, err)
	assert.Equal(t, "ROLLBACK", res.CommandTag)
	assert.Equal(t, dbconn.TxIdle, c.TxStatus())
}

func TestNotices(t *testing.T) {
	db := New(t)
	db.AddQuery("DROP TABLE IF EXISTS t", &ExpectedResult{
		CommandTag: "DROP TABLE",
		Notices:    []string{`table "t" does not exist, skipping`},
	})
	var got []string
	c, err := db.Dial(t.Context(), dbconn.Credentials{User: "alice"}, func(d *mterrors.PgDiagnostic) {
		got = append(got, d.Error())
	})
	require.NoError(t, err)
	_, err = c.Exec(t.Context(), "DROP TABLE IF EXISTS t;")
	require.NoError(t, err)
	assert.Equal(t, []string{`NOTICE: table "t" does not exist, skipping`}, got)
}

func TestDial(t *testing.T) {
	db := New(t)
	db.AddUser("alice", "secret")

	_, err := db.Dial(t.Context(), dbconn.Credentials{User: "alice", Password: "wrong"}, nil)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "28P01", pgErr.Code)

	c, err := db.Dial(t.Context(), dbconn.Credentials{User: "alice", Password: "secret"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.(*Conn).Credentials().DatabaseName())
	assert.Equal(t, 2, db.DialCount("alice"))
	assert.Equal(t, 1, db.OpenConns())

	dialErr := errors.New("connection refused")
	db.SetDialError(dialErr)
	_, err = db.Dial(t.Context(), dbconn.Credentials{User: "alice", Password: "secret"}, nil)
	assert.ErrorIs(t, err, dialErr)
}

func TestCloseAndKill(t *testing.T) {
	db := New(t)
	closeErr := errors.New("broken pipe")
	db.SetCloseError(closeErr)

	c := dial(t, db)
	assert.ErrorIs(t, c.Close(t.Context()), closeErr)
	assert.True(t, c.IsClosed())
	assert.Equal(t, 0, db.OpenConns())

	c2 := dial(t, db)
	c2.Kill()
	_, err := c2.Exec(t.Context(), "SELECT 1")
	assert.Error(t, err)
}
