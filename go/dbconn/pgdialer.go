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

package dbconn

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"

	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/sqltypes"
)

// PgDialer dials PostgreSQL with pgconn. Every user gets a connection to
// the database named after them.
type PgDialer struct {
	Host           string
	Port           int
	SSLMode        string
	ConnectTimeout time.Duration
}

var _ Dialer = (*PgDialer)(nil)

// cancelDeadlineDelay bounds how long a cancelled statement may keep the
// socket after the cancel request was sent. Past it the connection is lost.
const cancelDeadlineDelay = 5 * time.Second

func (d *PgDialer) connString() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d sslmode=%s", d.Host, d.Port, sslmode)
}

// Dial implements Dialer.
func (d *PgDialer) Dial(ctx context.Context, creds Credentials, onNotice NoticeHandler) (NativeConn, error) {
	cfg, err := pgconn.ParseConfig(d.connString())
	if err != nil {
		return nil, fmt.Errorf("invalid connection settings: %w", err)
	}
	cfg.User = creds.User
	cfg.Password = creds.Password
	cfg.Database = creds.DatabaseName()
	if d.ConnectTimeout > 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	// A cancelled request context asks the server to cancel the running
	// statement instead of tearing down the socket, so the session survives.
	cfg.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:          pgConn,
			DeadlineDelay: cancelDeadlineDelay,
		}
	}
	if onNotice != nil {
		cfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
			onNotice(mterrors.NewPgNotice(n))
		}
	}

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgNativeConn{conn: conn}, nil
}

type pgNativeConn struct {
	conn *pgconn.PgConn
}

// Exec reads every result of sql. Only the last one is returned, which for a
// single statement is the only one.
func (c *pgNativeConn) Exec(ctx context.Context, sql string) (*ExecResult, error) {
	mrr := c.conn.Exec(ctx, sql)

	var last *ExecResult
	for mrr.NextResult() {
		rr := mrr.ResultReader()
		res := &ExecResult{}
		if fds := rr.FieldDescriptions(); fds != nil {
			res.HasRowDescription = true
			res.Columns = make([]string, len(fds))
			for i, fd := range fds {
				res.Columns[i] = fd.Name
			}
		}
		for rr.NextRow() {
			vals := rr.Values()
			row := make([]sqltypes.Value, len(vals))
			for i, v := range vals {
				// Values are only valid until the next row.
				row[i] = bytes.Clone(v)
			}
			res.Rows = append(res.Rows, row)
		}
		tag, err := rr.Close()
		if err != nil {
			_ = mrr.Close()
			return nil, err
		}
		res.CommandTag = tag.String()
		last = res
	}
	if err := mrr.Close(); err != nil {
		return nil, err
	}
	if last == nil {
		// Empty query.
		last = &ExecResult{}
	}
	return last, nil
}

func (c *pgNativeConn) TxStatus() byte {
	return c.conn.TxStatus()
}

func (c *pgNativeConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func (c *pgNativeConn) IsClosed() bool {
	return c.conn.IsClosed()
}
