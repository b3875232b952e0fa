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
	"context"
	"strconv"
	"strings"

	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/sqltypes"
)

// Transaction status bytes reported by the server in ReadyForQuery.
const (
	TxIdle   byte = 'I'
	TxActive byte = 'T'
	TxFailed byte = 'E'
)

// Credentials are what a user logs in with.
type Credentials struct {
	User     string
	Password string
	// Database defaults to User.
	Database string
}

// DatabaseName returns the database to connect to.
func (c Credentials) DatabaseName() string {
	if c.Database != "" {
		return c.Database
	}
	return c.User
}

// NoticeHandler receives notices raised by the server.
type NoticeHandler func(*mterrors.PgDiagnostic)

// ExecResult is the outcome of one statement on a native connection.
type ExecResult struct {
	// HasRowDescription is true if the statement returned a row set, even
	// an empty one.
	HasRowDescription bool
	Columns           []string
	Rows              [][]sqltypes.Value
	// CommandTag is the server's completion tag, e.g. "INSERT 0 1".
	CommandTag string
}

// RowsAffected extracts the row count from the command tag. ok is false for
// tags without a count, such as "CREATE TABLE".
func (r *ExecResult) RowsAffected() (n int64, ok bool) {
	fields := strings.Fields(r.CommandTag)
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NativeConn is a single live connection to the server.
type NativeConn interface {
	// Exec runs sql with the simple query protocol. Server errors come back
	// as *pgconn.PgError.
	Exec(ctx context.Context, sql string) (*ExecResult, error)
	// TxStatus returns TxIdle, TxActive or TxFailed.
	TxStatus() byte
	Close(ctx context.Context) error
	IsClosed() bool
}

// Dialer opens native connections.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials, onNotice NoticeHandler) (NativeConn, error)
}
