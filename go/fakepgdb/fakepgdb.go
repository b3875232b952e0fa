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

// Package fakepgdb provides a fake PostgreSQL server for tests. It implements
// dbconn.Dialer and hands out connections that answer from canned results.
package fakepgdb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/sqltypes"
)

// DB is a fake PostgreSQL database. All methods are thread-safe.
type DB struct {
	// t is our testing.TB instance
	t testing.TB

	// name is the name of this DB
	name string

	// neverFail makes unmatched queries return empty results instead of errors
	neverFail atomic.Bool

	// mu protects all the following fields
	mu sync.Mutex

	// data maps a normalized query to a result
	data map[string]*ExpectedResult

	// rejectedData maps a normalized query to an error
	rejectedData map[string]error

	// patternData is a map of regexp queries to results
	patternData map[string]exprResult

	// queryCalled keeps track of how many times a query was called
	queryCalled map[string]int

	// querylog keeps track of all called queries
	querylog []string

	// users maps user names to passwords. Empty means any login succeeds.
	users map[string]string

	// dialErr, if set, fails every Dial
	dialErr error

	// beforeDial is called before each Dial, outside the lock
	beforeDial func(dbconn.Credentials)

	// dials counts Dial calls per user
	dials map[string]int

	// closeErr is returned by Conn.Close
	closeErr error

	conns []*Conn
}

// ExpectedResult holds the data for a matched query.
type ExpectedResult struct {
	// Columns set means the query returns a row set.
	Columns []string
	// Rows holds the row values. nil is SQL NULL, everything else is
	// formatted with fmt.Sprint.
	Rows [][]any
	// CommandTag defaults to "SELECT <rows>" for row sets.
	CommandTag string
	// Notices are raised before the result is returned.
	Notices []string
	// BeforeFunc is synchronously called before the server returns the result.
	BeforeFunc func()
}

type exprResult struct {
	expr   *regexp.Regexp
	result *ExpectedResult
	err    error
}

// New creates a new fake PostgreSQL database for testing.
func New(t testing.TB) *DB {
	return &DB{
		t:            t,
		name:         "fakepgdb",
		data:         make(map[string]*ExpectedResult),
		rejectedData: make(map[string]error),
		patternData:  make(map[string]exprResult),
		queryCalled:  make(map[string]int),
		users:        make(map[string]string),
		dials:        make(map[string]int),
	}
}

// Name returns the name of the DB.
func (db *DB) Name() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.name
}

// SetName sets the name of the DB.
func (db *DB) SetName(name string) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.name = name
	return db
}

func normalize(query string) string {
	q := strings.TrimSpace(query)
	q = strings.TrimRight(q, "; \t\n")
	return strings.ToLower(q)
}

//
// Methods to add expected queries and results.
//

// AddQuery adds a query and its expected result. Matching ignores case and a
// trailing ';'.
func (db *DB) AddQuery(query string, expectedResult *ExpectedResult) *ExpectedResult {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := normalize(query)
	r := *expectedResult
	db.data[key] = &r
	db.queryCalled[key] = 0
	return &r
}

// AddQueryPattern adds an expected result for a set of queries. These
// patterns are checked if no exact matches from AddQuery() are found. The
// pattern is anchored and case-insensitive.
func (db *DB) AddQueryPattern(queryPattern string, expectedResult *ExpectedResult) {
	expr := regexp.MustCompile("(?is)^" + queryPattern + "$")
	db.mu.Lock()
	defer db.mu.Unlock()
	db.patternData[queryPattern] = exprResult{expr: expr, result: expectedResult}
}

// RejectQueryPattern makes queries matching queryPattern fail with err.
func (db *DB) RejectQueryPattern(queryPattern string, err error) {
	expr := regexp.MustCompile("(?is)^" + queryPattern + "$")
	db.mu.Lock()
	defer db.mu.Unlock()
	db.patternData[queryPattern] = exprResult{expr: expr, err: err}
}

// AddRejectedQuery adds a query which will be rejected at execution time.
func (db *DB) AddRejectedQuery(query string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rejectedData[normalize(query)] = err
}

// DeleteAllQueries deletes all expected queries from the fake DB.
func (db *DB) DeleteAllQueries() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data = make(map[string]*ExpectedResult)
	db.rejectedData = make(map[string]error)
	db.patternData = make(map[string]exprResult)
	db.queryCalled = make(map[string]int)
}

// GetQueryCalledNum returns how many times db executes a certain query.
func (db *DB) GetQueryCalledNum(query string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.queryCalled[normalize(query)]
}

// QueryLog returns the query log as a semicolon separated string.
func (db *DB) QueryLog() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return strings.Join(db.querylog, ";")
}

// ResetQueryLog resets the query log.
func (db *DB) ResetQueryLog() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.querylog = nil
}

// SetNeverFail makes unmatched queries return empty results instead of errors.
func (db *DB) SetNeverFail(neverFail bool) {
	db.neverFail.Store(neverFail)
}

//
// Login and connection control.
//

// AddUser registers a login. Once any user is registered, Dial checks
// passwords.
func (db *DB) AddUser(user, password string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[user] = password
}

// SetDialError makes every Dial fail with err. nil restores normal dialing.
func (db *DB) SetDialError(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.dialErr = err
}

// SetBeforeDial installs f to run at the start of every Dial.
func (db *DB) SetBeforeDial(f func(dbconn.Credentials)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.beforeDial = f
}

// SetCloseError makes Conn.Close return err.
func (db *DB) SetCloseError(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closeErr = err
}

// DialCount returns how many times user dialed.
func (db *DB) DialCount(user string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.dials[user]
}

// Conns returns every connection handed out, in dial order.
func (db *DB) Conns() []*Conn {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*Conn(nil), db.conns...)
}

// OpenConns returns the number of connections not yet closed.
func (db *DB) OpenConns() int {
	n := 0
	for _, c := range db.Conns() {
		if !c.IsClosed() {
			n++
		}
	}
	return n
}

var _ dbconn.Dialer = (*DB)(nil)

// Dial implements dbconn.Dialer.
func (db *DB) Dial(ctx context.Context, creds dbconn.Credentials, onNotice dbconn.NoticeHandler) (dbconn.NativeConn, error) {
	db.mu.Lock()
	before := db.beforeDial
	db.mu.Unlock()
	if before != nil {
		before(creds)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.dials[creds.User]++
	if db.dialErr != nil {
		return nil, db.dialErr
	}
	if len(db.users) > 0 {
		if pw, ok := db.users[creds.User]; !ok || pw != creds.Password {
			return nil, &pgconn.PgError{
				Severity: "FATAL",
				Code:     "28P01",
				Message:  fmt.Sprintf("password authentication failed for user %q", creds.User),
			}
		}
	}
	c := &Conn{db: db, creds: creds, onNotice: onNotice, txStatus: dbconn.TxIdle}
	db.conns = append(db.conns, c)
	return c, nil
}

// handleQuery finds the canned answer for query.
func (db *DB) handleQuery(query string) (*ExpectedResult, error) {
	key := normalize(query)
	db.mu.Lock()
	db.queryCalled[key]++
	db.querylog = append(db.querylog, key)

	if err, ok := db.rejectedData[key]; ok {
		db.mu.Unlock()
		return nil, err
	}

	if result, ok := db.data[key]; ok {
		db.mu.Unlock()
		if f := result.BeforeFunc; f != nil {
			f()
		}
		return result, nil
	}

	for _, pat := range db.patternData {
		if pat.expr.MatchString(strings.TrimSpace(query)) {
			db.mu.Unlock()
			if pat.err != nil {
				return nil, pat.err
			}
			return pat.result, nil
		}
	}
	name := db.name
	db.mu.Unlock()

	if db.neverFail.Load() {
		return &ExpectedResult{}, nil
	}
	return nil, fmt.Errorf("fakepgdb: query '%s' is not supported on %v", query, name)
}

// Conn is a fake native connection.
type Conn struct {
	db       *DB
	creds    dbconn.Credentials
	onNotice dbconn.NoticeHandler
	closed   atomic.Bool

	mu       sync.Mutex
	txStatus byte
}

var _ dbconn.NativeConn = (*Conn)(nil)

// Credentials returns what the connection logged in with.
func (c *Conn) Credentials() dbconn.Credentials {
	return c.creds
}

// Kill simulates the server dropping the connection.
func (c *Conn) Kill() {
	c.closed.Store(true)
}

// Exec implements dbconn.NativeConn. BEGIN, COMMIT and ROLLBACK are always
// understood and drive the transaction status; inside a failed transaction
// everything else is refused the way the server refuses it.
func (c *Conn) Exec(ctx context.Context, sql string) (*dbconn.ExecResult, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("conn closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch normalize(sql) {
	case "begin", "start transaction":
		c.db.logTxQuery(sql)
		c.setTxStatus(dbconn.TxActive)
		return &dbconn.ExecResult{CommandTag: "BEGIN"}, nil
	case "commit", "end":
		c.db.logTxQuery(sql)
		tag := "COMMIT"
		if c.TxStatus() == dbconn.TxFailed {
			tag = "ROLLBACK"
		}
		c.setTxStatus(dbconn.TxIdle)
		return &dbconn.ExecResult{CommandTag: tag}, nil
	case "rollback", "abort":
		c.db.logTxQuery(sql)
		c.setTxStatus(dbconn.TxIdle)
		return &dbconn.ExecResult{CommandTag: "ROLLBACK"}, nil
	}

	if c.TxStatus() == dbconn.TxFailed {
		c.db.logTxQuery(sql)
		return nil, &pgconn.PgError{
			Severity: "ERROR",
			Code:     "25P02",
			Message:  "current transaction is aborted, commands ignored until end of transaction block",
		}
	}

	expected, err := c.db.handleQuery(sql)
	if err != nil {
		if c.TxStatus() == dbconn.TxActive {
			c.setTxStatus(dbconn.TxFailed)
		}
		return nil, err
	}

	for _, n := range expected.Notices {
		if c.onNotice != nil {
			c.onNotice(&mterrors.PgDiagnostic{MessageType: 'N', Severity: "NOTICE", Code: "00000", Message: n})
		}
	}
	return toExecResult(expected), nil
}

func (db *DB) logTxQuery(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := normalize(sql)
	db.queryCalled[key]++
	db.querylog = append(db.querylog, key)
}

func toExecResult(er *ExpectedResult) *dbconn.ExecResult {
	res := &dbconn.ExecResult{CommandTag: er.CommandTag}
	if er.Columns == nil {
		return res
	}
	res.HasRowDescription = true
	res.Columns = er.Columns
	for _, row := range er.Rows {
		vals := make([]sqltypes.Value, len(row))
		for i, v := range row {
			if v != nil {
				vals[i] = sqltypes.Value(fmt.Sprint(v))
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if res.CommandTag == "" {
		res.CommandTag = fmt.Sprintf("SELECT %d", len(er.Rows))
	}
	return res
}

func (c *Conn) setTxStatus(s byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txStatus = s
}

// TxStatus implements dbconn.NativeConn.
func (c *Conn) TxStatus() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txStatus
}

// Close implements dbconn.NativeConn.
func (c *Conn) Close(ctx context.Context) error {
	c.closed.Store(true)
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.closeErr
}

// IsClosed implements dbconn.NativeConn.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
