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

// Package dbconn holds the live per-user session: one native connection plus
// the bookkeeping the registry and the executor need around it.
package dbconn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lensql/lensql/go/mterrors"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// StateCreated is a session whose connection is open but has not run
	// a statement yet.
	StateCreated State = iota
	// StateActive is a session that has run at least one statement.
	StateActive
	// StateExpired is a session chosen for eviction. It is closed next.
	StateExpired
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configure a new Session.
type Options struct {
	// Autocommit false makes the session open a transaction before the
	// first statement run while idle.
	Autocommit bool
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Session is the live binding between an identity and its connection.
type Session struct {
	identity   string
	autocommit bool
	conn       NativeConn
	now        func() time.Time
	createdAt  time.Time

	// lastActivity is read by the sweeper without the batch lock.
	lastActivity atomic.Int64
	state        atomic.Int32

	noticeMu sync.Mutex
	notices  []string

	lock *BatchLock
}

// Open dials a new connection for identity.
func Open(ctx context.Context, dialer Dialer, identity string, creds Credentials, opts Options) (*Session, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		identity:   identity,
		autocommit: opts.Autocommit,
		now:        now,
		lock:       NewBatchLock(),
	}
	conn, err := dialer.Dial(ctx, creds, s.appendNotice)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.createdAt = now()
	s.lastActivity.Store(s.createdAt.UnixNano())
	s.state.Store(int32(StateCreated))
	return s, nil
}

// Identity returns the identity owning the session.
func (s *Session) Identity() string {
	return s.identity
}

// Autocommit reports whether each statement commits on its own.
func (s *Session) Autocommit() bool {
	return s.autocommit
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsClosed returns true once Close has been called.
func (s *Session) IsClosed() bool {
	return s.State() == StateClosed
}

// ConnGone reports whether the native connection has been lost.
func (s *Session) ConnGone() bool {
	return s.conn.IsClosed()
}

// Lock returns the lock that serialises batches on this session.
func (s *Session) Lock() *BatchLock {
	return s.lock
}

// Busy reports whether a batch currently holds the session.
func (s *Session) Busy() bool {
	_, held := s.lock.Held()
	return held
}

// Touch records activity now.
func (s *Session) Touch() {
	s.lastActivity.Store(s.now().UnixNano())
}

// LastActivity returns the time of the last statement.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleFor returns how long the session has been idle at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// TxStatus returns the server's transaction status for the connection.
func (s *Session) TxStatus() byte {
	return s.conn.TxStatus()
}

func (s *Session) appendNotice(d *mterrors.PgDiagnostic) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	s.notices = append(s.notices, d.Error())
}

// Notices returns the buffered notices without clearing them.
func (s *Session) Notices() []string {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	return append([]string(nil), s.notices...)
}

// DrainNotices returns the buffered notices and clears the buffer.
func (s *Session) DrainNotices() []string {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

// Exec runs one statement. ctx must hold the session's batch lock. For a
// session without autocommit, a BEGIN is sent first when no transaction is
// open.
func (s *Session) Exec(ctx context.Context, sql string) (*ExecResult, error) {
	if s.IsClosed() {
		return nil, mterrors.LS01003(s.identity)
	}
	if err := s.lock.AssertHeld(ctx); err != nil {
		return nil, mterrors.New(mterrors.Internal, err.Error())
	}

	if !s.autocommit && s.conn.TxStatus() == TxIdle {
		if _, err := s.conn.Exec(ctx, "BEGIN"); err != nil {
			return nil, err
		}
	}
	res, err := s.conn.Exec(ctx, sql)
	s.state.CompareAndSwap(int32(StateCreated), int32(StateActive))
	return res, err
}

// RollbackIfInTx aborts the open transaction, if any. ctx must hold the
// batch lock.
func (s *Session) RollbackIfInTx(ctx context.Context) error {
	if s.IsClosed() {
		return mterrors.LS01003(s.identity)
	}
	if err := s.lock.AssertHeld(ctx); err != nil {
		return mterrors.New(mterrors.Internal, err.Error())
	}
	if s.conn.IsClosed() || s.conn.TxStatus() == TxIdle {
		return nil
	}
	_, err := s.conn.Exec(ctx, "ROLLBACK")
	return err
}

// Commit commits the open transaction of a session without autocommit.
func (s *Session) Commit(ctx context.Context) error {
	return s.endTx(ctx, "COMMIT")
}

// Rollback aborts the open transaction of a session without autocommit.
func (s *Session) Rollback(ctx context.Context) error {
	return s.endTx(ctx, "ROLLBACK")
}

func (s *Session) endTx(ctx context.Context, stmt string) error {
	if s.IsClosed() {
		return mterrors.LS01003(s.identity)
	}
	lockCtx, err := s.BeginBatch(ctx, stmt)
	if err != nil {
		return err
	}
	defer s.EndBatch(lockCtx)

	if s.conn.TxStatus() == TxIdle {
		return nil
	}
	if _, err := s.conn.Exec(lockCtx, stmt); err != nil {
		return fmt.Errorf("%s failed: %w", stmt, err)
	}
	s.Touch()
	return nil
}

// MarkExpired moves a created or active session to expired. It returns
// false if the session was already expired or closed.
func (s *Session) MarkExpired() bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateExpired || State(cur) == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateExpired)) {
			return true
		}
	}
}

// BeginBatch takes the session's batch lock for operation. The returned
// context must be passed to Exec and then to EndBatch.
func (s *Session) BeginBatch(ctx context.Context, operation string) (context.Context, error) {
	if s.IsClosed() {
		return ctx, mterrors.LS01003(s.identity)
	}
	return s.lock.Acquire(ctx, operation)
}

// EndBatch releases the batch lock. If the session was closed while the
// batch ran, the native connection is closed here.
func (s *Session) EndBatch(ctx context.Context) {
	s.lock.Release(ctx)
	if s.IsClosed() {
		_ = s.closeConn(context.WithoutCancel(ctx))
	}
}

// Close marks the session closed and closes the native connection. If a
// batch holds the session, the connection is closed when that batch ends
// and its remaining statements fail. Closing an already closed session is a
// no-op. The server aborts any open transaction when the connection ends.
func (s *Session) Close(ctx context.Context) error {
	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	return s.closeConn(ctx)
}

func (s *Session) closeConn(ctx context.Context) error {
	lockCtx, ok := s.lock.TryAcquire(ctx, "close")
	if !ok {
		return nil
	}
	defer s.lock.Release(lockCtx)
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close(lockCtx)
}
