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

// Package connmanager keeps the registry of live user sessions and evicts
// the ones that have been idle for too long.
package connmanager

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/mterrors"
)

// Config configures a Manager.
type Config struct {
	// MaxAge is how long a session may stay idle before it is evicted.
	MaxAge time.Duration
	// Autocommit is applied to every new session.
	Autocommit bool
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Manager owns every live session, keyed by identity. There is at most one
// session per identity.
type Manager struct {
	logger  *slog.Logger
	dialer  dbconn.Dialer
	cfg     Config
	metrics *metrics

	// dials ensures concurrent logins for one identity share one dial.
	dials singleflight.Group

	// mu guards sessions and is never held while talking to the database.
	mu       sync.Mutex
	sessions map[string]*dbconn.Session
}

// NewManager creates an empty registry.
func NewManager(logger *slog.Logger, dialer dbconn.Dialer, cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m, err := newMetrics(cfg.MeterProvider)
	if err != nil {
		logger.Warn("failed to initialize session metrics", "error", err)
	}
	return &Manager{
		logger:   logger,
		dialer:   dialer,
		cfg:      cfg,
		metrics:  m,
		sessions: make(map[string]*dbconn.Session),
	}
}

// MaxAge returns the idle limit.
func (m *Manager) MaxAge() time.Duration {
	return m.cfg.MaxAge
}

// lookup returns the session of identity. A session whose connection was
// lost is dropped from the registry and closed, and lookup reports none.
func (m *Manager) lookup(ctx context.Context, identity string) *dbconn.Session {
	m.mu.Lock()
	s := m.sessions[identity]
	if s == nil || !s.ConnGone() {
		m.mu.Unlock()
		return s
	}
	delete(m.sessions, identity)
	m.mu.Unlock()

	m.logger.WarnContext(ctx, "session lost its connection", "identity", identity)
	m.closeSession(ctx, s, reasonConnLost)
	return nil
}

// ResolveOrCreate returns the session of identity, dialing a new one if
// there is none or its connection was lost. A live session is returned as
// is, whatever creds say, and reused is true. Dial failures are reported as
// mterrors.ErrAuthentication.
func (m *Manager) ResolveOrCreate(ctx context.Context, identity string, creds dbconn.Credentials) (s *dbconn.Session, reused bool, err error) {
	if s := m.lookup(ctx, identity); s != nil {
		return s, true, nil
	}

	type resolved struct {
		s      *dbconn.Session
		reused bool
	}
	v, err, _ := m.dials.Do(identity, func() (any, error) {
		if s := m.lookup(ctx, identity); s != nil {
			return resolved{s: s, reused: true}, nil
		}
		s, err := dbconn.Open(ctx, m.dialer, identity, creds, dbconn.Options{
			Autocommit: m.cfg.Autocommit,
			Now:        m.cfg.Now,
		})
		if err != nil {
			m.metrics.dialFailed(ctx)
			m.logger.WarnContext(ctx, "failed to open session", "identity", identity, "error", err)
			return nil, mterrors.LS01001(identity).WithCause(err)
		}

		m.mu.Lock()
		m.sessions[identity] = s
		m.mu.Unlock()

		m.metrics.opened(ctx)
		m.logger.InfoContext(ctx, "opened session", "identity", identity, "autocommit", m.cfg.Autocommit)
		return resolved{s: s}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(resolved)
	return r.s, r.reused, nil
}

// Get returns the session of identity. It does not touch the session's
// notice buffer. A session whose connection was lost counts as none.
func (m *Manager) Get(identity string) (*dbconn.Session, error) {
	if s := m.lookup(context.Background(), identity); s != nil {
		return s, nil
	}
	return nil, mterrors.LS01002(identity)
}

// Close removes the session of identity and closes it.
func (m *Manager) Close(ctx context.Context, identity string) error {
	m.mu.Lock()
	s, ok := m.sessions[identity]
	if ok {
		delete(m.sessions, identity)
	}
	m.mu.Unlock()
	if !ok {
		return mterrors.LS01002(identity)
	}

	m.closeSession(ctx, s, reasonLogout)
	return nil
}

// EvictExpired removes and closes every session idle for longer than MaxAge
// at now, and every session whose connection was lost. Sessions running a
// batch are skipped. Close failures are logged and do not stop the sweep. It
// returns the evicted identities, sorted.
func (m *Manager) EvictExpired(ctx context.Context, now time.Time) []string {
	type victim struct {
		s      *dbconn.Session
		reason string
	}
	var victims []victim

	m.mu.Lock()
	for identity, s := range m.sessions {
		if s.Busy() {
			continue
		}
		reason := reasonExpired
		switch {
		case s.ConnGone():
			reason = reasonConnLost
		case s.IdleFor(now) <= m.cfg.MaxAge:
			continue
		}
		if !s.MarkExpired() {
			continue
		}
		delete(m.sessions, identity)
		victims = append(victims, victim{s: s, reason: reason})
	}
	m.mu.Unlock()

	slices.SortFunc(victims, func(a, b victim) int {
		return strings.Compare(a.s.Identity(), b.s.Identity())
	})
	evicted := make([]string, 0, len(victims))
	for _, v := range victims {
		m.closeSession(ctx, v.s, v.reason)
		evicted = append(evicted, v.s.Identity())
	}
	return evicted
}

// CloseAll closes every session. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*dbconn.Session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.closeSession(ctx, s, reasonShutdown)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Identities returns the identities with a live session, sorted.
func (m *Manager) Identities() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (m *Manager) closeSession(ctx context.Context, s *dbconn.Session, reason string) {
	m.metrics.closed(ctx, reason)
	if err := s.Close(ctx); err != nil {
		err = mterrors.LS02001(s.Identity()).WithCause(err)
		m.logger.ErrorContext(ctx, "failed to close session", "identity", s.Identity(), "reason", reason, "error", err)
		return
	}
	m.logger.InfoContext(ctx, "closed session", "identity", s.Identity(), "reason", reason)
}
