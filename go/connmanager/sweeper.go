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
	"log/slog"
	"sync"
	"time"
)

// Evicter is what the Sweeper sweeps. *Manager implements it.
type Evicter interface {
	EvictExpired(ctx context.Context, now time.Time) []string
}

// Sweeper evicts idle sessions at a fixed interval.
//
//   - Each sweep receives a context derived from the parent context
//   - Stop() cancels that context and waits for an in-flight sweep
//   - The next sweep is scheduled only after the current one completes
//   - Start/Stop/Start cycles are supported
type Sweeper struct {
	parentCtx context.Context
	evicter   Evicter
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context // created on Start, cancelled on Stop
	cancel  context.CancelFunc
	timer   *time.Timer
	wg      sync.WaitGroup
}

// NewSweeper creates a stopped Sweeper. Callers should pass a context that
// outlives any request, e.g. one detached with context.WithoutCancel.
func NewSweeper(ctx context.Context, evicter Evicter, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		parentCtx: ctx,
		evicter:   evicter,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the clock passed to EvictExpired. It must be called
// before Start.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start begins sweeping every interval. It returns false if the sweeper was
// already running.
func (s *Sweeper) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(s.parentCtx)
	s.scheduleNext()
	s.logger.Info("session sweeper started", "interval", s.interval)
	return true
}

// Stop cancels the sweeper and waits for an in-flight sweep to finish.
// After Stop returns no more sweeps run. Stop is idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("session sweeper stopped")
}

// Running returns true if the sweeper is running.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SweepNow runs one sweep synchronously and returns the evicted identities.
func (s *Sweeper) SweepNow(ctx context.Context) []string {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()

	evicted := s.evicter.EvictExpired(ctx, now())
	if len(evicted) > 0 {
		s.logger.InfoContext(ctx, "evicted idle sessions", "count", len(evicted), "identities", evicted)
	}
	return evicted
}

// scheduleNext must be called while holding s.mu.
func (s *Sweeper) scheduleNext() {
	s.timer = time.AfterFunc(s.interval, s.execute)
}

func (s *Sweeper) execute() {
	s.mu.Lock()
	if !s.running || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	ctx := s.ctx
	s.mu.Unlock()

	s.SweepNow(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.scheduleNext()
}
