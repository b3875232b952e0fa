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

// Package queryservice is the entry point used by transports: it resolves
// the caller's session, runs work through the executor and sends every
// result through the audit recorder.
package queryservice

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lensql/lensql/go/connmanager"
	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/executor"
	"github.com/lensql/lensql/go/sqltypes"
)

// Service ties the session registry, the executor and the recorder together.
type Service struct {
	logger   *slog.Logger
	mgr      *connmanager.Manager
	exec     *executor.Executor
	recorder Recorder
}

// NewService creates a Service. A nil recorder logs the audit trail through
// logger.
func NewService(logger *slog.Logger, mgr *connmanager.Manager, exec *executor.Executor, recorder Recorder) *Service {
	if recorder == nil {
		recorder = NewLogRecorder(logger)
	}
	return &Service{
		logger:   logger,
		mgr:      mgr,
		exec:     exec,
		recorder: recorder,
	}
}

// RunOption customizes a single Execute or RunBuiltin call.
type RunOption func(*runOptions)

type runOptions struct {
	exerciseID int
}

// WithExerciseID attaches the batch to an exercise in the audit trail.
func WithExerciseID(id int) RunOption {
	return func(o *runOptions) {
		o.exerciseID = id
	}
}

func applyOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OpenSession returns identity's session, dialing a new connection with
// creds if there is none. An existing session is returned as is, with
// reused set, and creds are not checked against it.
func (s *Service) OpenSession(ctx context.Context, identity string, creds dbconn.Credentials) (sess *dbconn.Session, reused bool, err error) {
	return s.mgr.ResolveOrCreate(ctx, identity, creds)
}

// Execute runs script on identity's session. Results are produced lazily as
// the returned sequence is consumed, each with its audit ID already set.
// The sequence is single-use. The error is non-nil only when identity has no session.
func (s *Service) Execute(ctx context.Context, identity, script string, opts ...RunOption) (iter.Seq[*sqltypes.Result], error) {
	sess, err := s.mgr.Get(identity)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	results := s.exec.Execute(ctx, sess, script)
	var consumed atomic.Bool
	return func(yield func(*sqltypes.Result) bool) {
		if consumed.Swap(true) {
			return
		}
		batchID := s.recordBatch(ctx, identity, o.exerciseID)
		for r := range results {
			s.record(ctx, batchID, r)
			if !yield(r) {
				return
			}
		}
	}, nil
}

// RunBuiltin runs b on identity's session.
func (s *Service) RunBuiltin(ctx context.Context, identity string, b executor.Builtin, opts ...RunOption) (*sqltypes.Result, error) {
	sess, err := s.mgr.Get(identity)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	r := s.exec.RunBuiltin(ctx, sess, b)
	batchID := s.recordBatch(ctx, identity, o.exerciseID)
	s.record(ctx, batchID, r)
	return r, nil
}

// Sweep evicts every session idle for longer than the configured maximum
// age and returns the evicted identities.
func (s *Service) Sweep(ctx context.Context, now time.Time) []string {
	return s.mgr.EvictExpired(ctx, now)
}

// Logout closes identity's session. A session without autocommit has its
// open transaction rolled back first, unless a batch is still running.
func (s *Service) Logout(ctx context.Context, identity string) error {
	sess, err := s.mgr.Get(identity)
	if err != nil {
		return err
	}
	if !sess.Autocommit() && !sess.Busy() {
		if err := sess.Rollback(ctx); err != nil {
			s.logger.WarnContext(ctx, "rollback on logout failed", "identity", identity, "error", err)
		}
	}
	return s.mgr.Close(ctx, identity)
}

func (s *Service) recordBatch(ctx context.Context, identity string, exerciseID int) string {
	id, err := s.recorder.RecordBatch(ctx, identity, exerciseID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record batch", "identity", identity, "error", err)
	}
	return id
}

func (s *Service) record(ctx context.Context, batchID string, r *sqltypes.Result) {
	id, err := s.recorder.Record(ctx, batchID, r)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record result", "batch_id", batchID, "query", r.Query, "error", err)
		return
	}
	r.ID = id
}
