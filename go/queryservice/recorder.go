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

package queryservice

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lensql/lensql/go/sqltypes"
)

// Recorder keeps the audit trail of what users ran. The service opens a
// batch before (or, for builtins, right after) running statements, then
// records each result as it is produced. The returned id becomes the
// result's ID.
type Recorder interface {
	RecordBatch(ctx context.Context, identity string, exerciseID int) (string, error)
	Record(ctx context.Context, batchID string, r *sqltypes.Result) (string, error)
}

// LogRecorder is a Recorder that writes the audit trail to a logger.
type LogRecorder struct {
	logger *slog.Logger
}

var _ Recorder = (*LogRecorder)(nil)

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// RecordBatch implements Recorder. An exerciseID of zero or less means the
// batch does not belong to an exercise.
func (lr *LogRecorder) RecordBatch(ctx context.Context, identity string, exerciseID int) (string, error) {
	id := uuid.New().String()
	attrs := []any{"batch_id", id, "identity", identity}
	if exerciseID > 0 {
		attrs = append(attrs, "exercise_id", exerciseID)
	}
	lr.logger.InfoContext(ctx, "batch started", attrs...)
	return id, nil
}

// Record implements Recorder.
func (lr *LogRecorder) Record(ctx context.Context, batchID string, r *sqltypes.Result) (string, error) {
	id := uuid.New().String()
	attrs := []any{
		"batch_id", batchID,
		"query_id", id,
		"query", r.Query,
		"success", r.Success,
		"kind", r.Kind.String(),
	}
	if r.Kind == sqltypes.KindError {
		attrs = append(attrs, "error", r.Error.String())
	}
	lr.logger.InfoContext(ctx, "query recorded", attrs...)
	return id, nil
}
