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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchLock_AcquireRelease(t *testing.T) {
	bl := NewBatchLock()

	ctx, err := bl.Acquire(t.Context(), "run")
	require.NoError(t, err)
	require.NoError(t, bl.AssertHeld(ctx))

	op, held := bl.Held()
	assert.True(t, held)
	assert.Equal(t, "run", op)

	bl.Release(ctx)
	assert.Error(t, bl.AssertHeld(ctx))
	_, held = bl.Held()
	assert.False(t, held)
}

func TestBatchLock_ReentrantAcquireFails(t *testing.T) {
	bl := NewBatchLock()
	ctx, err := bl.Acquire(t.Context(), "outer")
	require.NoError(t, err)
	defer bl.Release(ctx)

	_, err = bl.Acquire(ctx, "inner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outer")
}

func TestBatchLock_PerLockOwnership(t *testing.T) {
	a, b := NewBatchLock(), NewBatchLock()
	ctx, err := a.Acquire(t.Context(), "a")
	require.NoError(t, err)
	defer a.Release(ctx)

	assert.Error(t, b.AssertHeld(ctx))
	ctx2, err := b.Acquire(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, a.AssertHeld(ctx2))
	require.NoError(t, b.AssertHeld(ctx2))
	b.Release(ctx2)
}

func TestBatchLock_TryAcquire(t *testing.T) {
	bl := NewBatchLock()
	ctx, ok := bl.TryAcquire(t.Context(), "first")
	require.True(t, ok)

	_, ok = bl.TryAcquire(t.Context(), "second")
	assert.False(t, ok)

	bl.Release(ctx)
	ctx, ok = bl.TryAcquire(t.Context(), "third")
	require.True(t, ok)
	bl.Release(ctx)
}

func TestBatchLock_ReleasePanics(t *testing.T) {
	bl := NewBatchLock()
	assert.Panics(t, func() { bl.Release(t.Context()) })

	ctx, err := bl.Acquire(t.Context(), "once")
	require.NoError(t, err)
	bl.Release(ctx)
	assert.Panics(t, func() { bl.Release(ctx) })
}

func TestBatchLock_Serialises(t *testing.T) {
	bl := NewBatchLock()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, err := bl.Acquire(context.Background(), "worker")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			bl.Release(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestRowsAffected(t *testing.T) {
	tests := []struct {
		tag  string
		n    int64
		want bool
	}{
		{"INSERT 0 1", 1, true},
		{"UPDATE 0", 0, true},
		{"DELETE 12", 12, true},
		{"SELECT 3", 3, true},
		{"CREATE TABLE", 0, false},
		{"BEGIN", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			n, ok := (&ExecResult{CommandTag: tt.tag}).RowsAffected()
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.n, n)
		})
	}
}

func TestCredentialsDatabaseName(t *testing.T) {
	assert.Equal(t, "alice", Credentials{User: "alice"}.DatabaseName())
	assert.Equal(t, "shared", Credentials{User: "alice", Database: "shared"}.DatabaseName())
}

func TestPgDialerConnString(t *testing.T) {
	d := &PgDialer{Host: "db.internal", Port: 6543}
	assert.Equal(t, "host=db.internal port=6543 sslmode=disable", d.connString())
	d.SSLMode = "require"
	assert.Equal(t, "host=db.internal port=6543 sslmode=require", d.connString())
}
