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
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// batchLockKey is the context key under which a BatchLock records its holder.
// Keying by lock lets one context hold the locks of several sessions.
type batchLockKey struct {
	lock *BatchLock
}

type batchLockValue struct {
	lockID    uint64
	operation string
	released  *atomic.Bool
}

// BatchLock serialises work on one session. Ownership travels in the
// context returned by Acquire, so code deeper in the call chain can assert
// that it runs under the lock.
type BatchLock struct {
	sema      *semaphore.Weighted
	mu        sync.Mutex
	currentID uint64 // 0 if unlocked
	nextID    uint64
	operation string
}

// NewBatchLock creates an unlocked BatchLock.
func NewBatchLock() *BatchLock {
	return &BatchLock{
		sema:   semaphore.NewWeighted(1),
		nextID: 1,
	}
}

// Acquire waits for the lock and returns a context proving ownership. It
// fails if ctx is done before the lock is free, or if ctx already holds it.
func (bl *BatchLock) Acquire(ctx context.Context, operation string) (context.Context, error) {
	if val, ok := ctx.Value(batchLockKey{bl}).(*batchLockValue); ok && !val.released.Load() {
		return ctx, fmt.Errorf("context already holds the batch lock (operation: %s)", val.operation)
	}

	if err := bl.sema.Acquire(ctx, 1); err != nil {
		return ctx, fmt.Errorf("failed to acquire batch lock for %s: %w", operation, err)
	}
	return bl.own(ctx, operation), nil
}

// TryAcquire is Acquire without waiting. ok is false if the lock is held.
func (bl *BatchLock) TryAcquire(ctx context.Context, operation string) (context.Context, bool) {
	if !bl.sema.TryAcquire(1) {
		return ctx, false
	}
	return bl.own(ctx, operation), true
}

func (bl *BatchLock) own(ctx context.Context, operation string) context.Context {
	bl.mu.Lock()
	lockID := bl.nextID
	bl.nextID++
	bl.currentID = lockID
	bl.operation = operation
	bl.mu.Unlock()

	return context.WithValue(ctx, batchLockKey{bl}, &batchLockValue{
		lockID:    lockID,
		operation: operation,
		released:  &atomic.Bool{},
	})
}

// Release releases the lock held by ctx. Releasing with a context that does
// not hold the lock is a programming error and panics.
func (bl *BatchLock) Release(ctx context.Context) {
	val, ok := ctx.Value(batchLockKey{bl}).(*batchLockValue)
	if !ok {
		panic("Release called with context that has no batch lock info")
	}
	if val.released.Load() {
		panic(fmt.Sprintf("Release called twice with same context (operation: %s)", val.operation))
	}

	bl.mu.Lock()
	if val.lockID != bl.currentID {
		currentID := bl.currentID
		bl.mu.Unlock()
		panic(fmt.Sprintf("Release called with context that doesn't hold the lock (operation: %s, lockID: %d, currentID: %d)",
			val.operation, val.lockID, currentID))
	}
	val.released.Store(true)
	bl.currentID = 0
	bl.operation = ""
	bl.mu.Unlock()

	bl.sema.Release(1)
}

// AssertHeld returns an error unless ctx currently holds the lock.
func (bl *BatchLock) AssertHeld(ctx context.Context) error {
	val, ok := ctx.Value(batchLockKey{bl}).(*batchLockValue)
	if !ok {
		return fmt.Errorf("context does not hold the batch lock")
	}
	if val.released.Load() {
		return fmt.Errorf("context's batch lock has been released")
	}
	return nil
}

// Held reports whether anyone holds the lock, and for what.
func (bl *BatchLock) Held() (string, bool) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.operation, bl.currentID != 0
}
