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

package servenv

import (
	"errors"
	"sync"
)

// hooks is a list of parameter-less functions fired together.
type hooks struct {
	mu    sync.Mutex
	funcs []func()
}

func (h *hooks) add(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, f)
}

// fire runs every hook in its own goroutine and waits for all of them.
// Concurrent calls are serialized.
func (h *hooks) fire() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var wg sync.WaitGroup
	for _, f := range h.funcs {
		wg.Go(f)
	}
	wg.Wait()
}

// errorHooks is hooks whose functions can fail.
type errorHooks struct {
	mu    sync.Mutex
	funcs []func() error
}

func (h *errorHooks) add(f func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, f)
}

// fire runs every hook in parallel and returns their joined errors.
func (h *errorHooks) fire() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	errs := make([]error, len(h.funcs))
	var wg sync.WaitGroup
	for i, f := range h.funcs {
		wg.Go(func() { errs[i] = f() })
	}
	wg.Wait()
	return errors.Join(errs...)
}
