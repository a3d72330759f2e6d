// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objcore

import "sync"

// GlobalHolder is a cell holding a single shared reference-counted Handle,
// swappable atomically under a reader/writer lock. It is the Go analogue
// of the teacher's package-level currentCtx/currentCtxMu pair in caddy.go:
// many goroutines call Get (an RLock) concurrently while one goroutine
// occasionally calls Replace (a Lock) to publish a new value, generalized
// from a fixed Context type to any refcounted Handle.
type GlobalHolder struct {
	mu    sync.RWMutex
	value Handle
	set   bool
}

// Release drops the holder's own reference, if any, and clears the cell.
func (g *GlobalHolder) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		return nil
	}
	old := g.value
	g.value = Handle{}
	g.set = false
	return Cleanup(old)
}

// Replace installs newH as the held value, taking a reference on it, and
// returns the previously held value (the zero Handle if none was held)
// WITHOUT decrementing its reference count — the caller owns that returned
// reference and is responsible for dropping it, exactly as spec.md's
// global-holder Replace contract specifies. This lets a caller inspect or
// log the outgoing value before deciding to release it.
func (g *GlobalHolder) Replace(newH Handle) (Handle, error) {
	if newH.obj != nil {
		if _, err := newH.Ref(1); err != nil {
			return Handle{}, err
		}
	}
	g.mu.Lock()
	old := g.value
	g.value = newH
	g.set = newH.obj != nil
	g.mu.Unlock()
	return old, nil
}

// ReplaceAndUnref is Replace followed immediately by dropping the
// outgoing reference on the caller's behalf; it reports whether a previous
// value existed.
func (g *GlobalHolder) ReplaceAndUnref(newH Handle) (bool, error) {
	old, err := g.Replace(newH)
	if err != nil {
		return false, err
	}
	existed := old.obj != nil
	if err := Cleanup(old); err != nil {
		return existed, err
	}
	return existed, nil
}

// Get returns the currently held value with an additional reference taken
// on the caller's behalf, so the caller may use it even if a concurrent
// Replace swaps the cell out from under it. The zero Handle, with no error,
// is returned when nothing is held.
func (g *GlobalHolder) Get() (Handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.set {
		return Handle{}, nil
	}
	if _, err := g.value.Ref(1); err != nil {
		return Handle{}, err
	}
	return g.value, nil
}
