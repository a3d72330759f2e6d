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

import (
	"sync"
	"sync/atomic"
)

// LockKind selects the concurrency discipline embedded in an object header
// or a container. It is a closed set: Allocate and AllocateHashContainer
// reject any other value with Error{Kind: InvalidOptions}.
type LockKind int

const (
	// LockNone performs no synchronization at all; Lock/Unlock/TryLock are
	// no-ops and AdjustLock always reports modeNone.
	LockNone LockKind = iota
	// LockMutex embeds a plain sync.Mutex; read and write requests are
	// indistinguishable and both take the exclusive lock.
	LockMutex
	// LockRWMutex embeds a sync.RWMutex, allowing concurrent readers.
	LockRWMutex
)

func (k LockKind) valid() bool {
	return k == LockNone || k == LockMutex || k == LockRWMutex
}

// lockMode is the strength at which a lockAdapter is currently held, or
// requested to be held. modeNone also means "not held".
type lockMode int

const (
	modeNone lockMode = iota
	modeRead
	modeWrite
)

// lockAdapter is the lock embedded in every object header and every
// container. holders follows the spec's convention: -1 while a writer
// holds it, >=0 for the number of concurrent readers (0 when unlocked).
// The count is what lets Unlock and AdjustLock pick the correct underlying
// call without the caller having to remember which one it took.
type lockAdapter struct {
	kind    LockKind
	mu      sync.Mutex
	rw      sync.RWMutex
	holders int32
}

func newLockAdapter(kind LockKind) lockAdapter {
	return lockAdapter{kind: kind}
}

// Lock acquires the adapter at the requested strength. how must be modeRead
// or modeWrite; modeNone is a no-op for LockNone and otherwise acquires the
// weakest strength that still synchronizes (modeRead).
func (l *lockAdapter) Lock(how lockMode) {
	switch l.kind {
	case LockNone:
		return
	case LockMutex:
		l.mu.Lock()
		atomic.StoreInt32(&l.holders, -1)
	case LockRWMutex:
		if how == modeWrite {
			l.rw.Lock()
			atomic.StoreInt32(&l.holders, -1)
		} else {
			l.rw.RLock()
			atomic.AddInt32(&l.holders, 1)
		}
	}
}

// TryLock is the non-blocking counterpart of Lock.
func (l *lockAdapter) TryLock(how lockMode) bool {
	switch l.kind {
	case LockNone:
		return true
	case LockMutex:
		if l.mu.TryLock() {
			atomic.StoreInt32(&l.holders, -1)
			return true
		}
		return false
	case LockRWMutex:
		if how == modeWrite {
			if l.rw.TryLock() {
				atomic.StoreInt32(&l.holders, -1)
				return true
			}
			return false
		}
		if l.rw.TryRLock() {
			atomic.AddInt32(&l.holders, 1)
			return true
		}
		return false
	}
	return true
}

// Unlock releases the adapter, choosing the writer or reader release path
// by inspecting the holder count left over from Lock/TryLock/AdjustLock —
// the caller never has to remember which strength it took.
func (l *lockAdapter) Unlock() {
	switch l.kind {
	case LockNone:
		return
	case LockMutex:
		atomic.StoreInt32(&l.holders, 0)
		l.mu.Unlock()
	case LockRWMutex:
		if atomic.LoadInt32(&l.holders) < 0 {
			atomic.StoreInt32(&l.holders, 0)
			l.rw.Unlock()
			return
		}
		atomic.AddInt32(&l.holders, -1)
		l.rw.RUnlock()
	}
}

func (l *lockAdapter) currentMode() lockMode {
	switch l.kind {
	case LockNone:
		return modeNone
	default:
		h := atomic.LoadInt32(&l.holders)
		switch {
		case h < 0:
			return modeWrite
		case h > 0:
			return modeRead
		default:
			return modeNone
		}
	}
}

// AdjustLock changes the held strength to desired, upgrading or downgrading
// as needed, and returns the mode that was held before the call. It is the
// cornerstone of safe recursion through traversal callbacks that may need
// to escalate from a read scan to a write unlink mid-callback: a downgrade
// from write to read is always safe (drop and re-acquire), but an upgrade
// from read to write must first fully release the read lock, since Go's
// sync.RWMutex has no atomic upgrade primitive. If keepStronger is true and
// the adapter is already holding a mode at least as strong as desired, the
// call is a no-op and the stronger mode is kept.
func (l *lockAdapter) AdjustLock(desired lockMode, keepStronger bool) lockMode {
	if l.kind == LockNone || desired == modeNone {
		return l.currentMode()
	}
	current := l.currentMode()
	if current == desired {
		return current
	}
	if keepStronger && current == modeWrite && desired == modeRead {
		return current
	}
	if current != modeNone {
		l.Unlock()
	}
	l.Lock(desired)
	return current
}

// MutexAddr exposes the embedded sync.Mutex for callers that allocated with
// LockMutex and need to pass the lock to code that takes a *sync.Mutex
// directly (spec.md's GetLockAddress). Returns nil for LockNone/LockRWMutex.
func (l *lockAdapter) MutexAddr() *sync.Mutex {
	if l.kind != LockMutex {
		return nil
	}
	return &l.mu
}
