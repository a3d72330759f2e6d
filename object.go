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

	"go.uber.org/zap"
)

// Destructor runs exactly once, when an object's reference count reaches
// zero. It runs without the object's lock held.
type Destructor interface {
	Destruct() error
}

// DestructorFunc adapts a plain function to the Destructor interface, the
// way the teacher adapts bare functions to its CleanerUpper interface.
type DestructorFunc func() error

func (f DestructorFunc) Destruct() error { return f() }

const magicLive uint32 = 0x4f424a31 // "OBJ1"

// object is the header every allocation carries. Payload identity is the
// Go value itself; there is no separate pointer arithmetic to get there.
type object struct {
	magic      uint32
	refs       int32
	destructor Destructor
	payload    any
	lock       lockAdapter
}

// Handle is an opaque reference to an allocated object. The zero Handle is
// invalid: Payload, Ref, Lock, Unlock and GetLockAddress return
// Error{Kind: InvalidHandle} for it, while Cleanup treats it as a no-op.
type Handle struct {
	obj *object
}

func (h Handle) valid() bool {
	return h.obj != nil && atomic.LoadUint32(&h.obj.magic) == magicLive
}

// AllocOptions configures Allocate. The zero value is LockNone with no
// destructor, which is a valid and common configuration.
type AllocOptions struct {
	Lock       LockKind
	Size       int
	Destructor Destructor
}

func (o AllocOptions) validate() error {
	if !o.Lock.valid() {
		return errInvalidOptions("Allocate", errUnknownLockKind)
	}
	return nil
}

// Allocate creates a new object carrying payload, with a reference count of
// one, and returns a Handle to it. destructor, if opts.Destructor is
// non-nil, runs once the last reference is dropped.
func Allocate(payload any, opts AllocOptions) (Handle, error) {
	if err := opts.validate(); err != nil {
		return Handle{}, err
	}
	o := &object{
		magic:      magicLive,
		refs:       1,
		destructor: opts.Destructor,
		payload:    payload,
		lock:       newLockAdapter(opts.Lock),
	}
	statsObjectAllocated()
	return Handle{obj: o}, nil
}

// Payload returns the value the handle was allocated with.
func (h Handle) Payload() (any, error) {
	if !h.valid() {
		return nil, errInvalidHandle("Payload")
	}
	return h.obj.payload, nil
}

// Ref adjusts the reference count by delta and returns the count that was
// in effect *before* the adjustment, matching spec.md's "prior value"
// convention so callers can distinguish "I was the last reference" (prior
// == 1, delta == -1) from "someone else still holds it". When the count is
// driven to zero the destructor runs synchronously, with the object's lock
// not held, and the handle is then invalidated in place.
func (h Handle) Ref(delta int32) (int32, error) {
	if !h.valid() {
		return 0, errInvalidHandle("Ref")
	}
	o := h.obj
	prior := atomic.AddInt32(&o.refs, delta) - delta
	after := prior + delta
	if after < 0 {
		Log().Error("objcore: reference count went negative",
			zap.Int32("prior", prior), zap.Int32("delta", delta))
		return prior, nil
	}
	if after == 0 {
		h.destroy()
	}
	return prior, nil
}

func (h Handle) destroy() {
	o := h.obj
	if o.destructor != nil {
		if err := o.destructor.Destruct(); err != nil {
			Log().Error("objcore: destructor failed", zap.Error(err))
		}
	}
	atomic.StoreUint32(&o.magic, 0)
	statsObjectFreed()
}

// Cleanup is a convenience for the common "drop my reference" case; it is a
// no-op on an already-invalid or zero Handle, unlike Ref, which reports
// InvalidHandle.
func Cleanup(h Handle) error {
	if h.obj == nil || !h.valid() {
		return nil
	}
	_, err := h.Ref(-1)
	return err
}

// GetLockAddress exposes the object's embedded mutex for code that was
// allocated with LockMutex and needs to hand the lock to an API that wants
// a *sync.Mutex directly. It returns nil, without error, for any other
// LockKind.
func GetLockAddress(h Handle) (*sync.Mutex, error) {
	if !h.valid() {
		return nil, errInvalidHandle("GetLockAddress")
	}
	return h.obj.lock.MutexAddr(), nil
}

// Lock and Unlock expose the embedded lockAdapter for callers that want to
// guard access to Payload() across a read-modify-write sequence.
func (h Handle) Lock(how lockMode) error {
	if !h.valid() {
		return errInvalidHandle("Lock")
	}
	h.obj.lock.Lock(how)
	return nil
}

func (h Handle) Unlock() error {
	if !h.valid() {
		return errInvalidHandle("Unlock")
	}
	h.obj.lock.Unlock()
	return nil
}
