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

import "io"

// DupPolicy governs what Link does when it finds an existing entry that
// collides with the one being inserted.
type DupPolicy int

const (
	// DupAllow inserts regardless of any existing match.
	DupAllow DupPolicy = iota
	// DupRejectKey refuses the insert if any entry with an equal key
	// already exists.
	DupRejectKey
	// DupRejectSameObject refuses the insert only if the exact same
	// object (by handle identity) is already linked.
	DupRejectSameObject
	// DupReplace unlinks the colliding entry and drops its reference
	// after swapping the new payload into its place.
	DupReplace
)

func (d DupPolicy) valid() bool {
	return d >= DupAllow && d <= DupReplace
}

// InsertEnd selects which end of a bucket's list Link inserts at when no
// sort function dictates the position.
type InsertEnd int

const (
	InsertAtHead InsertEnd = iota
	InsertAtTail
)

func (e InsertEnd) valid() bool {
	return e == InsertAtHead || e == InsertAtTail
}

// SearchFlag is a composable bitmask controlling how Callback/Find/Unlink
// select and process candidates. Multiple bits may be set together.
type SearchFlag uint32

const (
	// FlagPointer restricts the search to the bucket that the target
	// handle's own key hashes to, instead of scanning every bucket.
	FlagPointer SearchFlag = 1 << iota
	// FlagKey restricts the search using a caller-supplied key hash
	// rather than hashing the target object.
	FlagKey
	// FlagUnlink removes each matching node from the container as it is
	// visited, leaving a tombstone if an iterator still references it.
	FlagUnlink
	// FlagNoData suppresses the payload in the callback/ result, useful
	// when the caller only wants counts or side effects.
	FlagNoData
	// FlagMultiple continues scanning for every match instead of
	// stopping at the first, materializing a transient single-bucket
	// list container exposed through an iterator.
	FlagMultiple
	// FlagContinue, together with FlagPointer or FlagKey, starts at the
	// hashed bucket and then wraps around the bucket array to scan every
	// bucket, instead of stopping after the hashed bucket.
	FlagContinue
	// FlagNoLock skips taking the container's lock; the caller is
	// expected to already hold it (e.g. from a nested AdjustLock call).
	FlagNoLock
)

const validSearchFlags = FlagPointer | FlagKey | FlagUnlink | FlagNoData | FlagMultiple | FlagContinue | FlagNoLock

func (f SearchFlag) valid() bool {
	return f&^validSearchFlags == 0
}

// Order selects traversal direction and, within that direction, whether a
// node is visited before or after recursing into whatever logical
// structure follows it (meaningful for the tree placeholder; the hash
// container only distinguishes ascending from descending, treating
// OrderPre as ascending and OrderPost as descending).
type Order int

const (
	OrderAscending Order = iota
	OrderDescending
	OrderPre
	OrderPost
)

// MatchFlag is returned by a Matcher to tell the traversal what to do with
// the candidate it was just shown. Match and Stop are independent bits:
// a matcher may report a hit and ask the scan to stop in the same result.
type MatchFlag int

const (
	// MatchHit means the candidate matches; process it per the active
	// SearchFlag set.
	MatchHit MatchFlag = 1 << iota
	// MatchStop means end the scan after this candidate is processed,
	// whether or not it matched.
	MatchStop
)

// Matcher decides whether candidate (a payload value) matches, given the
// caller-supplied data (e.g. a key to compare against).
type Matcher func(candidate any, data any) MatchFlag

// ContainerOptions configures AllocateHashContainer / AllocateListContainer.
type ContainerOptions struct {
	Lock      LockKind
	Duplicate DupPolicy
	InsertEnd InsertEnd
	Flags     SearchFlag
	Buckets   int
	Hash      func(key any) uint32
	Sort      func(a, b any) int
}

func (o ContainerOptions) validate() error {
	if !o.Lock.valid() {
		return errInvalidOptions("AllocateContainer", errUnknownLockKind)
	}
	if !o.Duplicate.valid() {
		return errInvalidOptions("AllocateContainer", errUnknownDupPolicy)
	}
	if !o.InsertEnd.valid() {
		return errInvalidOptions("AllocateContainer", errUnknownInsertEnd)
	}
	if !o.Flags.valid() {
		return errInvalidOptions("AllocateContainer", errUnknownSearchFlags)
	}
	return nil
}

// Container is the polymorphic interface every concrete container kind
// satisfies. This is the idiomatic Go realization of spec.md's "virtual
// table": rather than a struct of function pointers threaded manually
// through every call site (the C idiom), callers hold a Container value
// and the method set itself dispatches, exactly the way the teacher
// dispatches module behavior through small interfaces like Provisioner and
// CleanerUpper (modules.go) rather than an explicit vtable struct.
//
// Callback/CallbackWithData return a single matched Handle (holding a new
// reference) when FlagMultiple is not set, or a non-nil *Iterator over a
// transient container of every match when it is. At most one of the two
// return values is non-zero.
type Container interface {
	// Count reports the number of live (non-tombstone) entries.
	Count() int
	// Link inserts obj per the container's DupPolicy/InsertEnd/Sort,
	// taking a reference on obj. It reports whether the insert happened.
	Link(obj Handle, flags SearchFlag) (bool, error)
	// Unlink removes target, if present, dropping the container's
	// reference. It matches by handle identity within the bucket that
	// target's payload hashes to.
	Unlink(target Handle, flags SearchFlag) error
	// Callback visits matching entries with no explicit data argument;
	// see Matcher.
	Callback(order Order, flags SearchFlag, m Matcher) (Handle, *Iterator, error)
	// CallbackWithData is Callback with an explicit data value threaded
	// to the matcher on every invocation (e.g. a key to compare against).
	CallbackWithData(order Order, flags SearchFlag, m Matcher, data any) (Handle, *Iterator, error)
	// Find looks up key using the container's configured sort function
	// as the comparator; flags should include FlagKey.
	Find(key any, flags SearchFlag) (Handle, error)
	// Dup copies every live entry of src into the receiver.
	Dup(src Container, flags SearchFlag) error
	// Clone returns an independent copy of the receiver.
	Clone() (Container, error)
	// Check runs devmode-only structural sanity assertions; it is a
	// no-op returning nil when DevMode is false.
	Check() error
	// Stats writes diagnostic occupancy information to w.
	Stats(w io.Writer)
	// Destroy releases every entry's reference and frees the container.
	Destroy() error
}

// treeContainer is an unimplemented placeholder for the red-black-tree
// container variant named in spec.md §4.8 as future work. Count, Check,
// Stats and Destroy are no-ops; every other method returns
// errNotImplemented rather than panicking, so code that type
// switches on Container kind can handle "not yet built" as an ordinary
// error instead of a crash.
type treeContainer struct{}

func (treeContainer) Count() int { return 0 }
func (treeContainer) Link(Handle, SearchFlag) (bool, error) {
	return false, newError("Link", AllocationFailure, errNotImplemented)
}
func (treeContainer) Unlink(Handle, SearchFlag) error {
	return newError("Unlink", AllocationFailure, errNotImplemented)
}
func (treeContainer) Callback(Order, SearchFlag, Matcher) (Handle, *Iterator, error) {
	return Handle{}, nil, newError("Callback", AllocationFailure, errNotImplemented)
}
func (treeContainer) CallbackWithData(Order, SearchFlag, Matcher, any) (Handle, *Iterator, error) {
	return Handle{}, nil, newError("CallbackWithData", AllocationFailure, errNotImplemented)
}
func (treeContainer) Find(any, SearchFlag) (Handle, error) {
	return Handle{}, newError("Find", AllocationFailure, errNotImplemented)
}
func (treeContainer) Dup(Container, SearchFlag) error {
	return newError("Dup", AllocationFailure, errNotImplemented)
}
func (treeContainer) Clone() (Container, error) {
	return nil, newError("Clone", AllocationFailure, errNotImplemented)
}
func (treeContainer) Check() error { return nil }
func (treeContainer) Stats(io.Writer) {}
func (treeContainer) Destroy() error { return nil }

// AllocateTreeContainer returns the placeholder tree container. It never
// fails, but Link, Unlink, Callback, CallbackWithData, Find, Dup and Clone
// on the result report errNotImplemented.
func AllocateTreeContainer(ContainerOptions) (Container, error) {
	return treeContainer{}, nil
}
