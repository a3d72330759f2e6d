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
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DevMode gates the occupancy tracking and sanity assertions described in
// spec.md §3 ("in devmode, also current and maximum element counts") and
// motivated by the SIP registration-binding hash list's bugChecks/
// bugLockCheck pattern. It is off by default; embedding processes that want
// the extra bookkeeping and Check()/Stats() detail flip it once at startup.
var DevMode = false

// node is a small reference-counted record belonging to exactly one
// bucket's list while container is non-nil. A nil payload marks a
// tombstone: the node has been logically unlinked but is still kept alive
// by a pinning iterator.
type node struct {
	container *hashContainer // weak; does not hold a reference
	bucketIdx int
	payload   Handle
	prev, next *node
	refs      int32
}

func newNode(c *hashContainer, bucketIdx int, payload Handle) *node {
	return &node{container: c, bucketIdx: bucketIdx, payload: payload, refs: 1}
}

// ref adjusts the node's reference count, destroying it when the count
// reaches zero: if the node is still attached to a bucket, it is unlinked
// (upgrading the container lock to write first) before any remaining
// payload reference is dropped.
func (n *node) ref(delta int32) int32 {
	prior := atomic.AddInt32(&n.refs, delta) - delta
	after := prior + delta
	if after == 0 {
		n.destroy()
	}
	return prior
}

func (n *node) destroy() {
	if n.container != nil {
		c := n.container
		orig := c.lock.AdjustLock(modeWrite, true)
		c.unlinkNode(n)
		n.container = nil
		c.lock.AdjustLock(orig, true)
	}
	if n.payload.obj != nil {
		if err := Cleanup(n.payload); err != nil {
			Log().Error("objcore: node payload cleanup failed", zap.Error(err))
		}
		n.payload = Handle{}
	}
}

func (n *node) tombstone() bool { return n.payload.obj == nil }

type bucket struct {
	head, tail *node
	count      int
	maxCount   int
}

func (b *bucket) insertHead(n *node) {
	n.prev = nil
	n.next = b.head
	if b.head != nil {
		b.head.prev = n
	} else {
		b.tail = n
	}
	b.head = n
}

func (b *bucket) insertTail(n *node) {
	n.next = nil
	n.prev = b.tail
	if b.tail != nil {
		b.tail.next = n
	} else {
		b.head = n
	}
	b.tail = n
}

func (b *bucket) insertAfter(ref, n *node) {
	n.prev = ref
	n.next = ref.next
	if ref.next != nil {
		ref.next.prev = n
	} else {
		b.tail = n
	}
	ref.next = n
}

func (b *bucket) insertBefore(ref, n *node) {
	n.next = ref
	n.prev = ref.prev
	if ref.prev != nil {
		ref.prev.next = n
	} else {
		b.head = n
	}
	ref.prev = n
}

// hashContainer is the concrete implementation backing both
// AllocateHashContainer and AllocateListContainer (the latter is simply a
// hashContainer with a single bucket and no hash function, per spec.md §3).
type hashContainer struct {
	id         uuid.UUID
	lock       lockAdapter
	buckets    []bucket
	hashFn     func(key any) uint32
	sortFn     func(a, b any) int
	dup        DupPolicy
	insertEnd  InsertEnd
	count      int32
	destroying bool
}

// AllocateHashContainer builds a hash-bucket container. A nil opts.Hash
// forces a single bucket and a constant-zero hash, which degenerates the
// container into a sorted or unsorted list — the same code path
// AllocateListContainer uses.
func AllocateHashContainer(opts ContainerOptions) (Container, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	n := opts.Buckets
	hashFn := opts.Hash
	if hashFn == nil {
		n = 1
	}
	if n <= 0 {
		n = 1
	}
	hc := &hashContainer{
		id:        uuid.New(),
		lock:      newLockAdapter(opts.Lock),
		buckets:   make([]bucket, n),
		hashFn:    hashFn,
		sortFn:    opts.Sort,
		dup:       opts.Duplicate,
		insertEnd: opts.InsertEnd,
	}
	statsContainerAllocated()
	return hc, nil
}

// AllocateListContainer delegates to AllocateHashContainer with a single
// bucket and no hash function, per spec.md §6.
func AllocateListContainer(opts ContainerOptions) (Container, error) {
	opts.Buckets = 1
	opts.Hash = nil
	return AllocateHashContainer(opts)
}

func (c *hashContainer) Count() int { return int(atomic.LoadInt32(&c.count)) }

func (c *hashContainer) bucketFor(key any) int {
	if c.hashFn == nil {
		return 0
	}
	h := c.hashFn(key)
	return int(h % uint32(len(c.buckets)))
}

func (c *hashContainer) unlinkNode(n *node) {
	b := &c.buckets[n.bucketIdx]
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		b.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		b.tail = n.prev
	}
	n.prev, n.next = nil, nil
	if DevMode && b.count > 0 {
		b.count--
	}
}

type linkAction int

const (
	actionInserted linkAction = iota
	actionReplaced
	actionRejected
)

// sortedInsert implements spec.md §4.5's two-direction scan. For
// InsertAtHead it walks tail→head, treating "current greater than new" as
// the continue condition; for InsertAtTail it walks head→tail with the
// comparison reversed, exactly mirroring the head-end algorithm.
func (c *hashContainer) sortedInsert(b *bucket, n *node, newVal any, target Handle) (linkAction, *node) {
	cmp := c.sortFn
	if c.insertEnd == InsertAtHead {
		cur := b.tail
		for cur != nil {
			if cur.tombstone() {
				cur = cur.prev
				continue
			}
			curVal, _ := cur.payload.Payload()
			switch {
			case cmp(curVal, newVal) > 0:
				cur = cur.prev
			case cmp(curVal, newVal) < 0:
				b.insertAfter(cur, n)
				return actionInserted, nil
			default:
				action, existing := c.resolveDuplicate(cur, target)
				if action != actionInserted {
					return action, existing
				}
				// Keep scanning the equal-key run so every node in it is
				// checked, and the new node lands at the run's head end.
				cur = cur.prev
			}
		}
		b.insertHead(n)
		return actionInserted, nil
	}

	cur := b.head
	for cur != nil {
		if cur.tombstone() {
			cur = cur.next
			continue
		}
		curVal, _ := cur.payload.Payload()
		switch {
		case cmp(curVal, newVal) < 0:
			cur = cur.next
		case cmp(curVal, newVal) > 0:
			b.insertBefore(cur, n)
			return actionInserted, nil
		default:
			action, existing := c.resolveDuplicate(cur, target)
			if action != actionInserted {
				return action, existing
			}
			// Keep scanning the equal-key run so every node in it is
			// checked, and the new node lands at the run's tail end.
			cur = cur.next
		}
	}
	b.insertTail(n)
	return actionInserted, nil
}

func (c *hashContainer) resolveDuplicate(existing *node, target Handle) (linkAction, *node) {
	switch c.dup {
	case DupAllow:
		return actionInserted, nil
	case DupRejectKey:
		return actionRejected, existing
	case DupRejectSameObject:
		if existing.payload.obj == target.obj {
			return actionRejected, existing
		}
		return actionInserted, nil
	case DupReplace:
		return actionReplaced, existing
	default:
		return actionRejected, existing
	}
}

// Link inserts obj per the configured duplicate policy and insertion end,
// following spec.md §4.5 exactly, including the replace/reject disposal
// rule: a new node that loses out to an existing one is discarded with its
// container back-pointer cleared first, so its own destructor never tries
// to unlink a node it was never linked into.
func (c *hashContainer) Link(obj Handle, flags SearchFlag) (bool, error) {
	if !obj.valid() {
		return false, errInvalidHandle("Link")
	}
	if !flags.valid() {
		return false, errInvalidOptions("Link", errUnknownSearchFlags)
	}
	payload, err := obj.Payload()
	if err != nil {
		return false, err
	}
	bucketIdx := c.bucketFor(payload)

	var orig lockMode
	if flags&FlagNoLock != 0 {
		orig = c.lock.AdjustLock(modeWrite, true)
	} else {
		c.lock.Lock(modeWrite)
	}
	defer func() {
		if flags&FlagNoLock != 0 {
			c.lock.AdjustLock(orig, true)
		} else {
			c.lock.Unlock()
		}
	}()

	if _, err := obj.Ref(1); err != nil {
		return false, err
	}
	n := newNode(c, bucketIdx, obj)
	b := &c.buckets[bucketIdx]

	var action linkAction
	if c.sortFn != nil {
		action, _ = c.sortedInsert(b, n, payload, obj)
	} else {
		switch c.insertEnd {
		case InsertAtHead:
			b.insertHead(n)
		default:
			b.insertTail(n)
		}
		action = actionInserted
	}

	switch action {
	case actionInserted:
		atomic.AddInt32(&c.count, 1)
		if DevMode {
			b.count++
			if b.count > b.maxCount {
				b.maxCount = b.count
			}
		}
		return true, nil
	case actionReplaced:
		existing, _ := c.findReplacedNode(b, n)
		if existing != nil {
			old := existing.payload
			existing.payload = n.payload
			n.payload = old
		}
		n.container = nil
		if n.payload.obj != nil {
			if err := Cleanup(n.payload); err != nil {
				Log().Error("objcore: replaced object cleanup failed", zap.Error(err))
			}
		}
		return true, nil
	default: // actionRejected
		n.container = nil
		if err := Cleanup(n.payload); err != nil {
			Log().Error("objcore: rejected link cleanup failed", zap.Error(err))
		}
		return false, nil
	}
}

// findReplacedNode re-walks the bucket for the node sortedInsert matched,
// since Link discards the pointer sortedInsert returns, across the switch
// above, for clarity; bucket lists are short enough in practice that a second
// linear pass costs nothing compared to the lock already held.
func (c *hashContainer) findReplacedNode(b *bucket, n *node) (*node, error) {
	newVal, _ := n.payload.Payload()
	for cur := b.head; cur != nil; cur = cur.next {
		if cur == n || cur.tombstone() {
			continue
		}
		curVal, _ := cur.payload.Payload()
		if c.sortFn(curVal, newVal) == 0 {
			return cur, nil
		}
	}
	return nil, nil
}

var matchAll Matcher = func(any, any) MatchFlag { return MatchHit }

// Unlink removes target by handle identity, restricting the search to the
// bucket target's own payload hashes to, per spec.md §4.4's "Callback with
// a pointer-equality matcher plus unlink|pointer|no-data". Identity
// comparison is done directly against node.payload rather than through the
// value-based Matcher plumbing, since a Matcher only ever sees the
// candidate's payload value, not its handle.
func (c *hashContainer) Unlink(target Handle, flags SearchFlag) error {
	if !target.valid() {
		return errInvalidHandle("Unlink")
	}
	payload, err := target.Payload()
	if err != nil {
		return err
	}
	bucketIdx := c.bucketFor(payload)

	noLock := flags&FlagNoLock != 0
	var orig lockMode
	if noLock {
		orig = c.lock.AdjustLock(modeWrite, true)
	} else {
		c.lock.Lock(modeWrite)
	}
	defer func() {
		if noLock {
			c.lock.AdjustLock(orig, true)
		} else {
			c.lock.Unlock()
		}
	}()

	b := &c.buckets[bucketIdx]
	for cur := b.head; cur != nil; cur = cur.next {
		if cur.tombstone() || cur.payload.obj != target.obj {
			continue
		}
		if err := Cleanup(cur.payload); err != nil {
			Log().Error("objcore: unlink cleanup failed", zap.Error(err))
		}
		atomic.AddInt32(&c.count, -1)
		cur.payload = Handle{}
		cur.ref(-1)
		return nil
	}
	return nil
}

// Find uses the container's configured sort function as the comparator,
// per spec.md §4.4.
func (c *hashContainer) Find(key any, flags SearchFlag) (Handle, error) {
	if c.sortFn == nil {
		return Handle{}, newError("Find", InvalidOptions, fmt.Errorf("container has no compare function configured"))
	}
	m := func(candidate any, data any) MatchFlag {
		if c.sortFn(candidate, data) == 0 {
			return MatchHit | MatchStop
		}
		return 0
	}
	h, _, err := c.CallbackWithData(OrderAscending, flags, m, key)
	return h, err
}

func (c *hashContainer) Callback(order Order, flags SearchFlag, m Matcher) (Handle, *Iterator, error) {
	return c.CallbackWithData(order, flags, m, nil)
}

// CallbackWithData implements the traversal state machine of spec.md §4.6:
// search-space selection (hashed single bucket, optionally wrapping, or a
// full scan), directional order, the sort-function skip/break shortcut
// when the search is hashed, match semantics, hit processing (refcount
// bump or unlink-to-tombstone), and multi-match accumulation into a
// transient container surfaced through an iterator.
func (c *hashContainer) CallbackWithData(order Order, flags SearchFlag, m Matcher, data any) (Handle, *Iterator, error) {
	if !flags.valid() {
		return Handle{}, nil, errInvalidOptions("CallbackWithData", errUnknownSearchFlags)
	}
	if m == nil {
		m = matchAll
	}

	descending := order == OrderDescending || order == OrderPost
	hashed := flags&(FlagPointer|FlagKey) != 0

	var multi Container
	var multiHC *hashContainer
	if flags&FlagMultiple != 0 && flags&FlagNoData == 0 {
		mc, err := AllocateListContainer(ContainerOptions{InsertEnd: InsertAtTail})
		if err != nil {
			return Handle{}, nil, err
		}
		multi = mc
		multiHC = mc.(*hashContainer)
	}

	needWrite := flags&FlagUnlink != 0
	var orig lockMode
	if flags&FlagNoLock != 0 {
		if needWrite {
			orig = c.lock.AdjustLock(modeWrite, true)
		} else {
			orig = c.lock.AdjustLock(modeRead, true)
		}
	} else if needWrite {
		c.lock.Lock(modeWrite)
	} else {
		c.lock.Lock(modeRead)
	}
	defer func() {
		if flags&FlagNoLock != 0 {
			c.lock.AdjustLock(orig, true)
		} else {
			c.lock.Unlock()
		}
	}()

	n := len(c.buckets)
	var bucketOrder []int
	switch {
	case hashed && flags&FlagContinue == 0:
		bucketOrder = []int{c.bucketFor(data)}
	case hashed:
		single := c.bucketFor(data)
		bucketOrder = make([]int, n)
		for i := 0; i < n; i++ {
			if descending {
				bucketOrder[i] = (single - i + n) % n
			} else {
				bucketOrder[i] = (single + i) % n
			}
		}
	default:
		bucketOrder = make([]int, n)
		for i := 0; i < n; i++ {
			if descending {
				bucketOrder[i] = n - 1 - i
			} else {
				bucketOrder[i] = i
			}
		}
	}

	var result Handle
	stop := false
	for _, idx := range bucketOrder {
		if stop {
			break
		}
		if c.visitBucket(&c.buckets[idx], descending, hashed, flags, m, data, multiHC, &result, &stop) {
			break
		}
	}

	if multi != nil {
		it, err := iteratorInit(multi, 0, true)
		if err != nil {
			multi.Destroy()
			return Handle{}, nil, err
		}
		return Handle{}, it, nil
	}
	return result, nil, nil
}

// visitBucket walks one bucket in the requested direction, returning true
// if the overall scan should stop after this bucket.
func (c *hashContainer) visitBucket(b *bucket, descending bool, hashed bool, flags SearchFlag, m Matcher, data any, multi *hashContainer, result *Handle, stop *bool) bool {
	start := b.head
	if descending {
		start = b.tail
	}
	for cur := start; cur != nil; {
		next := cur.next
		if descending {
			next = cur.prev
		}
		if cur.tombstone() {
			cur = next
			continue
		}
		candVal, _ := cur.payload.Payload()

		if hashed && c.sortFn != nil {
			order := c.sortFn(candVal, data)
			if descending {
				if order > 0 {
					cur = next
					continue
				}
				if order < 0 {
					break
				}
			} else {
				if order < 0 {
					cur = next
					continue
				}
				if order > 0 {
					break
				}
			}
		}

		mf := m(candVal, data)
		if mf&MatchHit != 0 {
			c.processHit(cur, flags, multi, result)
		}
		if mf&MatchStop != 0 {
			*stop = true
			return true
		}
		cur = next
	}
	return false
}

func (c *hashContainer) processHit(n *node, flags SearchFlag, multi *hashContainer, result *Handle) {
	if flags&FlagNoData == 0 {
		if _, err := n.payload.Ref(1); err != nil {
			Log().Error("objcore: hit processing ref failed", zap.Error(err))
			return
		}
		if multi != nil {
			if _, err := multi.Link(n.payload, 0); err != nil {
				Log().Error("objcore: multi-match link failed", zap.Error(err))
			}
			Cleanup(n.payload)
		} else if result.obj == nil {
			*result = n.payload
		}
	}
	if flags&FlagUnlink != 0 {
		if n.payload.obj != nil {
			Cleanup(n.payload)
		}
		atomic.AddInt32(&c.count, -1)
		n.payload = Handle{}
		n.ref(-1)
	}
}

// Dup copies every live entry of src into the receiver. It collects src's
// entries in one CallbackWithData pass under src's read lock, then links
// each into the receiver with its own Link call, which takes the receiver's
// write lock unless flags has FlagNoLock. On any link failure it removes
// whatever it had already added, so the receiver ends up with all or none
// of the collected entries per spec.md §4.4.
func (c *hashContainer) Dup(src Container, flags SearchFlag) error {
	shc, ok := src.(*hashContainer)
	if !ok {
		return newError("Dup", InvalidOptions, fmt.Errorf("source container kind does not support Dup"))
	}
	var added []Handle
	_, it, err := shc.CallbackWithData(OrderAscending, FlagMultiple, matchAll, nil)
	if err != nil {
		return err
	}
	if it == nil {
		return nil
	}
	defer IteratorDestroy(it)
	for {
		h, err := IteratorNext(it)
		if err != nil {
			return err
		}
		if h.obj == nil {
			break
		}
		ok, linkErr := c.Link(h, flags)
		Cleanup(h)
		if linkErr != nil || !ok {
			for _, a := range added {
				c.Unlink(a, FlagPointer|flags&FlagNoLock)
			}
			if linkErr != nil {
				return linkErr
			}
			return newError("Dup", AllocationFailure, fmt.Errorf("link rejected during dup"))
		}
		added = append(added, h)
	}
	return nil
}

// Clone allocates an empty container with the same option flags, sort
// function, and bucket count as the receiver, then Dups the receiver's
// contents into it.
func (c *hashContainer) Clone() (Container, error) {
	clone, err := AllocateHashContainer(ContainerOptions{
		Lock:      c.lock.kind,
		Duplicate: c.dup,
		InsertEnd: c.insertEnd,
		Buckets:   len(c.buckets),
		Hash:      c.hashFn,
		Sort:      c.sortFn,
	})
	if err != nil {
		return nil, err
	}
	if err := clone.Dup(c, 0); err != nil {
		clone.Destroy()
		return nil, err
	}
	return clone, nil
}

// Check runs devmode-only structural sanity assertions: that each bucket's
// live (non-tombstone) node count matches its tracked occupancy and that the
// live total matches Count. A mismatch is reported through Log().DPanic and
// Check still returns nil; tombstones are not checked for separately. It is
// a no-op when DevMode is false, per spec.md §6.
func (c *hashContainer) Check() error {
	if !DevMode {
		return nil
	}
	c.lock.Lock(modeRead)
	defer c.lock.Unlock()
	total := 0
	for i := range c.buckets {
		b := &c.buckets[i]
		live := 0
		for cur := b.head; cur != nil; cur = cur.next {
			if !cur.tombstone() {
				live++
			}
		}
		if live != b.count {
			Log().DPanic("objcore: bucket occupancy mismatch",
				zap.Int("bucket", i), zap.Int("tracked", b.count), zap.Int("live", live))
		}
		total += live
	}
	if total != int(atomic.LoadInt32(&c.count)) {
		Log().DPanic("objcore: container element count mismatch",
			zap.Int("tracked", int(atomic.LoadInt32(&c.count))), zap.Int("live", total))
	}
	return nil
}

// Stats writes element count and, in devmode, per-bucket occupancy to w.
func (c *hashContainer) Stats(w io.Writer) {
	fmt.Fprintf(w, "objcore container %s: %d elements across %d buckets\n", c.id, c.Count(), len(c.buckets))
	if !DevMode {
		return
	}
	for i := range c.buckets {
		b := &c.buckets[i]
		fmt.Fprintf(w, "  bucket %d: count=%d max=%d\n", i, b.count, b.maxCount)
	}
}

// Destroy sets the destroying flag (no other code in the package reads it),
// then unlinks every remaining entry and releases its reference, per
// spec.md §4.4. Tombstones still pinned by an iterator stay in their buckets
// and are not reported.
func (c *hashContainer) Destroy() error {
	c.lock.Lock(modeWrite)
	c.destroying = true
	c.lock.Unlock()

	// unlink|no-data|multiple with a null (match-all) matcher: per
	// spec.md §4.4 this means "match all, unlink all, discard objects".
	// FlagNoData suppresses the multi-container bootstrap, so each
	// object is unlinked and cleaned up in place as it is visited.
	_, _, err := c.CallbackWithData(OrderAscending, FlagUnlink|FlagNoData|FlagMultiple, matchAll, nil)
	if err != nil {
		return err
	}
	statsContainerFreed()
	return nil
}
