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

import "sync/atomic"

// IterFlag configures an Iterator at Init time.
type IterFlag uint32

const (
	// IterDontLock tells the iterator the caller already holds the
	// container's lock; Next/Destroy use AdjustLock instead of Lock.
	IterDontLock IterFlag = 1 << iota
	// IterUnlinkMode makes Next transfer the object's reference to the
	// caller and leave a tombstone instead of bumping the refcount.
	IterUnlinkMode
	// IterDescending walks buckets high-to-low and each bucket's list
	// tail-to-head.
	IterDescending
	// IterHeapAllocated is accepted for source compatibility with
	// spec.md's option enumeration; Go iterators are always heap values,
	// so this flag has no effect.
	IterHeapAllocated
)

// Iterator is a stateful cursor over a hash (or degenerate list)
// container. It holds the container itself (kept alive by ordinary Go
// garbage collection, the language-native analogue of the "owning
// reference to the container" spec.md describes) and, once stepped at
// least once, an owning reference to the last node it returned, so that
// the next step is well defined even if a concurrent mutator removes that
// node's neighbours.
type Iterator struct {
	hc        *hashContainer
	container Container
	flags     IterFlag
	bucketIdx int
	lastNode  *node
	owns      bool
}

// IteratorInit returns a cursor over c. c must be a hash or list
// container (the tree placeholder has no iterable structure yet).
func IteratorInit(c Container, flags IterFlag) (*Iterator, error) {
	return iteratorInit(c, flags, false)
}

func iteratorInit(c Container, flags IterFlag, owns bool) (*Iterator, error) {
	hc, ok := c.(*hashContainer)
	if !ok {
		return nil, newError("IteratorInit", InvalidOptions, errNotImplemented)
	}
	it := &Iterator{hc: hc, container: c, flags: flags, owns: owns}
	if flags&IterDescending != 0 {
		it.bucketIdx = len(hc.buckets) - 1
	}
	return it, nil
}

func (it *Iterator) nextNode() *node {
	descending := it.flags&IterDescending != 0
	var cur *node
	switch {
	case it.lastNode == nil && descending:
		cur = it.hc.buckets[it.bucketIdx].tail
	case it.lastNode == nil:
		cur = it.hc.buckets[it.bucketIdx].head
	case descending:
		cur = it.lastNode.prev
	default:
		cur = it.lastNode.next
	}
	for {
		for cur != nil {
			if !cur.tombstone() {
				return cur
			}
			if descending {
				cur = cur.prev
			} else {
				cur = cur.next
			}
		}
		if descending {
			it.bucketIdx--
		} else {
			it.bucketIdx++
		}
		if it.bucketIdx < 0 || it.bucketIdx >= len(it.hc.buckets) {
			return nil
		}
		if descending {
			cur = it.hc.buckets[it.bucketIdx].tail
		} else {
			cur = it.hc.buckets[it.bucketIdx].head
		}
	}
}

// IteratorNext advances the cursor and returns the next live object, with
// a fresh reference owned by the caller. The zero Handle with a nil error
// marks the end of the traversal. In IterUnlinkMode the returned reference
// is the object's sole remaining one from the container's point of view:
// the node becomes a tombstone and the container's element count drops,
// rather than the object's refcount being bumped.
func IteratorNext(it *Iterator) (Handle, error) {
	if it == nil {
		return Handle{}, errInvalidHandle("IteratorNext")
	}
	hc := it.hc
	unlink := it.flags&IterUnlinkMode != 0

	var orig lockMode
	if it.flags&IterDontLock != 0 {
		if unlink {
			orig = hc.lock.AdjustLock(modeWrite, true)
		} else {
			orig = hc.lock.AdjustLock(modeRead, true)
		}
	} else if unlink {
		hc.lock.Lock(modeWrite)
	} else {
		hc.lock.Lock(modeRead)
	}
	defer func() {
		if it.flags&IterDontLock != 0 {
			hc.lock.AdjustLock(orig, true)
		} else {
			hc.lock.Unlock()
		}
	}()

	n := it.nextNode()
	if n == nil {
		return Handle{}, nil
	}

	n.ref(1)
	if it.lastNode != nil {
		it.lastNode.ref(-1)
	}
	it.lastNode = n

	if unlink {
		result := n.payload
		n.payload = Handle{}
		atomic.AddInt32(&hc.count, -1)
		return result, nil
	}
	if _, err := n.payload.Ref(1); err != nil {
		return Handle{}, err
	}
	return n.payload, nil
}

// IteratorDestroy drops the pinned node reference (if any) under a read
// lock — the node destructor upgrades to write itself if this turns out to
// be the node's last reference — then, for iterators that were handed
// ownership of a transient multi-match container, destroys that container
// and every entry still inside it.
func IteratorDestroy(it *Iterator) error {
	if it == nil {
		return nil
	}
	if it.lastNode != nil {
		if it.flags&IterDontLock != 0 {
			orig := it.hc.lock.AdjustLock(modeRead, true)
			it.lastNode.ref(-1)
			it.hc.lock.AdjustLock(orig, true)
		} else {
			it.hc.lock.Lock(modeRead)
			it.lastNode.ref(-1)
			it.hc.lock.Unlock()
		}
		it.lastNode = nil
	}
	if it.owns {
		return it.container.Destroy()
	}
	return nil
}

// IteratorCleanup is IteratorDestroy under the name spec.md §6 lists as a
// distinct entry point; the two are the same operation.
func IteratorCleanup(it *Iterator) error {
	return IteratorDestroy(it)
}
