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
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func stringCompare(a, b any) int {
	return strings.Compare(a.(string), b.(string))
}

func firstByteHash(key any) uint32 {
	s := key.(string)
	if s == "" {
		return 0
	}
	return uint32(s[0])
}

type countingPayload struct {
	name      string
	destroyed *int32
}

func (p *countingPayload) Destruct() error {
	atomic.AddInt32(p.destroyed, 1)
	return nil
}

func newCountingHandle(name string, counter *int32) Handle {
	p := &countingPayload{name: name, destroyed: counter}
	h, err := Allocate(name, AllocOptions{Destructor: p})
	if err != nil {
		panic(err)
	}
	return h
}

// TestHashContainer_MutexListLifecycle is end-to-end scenario 1.
func TestHashContainer_MutexListLifecycle(t *testing.T) {
	c, err := AllocateListContainer(ContainerOptions{Lock: LockMutex})
	require.NoError(t, err)

	var destroyed int32
	names := []string{"a", "b", "d"}
	for _, n := range names {
		h := newCountingHandle(n, &destroyed)
		ok, err := c.Link(h, 0)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, Cleanup(h))
	}

	require.Equal(t, 3, c.Count())
	require.NoError(t, c.Destroy())
	require.Equal(t, int32(3), atomic.LoadInt32(&destroyed))
}

// TestHashContainer_RejectKey is end-to-end scenario 2.
func TestHashContainer_RejectKey(t *testing.T) {
	c, err := AllocateHashContainer(ContainerOptions{
		Buckets:   7,
		Hash:      firstByteHash,
		Sort:      stringCompare,
		Duplicate: DupRejectKey,
	})
	require.NoError(t, err)

	var destroyed int32
	ant1 := newCountingHandle("ant", &destroyed)
	and1 := newCountingHandle("and", &destroyed)
	ant2 := newCountingHandle("ant", &destroyed)

	ok, err := c.Link(ant1, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Link(and1, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Link(ant2, 0)
	require.NoError(t, err)
	require.False(t, ok, "second \"ant\" should be rejected")

	require.Equal(t, 2, c.Count())

	Cleanup(ant1)
	Cleanup(and1)
	Cleanup(ant2)
	require.NoError(t, c.Destroy())
}

// TestHashContainer_DupAllow_InsertsBothNodesForADuplicateKey guards
// against resolveDuplicate's DupAllow branch reporting actionInserted
// without sortedInsert actually splicing the new node into the bucket
// list — a duplicate key under DupAllow must produce two reachable,
// independently counted, independently destroyable nodes.
func TestHashContainer_DupAllow_InsertsBothNodesForADuplicateKey(t *testing.T) {
	c, err := AllocateHashContainer(ContainerOptions{
		Buckets:   7,
		Hash:      firstByteHash,
		Sort:      stringCompare,
		Duplicate: DupAllow,
	})
	require.NoError(t, err)

	var destroyed int32
	first := newCountingHandle("ant", &destroyed)
	second := newCountingHandle("ant", &destroyed)

	ok, err := c.Link(first, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, Cleanup(first))

	ok, err = c.Link(second, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, Cleanup(second))

	require.Equal(t, 2, c.Count(), "both duplicate-key inserts must be reachable")

	require.NoError(t, c.Destroy())
	require.Equal(t, int32(2), atomic.LoadInt32(&destroyed), "both nodes must have been linked, not leaked")
}

// TestHashContainer_RejectSameObject exercises both branches of
// DupRejectSameObject: a distinct object sharing a key must still be
// spliced into the bucket (reachable, counted), while re-linking the
// identical handle is rejected.
func TestHashContainer_RejectSameObject(t *testing.T) {
	c, err := AllocateHashContainer(ContainerOptions{
		Buckets:   7,
		Hash:      firstByteHash,
		Sort:      stringCompare,
		Duplicate: DupRejectSameObject,
	})
	require.NoError(t, err)

	var destroyed int32
	first := newCountingHandle("ant", &destroyed)
	distinct := newCountingHandle("ant", &destroyed)

	ok, err := c.Link(first, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Link(distinct, 0)
	require.NoError(t, err, "a distinct object with the same key must be allowed")
	require.True(t, ok)
	require.Equal(t, 2, c.Count())

	ok, err = c.Link(first, 0)
	require.NoError(t, err)
	require.False(t, ok, "re-linking the identical handle must be rejected")
	require.Equal(t, 2, c.Count())

	require.NoError(t, Cleanup(first))
	require.NoError(t, Cleanup(distinct))
	require.NoError(t, c.Destroy())
	require.Equal(t, int32(2), atomic.LoadInt32(&destroyed))
}

// TestHashContainer_Replace is end-to-end scenario 3.
func TestHashContainer_Replace(t *testing.T) {
	c, err := AllocateHashContainer(ContainerOptions{
		Buckets:   7,
		Hash:      firstByteHash,
		Sort:      stringCompare,
		Duplicate: DupReplace,
	})
	require.NoError(t, err)

	var destroyed int32
	first := newCountingHandle("ant", &destroyed)
	second := newCountingHandle("ant", &destroyed)

	ok, err := c.Link(first, 0)
	require.NoError(t, err)
	require.True(t, ok)
	Cleanup(first)

	ok, err = c.Link(second, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, int32(1), atomic.LoadInt32(&destroyed), "first object's destructor should have fired")
	require.Equal(t, 1, c.Count())

	found, err := c.Find("ant", FlagKey)
	require.NoError(t, err)
	require.Equal(t, second.obj, found.obj)
	Cleanup(found)
	Cleanup(second)
	require.NoError(t, c.Destroy())
}

// TestHashContainer_UnlinkDuringIterate is end-to-end scenario 4: populate
// a 4-bucket hash container with 10 objects, iterate, unlink every second
// object returned while the iterator is still open, and check that exactly
// the even positions survive.
func TestHashContainer_UnlinkDuringIterate(t *testing.T) {
	intContainer, err := AllocateHashContainer(ContainerOptions{
		Buckets: 4,
		Hash:    func(key any) uint32 { return uint32(key.(int)) },
	})
	require.NoError(t, err)

	var destroyed int32
	for i := 0; i < 10; i++ {
		inner := newCountingHandle(fmt.Sprintf("%d", i), &destroyed)
		wrapped := wrapIndexed(i, inner)
		ok, err := intContainer.Link(wrapped, 0)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, Cleanup(inner))
		require.NoError(t, Cleanup(wrapped))
	}
	require.Equal(t, 10, intContainer.Count())

	it, err := IteratorInit(intContainer, 0)
	require.NoError(t, err)
	step := 0
	var kept []any
	for {
		h, err := IteratorNext(it)
		require.NoError(t, err)
		if h.obj == nil {
			break
		}
		if step%2 == 1 {
			require.NoError(t, intContainer.Unlink(h, FlagPointer))
		} else {
			p, err := h.Payload()
			require.NoError(t, err)
			kept = append(kept, p)
		}
		require.NoError(t, Cleanup(h))
		step++
	}
	require.NoError(t, IteratorDestroy(it))

	require.Equal(t, 5, intContainer.Count())

	survivors, err := IteratorInit(intContainer, 0)
	require.NoError(t, err)
	var left []any
	for {
		h, err := IteratorNext(survivors)
		require.NoError(t, err)
		if h.obj == nil {
			break
		}
		p, err := h.Payload()
		require.NoError(t, err)
		left = append(left, p)
		require.NoError(t, Cleanup(h))
	}
	require.NoError(t, IteratorDestroy(survivors))
	require.ElementsMatch(t, kept, left)

	require.NoError(t, intContainer.Destroy())
}

// indexedPayload pairs a bucket key with the underlying object so the
// int-hashed test container above can select a bucket independent of the
// wrapped object's own payload type.
type indexedPayload struct {
	index int
	inner Handle
}

func (p *indexedPayload) Destruct() error { return Cleanup(p.inner) }

func wrapIndexed(i int, inner Handle) Handle {
	if _, err := inner.Ref(1); err != nil {
		panic(err)
	}
	p := &indexedPayload{index: i, inner: inner}
	h, err := Allocate(i, AllocOptions{Destructor: p})
	if err != nil {
		panic(err)
	}
	return h
}

// TestHashContainer_MultipleMatchToIterator is end-to-end scenario 5.
func TestHashContainer_MultipleMatchToIterator(t *testing.T) {
	c, err := AllocateHashContainer(ContainerOptions{
		Buckets: 4,
		Hash:    func(any) uint32 { return 0 },
	})
	require.NoError(t, err)

	var destroyed int32
	keys := []string{"pear", "apple", "plum", "banana", "pea"}
	for _, k := range keys {
		h := newCountingHandle(k, &destroyed)
		ok, err := c.Link(h, 0)
		require.NoError(t, err)
		require.True(t, ok)
		Cleanup(h)
	}

	matcher := func(candidate any, _ any) MatchFlag {
		if strings.HasPrefix(candidate.(string), "p") {
			return MatchHit
		}
		return 0
	}
	_, it, err := c.Callback(OrderAscending, FlagMultiple, matcher)
	require.NoError(t, err)
	require.NotNil(t, it)

	var got []string
	for {
		h, err := IteratorNext(it)
		require.NoError(t, err)
		if h.obj == nil {
			break
		}
		p, _ := h.Payload()
		got = append(got, p.(string))
		Cleanup(h)
	}
	require.NoError(t, IteratorDestroy(it))
	require.ElementsMatch(t, []string{"pear", "plum", "pea"}, got)

	require.NoError(t, c.Destroy())
}
