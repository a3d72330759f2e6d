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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestContainer_CloneHasEqualCountAndSamePointers covers the Clone
// property from spec.md §8: Clone(c) has equal Count to c and, for each
// element of c, the clone contains the same object pointer (not a copy).
func TestContainer_CloneHasEqualCountAndSamePointers(t *testing.T) {
	c, err := AllocateHashContainer(ContainerOptions{
		Buckets: 3,
		Hash:    firstByteHash,
		Sort:    stringCompare,
	})
	require.NoError(t, err)

	var destroyed int32
	originals := map[any]struct{}{}
	for _, k := range []string{"x", "y", "zz"} {
		h := newCountingHandle(k, &destroyed)
		ok, err := c.Link(h, 0)
		require.NoError(t, err)
		require.True(t, ok)
		originals[h.obj] = struct{}{}
		require.NoError(t, Cleanup(h))
	}

	clone, err := c.Clone()
	require.NoError(t, err)
	require.Equal(t, c.Count(), clone.Count())

	_, it, err := clone.(*hashContainer).CallbackWithData(OrderAscending, FlagMultiple, matchAll, nil)
	require.NoError(t, err)
	require.NotNil(t, it)
	seen := 0
	for {
		h, err := IteratorNext(it)
		require.NoError(t, err)
		if h.obj == nil {
			break
		}
		_, ok := originals[h.obj]
		require.True(t, ok, "clone element should share the original object pointer")
		seen++
		require.NoError(t, Cleanup(h))
	}
	require.NoError(t, IteratorDestroy(it))
	require.Equal(t, 3, seen)

	require.NoError(t, clone.Destroy())
	require.NoError(t, c.Destroy())
}

func TestContainer_Stats(t *testing.T) {
	c, err := AllocateListContainer(ContainerOptions{})
	require.NoError(t, err)
	var destroyed int32
	h := newCountingHandle("only", &destroyed)
	_, err = c.Link(h, 0)
	require.NoError(t, err)
	require.NoError(t, Cleanup(h))

	var buf bytes.Buffer
	c.Stats(&buf)
	require.Contains(t, buf.String(), "1 elements")

	require.NoError(t, c.Destroy())
}

func TestContainer_CheckDevMode(t *testing.T) {
	prev := DevMode
	DevMode = true
	defer func() { DevMode = prev }()

	c, err := AllocateHashContainer(ContainerOptions{Buckets: 2, Hash: firstByteHash})
	require.NoError(t, err)
	var destroyed int32
	for _, k := range []string{"a", "b", "c"} {
		h := newCountingHandle(k, &destroyed)
		_, err := c.Link(h, 0)
		require.NoError(t, err)
		require.NoError(t, Cleanup(h))
	}
	require.NoError(t, c.Check())
	require.NoError(t, c.Destroy())
}

func TestAllocateHashContainer_RejectsUnknownDupPolicy(t *testing.T) {
	_, err := AllocateHashContainer(ContainerOptions{Duplicate: DupPolicy(99)})
	require.Error(t, err)
}

func TestTreeContainerPlaceholder_ReportsNotImplemented(t *testing.T) {
	tc, err := AllocateTreeContainer(ContainerOptions{})
	require.NoError(t, err)
	_, err = tc.Link(Handle{}, 0)
	require.Error(t, err)
}
