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

import "testing"

// TestGlobalHolder_Swap is end-to-end scenario 6: allocate X (ref=1),
// Replace(holder, X) gives the holder its own ref (X ref=2), Replace with
// the zero Handle returns X without decrementing it, and the caller's
// own Ref- finally runs X's destructor.
func TestGlobalHolder_Swap(t *testing.T) {
	d := &mockDestructor{}
	x, err := Allocate(d, AllocOptions{Destructor: d})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	var holder GlobalHolder
	old, err := holder.Replace(x)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if old.obj != nil {
		t.Fatalf("expected no prior value, got %v", old)
	}
	if prior, _ := x.Ref(0); prior != 2 {
		t.Fatalf("expected X's refcount to be 2 after Replace, got %d", prior)
	}

	returned, err := holder.Replace(Handle{})
	if err != nil {
		t.Fatalf("Replace(nil): %v", err)
	}
	if returned.obj != x.obj {
		t.Fatal("expected Replace to return the outgoing value")
	}
	if prior, _ := x.Ref(0); prior != 2 {
		t.Fatalf("Replace must not decrement the returned value, got refcount read %d", prior)
	}

	if _, err := returned.Ref(-1); err != nil {
		t.Fatalf("caller's drain Ref-: %v", err)
	}
	if d.IsDestroyed() {
		t.Fatal("destructor fired too early; one reference should remain")
	}
	if _, err := x.Ref(-1); err != nil {
		t.Fatalf("final Ref-: %v", err)
	}
	if !d.IsDestroyed() {
		t.Fatal("expected destructor to run once the last reference was dropped")
	}
}

func TestGlobalHolder_GetAddsReference(t *testing.T) {
	x, err := Allocate("payload", AllocOptions{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	var holder GlobalHolder
	if _, err := holder.Replace(x); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	x.Ref(-1) // drop allocation-time ref; holder now owns the only one

	got, err := holder.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if prior, _ := x.Ref(0); prior != 2 {
		t.Fatalf("expected Get to add a reference, refcount read %d", prior)
	}
	Cleanup(got)
}

func TestGlobalHolder_ReplaceAndUnref(t *testing.T) {
	var holder GlobalHolder
	existed, err := holder.ReplaceAndUnref(Handle{})
	if err != nil {
		t.Fatalf("ReplaceAndUnref: %v", err)
	}
	if existed {
		t.Fatal("expected no prior value on an empty holder")
	}

	d := &mockDestructor{}
	x, err := Allocate(d, AllocOptions{Destructor: d})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := holder.Replace(x); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	x.Ref(-1)

	existed, err = holder.ReplaceAndUnref(Handle{})
	if err != nil {
		t.Fatalf("ReplaceAndUnref: %v", err)
	}
	if !existed {
		t.Fatal("expected a prior value")
	}
	if !d.IsDestroyed() {
		t.Fatal("expected ReplaceAndUnref to drop the outgoing reference")
	}
}

func TestGlobalHolder_Release(t *testing.T) {
	d := &mockDestructor{}
	x, err := Allocate(d, AllocOptions{Destructor: d})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	var holder GlobalHolder
	if _, err := holder.Replace(x); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	x.Ref(-1)

	if err := holder.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !d.IsDestroyed() {
		t.Fatal("expected Release to drop the holder's reference")
	}
	if err := holder.Release(); err != nil {
		t.Fatalf("Release on empty holder should be a no-op: %v", err)
	}
}
