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

// Package objcore implements a reference-counted object and container
// runtime: an allocator/destructor pipeline for heterogeneous payloads with
// an optional embedded lock, and a polymorphic container abstraction with a
// concrete hash-bucket implementation (which also serves as a degenerate
// single-bucket ordered list).
//
// The hard part of this package is not reference counting by itself, but
// its interaction with concurrent traversal of the hash container: node
// destruction during traversal may need to upgrade the container's lock
// from read to write, comparators and destructors must tolerate the lock
// being dropped and re-acquired underneath them, and unlinking while
// iterating must leave exactly the nodes an iterator still references
// alive as tombstones.
package objcore
