// Copyright 2024 The Cantor Authors
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

package assoc

// invalidIndex marks the end of an intra-bucket linked list and is used
// for the prev index of a group head.
const invalidIndex = ^uint32(0)

// Slot is one entry of a bucket's open-addressed array. It stores a
// borrowed element handle, a cached hash, and the prev/next indices
// threading the doubly-linked list of all elements that share a key. The
// cached hash is the key hash for the first element of such a list (the
// head) and the full-identity hash for every other member. A slot is
// free iff its element handle is nil.
type Slot[E any] struct {
	hashCache uint64
	elem      *E
	next      uint32
	prev      uint32
}

// Element returns the borrowed element handle stored in the slot, or nil
// for a free slot. Exposed for Allocator implementations that recycle
// slot arrays.
func (s *Slot[E]) Element() *E { return s.elem }

// bucket is one independently sized open-addressed shard of the table.
// Buckets never rebalance: a key's bucket is fixed by the low bits of
// its key hash for the lifetime of the table.
type bucket[E any] struct {
	slots []Slot[E]
	// capacity == len(slots). Kept separately so the probe loops touch a
	// scalar instead of the slice header.
	capacity uint32
	// used counts the non-free slots.
	used uint32
	// collisions counts the slots that are not group heads, i.e. elements
	// whose key was already present when they were inserted.
	collisions uint32
}

// incr advances a probe index by one with wrap-around at capacity.
func (b *bucket[E]) incr(i uint32) uint32 {
	i++
	if i >= b.capacity {
		i -= b.capacity
	}
	return i
}

// home returns the ideal position of a hash value in this bucket.
func (b *bucket[E]) home(h uint64) uint32 {
	return uint32(h % uint64(b.capacity))
}

// invalidate frees slot i. List pointers are reset so a recycled slot
// array never leaks stale indices.
func (b *bucket[E]) invalidate(i uint32) {
	b.slots[i] = Slot[E]{next: invalidIndex, prev: invalidIndex}
}

// move transfers the slot at from into to, overwriting whatever to
// holds, repairs the linked-list neighbors on both sides, and frees
// from. It does not heal the hole this opens at from.
func (b *bucket[E]) move(from, to uint32) {
	b.slots[to] = b.slots[from]
	if p := b.slots[to].prev; p != invalidIndex {
		b.slots[p].next = to
	}
	if n := b.slots[to].next; n != invalidIndex {
		b.slots[n].prev = to
	}
	b.invalidate(from)
}

// isBetween reports whether x lies behind from and at or before to in
// the cyclic order of probe positions. If from == to it is always true;
// otherwise x == from gives false.
func isBetween(from, x, to uint32) bool {
	if from < to {
		return from < x && x <= to
	}
	return x > from || x <= to
}

// heal repairs probe-chain reachability after slot i has been freed. It
// walks forward from the hole; every occupied slot j whose home position
// would now probe across the hole is moved into it, turning j into the
// new hole. The walk stops at the first free slot. Heads are judged by
// their key hash, members by their full-identity hash.
func (m *Multi[K, E]) heal(b *bucket[E], i uint32) {
	j := b.incr(i)
	for b.slots[j].elem != nil {
		h := m.hooks.HashElement(b.slots[j].elem, b.slots[j].prev == invalidIndex)
		k := b.home(h)
		if !isBetween(i, k, j) {
			// A probe starting at k would hit the hole at i before
			// reaching j. Close the gap and continue at the new hole.
			b.move(j, i)
			i = j
		}
		j = b.incr(j)
	}
}
