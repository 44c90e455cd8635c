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

// Package assoc implements an associative table that tolerates repeated
// keys, the backbone data structure of secondary (non-unique) indexes.
//
// The table stores borrowed element handles. Each element has a key (for
// example a certain document attribute) and multiple elements in the
// table may share a key, while every element itself can be in the table
// at most once. The table offers constant time complexity for inserting
// an element, looking an element up by its full identity, and removing
// an element, and O(n) complexity for retrieving all n elements that
// share a given key.
//
// # Design
//
// The table is partitioned into a power-of-two number of buckets; the
// low bits of an element's key hash select its bucket, so a key's bucket
// never changes and buckets grow independently. Each bucket is an
// open-addressed array of slots probed linearly with wrap-around.
//
// Every slot carries, besides the element handle and a cached hash, two
// indices "prev" and "next" into the same slot array. All elements with
// the same key are kept on a doubly-linked list threaded through those
// indices. The first element of such a list (the head) sits at the
// position determined by the hash of its key, or in the first free slot
// after that position; its slot caches the key hash. Every further
// element of the list sits at the position determined by the hash of its
// full identity (again, or in the first free slot after it) and caches
// that full-identity hash. Provided the hash functions distribute well,
// this placement rule gives the advertised complexity: a lookup by key
// probes for a head only, a lookup by identity probes for the element
// under its own hash, and a key scan just walks the list.
//
// The cached hash doubles as a probe accelerator: a probe loop compares
// the cached hash against the target hash before invoking the (possibly
// expensive) user equality callback.
//
// Deletion heals the hole it leaves instead of using tombstones: the
// slots after the hole are walked forward and moved back into it
// whenever the hole would break the probe chain from their home
// position, so probe reachability is preserved without re-inserting.
//
// To hash and compare, the table is parameterized with five callbacks
// aggregated in a Hooks value: a key hasher, an element hasher operating
// either on the key or the full identity, a key/element equality
// predicate, and two element/element equality predicates (full identity
// and by key only). Full equality must imply by-key equality. If the
// caller guarantees to never insert an element twice, the equality
// checking during insertion can be switched off, which skips all
// equality callbacks on that path.
//
// A Multi is NOT goroutine-safe; it is built for external locking by its
// owner.
package assoc

import (
	"fmt"
	"log/slog"
	"unsafe"
)

// Hooks aggregates the callbacks a Multi is parameterized by. All five
// must be set.
//
// The contracts: HashKey must be deterministic and agree with
// HashElement(e, true) whenever e carries the given key. HashElement
// with byKey=false must depend on the element's full identity.
// ElementsEqual is the uniqueness predicate; ElementsEqual(a, b) implies
// ElementsEqualByKey(a, b).
type Hooks[K any, E any] struct {
	// HashKey hashes a key.
	HashKey func(key *K) uint64
	// HashElement hashes an element, either by its key (byKey=true) or by
	// its full identity.
	HashElement func(elem *E, byKey bool) uint64
	// KeyEqualsElement reports whether key equals the element's key.
	KeyEqualsElement func(key *K, elem *E) bool
	// ElementsEqual reports whether two elements are fully identical.
	ElementsEqual func(a, b *E) bool
	// ElementsEqualByKey reports whether two elements share a key.
	ElementsEqualByKey func(a, b *E) bool
}

func (h *Hooks[K, E]) validate() error {
	if h.HashKey == nil || h.HashElement == nil || h.KeyEqualsElement == nil ||
		h.ElementsEqual == nil || h.ElementsEqualByKey == nil {
		return errNilHook
	}
	return nil
}

// Multi is an associative table mapping keys to one or more borrowed
// element handles. The zero value is not usable; construct with New.
type Multi[K any, E any] struct {
	hooks     Hooks[K, E]
	allocator Allocator[E]
	telemetry Telemetry
	logger    *slog.Logger
	// context produces a label identifying this table in diagnostic log
	// records, e.g. the index and collection name it serves.
	context func() string

	buckets    []bucket[E]
	bucketMask uint64

	// construction knobs, set by options before the buckets exist
	nbuckets        int
	initialCapacity uint32
}

// New constructs a Multi from the given hooks. By default the table has
// a single bucket with an initial capacity of 64 slots; see the options
// for bucket count, initial capacity, allocator, telemetry, and logging.
// On allocation failure every partially allocated bucket is released and
// an error is returned.
func New[K any, E any](hooks Hooks[K, E], opts ...option[K, E]) (*Multi[K, E], error) {
	if err := hooks.validate(); err != nil {
		return nil, err
	}
	m := &Multi[K, E]{
		hooks:           hooks,
		allocator:       defaultAllocator[E]{},
		telemetry:       nopTelemetry{},
		logger:          slog.Default(),
		context:         func() string { return "" },
		nbuckets:        1,
		initialCapacity: 64,
	}
	for _, op := range opts {
		op.apply(m)
	}

	n := nextPowerOfTwo(m.nbuckets)
	if m.initialCapacity < minBucketCapacity {
		m.initialCapacity = minBucketCapacity
	}
	m.buckets = make([]bucket[E], n)
	m.bucketMask = uint64(n) - 1

	for bi := range m.buckets {
		slots, err := m.allocator.AllocSlots(int(m.initialCapacity))
		if err != nil {
			for bj := 0; bj < bi; bj++ {
				m.allocator.FreeSlots(m.buckets[bj].slots)
				m.buckets[bj].slots = nil
				m.buckets[bj].capacity = 0
			}
			return nil, fmt.Errorf("%w: bucket %d: %v", errAlloc, bi, err)
		}
		b := &m.buckets[bi]
		b.slots = slots
		b.capacity = m.initialCapacity
		for i := uint32(0); i < b.capacity; i++ {
			b.invalidate(i)
		}
	}
	return m, nil
}

// Close releases the slot arrays back to the configured allocator. It is
// unnecessary to close a table using the default allocator. The table
// must not be used afterwards; Close itself is idempotent.
func (m *Multi[K, E]) Close() {
	for bi := range m.buckets {
		b := &m.buckets[bi]
		if b.capacity > 0 {
			m.allocator.FreeSlots(b.slots)
			b.slots = nil
			b.capacity = 0
			b.used = 0
			b.collisions = 0
		}
	}
}

// Insert adds an element to the table.
//
// If checkEquality is set and an element that is fully equal is already
// present, the previous element is returned: with overwrite the handle
// in the table is replaced first, without overwrite the table is left
// unchanged. In all other cases Insert returns nil. With checkEquality
// unset the caller guarantees the element is not yet present, which
// skips all equality callbacks during placement (the bulk-load path).
//
// Insert panics if a growth step is needed and the configured allocator
// fails; the default allocator does not fail.
func (m *Multi[K, E]) Insert(elem *E, overwrite, checkEquality bool) *E {
	hashByKey := m.hooks.HashElement(elem, true)
	b := &m.buckets[hashByKey&m.bucketMask]

	// More than 2/3 full: grow before even probing for a spot.
	if 2*uint64(b.capacity) < 3*uint64(b.used) {
		if err := m.resizeBucket(b, 2*uint64(b.capacity)+1); err != nil {
			panic(fmt.Sprintf("assoc: growing bucket: %v", err))
		}
	}

	m.telemetry.Event(OpInsert)

	// Find the first slot holding a head with an equal key, or a free
	// slot. The cached hash filters out almost every foreign slot before
	// the equality callback runs.
	i := b.home(hashByKey)
	for b.slots[i].elem != nil &&
		(b.slots[i].prev != invalidIndex ||
			b.slots[i].hashCache != hashByKey ||
			!m.hooks.ElementsEqualByKey(elem, b.slots[i].elem)) {
		i = b.incr(i)
	}

	if b.slots[i].elem == nil {
		// First element with this key: it becomes a group head.
		b.slots[i] = Slot[E]{hashCache: hashByKey, elem: elem, next: invalidIndex, prev: invalidIndex}
		b.used++
		m.checkInvariants(b)
		return nil
	}

	// Slot i heads the linked list the element belongs into. Perhaps an
	// equal element is right here:
	if checkEquality && m.hooks.ElementsEqual(elem, b.slots[i].elem) {
		old := b.slots[i].elem
		if overwrite {
			b.slots[i].elem = elem
		}
		m.checkInvariants(b)
		return old
	}

	// Find a home for the element under its full-identity hash.
	j, hashByElm := m.findElementPlace(b, elem, checkEquality)

	if old := b.slots[j].elem; old != nil {
		// Duplicate among the members.
		if overwrite {
			b.slots[j].hashCache = hashByElm
			b.slots[j].elem = elem
		}
		m.checkInvariants(b)
		return old
	}

	// Splice the element in right after the head.
	b.slots[j] = Slot[E]{hashCache: hashByElm, elem: elem, next: b.slots[i].next, prev: i}
	b.slots[i].next = j
	if n := b.slots[j].next; n != invalidIndex {
		b.slots[n].prev = j
	}
	b.used++
	b.collisions++
	m.checkInvariants(b)
	return nil
}

// Lookup returns the stored handle of the element that is fully equal to
// elem, or nil if no such element is in the table.
func (m *Multi[K, E]) Lookup(elem *E) *E {
	m.telemetry.Event(OpLookup)
	b, i := m.lookupByElement(elem)
	return b.slots[i].elem
}

// LookupByKey returns all elements whose key equals key, head first and
// otherwise in stored list order. At most limit elements are returned;
// limit 0 means no limit. The result is empty if the key is absent.
func (m *Multi[K, E]) LookupByKey(key *K, limit int) []*E {
	m.telemetry.Event(OpLookup)

	hashByKey := m.hooks.HashKey(key)
	b := &m.buckets[hashByKey&m.bucketMask]

	i := b.home(hashByKey)
	for b.slots[i].elem != nil &&
		(b.slots[i].prev != invalidIndex ||
			b.slots[i].hashCache != hashByKey ||
			!m.hooks.KeyEqualsElement(key, b.slots[i].elem)) {
		i = b.incr(i)
	}

	var result []*E
	if b.slots[i].elem != nil {
		// Found the head; collect the list.
		for {
			result = append(result, b.slots[i].elem)
			i = b.slots[i].next
			if i == invalidIndex || (limit != 0 && len(result) >= limit) {
				break
			}
		}
	}
	return result
}

// LookupByKeyOf returns all elements sharing elem's key, like LookupByKey
// but keyed by an element instead of a key value.
func (m *Multi[K, E]) LookupByKeyOf(elem *E, limit int) []*E {
	m.telemetry.Event(OpLookup)

	hashByKey := m.hooks.HashElement(elem, true)
	b := &m.buckets[hashByKey&m.bucketMask]

	i := b.home(hashByKey)
	for b.slots[i].elem != nil &&
		(b.slots[i].prev != invalidIndex ||
			b.slots[i].hashCache != hashByKey ||
			!m.hooks.ElementsEqualByKey(elem, b.slots[i].elem)) {
		i = b.incr(i)
	}

	var result []*E
	if b.slots[i].elem != nil {
		for {
			result = append(result, b.slots[i].elem)
			i = b.slots[i].next
			if i == invalidIndex || (limit != 0 && len(result) >= limit) {
				break
			}
		}
	}
	return result
}

// LookupContinue resumes a key scan after elem, which must be the last
// element returned by a previous LookupByKey, LookupByKeyOf, or
// LookupContinue call. It returns the following elements of elem's
// group, at most limit (0 means no limit). This supports paged
// enumeration without the caller tracking positions.
func (m *Multi[K, E]) LookupContinue(elem *E, limit int) []*E {
	m.telemetry.Event(OpLookup)

	hashByKey := m.hooks.HashElement(elem, true)
	b := &m.buckets[hashByKey&m.bucketMask]

	i, _ := m.findElementPlace(b, elem, true)
	if b.slots[i].elem == nil {
		// The full-identity probe found nothing, so elem must have been
		// the head of its list, placed by key hash instead. Re-locate it
		// there.
		i = b.home(hashByKey)
		for b.slots[i].elem != nil &&
			(b.slots[i].prev != invalidIndex ||
				b.slots[i].hashCache != hashByKey ||
				!m.hooks.ElementsEqualByKey(elem, b.slots[i].elem)) {
			i = b.incr(i)
		}
		if b.slots[i].elem == nil {
			// Cannot really happen for an element from a previous scan,
			// but handle it gracefully anyway.
			return nil
		}
	}

	var result []*E
	for {
		i = b.slots[i].next
		if i == invalidIndex || (limit != 0 && len(result) >= limit) {
			break
		}
		result = append(result, b.slots[i].elem)
	}
	return result
}

// Remove removes the element fully equal to elem from the table and
// returns its stored handle, or nil if it was not present. The hole left
// behind is healed so probe chains stay intact.
func (m *Multi[K, E]) Remove(elem *E) *E {
	m.telemetry.Event(OpRemove)

	b, i := m.lookupByElement(elem)
	if b.slots[i].elem == nil {
		return nil
	}

	old := b.slots[i].elem
	if b.slots[i].prev == invalidIndex {
		// Removing a head.
		j := b.slots[i].next
		if j == invalidIndex {
			// The only element of its group; the group dissolves.
			b.invalidate(i)
			m.heal(b, i)
		} else {
			// Promote the successor: it moves into the head's slot so the
			// head position stays reachable by key probing, and its
			// cached hash switches from full-identity to key hash.
			b.slots[j].prev = invalidIndex
			b.move(j, i)
			b.slots[i].hashCache = m.hooks.HashElement(b.slots[i].elem, true)
			m.heal(b, j)
			b.collisions--
		}
	} else {
		// Removing a member: splice it out of the list.
		p := b.slots[i].prev
		b.slots[p].next = b.slots[i].next
		if n := b.slots[i].next; n != invalidIndex {
			b.slots[n].prev = p
		}
		b.invalidate(i)
		m.heal(b, i)
		b.collisions--
	}
	b.used--
	m.checkInvariants(b)
	return old
}

// Iterate calls yield for every element in the table, in unspecified
// order, until yield returns false.
func (m *Multi[K, E]) Iterate(yield func(elem *E) bool) {
	for bi := range m.buckets {
		b := &m.buckets[bi]
		for i := uint32(0); i < b.capacity; i++ {
			if b.slots[i].elem != nil {
				if !yield(b.slots[i].elem) {
					return
				}
			}
		}
	}
}

// Len returns the number of elements in the table.
func (m *Multi[K, E]) Len() int {
	var n int
	for bi := range m.buckets {
		n += int(m.buckets[bi].used)
	}
	return n
}

// Cap returns the total number of allocated slots across all buckets.
func (m *Multi[K, E]) Cap() int {
	var n int
	for bi := range m.buckets {
		n += int(m.buckets[bi].capacity)
	}
	return n
}

// MemoryUsage returns the memory consumed by the slot arrays, in bytes.
func (m *Multi[K, E]) MemoryUsage() uint64 {
	var n uint64
	for bi := range m.buckets {
		n += uint64(m.buckets[bi].capacity) * uint64(unsafe.Sizeof(Slot[E]{}))
	}
	return n
}

// Selectivity returns a number s with 0.0 < s <= 1.0 estimating key
// uniqueness: the fraction of stored elements that are group heads.
// s == 1.0 means every element is identified uniquely by its key. An
// empty table has selectivity 1.0.
func (m *Multi[K, E]) Selectivity() float64 {
	var used, collisions uint64
	for bi := range m.buckets {
		used += uint64(m.buckets[bi].used)
		collisions += uint64(m.buckets[bi].collisions)
	}
	if used == 0 {
		return 1.0
	}
	return float64(used-collisions) / float64(used)
}

// findElementPlace probes for elem under its full-identity hash. It
// returns that hash and the index of either a free slot or, when
// checkEquality is set, possibly a slot holding a fully equal element.
// With checkEquality unset the caller guarantees no equal element is
// present and the probe walks straight to the first free slot.
func (m *Multi[K, E]) findElementPlace(b *bucket[E], elem *E, checkEquality bool) (uint32, uint64) {
	hashByElm := m.hooks.HashElement(elem, false)
	i := b.home(hashByElm)
	for b.slots[i].elem != nil &&
		(!checkEquality ||
			b.slots[i].hashCache != hashByElm ||
			!m.hooks.ElementsEqual(elem, b.slots[i].elem)) {
		i = b.incr(i)
	}
	return i, hashByElm
}

// lookupByElement performs a complete lookup by full identity. The
// returned slot is either free or holds an element fully equal to elem.
func (m *Multi[K, E]) lookupByElement(elem *E) (*bucket[E], uint32) {
	hashByKey := m.hooks.HashElement(elem, true)
	b := &m.buckets[hashByKey&m.bucketMask]

	// Find the head of elem's group, or a free slot.
	i := b.home(hashByKey)
	for b.slots[i].elem != nil &&
		(b.slots[i].prev != invalidIndex ||
			b.slots[i].hashCache != hashByKey ||
			!m.hooks.ElementsEqualByKey(elem, b.slots[i].elem)) {
		i = b.incr(i)
	}

	if b.slots[i].elem != nil {
		// It might be the head itself.
		if m.hooks.ElementsEqual(elem, b.slots[i].elem) {
			return b, i
		}
		// Otherwise it can only sit at its full-identity position.
		j, _ := m.findElementPlace(b, elem, true)
		return b, j
	}

	// No element with the same key at all.
	return b, i
}
