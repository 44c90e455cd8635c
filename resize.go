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

import (
	"fmt"
	"math"
	"time"
)

// Resize grows (or shrinks) the table toward the given total size hint,
// spread evenly across the buckets and rounded up to a prime per bucket.
// It returns ErrTooSmall if the hint cannot accommodate a bucket's
// existing elements under the load-factor rule, and an error wrapping the
// allocator's if allocation fails. Buckets are processed in order: on
// either error the failing bucket and those after it keep their previous
// arrays, while buckets before it keep their new size. Every bucket stays
// consistent and usable.
func (m *Multi[K, E]) Resize(size uint64) error {
	size /= uint64(len(m.buckets))
	for bi := range m.buckets {
		b := &m.buckets[bi]
		if 2*(2*size+1) < 3*uint64(b.used) {
			return ErrTooSmall
		}
		if err := m.resizeBucket(b, 2*size+1); err != nil {
			return err
		}
	}
	return nil
}

// resizeBucket replaces the bucket's slot array with one of at least the
// given size, rounded up to a prime, and re-inserts every element. The
// old array is released only once the new one is fully populated; on
// allocation failure the bucket keeps its previous array untouched.
func (m *Multi[K, E]) resizeBucket(b *bucket[E], size uint64) error {
	target := nearPrime(size)
	if target > math.MaxUint32 {
		return fmt.Errorf("%w: bucket size %d out of range", errAlloc, target)
	}

	label := m.context()
	m.logger.Debug("index resize", "context", label, "target", target)
	start := time.Now()

	newSlots, err := m.allocator.AllocSlots(int(target))
	if err != nil {
		return fmt.Errorf("%w: %v", errAlloc, err)
	}

	oldSlots := b.slots
	oldCap := b.capacity

	b.slots = newSlots
	b.capacity = uint32(target)
	for i := uint32(0); i < b.capacity; i++ {
		b.invalidate(i)
	}
	b.used = 0
	b.collisions = 0
	m.telemetry.Event(OpResize)

	// Re-insert group by group. The head goes first under its key hash;
	// the members are then walked to the tail and re-inserted backwards,
	// so that splicing each one in right after the head re-creates the
	// original list order. Both placement rules skip equality checks:
	// uniqueness is preserved by construction.
	for j := uint32(0); j < oldCap; j++ {
		if oldSlots[j].elem == nil || oldSlots[j].prev != invalidIndex {
			continue
		}
		hashByKey := oldSlots[j].hashCache
		m.insertFirst(b, oldSlots[j].elem, hashByKey)
		k := j
		for oldSlots[k].next != invalidIndex {
			k = oldSlots[k].next
		}
		for k != j {
			m.insertFurther(b, oldSlots[k].elem, hashByKey, oldSlots[k].hashCache)
			k = oldSlots[k].prev
		}
	}

	m.allocator.FreeSlots(oldSlots)

	m.logger.Debug("index resize done",
		"context", label, "target", target, "elapsed", time.Since(start))
	m.checkInvariants(b)
	return nil
}

// insertFirst installs an element known to be the first in the bucket
// with its key, with the key hash already computed. Used during resize.
func (m *Multi[K, E]) insertFirst(b *bucket[E], elem *E, hashByKey uint64) {
	i := b.home(hashByKey)
	for b.slots[i].elem != nil {
		i = b.incr(i)
	}
	b.slots[i] = Slot[E]{hashCache: hashByKey, elem: elem, next: invalidIndex, prev: invalidIndex}
	b.used++
}

// insertFurther installs an element known to join an existing group
// whose head is already in place, with both hashes precomputed. Used
// during resize.
func (m *Multi[K, E]) insertFurther(b *bucket[E], elem *E, hashByKey, hashByElm uint64) {
	// Find the head of the list.
	i := b.home(hashByKey)
	for b.slots[i].elem != nil &&
		(b.slots[i].prev != invalidIndex ||
			b.slots[i].hashCache != hashByKey ||
			!m.hooks.ElementsEqualByKey(elem, b.slots[i].elem)) {
		i = b.incr(i)
	}

	// Find a free slot under the full-identity hash.
	j := b.home(hashByElm)
	for b.slots[j].elem != nil {
		j = b.incr(j)
	}

	b.slots[j] = Slot[E]{hashCache: hashByElm, elem: elem, next: b.slots[i].next, prev: i}
	b.slots[i].next = j
	if n := b.slots[j].next; n != invalidIndex {
		b.slots[n].prev = j
	}
	b.used++
	b.collisions++
}
