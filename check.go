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

import "fmt"

// checkInvariants panics if the table violates its structural
// invariants. Compiled away unless the "invariants" build tag is set;
// mutating operations call it after every change.
func (m *Multi[K, E]) checkInvariants(b *bucket[E]) {
	if invariants {
		if err := m.check(); err != nil {
			panic(fmt.Sprintf("assoc: invariant violated: %v", err))
		}
	}
}

// check verifies, for every bucket: linked-list integrity, the used and
// collision counters, bucket routing, cached hashes (key hash on heads,
// full-identity hash on members), and probe reachability of every slot
// from its home position. It returns the first violation found.
func (m *Multi[K, E]) check() error {
	for bi := range m.buckets {
		b := &m.buckets[bi]
		var used, collisions uint32
		for i := uint32(0); i < b.capacity; i++ {
			s := &b.slots[i]
			if s.elem == nil {
				continue
			}
			used++
			if s.prev != invalidIndex {
				collisions++
				if b.slots[s.prev].next != i {
					return fmt.Errorf("bucket %d slot %d: prev neighbor does not link back", bi, i)
				}
			}
			if s.next != invalidIndex && b.slots[s.next].prev != i {
				return fmt.Errorf("bucket %d slot %d: next neighbor does not link back", bi, i)
			}

			var steps uint32
			for j := s.next; j != invalidIndex; j = b.slots[j].next {
				if j == i || steps > b.used {
					return fmt.Errorf("bucket %d slot %d: cycle in linked list", bi, i)
				}
				steps++
			}

			if s.prev == invalidIndex {
				hashByKey := m.hooks.HashElement(s.elem, true)
				if s.hashCache != hashByKey {
					return fmt.Errorf("bucket %d slot %d: head caches %#x, key hash is %#x",
						bi, i, s.hashCache, hashByKey)
				}
				if int(hashByKey&m.bucketMask) != bi {
					return fmt.Errorf("bucket %d slot %d: head routed to wrong bucket", bi, i)
				}
				for k := b.home(hashByKey); k != i; k = b.incr(k) {
					if b.slots[k].elem == nil {
						return fmt.Errorf("bucket %d slot %d: head not reachable from home %d",
							bi, i, b.home(hashByKey))
					}
					if b.slots[k].prev == invalidIndex &&
						m.hooks.ElementsEqualByKey(s.elem, b.slots[k].elem) {
						return fmt.Errorf("bucket %d slots %d/%d: two heads for one key", bi, k, i)
					}
				}
			} else {
				hashByElm := m.hooks.HashElement(s.elem, false)
				if s.hashCache != hashByElm {
					return fmt.Errorf("bucket %d slot %d: member caches %#x, identity hash is %#x",
						bi, i, s.hashCache, hashByElm)
				}
				for k := b.home(hashByElm); k != i; k = b.incr(k) {
					if b.slots[k].elem == nil {
						return fmt.Errorf("bucket %d slot %d: member not reachable from home %d",
							bi, i, b.home(hashByElm))
					}
					if m.hooks.ElementsEqual(s.elem, b.slots[k].elem) {
						return fmt.Errorf("bucket %d slots %d/%d: element stored twice", bi, k, i)
					}
				}
			}
		}
		if used != b.used {
			return fmt.Errorf("bucket %d: found %d used slots, counter says %d", bi, used, b.used)
		}
		if collisions != b.collisions {
			return fmt.Errorf("bucket %d: found %d collisions, counter says %d", bi, collisions, b.collisions)
		}
	}
	return nil
}
