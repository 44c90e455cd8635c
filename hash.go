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
	"encoding/binary"

	"github.com/cespare/xxhash"
	"golang.org/x/exp/constraints"
)

// Helpers for building Hooks. They are plain xxhash wrappers; callers
// with their own hashing scheme can ignore them, the table only cares
// about the Hooks contracts.

// HashString hashes a string key.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashBytes hashes a byte-slice key.
func HashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashUint hashes an integer key.
func HashUint[T constraints.Integer](v T) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return xxhash.Sum64(buf[:])
}

// MixHash folds b into a. Useful for deriving a full-identity hash from
// a key hash and a per-element discriminator.
func MixHash(a, b uint64) uint64 {
	a ^= b + 0x9e3779b97f4a7c15 + (a << 12) + (a >> 4)
	return a
}
