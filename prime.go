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

import "math/bits"

// minBucketCapacity is the smallest slot array a bucket may have. Below
// four slots the 2/3 load-factor rule can no longer guarantee a free
// slot after every insert, which the probe loops rely on to terminate.
const minBucketCapacity = 4

// nearPrime returns the smallest prime >= n, with a floor of 5 so that
// resized buckets always satisfy minBucketCapacity.
func nearPrime(n uint64) uint64 {
	if n <= 5 {
		return 5
	}
	p := n
	if p%2 == 0 {
		p++
	}
	for !isPrime(p) {
		p += 2
	}
	return p
}

func isPrime(n uint64) bool {
	if n%2 == 0 {
		return n == 2
	}
	if n%3 == 0 {
		return n == 3
	}
	for f := uint64(5); f*f <= n; f += 6 {
		if n%f == 0 || n%(f+2) == 0 {
			return false
		}
	}
	return true
}

// nextPowerOfTwo rounds n up to a power of two, with a floor of one.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
