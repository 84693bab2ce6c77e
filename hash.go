// Copyright 2024 The Cockroach Authors
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

package hashset

const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211
)

// mix folds the eight bytes of v into h, least significant byte first, using
// the FNV-1a xor-then-multiply step.
func mix(h, v uint64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= fnvPrime64
		v >>= 8
	}
	return h
}

// makeBasis derives the per-table probing basis from a caller supplied seed.
func makeBasis(seed uint64) uint64 {
	return mix(fnvOffset64, seed)
}

// probeHash returns the full width hash of key for the given probe attempt.
// Every attempt re-hashes the key rather than stepping from the previous
// index, so consecutive attempts produce unrelated slot indexes and the probe
// sequence does not cluster.
func probeHash(basis, attempt, key uint64) uint64 {
	h := mix(fnvOffset64, basis)
	h = mix(h, attempt)
	return mix(h, key)
}
