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

import "strings"

const wordBits = 64

// bitset is a fixed-size array of bits backed by 64-bit words. It is used for
// the per-slot used and deleted flags so that the probe loop never does its
// own shifting and masking.
type bitset struct {
	words []uint64
}

// bitsetWords returns the number of words needed to hold n bits.
func bitsetWords(n uintptr) uintptr {
	return divCeil(n, wordBits)
}

func makeBitset(words []uint64) bitset {
	return bitset{words: words}
}

func (b bitset) get(i uintptr) bool {
	return b.words[i/wordBits]&(1<<(i%wordBits)) != 0
}

func (b bitset) set(i uintptr) {
	b.words[i/wordBits] |= 1 << (i % wordBits)
}

func (b bitset) clear(i uintptr) {
	b.words[i/wordBits] &^= 1 << (i % wordBits)
}

// reset clears every bit.
func (b bitset) reset() {
	clear(b.words)
}

// String returns the bits in index order, e.g. "0110" for a set containing
// bits 1 and 2 of a 4 bit set (trailing bits of the last word included).
func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(len(b.words) * wordBits)
	for i := uintptr(0); i < uintptr(len(b.words))*wordBits; i++ {
		if b.get(i) {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	}
	return buf.String()
}
