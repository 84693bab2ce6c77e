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

import (
	"math"
	"math/bits"
)

// maxSize is the largest value representable by the size type. All of the
// helpers below saturate at maxSize rather than wrapping around.
const maxSize = ^uintptr(0)

// maxPow2 is the largest power of two representable by the size type.
const maxPow2 = uintptr(1) << (bits.UintSize - 1)

func safeAdd(a, b uintptr) uintptr {
	if maxSize-a > b {
		return a + b
	}
	return maxSize
}

func safeMul(a, b uintptr) uintptr {
	hi, lo := bits.Mul(uint(a), uint(b))
	if hi != 0 {
		return maxSize
	}
	return uintptr(lo)
}

func safeIncr(v uintptr) uintptr {
	if v < maxSize {
		return v + 1
	}
	return v
}

func safeDecr(v uintptr) uintptr {
	if v > 0 {
		return v - 1
	}
	return v
}

// safeTimes2 doubles v, saturating at maxSize. Note that the saturated value
// is not a power of two; callers that need one must check against maxPow2
// first.
func safeTimes2(v uintptr) uintptr {
	if v <= maxSize/2 {
		return v << 1
	}
	return maxSize
}

func divCeil(v, d uintptr) uintptr {
	q := v / d
	if v%d != 0 {
		q++
	}
	return q
}

// roundSize rounds d to the nearest size. NaN and negative values round to
// zero, values beyond the range of the size type round to maxSize.
func roundSize(d float64) uintptr {
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	if d+0.5 >= float64(maxSize) {
		return maxSize
	}
	return uintptr(d + 0.5)
}

// nextPow2 returns the smallest power of two that is >= target and >=
// minCapacity. Targets beyond maxPow2 return maxPow2.
func nextPow2(target uintptr) uintptr {
	if target <= minCapacity {
		return minCapacity
	}
	if target > maxPow2 {
		return maxPow2
	}
	return uintptr(1) << bits.Len(uint(target-1))
}

func isPow2(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}
