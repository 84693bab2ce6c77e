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
	"fmt"
	"unsafe"
)

const (
	minCapacity       uintptr = 128
	defaultCapacity   uintptr = 8192
	defaultLoadFactor         = 0.8
	minLoadFactor             = 0.125
	maxLoadFactor             = 1.0
	loadFactorEpsilon         = 2.220446049250313e-16
)

// config holds the construction parameters of a table. Options are applied
// to it before the slot store is allocated.
type config struct {
	loadFactor  float64
	seed        uint64
	seeded      bool
	overwrite   bool
	maxCapacity uintptr
	allocator   any
}

// Option configures a Set or Map while it is being created.
type Option interface {
	apply(c *config)
}

type loadFactorOption float64

func (op loadFactorOption) apply(c *config) {
	c.loadFactor = float64(op)
}

// WithLoadFactor sets the target ratio of live entries plus tombstones to
// capacity. Non-positive values select the default of 0.8, other values are
// clamped to [0.125, 1.0].
func WithLoadFactor(f float64) Option {
	return loadFactorOption(f)
}

type seedOption uint64

func (op seedOption) apply(c *config) {
	c.seed = uint64(op)
	c.seeded = true
}

// WithSeed sets the seed mixed into every probe hash. Tables created without
// a seed get a random one.
func WithSeed(seed uint64) Option {
	return seedOption(seed)
}

type overwriteOption struct{}

func (overwriteOption) apply(c *config) {
	c.overwrite = true
}

// WithOverwrite makes Map.Insert overwrite the stored value when the key is
// already present. Insert still reports ErrExists in that case.
func WithOverwrite() Option {
	return overwriteOption{}
}

type maxCapacityOption uintptr

func (op maxCapacityOption) apply(c *config) {
	c.maxCapacity = nextPow2(uintptr(op))
}

// WithMaxCapacity bounds the number of slots the table may grow to. The value
// is rounded up to a power of two and is never below the minimum capacity of
// 128. Inserts that would need to grow past it return ErrTableTooLarge.
func WithMaxCapacity(n uintptr) Option {
	return maxCapacityOption(n)
}

// Allocator specifies an interface for allocating and releasing the memory
// used by the slot store of a table. The default allocator utilizes Go's
// builtin make() and allows the GC to reclaim memory.
//
// The Alloc methods return nil to signal that the allocation failed; the
// table then reports ErrOutOfMemory (for growth) or keeps its current slot
// store (for shrinking). If the allocator is manually managing memory then
// Close must be called in order to ensure the Free methods are called.
type Allocator[K Key, V any] interface {
	// AllocKeys should return a slice equivalent to make([]K, n).
	AllocKeys(n int) []K
	// AllocValues should return a slice equivalent to make([]V, n).
	AllocValues(n int) []V
	// AllocBits should return a zeroed slice equivalent to make([]uint64, n).
	AllocBits(n int) []uint64

	// FreeKeys can optionally release the memory associated with a slice
	// allocated by AllocKeys.
	FreeKeys(v []K)
	// FreeValues can optionally release the memory associated with a slice
	// allocated by AllocValues.
	FreeValues(v []V)
	// FreeBits can optionally release the memory associated with a slice
	// allocated by AllocBits.
	FreeBits(v []uint64)
}

type allocatorOption[K Key, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(c *config) {
	c.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a Map[K,V].
// For a Set[K] the value type is struct{}.
func WithAllocator[K Key, V any](allocator Allocator[K, V]) Option {
	return allocatorOption[K, V]{allocator}
}

type defaultAllocator[K Key, V any] struct{}

func (defaultAllocator[K, V]) AllocKeys(n int) []K {
	var k K
	return makeChecked[K](n, unsafe.Sizeof(k))
}

func (defaultAllocator[K, V]) AllocValues(n int) []V {
	var v V
	return makeChecked[V](n, unsafe.Sizeof(v))
}

func (defaultAllocator[K, V]) AllocBits(n int) []uint64 {
	return makeChecked[uint64](n, 8)
}

func (defaultAllocator[K, V]) FreeKeys([]K) {
}

func (defaultAllocator[K, V]) FreeValues([]V) {
}

func (defaultAllocator[K, V]) FreeBits([]uint64) {
}

// makeChecked is make([]T, n) that returns nil instead of panicking when the
// requested size cannot be represented.
func makeChecked[T any](n int, elemSize uintptr) (s []T) {
	if n < 0 || safeMul(uintptr(n), elemSize) == maxSize {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s = nil
		}
	}()
	return make([]T, n)
}

func makeConfig(options []Option) config {
	c := config{
		loadFactor:  defaultLoadFactor,
		maxCapacity: maxPow2,
	}
	for _, op := range options {
		op.apply(&c)
	}
	c.loadFactor = normalizeLoadFactor(c.loadFactor)
	return c
}

func normalizeLoadFactor(f float64) float64 {
	if !(f > loadFactorEpsilon) {
		return defaultLoadFactor
	}
	return min(max(f, minLoadFactor), maxLoadFactor)
}

// allocatorFor extracts the allocator configured for a table with key type K
// and value type V.
func allocatorFor[K Key, V any](c *config) (Allocator[K, V], error) {
	if c.allocator == nil {
		return defaultAllocator[K, V]{}, nil
	}
	a, ok := c.allocator.(Allocator[K, V])
	if !ok {
		return nil, fmt.Errorf("allocator %T does not allocate %T/%T slots: %w",
			c.allocator, *new(K), *new(V), ErrInvalidArgument)
	}
	return a, nil
}
