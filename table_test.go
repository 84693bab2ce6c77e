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
	"testing"

	"github.com/stretchr/testify/require"
)

// countingAllocator counts allocations and frees per kind of slice and can be
// told to fail allocations.
type countingAllocator[K Key, V any] struct {
	allocKeys, allocValues, allocBits int
	freeKeys, freeValues, freeBits    int
	// failAbove fails every allocation of more than failAbove elements when
	// non-zero.
	failAbove int
	// failBitsAt fails the n'th AllocBits call (counting from 1) when
	// non-zero.
	failBitsAt int
}

func (a *countingAllocator[K, V]) AllocKeys(n int) []K {
	if a.failAbove > 0 && n > a.failAbove {
		return nil
	}
	a.allocKeys++
	return make([]K, n)
}

func (a *countingAllocator[K, V]) AllocValues(n int) []V {
	if a.failAbove > 0 && n > a.failAbove {
		return nil
	}
	a.allocValues++
	return make([]V, n)
}

func (a *countingAllocator[K, V]) AllocBits(n int) []uint64 {
	if a.failBitsAt > 0 && a.allocBits+1 == a.failBitsAt {
		a.failBitsAt = 0
		return nil
	}
	a.allocBits++
	return make([]uint64, n)
}

func (a *countingAllocator[K, V]) FreeKeys([]K) {
	a.freeKeys++
}

func (a *countingAllocator[K, V]) FreeValues([]V) {
	a.freeValues++
}

func (a *countingAllocator[K, V]) FreeBits([]uint64) {
	a.freeBits++
}

func (a *countingAllocator[K, V]) requireBalanced(t *testing.T) {
	require.Equal(t, a.allocKeys, a.freeKeys, "keys")
	require.Equal(t, a.allocValues, a.freeValues, "values")
	require.Equal(t, a.allocBits, a.freeBits, "bits")
}

func newTestTable[K Key, V any](t *testing.T, initialCapacity int, options ...Option) *table[K, V] {
	var tt table[K, V]
	require.NoError(t, tt.init(initialCapacity, append([]Option{WithSeed(1)}, options...)))
	return &tt
}

func TestTableInit(t *testing.T) {
	testCases := []struct {
		initialCapacity  int
		options          []Option
		expectedCapacity uintptr
		expectedLimit    uintptr
	}{
		{0, nil, 8192, 6554},
		{1, nil, 128, 102},
		{128, nil, 128, 102},
		{129, nil, 256, 205},
		{5000, nil, 8192, 6554},
		{0, []Option{WithMaxCapacity(256)}, 256, 205},
		{0, []Option{WithMaxCapacity(1)}, 128, 102},
		{128, []Option{WithLoadFactor(1)}, 128, 127},
		{128, []Option{WithLoadFactor(0.01)}, 128, 16},
		{128, []Option{WithLoadFactor(-3)}, 128, 102},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			tt := newTestTable[uint64, struct{}](t, c.initialCapacity, c.options...)
			stats, err := tt.stats()
			require.NoError(t, err)
			require.Equal(t, Stats{Capacity: c.expectedCapacity, Limit: c.expectedLimit}, stats)
			require.NoError(t, tt.verify())
		})
	}

	var tt table[uint64, struct{}]
	require.ErrorIs(t, tt.init(-1, nil), ErrInvalidArgument)
	require.False(t, tt.initialized())
}

func TestTableSeed(t *testing.T) {
	a := newTestTable[uint64, struct{}](t, 0, WithSeed(1))
	b := newTestTable[uint64, struct{}](t, 0, WithSeed(1))
	c := newTestTable[uint64, struct{}](t, 0, WithSeed(2))
	require.Equal(t, a.basis, b.basis)
	require.NotEqual(t, a.basis, c.basis)

	for i := uint64(0); i < 100; i++ {
		require.NoError(t, a.insert(i, struct{}{}, false))
		require.NoError(t, b.insert(i, struct{}{}, false))
	}
	// Same seed, same layout.
	require.Equal(t, a.store.keys, b.store.keys)
	require.Equal(t, a.store.used.words, b.store.used.words)
}

func TestTableFind(t *testing.T) {
	tt := newTestTable[uint32, struct{}](t, 128)

	_, found, reused := tt.store.find(tt.basis, 1)
	require.False(t, found)
	require.False(t, reused)

	require.NoError(t, tt.insert(1, struct{}{}, false))
	i, found, reused := tt.store.find(tt.basis, 1)
	require.True(t, found)
	require.False(t, reused)
	require.Equal(t, StatusValid, tt.store.status(i))

	// Insert keep-alive so that removing 1 leaves a tombstone rather than
	// clearing the table.
	require.NoError(t, tt.insert(2, struct{}{}, false))
	_, err := tt.remove(1)
	require.NoError(t, err)
	require.Equal(t, StatusDeleted, tt.store.status(i))

	// The tombstone is reported as the insertion point for the removed key.
	j, found, reused := tt.store.find(tt.basis, 1)
	require.False(t, found)
	require.True(t, reused)
	require.Equal(t, i, j)
}

// collidingKey returns a key other than the excluded ones whose first probe
// lands on slot i.
func collidingKey[K Key, V any](tt *table[K, V], i uintptr, exclude ...K) K {
	mask := tt.store.capacity - 1
	for k := K(0); ; k++ {
		if makeProbeSeq(tt.basis, uint64(k), mask).offset != i {
			continue
		}
		excluded := false
		for _, e := range exclude {
			excluded = excluded || e == k
		}
		if !excluded {
			return k
		}
	}
}

func TestTableTombstoneChain(t *testing.T) {
	tt := newTestTable[uint64, struct{}](t, 128)

	// k3 probes through k1's slot first and lands somewhere else.
	const k1 = 12345
	require.NoError(t, tt.insert(k1, struct{}{}, false))
	i1, ok := tt.lookup(k1)
	require.True(t, ok)
	k3 := collidingKey(tt, i1, k1)
	require.NoError(t, tt.insert(k3, struct{}{}, false))
	i3, ok := tt.lookup(k3)
	require.True(t, ok)
	require.NotEqual(t, i1, i3)

	// Removing k1 must not break the chain to k3.
	_, err := tt.remove(k1)
	require.NoError(t, err)
	require.True(t, tt.contains(k3), "probe chain broken: could not find %d after removing %d", k3, k1)
	require.ErrorIs(t, tt.insert(k3, struct{}{}, false), ErrExists)
	require.EqualValues(t, 1, tt.valid)

	// k2 also starts at k1's slot and revives the tombstone.
	k2 := collidingKey(tt, i1, k1, k3)
	require.NoError(t, tt.insert(k2, struct{}{}, false))
	i2, ok := tt.lookup(k2)
	require.True(t, ok)
	require.Equal(t, i1, i2)
	require.True(t, tt.contains(k3))
	require.False(t, tt.contains(k1))
	require.EqualValues(t, 2, tt.valid)
	require.EqualValues(t, 0, tt.deleted)
	require.NoError(t, tt.verify())
}

func TestTableNearlyFull(t *testing.T) {
	// With a load factor of 1 a 128 slot table holds 127 entries, leaving a
	// single empty slot to terminate every probe.
	tt := newTestTable[uint16, struct{}](t, 128, WithLoadFactor(1))
	for i := uint16(0); i < 127; i++ {
		require.NoError(t, tt.insert(i, struct{}{}, false))
	}
	require.EqualValues(t, 128, tt.store.capacity)
	for i := uint16(127); i < 1000; i++ {
		require.False(t, tt.contains(i))
	}
	require.NoError(t, tt.verify())

	require.NoError(t, tt.insert(127, struct{}{}, false))
	require.EqualValues(t, 256, tt.store.capacity)
	require.NoError(t, tt.verify())
}

func TestTableGrowth(t *testing.T) {
	tt := newTestTable[uint64, uint64](t, 128)
	capacity := tt.store.capacity
	for i := uint64(0); i < 5000; i++ {
		require.NoError(t, tt.insert(i, i*2, false))
		stats, err := tt.stats()
		require.NoError(t, err)
		require.LessOrEqual(t, uint64(stats.Valid), uint64(stats.Limit))
		require.Less(t, uint64(stats.Limit), uint64(stats.Capacity))
		require.True(t, isPow2(stats.Capacity))
		require.GreaterOrEqual(t, uint64(stats.Capacity), uint64(capacity))
		if stats.Capacity != capacity {
			require.Equal(t, 2*capacity, stats.Capacity)
			require.EqualValues(t, 0, stats.Deleted)
			capacity = stats.Capacity
		}
	}
	require.EqualValues(t, 8192, capacity)
	for i := uint64(0); i < 5000; i++ {
		v, ok := tt.get(i)
		require.True(t, ok)
		require.Equal(t, i*2, v)
	}
	require.NoError(t, tt.verify())
}

func TestTableTooLarge(t *testing.T) {
	tt := newTestTable[uint32, struct{}](t, 0, WithMaxCapacity(128))
	for i := uint32(0); i < 102; i++ {
		require.NoError(t, tt.insert(i, struct{}{}, false))
	}
	before, err := tt.stats()
	require.NoError(t, err)

	require.ErrorIs(t, tt.insert(1000, struct{}{}, false), ErrTableTooLarge)
	after, err := tt.stats()
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.False(t, tt.contains(1000))

	// A tombstone can still be reused without growing.
	_, err = tt.remove(5)
	require.NoError(t, err)
	i5, _, reused := tt.store.find(tt.basis, 5)
	require.True(t, reused)
	require.NoError(t, tt.insert(5, struct{}{}, false))
	j5, ok := tt.lookup(5)
	require.True(t, ok)
	require.Equal(t, i5, j5)
	require.NoError(t, tt.verify())
}

func TestTableOutOfMemory(t *testing.T) {
	a := &countingAllocator[uint64, uint64]{failAbove: 128}
	tt := newTestTable[uint64, uint64](t, 128, WithAllocator[uint64, uint64](a))
	for i := uint64(0); i < 102; i++ {
		require.NoError(t, tt.insert(i, i, false))
	}
	before, err := tt.stats()
	require.NoError(t, err)

	err = tt.insert(102, 102, false)
	require.ErrorIs(t, err, ErrOutOfMemory)

	after, err := tt.stats()
	require.NoError(t, err)
	require.Equal(t, before, after)
	for i := uint64(0); i < 102; i++ {
		v, ok := tt.get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	require.False(t, tt.contains(102))
	require.NoError(t, tt.verify())

	// Once memory is available again the insert succeeds.
	a.failAbove = 0
	require.NoError(t, tt.insert(102, 102, false))
	require.EqualValues(t, 256, tt.store.capacity)

	tt.close()
	a.requireBalanced(t)
}

func TestTablePartialAllocationFailure(t *testing.T) {
	// The second bitset of the grown store fails to allocate: the keys,
	// values and first bitset must be released again.
	a := &countingAllocator[uint32, uint32]{}
	tt := newTestTable[uint32, uint32](t, 128, WithAllocator[uint32, uint32](a))
	for i := uint32(0); i < 102; i++ {
		require.NoError(t, tt.insert(i, i, false))
	}
	a.failBitsAt = a.allocBits + 2
	require.ErrorIs(t, tt.insert(102, 102, false), ErrOutOfMemory)
	require.Equal(t, 2, a.allocKeys)
	require.Equal(t, 1, a.freeKeys)
	require.Equal(t, 1, a.freeValues)
	require.Equal(t, 1, a.freeBits)
	require.NoError(t, tt.verify())

	tt.close()
	a.requireBalanced(t)
}

func TestTableShrinkOutOfMemory(t *testing.T) {
	// Shrinking is best effort: removes succeed even if the rebuild that
	// drops the tombstones cannot be allocated.
	a := &countingAllocator[uint64, struct{}]{}
	tt := newTestTable[uint64, struct{}](t, 1024, WithAllocator[uint64, struct{}](a))
	for i := uint64(0); i < 800; i++ {
		require.NoError(t, tt.insert(i, struct{}{}, false))
	}
	a.failAbove = 1
	for i := uint64(0); i < 799; i++ {
		_, err := tt.remove(i)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1024, tt.store.capacity)
	require.EqualValues(t, 799, tt.deleted)
	require.True(t, tt.contains(799))
	require.NoError(t, tt.verify())

	// Explicitly shrinking reports the failure.
	require.ErrorIs(t, tt.shrinkToFit(), ErrOutOfMemory)

	// Removing the last entry still clears the table in place.
	_, err := tt.remove(799)
	require.NoError(t, err)
	require.EqualValues(t, 1024, tt.store.capacity)
	require.EqualValues(t, 0, tt.valid)
	require.EqualValues(t, 0, tt.deleted)
	require.NoError(t, tt.verify())

	a.failAbove = 0
	require.NoError(t, tt.shrinkToFit())
	require.EqualValues(t, 128, tt.store.capacity)
}

func TestTableShrink(t *testing.T) {
	for _, lf := range []float64{0.125, 0.5, 0.8, 1} {
		t.Run(fmt.Sprintf("lf=%v", lf), func(t *testing.T) {
			tt := newTestTable[uint64, struct{}](t, 0, WithLoadFactor(lf))
			const n = 10000
			for i := uint64(0); i < n; i++ {
				require.NoError(t, tt.insert(i, struct{}{}, false))
			}
			grown := tt.store.capacity

			for i := uint64(0); i < n-1; i++ {
				_, err := tt.remove(i)
				require.NoError(t, err)
				require.True(t, isPow2(tt.store.capacity))
				require.GreaterOrEqual(t, uint64(tt.store.capacity), uint64(minCapacity))
				require.LessOrEqual(t, uint64(tt.deleted), uint64(tt.limit/2))
			}
			require.Less(t, uint64(tt.store.capacity), uint64(grown))
			require.EqualValues(t, 1, tt.valid)

			if err := tt.shrinkToFit(); err != nil {
				require.ErrorIs(t, err, ErrNothingToDo)
			}
			// The smallest power of two holding 2 entries at any load
			// factor is below the minimum.
			require.EqualValues(t, minCapacity, tt.store.capacity)
			require.EqualValues(t, 0, tt.deleted)
			require.ErrorIs(t, tt.shrinkToFit(), ErrNothingToDo)
			require.True(t, tt.contains(n-1))
			require.NoError(t, tt.verify())
		})
	}
}

func TestTableShrinkToFit(t *testing.T) {
	tt := newTestTable[uint32, struct{}](t, 0, WithLoadFactor(0.5))
	for i := uint32(0); i < 1000; i++ {
		require.NoError(t, tt.insert(i, struct{}{}, false))
	}
	for i := uint32(0); i < 700; i++ {
		_, err := tt.remove(i)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, uint64(tt.store.capacity), uint64(1024))

	// Room for 301 entries at a load factor of 0.5 takes 602 slots.
	if err := tt.shrinkToFit(); err != nil {
		require.ErrorIs(t, err, ErrNothingToDo)
	}
	require.EqualValues(t, 1024, tt.store.capacity)
	require.EqualValues(t, 0, tt.deleted)
	require.EqualValues(t, 300, tt.valid)
	require.ErrorIs(t, tt.shrinkToFit(), ErrNothingToDo)
	require.NoError(t, tt.verify())
}

func TestTableClear(t *testing.T) {
	tt := newTestTable[uint64, struct{}](t, 0)
	require.ErrorIs(t, tt.clear(), ErrNothingToDo)

	for i := uint64(0); i < 1000; i++ {
		require.NoError(t, tt.insert(i, struct{}{}, false))
	}
	require.NoError(t, tt.clear())
	stats, err := tt.stats()
	require.NoError(t, err)
	require.Equal(t, Stats{Capacity: 128, Limit: 102}, stats)
	require.ErrorIs(t, tt.clear(), ErrNothingToDo)
	for i := uint64(0); i < 1000; i++ {
		require.False(t, tt.contains(i))
	}
	require.NoError(t, tt.verify())

	// A table at the minimum capacity is cleared in place.
	require.NoError(t, tt.insert(7, struct{}{}, false))
	require.NoError(t, tt.clear())
	require.EqualValues(t, 128, tt.store.capacity)
	require.False(t, tt.contains(7))
}

func TestTableRemoveLastClears(t *testing.T) {
	tt := newTestTable[uint64, struct{}](t, 0)
	require.NoError(t, tt.insert(3, struct{}{}, false))
	_, err := tt.remove(3)
	require.NoError(t, err)
	stats, err := tt.stats()
	require.NoError(t, err)
	require.Equal(t, Stats{Capacity: 128, Limit: 102}, stats)

	_, err = tt.remove(3)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTableRebuildInternal(t *testing.T) {
	tt := newTestTable[uint64, struct{}](t, 128)
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, tt.insert(i, struct{}{}, false))
	}
	// Refuses a capacity that cannot hold the live entries.
	tt.valid = 200
	require.ErrorIs(t, tt.rebuild(128), ErrInvalidArgument)
	tt.valid = 10

	// Corrupt the store with a duplicate live key: the rebuild must detect
	// it and leave the table alone.
	i, ok := tt.lookup(3)
	require.True(t, ok)
	j := (i + 1) & (tt.store.capacity - 1)
	for tt.store.used.get(j) {
		j = (j + 1) & (tt.store.capacity - 1)
	}
	tt.store.put(j, 3, struct{}{}, false)
	tt.valid++

	store := tt.store
	require.ErrorIs(t, tt.rebuild(256), ErrInternal)
	require.Equal(t, store, tt.store)
}

func TestTableVerify(t *testing.T) {
	tt := newTestTable[uint64, struct{}](t, 128)
	for i := uint64(0); i < 50; i++ {
		require.NoError(t, tt.insert(i, struct{}{}, false))
	}
	require.NoError(t, tt.verify())

	tt.valid++
	require.Error(t, tt.verify())
	tt.valid--

	tt.limit = 128
	require.Error(t, tt.verify())
	tt.limit = 102

	// Duplicate a live key: one of the two copies is unreachable.
	i, ok := tt.lookup(10)
	require.True(t, ok)
	j, ok := tt.lookup(11)
	require.True(t, ok)
	tt.store.keys[i] = tt.store.keys[j]
	require.Error(t, tt.verify())
	require.Contains(t, tt.debugString(), "capacity=128  valid=50  deleted=0  limit=102")
}

func TestTableUninitialized(t *testing.T) {
	var tt table[uint64, uint64]
	require.ErrorIs(t, tt.insert(1, 1, false), ErrInvalidArgument)
	_, err := tt.remove(1)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.False(t, tt.contains(1))
	_, ok := tt.get(1)
	require.False(t, ok)
	require.ErrorIs(t, tt.clear(), ErrInvalidArgument)
	require.ErrorIs(t, tt.shrinkToFit(), ErrInvalidArgument)
	_, err = tt.stats()
	require.ErrorIs(t, err, ErrInvalidArgument)
	var c Cursor
	_, _, err = tt.next(&c)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.ErrorIs(t, tt.dump(func(uintptr, Status, uint64, uint64) bool { return true }), ErrInvalidArgument)
	require.Equal(t, 0, tt.size())
	tt.close()
}

func TestTableAllocatorMismatch(t *testing.T) {
	var tt table[uint64, struct{}]
	err := tt.init(0, []Option{WithAllocator[uint32, struct{}](&countingAllocator[uint32, struct{}]{})})
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.False(t, tt.initialized())
}

func TestMakeChecked(t *testing.T) {
	require.Len(t, makeChecked[uint64](10, 8), 10)
	require.Nil(t, makeChecked[uint64](-1, 8))
	require.Nil(t, makeChecked[uint64](int(^uint(0)>>1), 8))
	require.NotNil(t, makeChecked[struct{}](1000, 0))
}

func TestTableReinit(t *testing.T) {
	a := &countingAllocator[uint64, struct{}]{}
	tt := newTestTable[uint64, struct{}](t, 128, WithAllocator[uint64, struct{}](a))
	require.NoError(t, tt.insert(42, struct{}{}, false))
	before, err := tt.stats()
	require.NoError(t, err)

	// A rejected init leaves the existing contents alone.
	require.ErrorIs(t, tt.init(-1, nil), ErrInvalidArgument)
	err = tt.init(0, []Option{WithAllocator[uint32, struct{}](&countingAllocator[uint32, struct{}]{})})
	require.ErrorIs(t, err, ErrInvalidArgument)
	a.failAbove = 128
	require.ErrorIs(t, tt.init(256, []Option{WithAllocator[uint64, struct{}](a)}), ErrOutOfMemory)
	a.failAbove = 0

	after, err := tt.stats()
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.True(t, tt.contains(42))
	require.NoError(t, tt.verify())

	// A successful init releases the old store.
	require.NoError(t, tt.init(256, []Option{WithSeed(1), WithAllocator[uint64, struct{}](a)}))
	require.False(t, tt.contains(42))
	require.EqualValues(t, 256, tt.store.capacity)
	require.Equal(t, 2, a.allocKeys)
	require.Equal(t, 1, a.freeKeys)
	tt.close()
	a.requireBalanced(t)
}
