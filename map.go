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

import "errors"

// Map is an unordered map from unsigned integer keys to values backed by an
// open-addressing hash table. The zero value is not usable: create a Map with
// NewMap or call Init.
//
// A Map is NOT goroutine-safe.
type Map[K Key, V any] struct {
	table[K, V]
}

// NewMap constructs a new Map with room for initialCapacity entries before
// its first growth. An initialCapacity of 0 selects the default of 8192
// slots, other values are rounded up to a power of two of at least 128.
func NewMap[K Key, V any](initialCapacity int, options ...Option) (*Map[K, V], error) {
	m := &Map[K, V]{}
	if err := m.Init(initialCapacity, options...); err != nil {
		return nil, err
	}
	return m, nil
}

// Init initializes a Map with the specified initial capacity, releasing any
// slot store the Map already had.
func (m *Map[K, V]) Init(initialCapacity int, options ...Option) error {
	if m == nil {
		return ErrInvalidArgument
	}
	return m.init(initialCapacity, options)
}

// Close releases the memory of the map back to its configured allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	if m == nil {
		return
	}
	m.close()
}

// Insert adds an entry for key. If the key is already present Insert returns
// ErrExists, and overwrites the stored value only if the map was created
// WithOverwrite.
func (m *Map[K, V]) Insert(key K, value V) error {
	if m == nil {
		return ErrInvalidArgument
	}
	return m.insert(key, value, m.overwrite)
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[K, V]) Put(key K, value V) error {
	if m == nil {
		return ErrInvalidArgument
	}
	if err := m.insert(key, value, true); !errors.Is(err, ErrExists) {
		return err
	}
	return nil
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if m == nil {
		return value, false
	}
	return m.get(key)
}

// Contains reports whether the map has an entry for key.
func (m *Map[K, V]) Contains(key K) bool {
	if m == nil {
		return false
	}
	return m.contains(key)
}

// Remove deletes the entry for key and returns the value it held, or
// ErrNotFound if there is no such entry.
func (m *Map[K, V]) Remove(key K) (V, error) {
	if m == nil {
		var v V
		return v, ErrInvalidArgument
	}
	return m.remove(key)
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return m.size()
}

// Stats returns the capacity and occupancy counters of the map.
func (m *Map[K, V]) Stats() (Stats, error) {
	if m == nil {
		return Stats{}, ErrInvalidArgument
	}
	return m.stats()
}

// Clear removes all entries and shrinks the map to the minimum capacity.
func (m *Map[K, V]) Clear() error {
	if m == nil {
		return ErrInvalidArgument
	}
	return m.clear()
}

// ShrinkToFit rebuilds the map without tombstones at the smallest capacity
// that holds its entries.
func (m *Map[K, V]) ShrinkToFit() error {
	if m == nil {
		return ErrInvalidArgument
	}
	return m.shrinkToFit()
}

// Next returns the entry at or after the cursor position and advances the
// cursor past it. See Set.Next.
func (m *Map[K, V]) Next(cursor *Cursor) (K, V, error) {
	if m == nil {
		var k K
		var v V
		return k, v, ErrInvalidArgument
	}
	return m.next(cursor)
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. The map can be mutated during
// iteration, though there is no guarantee that the mutations will be visible
// to the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	if m == nil {
		return
	}
	m.all(yield)
}

// Dump calls fn for every slot of the map, including empty slots and
// tombstones, in slot order. Dump returns ErrCanceled if fn returns false.
func (m *Map[K, V]) Dump(fn func(index uintptr, status Status, key K, value V) bool) error {
	if m == nil {
		return ErrInvalidArgument
	}
	return m.dump(fn)
}
