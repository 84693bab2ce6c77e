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

// Set is an unordered set of unsigned integer keys backed by an
// open-addressing hash table. The zero value is not usable: create a Set with
// New or call Init.
//
// A Set is NOT goroutine-safe.
type Set[K Key] struct {
	table[K, struct{}]
}

// New constructs a new Set with room for initialCapacity keys before its
// first growth. An initialCapacity of 0 selects the default of 8192 slots,
// other values are rounded up to a power of two of at least 128.
func New[K Key](initialCapacity int, options ...Option) (*Set[K], error) {
	s := &Set[K]{}
	if err := s.Init(initialCapacity, options...); err != nil {
		return nil, err
	}
	return s, nil
}

// Init initializes a Set with the specified initial capacity, releasing any
// slot store the Set already had. Init can be used to avoid allocating the
// Set on the heap.
func (s *Set[K]) Init(initialCapacity int, options ...Option) error {
	if s == nil {
		return ErrInvalidArgument
	}
	return s.init(initialCapacity, options)
}

// Close releases the memory of the set back to its configured allocator. It
// is unnecessary to close a set using the default allocator. Any operation on
// a closed set returns ErrInvalidArgument until it is re-initialized.
func (s *Set[K]) Close() {
	if s == nil {
		return
	}
	s.close()
}

// Insert adds key to the set. It returns ErrExists if the key is already
// present, and ErrOutOfMemory or ErrTableTooLarge if the set needed to grow
// and could not; the set is unchanged in all of these cases.
func (s *Set[K]) Insert(key K) error {
	if s == nil {
		return ErrInvalidArgument
	}
	return s.insert(key, struct{}{}, false)
}

// Remove deletes key from the set, returning ErrNotFound if it is not
// present. Removing keys may shrink the set.
func (s *Set[K]) Remove(key K) error {
	if s == nil {
		return ErrInvalidArgument
	}
	_, err := s.remove(key)
	return err
}

// Contains reports whether key is in the set.
func (s *Set[K]) Contains(key K) bool {
	if s == nil {
		return false
	}
	return s.contains(key)
}

// Len returns the number of keys in the set.
func (s *Set[K]) Len() int {
	if s == nil {
		return 0
	}
	return s.size()
}

// Stats returns the capacity and occupancy counters of the set.
func (s *Set[K]) Stats() (Stats, error) {
	if s == nil {
		return Stats{}, ErrInvalidArgument
	}
	return s.stats()
}

// Clear removes all keys and shrinks the set to the minimum capacity. It
// returns ErrNothingToDo if the set holds neither keys nor tombstones.
func (s *Set[K]) Clear() error {
	if s == nil {
		return ErrInvalidArgument
	}
	return s.clear()
}

// ShrinkToFit rebuilds the set without tombstones at the smallest capacity
// that holds its keys. It returns ErrNothingToDo if the set is already
// compact.
func (s *Set[K]) ShrinkToFit() error {
	if s == nil {
		return ErrInvalidArgument
	}
	return s.shrinkToFit()
}

// Next returns the key at or after the cursor position and advances the
// cursor past it. Iteration starts with a zero Cursor and ends with
// ErrNotFound, after which the cursor is Done. Any mutation of the set
// invalidates outstanding cursors.
//
//	var c hashset.Cursor
//	for {
//	  k, err := s.Next(&c)
//	  if err != nil {
//	    break
//	  }
//	  ...
//	}
func (s *Set[K]) Next(cursor *Cursor) (K, error) {
	if s == nil {
		var k K
		return k, ErrInvalidArgument
	}
	k, _, err := s.next(cursor)
	return k, err
}

// All calls yield sequentially for each key present in the set. If yield
// returns false, iteration stops.
func (s *Set[K]) All(yield func(key K) bool) {
	if s == nil {
		return
	}
	s.all(func(k K, _ struct{}) bool {
		return yield(k)
	})
}

// Dump calls fn for every slot of the set, including empty slots and
// tombstones, in slot order. For slots that are not StatusValid the key is
// stale. Dump returns ErrCanceled if fn returns false.
func (s *Set[K]) Dump(fn func(index uintptr, status Status, key K) bool) error {
	if s == nil || fn == nil {
		return ErrInvalidArgument
	}
	return s.dump(func(i uintptr, status Status, k K, _ struct{}) bool {
		return fn(i, status, k)
	})
}
