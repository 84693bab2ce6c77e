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

// Package hashset implements an open-addressing hash set and hash map for
// fixed-width unsigned integer keys.
//
// # Layout
//
// A table is a flat array of slots whose capacity is always a power of two
// (and never below 128). Two parallel bitsets, used and deleted, encode the
// three states of a slot:
//
//	    empty: used=0
//	    valid: used=1 deleted=0
//	tombstone: used=1 deleted=1
//
// The map form additionally stores a value next to each key. Keys and values
// live in separate arrays (struct-of-arrays) so that a Set[K] costs nothing
// for its value type.
//
// # Probing
//
// The probe sequence for a key is produced by re-hashing the key together
// with a per-table basis and the probe attempt number. Unlike linear or
// quadratic probing the next index bears no relation to the previous one,
// which avoids primary and secondary clustering. The hash is a keyed FNV-1a
// over the 8 bytes of the basis, the attempt and the key. After capacity
// attempts the sequence degrades to linear stepping so that a probe is
// guaranteed to reach an empty slot.
//
// A lookup walks the sequence until it hits an empty slot. Tombstones do not
// stop the walk, since the key may have been inserted after the tombstoned
// entry, but the first tombstone seen is remembered as the insertion point
// for a key that turns out to be absent.
//
// # Capacity management
//
// The table keeps the number of live entries plus tombstones below a limit of
// round(capacity*loadFactor), which is always strictly less than the capacity
// so that at least one empty slot exists. An insert into a fresh slot that
// would reach the limit doubles the capacity. A remove that leaves more
// tombstones than half the limit rebuilds the table at the smallest capacity
// that holds the remaining entries, and a remove of the last entry clears the
// table back to the minimum capacity. Every rebuild constructs a complete new
// slot store and swaps it in only once all entries have been re-inserted, so a
// failed rebuild leaves the table untouched.
//
// Neither Set nor Map is goroutine-safe.
package hashset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

const debug = false

// Key is the set of key types supported by Set and Map.
type Key interface {
	~uint16 | ~uint32 | ~uint64
}

// slotStore holds the slots of a table. The keys and values arrays and both
// bitsets always have the same capacity. A slotStore is either fully
// allocated or zero; newSlotStore never returns a partial store.
type slotStore[K Key, V any] struct {
	keys     []K
	values   []V
	used     bitset
	deleted  bitset
	capacity uintptr
}

// newSlotStore allocates a store with room for capacity slots, all empty. On
// failure every partial allocation is released before returning
// ErrOutOfMemory.
func newSlotStore[K Key, V any](a Allocator[K, V], capacity uintptr) (slotStore[K, V], error) {
	if !isPow2(capacity) || capacity > uintptr(math.MaxInt) {
		return slotStore[K, V]{}, fmt.Errorf("capacity %d: %w", capacity, ErrOutOfMemory)
	}
	n := int(capacity)
	words := int(bitsetWords(capacity))

	var s slotStore[K, V]
	fail := func() (slotStore[K, V], error) {
		s.release(a)
		return slotStore[K, V]{}, fmt.Errorf("allocating %d slots: %w", capacity, ErrOutOfMemory)
	}

	if s.keys = a.AllocKeys(n); len(s.keys) < n {
		return fail()
	}
	if s.values = a.AllocValues(n); len(s.values) < n {
		return fail()
	}
	if s.used = makeBitset(a.AllocBits(words)); len(s.used.words) < words {
		return fail()
	}
	if s.deleted = makeBitset(a.AllocBits(words)); len(s.deleted.words) < words {
		return fail()
	}
	// The allocator contract asks for zeroed bits but a recycling allocator
	// may hand back dirty memory.
	s.used.reset()
	s.deleted.reset()
	s.capacity = capacity
	return s, nil
}

// release returns the memory of the store to the allocator and zeroes it.
func (s *slotStore[K, V]) release(a Allocator[K, V]) {
	if s.keys != nil {
		a.FreeKeys(s.keys)
	}
	if s.values != nil {
		a.FreeValues(s.values)
	}
	if s.used.words != nil {
		a.FreeBits(s.used.words)
	}
	if s.deleted.words != nil {
		a.FreeBits(s.deleted.words)
	}
	*s = slotStore[K, V]{}
}

func (s *slotStore[K, V]) status(i uintptr) Status {
	switch {
	case !s.used.get(i):
		return StatusEmpty
	case s.deleted.get(i):
		return StatusDeleted
	default:
		return StatusValid
	}
}

func (s *slotStore[K, V]) isValid(i uintptr) bool {
	return s.used.get(i) && !s.deleted.get(i)
}

// find walks the probe sequence of key. If the key is present its index is
// returned with found=true. Otherwise index is the best insertion point: the
// first tombstone on the sequence (reused=true) or the empty slot that ended
// the walk (reused=false).
//
// find terminates as long as the store has at least one empty slot, which the
// limit guarantees.
func (s *slotStore[K, V]) find(basis uint64, key K) (index uintptr, found, reused bool) {
	seq := makeProbeSeq(basis, uint64(key), s.capacity-1)
	if debug {
		fmt.Printf("find(%d): %s\n", key, seq)
	}

	for ; s.used.get(seq.offset); seq = seq.next() {
		if s.deleted.get(seq.offset) {
			if !reused {
				index, reused = seq.offset, true
				if debug {
					fmt.Printf("find(tombstone): index=%d\n", seq.offset)
				}
			}
			continue
		}
		if s.keys[seq.offset] == key {
			if debug {
				fmt.Printf("find(found): index=%d attempt=%d\n", seq.offset, seq.attempt)
			}
			return seq.offset, true, false
		}
	}

	if !reused {
		index = seq.offset
	}
	if debug {
		fmt.Printf("find(not-found): index=%d reused=%t attempt=%d\n", index, reused, seq.attempt)
	}
	return index, false, reused
}

// put writes an entry into slot i, which must be empty or a tombstone as
// reported by find.
func (s *slotStore[K, V]) put(i uintptr, key K, value V, reusing bool) {
	s.keys[i] = key
	s.values[i] = value
	if reusing {
		s.deleted.clear(i)
	} else {
		s.used.set(i)
	}
}

// probeSeq maintains the state for a probe sequence. The offset of attempt i
// is probeHash(basis, i, key) & mask for i <= mask. Since independently
// hashed offsets are not guaranteed to ever visit a particular slot, attempts
// beyond mask step linearly from the previous offset, which visits every slot
// within another mask+1 attempts.
type probeSeq struct {
	basis   uint64
	key     uint64
	mask    uintptr
	attempt uint64
	offset  uintptr
}

func makeProbeSeq(basis, key uint64, mask uintptr) probeSeq {
	return probeSeq{
		basis:  basis,
		key:    key,
		mask:   mask,
		offset: uintptr(probeHash(basis, 0, key)) & mask,
	}
}

func (s probeSeq) next() probeSeq {
	s.attempt++
	if s.attempt <= uint64(s.mask) {
		s.offset = uintptr(probeHash(s.basis, s.attempt, s.key)) & s.mask
	} else {
		s.offset = (s.offset + 1) & s.mask
	}
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d attempt=%d", s.mask, s.offset, s.attempt)
}

// computeLimit returns round(capacity*loadFactor), lowered if necessary so
// that it is strictly less than capacity.
func computeLimit(capacity uintptr, loadFactor float64) uintptr {
	limit := roundSize(float64(capacity) * loadFactor)
	if capacity > 0 && limit >= capacity {
		limit = capacity - 1
	}
	return limit
}

// table is the engine shared by Set and Map.
type table[K Key, V any] struct {
	store     slotStore[K, V]
	allocator Allocator[K, V]
	// loadFactor is in [minLoadFactor, maxLoadFactor].
	loadFactor float64
	// basis is mixed into every probe hash. It is derived from the seed.
	basis uint64
	// limit is the maximum of valid+deleted before an insert into a fresh
	// slot grows the table. Always < store.capacity.
	limit uintptr
	// valid is the number of live entries.
	valid uintptr
	// deleted is the number of tombstones.
	deleted     uintptr
	maxCapacity uintptr
	overwrite   bool
}

// init replaces the contents of t with an empty table. On error t is left as
// it was.
func (t *table[K, V]) init(initialCapacity int, options []Option) error {
	if initialCapacity < 0 {
		return fmt.Errorf("initial capacity %d: %w", initialCapacity, ErrInvalidArgument)
	}

	c := makeConfig(options)
	a, err := allocatorFor[K, V](&c)
	if err != nil {
		return err
	}
	if !c.seeded {
		c.seed = rand.Uint64()
	}

	capacity := defaultCapacity
	if initialCapacity > 0 {
		capacity = nextPow2(uintptr(initialCapacity))
	}
	capacity = min(capacity, c.maxCapacity)

	store, err := newSlotStore(a, capacity)
	if err != nil {
		return err
	}
	t.close()

	*t = table[K, V]{
		store:       store,
		allocator:   a,
		loadFactor:  c.loadFactor,
		basis:       makeBasis(c.seed),
		limit:       computeLimit(capacity, c.loadFactor),
		maxCapacity: c.maxCapacity,
		overwrite:   c.overwrite,
	}
	t.checkInvariants()
	return nil
}

// initialized reports whether t has a slot store. Zero value and closed
// tables do not.
func (t *table[K, V]) initialized() bool {
	return t != nil && t.store.capacity != 0
}

// close releases the slot store and zeroes the table.
func (t *table[K, V]) close() {
	if !t.initialized() {
		return
	}
	t.store.release(t.allocator)
	*t = table[K, V]{}
}

// insert adds key with value. If the key is already present ErrExists is
// returned, after overwriting the stored value if update is set.
func (t *table[K, V]) insert(key K, value V, update bool) error {
	if !t.initialized() {
		return ErrInvalidArgument
	}

	i, found, reused := t.store.find(t.basis, key)
	if found {
		if update {
			t.store.values[i] = value
		}
		return ErrExists
	}

	// Growing drops every tombstone, so we only grow when the insert cannot
	// reuse one.
	if !reused && safeAdd(t.valid, t.deleted) >= t.limit {
		if err := t.grow(); err != nil {
			return err
		}
		i, found, reused = t.store.find(t.basis, key)
		if found {
			return fmt.Errorf("key %d present after growth: %w", key, ErrInternal)
		}
	}

	t.store.put(i, key, value, reused)
	t.valid = safeIncr(t.valid)
	if reused {
		t.deleted = safeDecr(t.deleted)
	}
	if debug {
		fmt.Printf("insert(%d): index=%d reused=%t valid=%d deleted=%d\n",
			key, i, reused, t.valid, t.deleted)
	}
	t.checkInvariants()
	return nil
}

// grow doubles the capacity of the table.
func (t *table[K, V]) grow() error {
	capacity := t.store.capacity
	if capacity >= t.maxCapacity || capacity > maxSize/2 {
		return fmt.Errorf("cannot grow beyond %d slots: %w", capacity, ErrTableTooLarge)
	}
	return t.rebuild(safeTimes2(capacity))
}

func (t *table[K, V]) lookup(key K) (uintptr, bool) {
	if !t.initialized() || t.valid == 0 {
		return 0, false
	}
	i, found, _ := t.store.find(t.basis, key)
	return i, found
}

func (t *table[K, V]) contains(key K) bool {
	_, found := t.lookup(key)
	return found
}

func (t *table[K, V]) get(key K) (value V, ok bool) {
	i, found := t.lookup(key)
	if !found {
		return value, false
	}
	return t.store.values[i], true
}

// remove turns the slot of key into a tombstone and returns the value it
// held. The table may shrink as a result.
func (t *table[K, V]) remove(key K) (value V, err error) {
	if !t.initialized() {
		return value, ErrInvalidArgument
	}
	if t.valid == 0 {
		return value, ErrNotFound
	}
	i, found, _ := t.store.find(t.basis, key)
	if !found {
		return value, ErrNotFound
	}

	value = t.store.values[i]
	t.store.deleted.set(i)
	t.deleted = safeIncr(t.deleted)
	t.valid = safeDecr(t.valid)
	if debug {
		fmt.Printf("remove(%d): index=%d valid=%d deleted=%d\n", key, i, t.valid, t.deleted)
	}

	if t.valid == 0 {
		return value, t.clear()
	}

	if t.deleted > t.limit/2 {
		// Shrinking is an optimization: if the new store cannot be allocated
		// the table is still correct at its current capacity.
		err := t.rebuild(min(t.shrinkTarget(), t.store.capacity))
		if err != nil && !errors.Is(err, ErrOutOfMemory) {
			return value, err
		}
	}
	t.checkInvariants()
	return value, nil
}

// shrinkTarget returns the smallest capacity that holds one more than the
// current number of live entries at the configured load factor.
func (t *table[K, V]) shrinkTarget() uintptr {
	target := nextPow2(roundSize(float64(safeIncr(t.valid)) / t.loadFactor))
	return min(target, t.maxCapacity)
}

// clear removes every entry. The table is rebuilt at the minimum capacity if
// it is larger than that.
func (t *table[K, V]) clear() error {
	if !t.initialized() {
		return ErrInvalidArgument
	}
	if t.valid == 0 && t.deleted == 0 {
		return ErrNothingToDo
	}

	t.valid, t.deleted = 0, 0
	t.store.used.reset()
	t.store.deleted.reset()
	if debug {
		fmt.Printf("clear: capacity=%d\n", t.store.capacity)
	}

	if t.store.capacity > minCapacity {
		if err := t.rebuild(minCapacity); err != nil && !errors.Is(err, ErrOutOfMemory) {
			return err
		}
	}
	t.checkInvariants()
	return nil
}

// shrinkToFit drops all tombstones and lowers the capacity to the smallest
// one that holds the live entries.
func (t *table[K, V]) shrinkToFit() error {
	if !t.initialized() {
		return ErrInvalidArgument
	}
	target := t.shrinkTarget()
	if target >= t.store.capacity && t.deleted == 0 {
		return ErrNothingToDo
	}
	if err := t.rebuild(min(target, t.store.capacity)); err != nil {
		return err
	}
	t.checkInvariants()
	return nil
}

// rebuild re-inserts every live entry into a new slot store with the given
// capacity and swaps it in. Tombstones are dropped. If the new store cannot
// be allocated or populated the table is left untouched.
func (t *table[K, V]) rebuild(newCapacity uintptr) error {
	if newCapacity < t.valid || newCapacity > t.maxCapacity {
		return fmt.Errorf("rebuild of %d entries into %d slots: %w",
			t.valid, newCapacity, ErrInvalidArgument)
	}

	tmp, err := newSlotStore(t.allocator, newCapacity)
	if err != nil {
		return err
	}

	old := &t.store
	for k := uintptr(0); k < old.capacity; k++ {
		if !old.isValid(k) {
			continue
		}
		key := old.keys[k]
		i, found, _ := tmp.find(t.basis, key)
		if found {
			tmp.release(t.allocator)
			return fmt.Errorf("key %d duplicated during rebuild: %w", key, ErrInternal)
		}
		tmp.put(i, key, old.values[k], false)
	}

	if debug {
		fmt.Printf("rebuild: capacity=%d->%d valid=%d dropped=%d\n",
			old.capacity, newCapacity, t.valid, t.deleted)
	}

	old.release(t.allocator)
	t.store = tmp
	t.limit = computeLimit(newCapacity, t.loadFactor)
	t.deleted = 0
	return nil
}

func (t *table[K, V]) size() int {
	if !t.initialized() {
		return 0
	}
	return int(t.valid)
}

func (t *table[K, V]) stats() (Stats, error) {
	if !t.initialized() {
		return Stats{}, ErrInvalidArgument
	}
	return Stats{
		Capacity: t.store.capacity,
		Valid:    t.valid,
		Deleted:  t.deleted,
		Limit:    t.limit,
	}, nil
}

// next returns the first live entry at or after *cursor and advances the
// cursor past it. Once the table is exhausted the cursor is pinned at
// cursorEnd and ErrNotFound is returned.
func (t *table[K, V]) next(cursor *Cursor) (key K, value V, err error) {
	if !t.initialized() || cursor == nil || *cursor == cursorEnd {
		return key, value, ErrInvalidArgument
	}
	for i := uintptr(*cursor); i < t.store.capacity; i++ {
		if t.store.isValid(i) {
			*cursor = Cursor(i + 1)
			return t.store.keys[i], t.store.values[i], nil
		}
	}
	*cursor = cursorEnd
	return key, value, ErrNotFound
}

// all calls yield for each live entry until yield returns false. The store is
// snapshotted so that iteration remains safe, though not complete, if the
// table is rebuilt by yield.
func (t *table[K, V]) all(yield func(key K, value V) bool) {
	if !t.initialized() {
		return
	}
	s := t.store
	for i := uintptr(0); i < s.capacity; i++ {
		if s.isValid(i) {
			if !yield(s.keys[i], s.values[i]) {
				return
			}
		}
	}
}

// dump calls fn for every physical slot, in index order, until fn returns
// false.
func (t *table[K, V]) dump(fn func(index uintptr, status Status, key K, value V) bool) error {
	if !t.initialized() || fn == nil {
		return ErrInvalidArgument
	}
	s := &t.store
	for i := uintptr(0); i < s.capacity; i++ {
		if !fn(i, s.status(i), s.keys[i], s.values[i]) {
			return ErrCanceled
		}
	}
	return nil
}

func (t *table[K, V]) checkInvariants() {
	if invariants {
		if err := t.verify(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, t.debugString()))
		}
	}
}

// verify checks the structural invariants of the table and that every live
// key can be found at its own slot.
func (t *table[K, V]) verify() error {
	s := &t.store
	if !isPow2(s.capacity) || s.capacity < minCapacity {
		return fmt.Errorf("capacity %d is not a power of two >= %d", s.capacity, minCapacity)
	}
	if s.capacity > t.maxCapacity {
		return fmt.Errorf("capacity %d exceeds maximum %d", s.capacity, t.maxCapacity)
	}
	if n := uintptr(len(s.keys)); n != s.capacity {
		return fmt.Errorf("%d keys for capacity %d", n, s.capacity)
	}
	if n := uintptr(len(s.values)); n != s.capacity {
		return fmt.Errorf("%d values for capacity %d", n, s.capacity)
	}
	if limit := computeLimit(s.capacity, t.loadFactor); limit != t.limit {
		return fmt.Errorf("limit is %d, expected %d", t.limit, limit)
	}
	if t.limit >= s.capacity {
		return fmt.Errorf("limit %d not below capacity %d", t.limit, s.capacity)
	}
	if safeAdd(t.valid, t.deleted) > t.limit {
		return fmt.Errorf("valid %d + deleted %d exceeds limit %d", t.valid, t.deleted, t.limit)
	}

	var valid, deleted uintptr
	for i := uintptr(0); i < s.capacity; i++ {
		switch s.status(i) {
		case StatusValid:
			valid++
			j, found, _ := s.find(t.basis, s.keys[i])
			if !found || j != i {
				return fmt.Errorf("slot %d: key %d not found (found=%t index=%d)", i, s.keys[i], found, j)
			}
		case StatusDeleted:
			deleted++
		}
	}
	if valid != t.valid {
		return fmt.Errorf("found %d valid slots, but valid count is %d", valid, t.valid)
	}
	if deleted != t.deleted {
		return fmt.Errorf("found %d deleted slots, but deleted count is %d", deleted, t.deleted)
	}
	return nil
}

func (t *table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  valid=%d  deleted=%d  limit=%d\n",
		t.store.capacity, t.valid, t.deleted, t.limit)
	_ = t.dump(func(i uintptr, status Status, key K, value V) bool {
		switch status {
		case StatusEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case StatusDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted [%d]\n", i, key)
		default:
			fmt.Fprintf(&buf, "  %4d: %d => %v\n", i, key, value)
		}
		return true
	})
	return buf.String()
}
