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

import "fmt"

// Stats describes the occupancy of a table.
type Stats struct {
	// Capacity is the number of slots, always a power of two.
	Capacity uintptr
	// Valid is the number of live entries.
	Valid uintptr
	// Deleted is the number of tombstones.
	Deleted uintptr
	// Limit is the number of live entries plus tombstones at which the next
	// insert into a fresh slot grows the table.
	Limit uintptr
}

func (s Stats) String() string {
	return fmt.Sprintf("capacity: %010d, valid: %010d, deleted: %010d, limit: %010d",
		s.Capacity, s.Valid, s.Deleted, s.Limit)
}

// Status is the state of a single slot as reported by Dump.
type Status uint8

const (
	// StatusEmpty is a slot that was never written since the last rebuild.
	StatusEmpty Status = iota
	// StatusValid is a slot holding a live entry.
	StatusValid
	// StatusDeleted is a tombstone: the entry was removed but the slot still
	// continues probe sequences.
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusValid:
		return "valid"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Rune returns the single letter form of the status: 'u' (unused), 'v'
// (valid) or 'd' (deleted).
func (s Status) Rune() rune {
	switch s {
	case StatusEmpty:
		return 'u'
	case StatusValid:
		return 'v'
	case StatusDeleted:
		return 'd'
	default:
		return '?'
	}
}

// Cursor is a resumable position for Next. The zero Cursor starts at the
// first slot. A cursor is invalidated by any mutation of the table.
type Cursor uintptr

// cursorEnd is the value a Cursor is pinned to once the table is exhausted.
const cursorEnd = ^Cursor(0)

// Done reports whether the cursor has been exhausted.
func (c Cursor) Done() bool {
	return c == cursorEnd
}
