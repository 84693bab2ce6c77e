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

// The errors returned by Set and Map operations. Callers should compare
// against these with errors.Is as some are wrapped with additional context.
var (
	// ErrInvalidArgument is returned when operating on a nil, uninitialized
	// or closed table, or when a cursor is not usable.
	ErrInvalidArgument = errors.New("hashset: invalid argument")
	// ErrNotFound is returned when the key is not present, and by Next when
	// the cursor reaches the end of the table.
	ErrNotFound = errors.New("hashset: not found")
	// ErrExists is returned when inserting a key which is already present.
	ErrExists = errors.New("hashset: already exists")
	// ErrOutOfMemory is returned when the slot store required for growth
	// could not be allocated. The table is left unchanged.
	ErrOutOfMemory = errors.New("hashset: out of memory")
	// ErrTableTooLarge is returned when the table would need to grow beyond
	// its maximum capacity.
	ErrTableTooLarge = errors.New("hashset: table too large")
	// ErrInternal indicates a broken internal invariant. It is never expected
	// and points at a bug in probing or accounting rather than at the data.
	ErrInternal = errors.New("hashset: internal invariant violation")
	// ErrNothingToDo is returned by Clear and ShrinkToFit when the table is
	// already empty or compact.
	ErrNothingToDo = errors.New("hashset: nothing to do")
	// ErrCanceled is returned by Dump when the callback stopped the
	// enumeration.
	ErrCanceled = errors.New("hashset: enumeration canceled")
)
