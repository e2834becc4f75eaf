/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mm

import "github.com/cockroachdb/errors"

// Caller errors. ErrSizeMismatch, ErrDoubleFree and ErrOverlap mark errors
// built with errors.AssertionFailedf, so errors.HasAssertionFailure reports
// true for them.
var (
	// ErrNotInitialized is returned for a nil or destroyed Manager.
	ErrNotInitialized = errors.New("mm: allocator not initialized")

	// ErrInvalidArgument is returned for zero sizes, non power of two
	// alignments and ranges wrapping the address space.
	ErrInvalidArgument = errors.New("mm: invalid argument")

	// ErrSizeMismatch is returned by Free when size differs from the allocation.
	ErrSizeMismatch = errors.New("mm: size does not match allocation")

	// ErrDoubleFree is returned by Free for a range that is already free.
	ErrDoubleFree = errors.New("mm: range is not allocated")

	// ErrOverlap is returned by Add for a range overlapping a registered one.
	ErrOverlap = errors.New("mm: range overlaps managed memory")
)

// Resource exhaustion. Callers may retry or report out-of-memory.
var (
	// ErrNoFittingRegion is returned when no free node satisfies size and alignment.
	ErrNoFittingRegion = errors.New("mm: no free region large enough")

	// ErrNodeNotFound is returned by Free when no node starts at the given base.
	ErrNodeNotFound = errors.New("mm: no node at address")

	// ErrSlabExhausted is returned when no metadata record can be obtained.
	ErrSlabExhausted = errors.New("mm: out of node metadata")

	// ErrSlotAlloc is returned when the slot allocator has no slot for the new capability.
	ErrSlotAlloc = errors.New("mm: slot allocation failed")
)

// Authority failures, always wrapping the provider's error.
var (
	ErrRetype  = errors.New("mm: retype failed")
	ErrDestroy = errors.New("mm: capability destroy failed")
	ErrRevoke  = errors.New("mm: capability revoke failed")
)

func contractViolation(mark error, format string, args ...interface{}) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), mark)
}
