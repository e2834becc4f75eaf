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

package unsafex

import "unsafe"

// AlignUp rounds addr up to the next multiple of align. align must be a power of two.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// RecordsOf reinterprets buf as a slice of T without copying.
// Leading bytes are skipped until the first record is aligned for T, and the
// tail that cannot hold a whole record is dropped.
//
// T must NOT contain pointers: the GC does not scan memory obtained as []byte,
// so pointers stored in the returned records would not keep their targets alive.
// buf must outlive every use of the returned slice.
func RecordsOf[T any](buf []byte) []T {
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 || len(buf) == 0 {
		return nil
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	skip := AlignUp(start, unsafe.Alignof(zero)) - start
	if skip >= uintptr(len(buf)) {
		return nil
	}
	n := (uintptr(len(buf)) - skip) / size
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(buf)), skip)), n)
}

// RecordsSize returns the number of bytes that always suffices for n records of T,
// including the worst case alignment skip of RecordsOf.
func RecordsSize[T any](n int) int {
	var zero T
	return n*int(unsafe.Sizeof(zero)) + int(unsafe.Alignof(zero)) - 1
}
