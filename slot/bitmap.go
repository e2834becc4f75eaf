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

package slot

import "math/bits"

// bitmap tracks used slots of one cnode, one bit per slot.
type bitmap struct {
	bits []byte
	n    int
	// next-fit: start searching from here
	next int
}

func newBitmap(n int) bitmap {
	return bitmap{bits: make([]byte, (n+7)>>3), n: n}
}

func (b *bitmap) isSet(idx int) bool {
	return b.bits[idx>>3]&(1<<(idx&7)) != 0
}

// alloc marks count contiguous free slots as used and returns the first one,
// or -1 if there is no such run.
func (b *bitmap) alloc(count int) int {
	idx := b.findRun(b.next, count)
	if idx == -1 && b.next > 0 {
		idx = b.findRun(0, count)
	}
	if idx == -1 {
		return -1
	}
	b.setRange(idx, count, true)
	b.next = idx + count
	if b.next >= b.n {
		b.next = 0
	}
	return idx
}

// findRun finds count contiguous free slots starting from start.
// Returns -1 if not found before the end of the bitmap.
func (b *bitmap) findRun(start, count int) int {
	if count == 1 {
		return b.findFree(start)
	}
	runStart := -1
	runLen := 0
	for i := start; i < b.n; i++ {
		// whole byte used, skip it
		if i&7 == 0 && b.bits[i>>3] == 0xFF {
			runStart = -1
			runLen = 0
			i += 7
			continue
		}
		if b.isSet(i) {
			runStart = -1
			runLen = 0
			continue
		}
		if runStart == -1 {
			runStart = i
		}
		runLen++
		if runLen >= count {
			return runStart
		}
	}
	return -1
}

// findFree finds a single free slot starting from start.
func (b *bitmap) findFree(start int) int {
	byteIdx := start >> 3
	bitIdx := start & 7

	// partial first byte
	if bitIdx != 0 && byteIdx < len(b.bits) {
		v := b.bits[byteIdx] | (byte(1<<bitIdx) - 1)
		if v != 0xFF {
			idx := byteIdx<<3 + bits.TrailingZeros8(^v)
			if idx < b.n {
				return idx
			}
			return -1
		}
		byteIdx++
	}
	for ; byteIdx < len(b.bits); byteIdx++ {
		if b.bits[byteIdx] != 0xFF {
			idx := byteIdx<<3 + bits.TrailingZeros8(^b.bits[byteIdx])
			if idx < b.n {
				return idx
			}
			return -1
		}
	}
	return -1
}

// setRange marks count slots starting at idx as used (set=true) or free (set=false).
func (b *bitmap) setRange(idx, count int, set bool) {
	for i := idx; i < idx+count; i++ {
		if set {
			b.bits[i>>3] |= 1 << (i & 7)
		} else {
			b.bits[i>>3] &^= 1 << (i & 7)
		}
	}
}

// used returns the number of used slots.
func (b *bitmap) used() int {
	n := 0
	for _, v := range b.bits {
		n += bits.OnesCount8(v)
	}
	return n
}
