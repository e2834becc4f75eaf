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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapAllocSingle(t *testing.T) {
	b := newBitmap(13)
	for i := 0; i < 13; i++ {
		assert.Equal(t, i, b.alloc(1))
	}
	assert.Equal(t, -1, b.alloc(1))
	assert.Equal(t, 13, b.used())
}

func TestBitmapNextFit(t *testing.T) {
	b := newBitmap(16)
	assert.Equal(t, 0, b.alloc(1))
	assert.Equal(t, 1, b.alloc(1))
	assert.Equal(t, 2, b.alloc(1))

	// freed slot behind the cursor is not reused yet
	b.setRange(1, 1, false)
	assert.Equal(t, 3, b.alloc(1))
}

func TestBitmapWrap(t *testing.T) {
	b := newBitmap(8)
	for i := 0; i < 8; i++ {
		b.alloc(1)
	}
	b.setRange(2, 1, false)
	assert.False(t, b.isSet(2))
	assert.Equal(t, 2, b.alloc(1))
	assert.True(t, b.isSet(2))
}

func TestBitmapRuns(t *testing.T) {
	b := newBitmap(32)
	assert.Equal(t, 0, b.alloc(3))
	assert.Equal(t, 3, b.alloc(5))
	b.setRange(0, 3, false)

	assert.Equal(t, 8, b.alloc(4))
	assert.Equal(t, 12, b.alloc(20))
	// cursor wrapped to the start
	assert.Equal(t, 0, b.alloc(3))
	assert.Equal(t, 32, b.used())
	assert.Equal(t, -1, b.alloc(1))
}

func TestBitmapRunTooLong(t *testing.T) {
	b := newBitmap(16)
	b.setRange(7, 1, true)
	assert.Equal(t, -1, b.alloc(9))
	assert.Equal(t, 8, b.alloc(8))
}

func TestBitmapPartialLastByte(t *testing.T) {
	b := newBitmap(10)
	b.setRange(0, 9, true)
	assert.Equal(t, 9, b.findFree(3))
	b.setRange(9, 1, true)
	// bits past n are never handed out
	assert.Equal(t, -1, b.findFree(0))
	assert.Equal(t, -1, b.findFree(9))
}

func TestBitmapAlloc(t *testing.T) {
	b := newBitmap(20)
	assert.Equal(t, 0, b.alloc(1))
	assert.Equal(t, 1, b.alloc(3))
	assert.Equal(t, 4, b.used())

	b.setRange(0, 4, false)
	// next-fit continues after the last allocation
	assert.Equal(t, 4, b.alloc(8))
	assert.Equal(t, 12, b.alloc(8))
	assert.Equal(t, -1, b.findRun(12, 8))
	// wraps around to the freed head
	assert.Equal(t, 0, b.alloc(4))
	assert.Equal(t, -1, b.alloc(1))
}

func TestBitmapFindRunSkipsFullBytes(t *testing.T) {
	b := newBitmap(64)
	b.setRange(0, 16, true)
	b.setRange(17, 1, true)
	assert.Equal(t, 16, b.findRun(0, 1))
	assert.Equal(t, 18, b.findRun(0, 2))
	assert.True(t, b.isSet(17))
	assert.False(t, b.isSet(18))
}
