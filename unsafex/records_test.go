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

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	a uint64
	b uint32
	c uint8
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uintptr(0), AlignUp(0, 8))
	assert.Equal(t, uintptr(8), AlignUp(1, 8))
	assert.Equal(t, uintptr(8), AlignUp(8, 8))
	assert.Equal(t, uintptr(8192), AlignUp(4097, 4096))
}

func TestRecordsOf(t *testing.T) {
	size := int(unsafe.Sizeof(record{}))
	buf := make([]byte, 10*size+3)
	rr := RecordsOf[record](buf)
	require.Len(t, rr, 10)

	rr[3].a = 0x1122334455667788
	rr[3].b = 7
	assert.Equal(t, uint64(0x1122334455667788), rr[3].a)
	assert.Equal(t, uint32(7), rr[3].b)

	// records are views on buf
	p := uintptr(unsafe.Pointer(&rr[0]))
	assert.Zero(t, p%unsafe.Alignof(record{}))
	assert.GreaterOrEqual(t, p, uintptr(unsafe.Pointer(&buf[0])))
}

func TestRecordsOfUnaligned(t *testing.T) {
	size := int(unsafe.Sizeof(record{}))
	buf := make([]byte, 4*size+1)
	rr := RecordsOf[record](buf[1:])
	// one leading byte shifts the first record to the next boundary
	assert.Len(t, rr, 3)
	p := uintptr(unsafe.Pointer(&rr[0]))
	assert.Zero(t, p%unsafe.Alignof(record{}))
}

func TestRecordsOfTooSmall(t *testing.T) {
	assert.Nil(t, RecordsOf[record](nil))
	assert.Nil(t, RecordsOf[record](make([]byte, 4)))
	assert.Nil(t, RecordsOf[struct{}](make([]byte, 64)))
}

func TestRecordsSize(t *testing.T) {
	for _, n := range []int{1, 7, 64} {
		buf := make([]byte, RecordsSize[record](n)+1)
		assert.GreaterOrEqual(t, len(RecordsOf[record](buf[1:])), n)
	}
}
