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

package slab

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	a, b uint64
	c    uint32
}

func TestSlabGrowAlloc(t *testing.T) {
	s := New[rec](nil)
	assert.Equal(t, 0, s.FreeCount())

	n := s.Grow(make([]byte, StaticSize[rec](4)))
	assert.GreaterOrEqual(t, n, 4)
	assert.Equal(t, n, s.FreeCount())

	h1, err := s.Alloc()
	require.NoError(t, err)
	h2, err := s.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, makeHandle(0, 0), h1)
	assert.Equal(t, makeHandle(0, 1), h2)
	assert.Equal(t, n-2, s.FreeCount())

	s.At(h1).a = 11
	s.At(h2).a = 22
	assert.Equal(t, uint64(11), s.At(h1).a)
	assert.Equal(t, uint64(22), s.At(h2).a)

	s.Free(h1)
	assert.Equal(t, n-1, s.FreeCount())

	// freed records come back zeroed
	h3, err := s.Alloc()
	require.NoError(t, err)
	assert.Equal(t, h1, h3)
	assert.Equal(t, rec{}, *s.At(h3))
}

func TestSlabExhausted(t *testing.T) {
	s := New[rec](nil)
	n := s.Grow(make([]byte, StaticSize[rec](2)))
	for i := 0; i < n; i++ {
		_, err := s.Alloc()
		require.NoError(t, err)
	}
	_, err := s.Alloc()
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestSlabDoubleFreePanics(t *testing.T) {
	s := New[rec](nil)
	s.Grow(make([]byte, StaticSize[rec](2)))
	h, err := s.Alloc()
	require.NoError(t, err)
	s.Free(h)
	assert.Panics(t, func() { s.Free(h) })
	assert.Panics(t, func() { s.At(h) })
	assert.Panics(t, func() { s.At(Null) })
}

func TestSlabRefillOnEmpty(t *testing.T) {
	calls := 0
	s := New[rec](func(g Grower) error {
		calls++
		g.Grow(make([]byte, StaticSize[rec](3)))
		return nil
	})

	h, err := s.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, Null, h)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.Stats().Refills)
	assert.Equal(t, 1, s.Stats().Chunks)
}

func TestSlabRefillFailure(t *testing.T) {
	boom := errors.New("boom")
	s := New[rec](func(g Grower) error { return boom })

	_, err := s.Alloc()
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, s.Stats().Refills)
}

func TestSlabRefillIsSingleFlight(t *testing.T) {
	var s *Slab[rec]
	var inner error
	var innerAlloc error
	s = New[rec](func(g Grower) error {
		assert.True(t, s.Refilling())
		inner = s.Refill()
		// allocation inside a refill must not recurse into another refill
		_, innerAlloc = s.Alloc()
		g.Grow(make([]byte, StaticSize[rec](1)))
		return nil
	})

	require.NoError(t, s.Refill())
	assert.False(t, s.Refilling())
	assert.True(t, errors.Is(inner, ErrRefillInProgress))
	assert.True(t, errors.Is(innerAlloc, ErrExhausted))
	assert.GreaterOrEqual(t, s.FreeCount(), 1)
}

func TestSlabNoRefillFunc(t *testing.T) {
	s := New[rec](nil)
	assert.True(t, errors.Is(s.Refill(), ErrExhausted))
}

func TestHeapRefill(t *testing.T) {
	s := New[rec](HeapRefill(4096))
	for i := 0; i < 1000; i++ {
		_, err := s.Alloc()
		require.NoError(t, err)
	}
	st := s.Stats()
	assert.Equal(t, 1000, st.Records-st.Free)
	assert.Greater(t, st.Refills, 1)

	tiny := New[rec](HeapRefill(1))
	_, err := tiny.Alloc()
	assert.Error(t, err)
}

func TestSlabLargeBufferSplitsChunks(t *testing.T) {
	s := New[rec](nil)
	n := s.Grow(make([]byte, StaticSize[rec](maxChunkElems+10)))
	assert.GreaterOrEqual(t, n, maxChunkElems+10)
	assert.Equal(t, 2, s.Stats().Chunks)

	var last Handle
	for i := 0; i < maxChunkElems+1; i++ {
		h, err := s.Alloc()
		require.NoError(t, err)
		last = h
	}
	assert.Equal(t, 1, last.chunk())
	assert.Equal(t, 0, last.index())
}
