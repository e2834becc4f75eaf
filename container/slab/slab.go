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

// Package slab implements a fixed-record pool whose backing memory is supplied
// by the caller, either up front from a static buffer or on demand through a
// refill callback.
//
// Records are addressed by Handle instead of pointers, so structures linked
// through a slab stay valid while the slab grows. Record types must be
// pointer-free because their storage is carved out of plain byte buffers.
package slab

import (
	"math"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/capmm/unsafex"
)

// Handle addresses one record: chunk index in the high 16 bits, record index
// in the low 16 bits.
type Handle uint32

// Null is the handle of no record.
const Null Handle = math.MaxUint32

const (
	handleShift   = 16
	maxChunkElems = 1<<handleShift - 1
	maxChunks     = 1<<16 - 1
)

func makeHandle(chunk, idx int) Handle {
	return Handle(uint32(chunk)<<handleShift | uint32(idx))
}

func (h Handle) chunk() int { return int(h >> handleShift) }
func (h Handle) index() int { return int(h & (1<<handleShift - 1)) }

var (
	// ErrExhausted is returned by Alloc when no record is free and refilling
	// did not produce one.
	ErrExhausted = errors.New("slab: out of records")

	// ErrRefillInProgress is returned by Refill when called from inside a refill.
	ErrRefillInProgress = errors.New("slab: refill already in progress")
)

// Grower accepts backing memory for new records.
type Grower interface {
	// Grow carves as many records as fit into buf and returns how many were added.
	// buf must not be reused by the caller afterwards.
	Grow(buf []byte) int
}

// RefillFunc supplies memory to a slab running low on records.
// It usually calls g.Grow one or more times.
type RefillFunc func(g Grower) error

type cell[T any] struct {
	next Handle
	used bool
	val  T
}

// Stats reports the slab occupancy.
type Stats struct {
	Records int // total records carved so far
	Free    int // records available without refilling
	Chunks  int
	Refills int // successful refill callbacks
}

// Slab is a pool of T records. It is not safe for concurrent use.
type Slab[T any] struct {
	chunks [][]cell[T]
	free   Handle
	nfree  int
	total  int

	refill    RefillFunc
	refilling bool
	refills   int
}

// New creates an empty slab. refill may be nil, in which case the slab only
// grows through explicit Grow calls.
func New[T any](refill RefillFunc) *Slab[T] {
	return &Slab[T]{
		free:   Null,
		refill: refill,
	}
}

// StaticSize returns the buffer size that always holds n records of T.
func StaticSize[T any](n int) int {
	return unsafex.RecordsSize[cell[T]](n)
}

// Grow implements Grower.
func (s *Slab[T]) Grow(buf []byte) int {
	cells := unsafex.RecordsOf[cell[T]](buf)
	added := 0
	for len(cells) > 0 && len(s.chunks) < maxChunks {
		n := len(cells)
		if n > maxChunkElems {
			n = maxChunkElems
		}
		chunk := cells[:n:n]
		cells = cells[n:]

		ci := len(s.chunks)
		s.chunks = append(s.chunks, chunk)
		// push in reverse so records are handed out in address order
		for i := n - 1; i >= 0; i-- {
			chunk[i].used = false
			chunk[i].next = s.free
			s.free = makeHandle(ci, i)
		}
		s.nfree += n
		s.total += n
		added += n
	}
	return added
}

// Refilling reports whether a refill callback is currently running.
func (s *Slab[T]) Refilling() bool {
	return s.refilling
}

// Refill runs the refill callback once.
// Calling Refill from inside the callback returns ErrRefillInProgress.
func (s *Slab[T]) Refill() error {
	if s.refill == nil {
		return errors.Wrap(ErrExhausted, "no refill function")
	}
	if s.refilling {
		return ErrRefillInProgress
	}
	s.refilling = true
	defer func() { s.refilling = false }()

	if err := s.refill(s); err != nil {
		return errors.Wrap(err, "slab refill")
	}
	s.refills++
	return nil
}

// Alloc returns a zeroed record. An empty slab is refilled first unless a
// refill is already running.
func (s *Slab[T]) Alloc() (Handle, error) {
	if s.free == Null && s.refill != nil && !s.refilling {
		if err := s.Refill(); err != nil {
			return Null, errors.Mark(err, ErrExhausted)
		}
	}
	if s.free == Null {
		return Null, ErrExhausted
	}
	h := s.free
	c := s.cell(h)
	s.free = c.next
	s.nfree--

	var zero T
	c.val = zero
	c.used = true
	c.next = Null
	return h, nil
}

// Free returns the record h to the pool.
// Panics if h is not an allocated record of this slab.
func (s *Slab[T]) Free(h Handle) {
	c := s.cell(h)
	if !c.used {
		panic("slab: double free or invalid handle")
	}
	c.used = false
	c.next = s.free
	s.free = h
	s.nfree++
}

// At returns the record addressed by h.
// The pointer stays valid until h is freed.
func (s *Slab[T]) At(h Handle) *T {
	c := s.cell(h)
	if !c.used {
		panic("slab: access to free record")
	}
	return &c.val
}

func (s *Slab[T]) cell(h Handle) *cell[T] {
	ci, i := h.chunk(), h.index()
	if h == Null || ci >= len(s.chunks) || i >= len(s.chunks[ci]) {
		panic("slab: handle out of range")
	}
	return &s.chunks[ci][i]
}

// FreeCount returns the number of records available without refilling.
func (s *Slab[T]) FreeCount() int {
	return s.nfree
}

// Stats returns the current occupancy.
func (s *Slab[T]) Stats() Stats {
	return Stats{
		Records: s.total,
		Free:    s.nfree,
		Chunks:  len(s.chunks),
		Refills: s.refills,
	}
}

// HeapRefill returns a RefillFunc that grows the slab with chunkBytes of
// freshly allocated heap memory per refill.
func HeapRefill(chunkBytes int) RefillFunc {
	return func(g Grower) error {
		// records are initialised by Grow and Alloc, skip zeroing
		buf := dirtmake.Bytes(chunkBytes, chunkBytes)
		if g.Grow(buf) == 0 {
			return errors.Newf("slab: %d bytes hold no record", chunkBytes)
		}
		return nil
	}
}
