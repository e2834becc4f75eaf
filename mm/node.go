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

import (
	"github.com/cloudwego/capmm/capability"
	"github.com/cloudwego/capmm/container/slab"
)

// Kind is the state of a node.
type Kind uint8

const (
	Free Kind = iota
	Allocated
)

func (k Kind) String() string {
	if k == Allocated {
		return "allocated"
	}
	return "free"
}

// node is one segment of the managed address space.
// It lives in the node slab, so it must stay pointer-free.
type node struct {
	base uint64
	size uint64
	prev slab.Handle
	next slab.Handle
	root uint32 // index into Manager.roots
	kind Kind
	meta bool // allocated through AllocMetadata
}

func (n *node) end() uint64 {
	return n.base + n.size
}

// root is a capability registered through Add. All nodes carved out of it
// share the root, which is what makes them candidates for merging.
type root struct {
	cap  capability.Owned
	base uint64
	size uint64
}

func (r *root) live() bool {
	return !r.cap.Released()
}

func (m *Manager) node(h slab.Handle) *node {
	return m.nodes.At(h)
}

// pushFront links h at the head of the list.
func (m *Manager) pushFront(h slab.Handle) {
	n := m.node(h)
	n.prev = slab.Null
	n.next = m.head
	if m.head != slab.Null {
		m.node(m.head).prev = h
	}
	m.head = h
}

// insertAfter links h right after at.
func (m *Manager) insertAfter(at, h slab.Handle) {
	a, n := m.node(at), m.node(h)
	n.prev = at
	n.next = a.next
	if a.next != slab.Null {
		m.node(a.next).prev = h
	}
	a.next = h
}

// unlink removes h from the list without releasing its record.
func (m *Manager) unlink(h slab.Handle) {
	n := m.node(h)
	if n.prev != slab.Null {
		m.node(n.prev).next = n.next
	} else {
		m.head = n.next
	}
	if n.next != slab.Null {
		m.node(n.next).prev = n.prev
	}
	n.prev, n.next = slab.Null, slab.Null
}

// split cuts h after its first size bytes. h keeps the head of the range and
// its kind; the tail becomes a new Free node right after h.
// The caller guarantees a free record and 0 < size < node size.
func (m *Manager) split(h slab.Handle, size uint64) (slab.Handle, error) {
	t, err := m.nodes.Alloc()
	if err != nil {
		return slab.Null, err
	}
	n, tail := m.node(h), m.node(t)
	*tail = node{
		base: n.base + size,
		size: n.size - size,
		root: n.root,
		kind: Free,
	}
	n.size = size
	m.insertAfter(h, t)
	return t, nil
}

// mergeable reports whether b directly follows a in memory and both are free
// pieces of the same root.
func (m *Manager) mergeable(a, b slab.Handle) bool {
	na, nb := m.node(a), m.node(b)
	return na.kind == Free && nb.kind == Free &&
		na.root == nb.root && na.end() == nb.base
}

// merge folds b, the list successor of a, into a and releases b's record.
func (m *Manager) merge(a, b slab.Handle) {
	m.node(a).size += m.node(b).size
	m.unlink(b)
	m.nodes.Free(b)
}

// coalesce merges the free node h with its predecessor, then its successor,
// and returns the handle of the resulting node.
func (m *Manager) coalesce(h slab.Handle) slab.Handle {
	if p := m.node(h).prev; p != slab.Null && m.mergeable(p, h) {
		m.merge(p, h)
		h = p
	}
	if nx := m.node(h).next; nx != slab.Null && m.mergeable(h, nx) {
		m.merge(h, nx)
	}
	return h
}

// find returns the node starting at base.
func (m *Manager) find(base uint64) (slab.Handle, bool) {
	for h := m.head; h != slab.Null; h = m.node(h).next {
		if m.node(h).base == base {
			return h, true
		}
	}
	return slab.Null, false
}

// padding returns the bytes to skip so base becomes a multiple of align.
// ok is false if rounding up wraps the address space.
func padding(base, align uint64) (pad uint64, ok bool) {
	aligned := (base + align - 1) &^ (align - 1)
	if aligned < base {
		return 0, false
	}
	return aligned - base, true
}

// firstFit returns the first free node holding size bytes past its padding
// to the next align boundary.
func (m *Manager) firstFit(size, align uint64) (h slab.Handle, pad uint64, found bool) {
	for h = m.head; h != slab.Null; h = m.node(h).next {
		n := m.node(h)
		if n.kind != Free {
			continue
		}
		pad, ok := padding(n.base, align)
		if !ok || pad >= n.size || n.size-pad < size {
			continue
		}
		return h, pad, true
	}
	return slab.Null, 0, false
}

// search returns a free node that starts on an align boundary and holds size
// bytes. A candidate with an unaligned base first has its padding split off
// into a free node of its own, then the search starts over.
func (m *Manager) search(size, align uint64) (slab.Handle, error) {
	for {
		h, pad, found := m.firstFit(size, align)
		if !found {
			return slab.Null, ErrNoFittingRegion
		}
		if pad == 0 {
			return h, nil
		}
		if _, err := m.split(h, pad); err != nil {
			return slab.Null, err
		}
	}
}
