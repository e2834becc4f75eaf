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

// Package mm manages physical memory handed out as capabilities.
//
// Memory enters the manager through Add as a RAM capability covering a range.
// The manager keeps the managed space partitioned into free and allocated
// nodes; AllocAligned carves a node out of a free one and retypes a new
// capability for exactly that range, and Free turns the node back into free
// space, merges it with free neighbours carved from the same capability and
// destroys the returned capability.
//
// Node metadata lives in a slab whose memory can come from the manager itself,
// see PageRefill. A Manager is not safe for concurrent use; callers serialize
// access per instance.
package mm

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudwego/capmm/capability"
	"github.com/cloudwego/capmm/container/slab"
	"github.com/cloudwego/capmm/slot"
)

// recordsPerAlloc is the most node records one allocation consumes:
// a padding split and a remainder split.
const recordsPerAlloc = 2

type counters struct {
	allocs    uint64
	frees     uint64
	rollbacks uint64
}

// Manager is an allocator instance.
type Manager struct {
	nodes *slab.Slab[node]
	roots []root
	head  slab.Handle

	objType   capability.ObjType
	slots     slot.Allocator
	authority capability.Provider

	pageSize  uint64
	threshold int
	log       logrus.FieldLogger

	destroyed     bool
	slotRefilling bool
	counters      counters
}

// New creates a manager handing out capabilities of type objType.
// It performs no memory or capability operation; the slab starts empty and
// must be seeded with GrowSlab or filled through Option.SlabRefill.
func New(objType capability.ObjType, slots slot.Allocator, authority capability.Provider, o *Option) (*Manager, error) {
	if o == nil {
		o = DefaultOption()
	}
	if slots == nil {
		return nil, errors.New("mm: nil slot allocator")
	}
	if authority == nil {
		return nil, errors.New("mm: nil capability provider")
	}
	if o.PageSize == 0 || o.PageSize&(o.PageSize-1) != 0 {
		return nil, errors.Newf("mm: page size must be a power of two, got %d", o.PageSize)
	}
	if o.RefillThreshold < 1 {
		return nil, errors.Newf("mm: refill threshold must be > 0, got %d", o.RefillThreshold)
	}
	log := o.Logger
	if log == nil {
		log = logrus.StandardLogger().WithField("prefix", "mm")
	}

	m := &Manager{
		head:      slab.Null,
		objType:   objType,
		slots:     slots,
		authority: authority,
		pageSize:  o.PageSize,
		threshold: o.RefillThreshold,
		log:       log,
	}
	var refill slab.RefillFunc
	if o.SlabRefill != nil {
		f := o.SlabRefill
		refill = func(g slab.Grower) error { return f(m, g) }
	}
	m.nodes = slab.New[node](refill)
	return m, nil
}

func (m *Manager) check() error {
	if m == nil || m.nodes == nil {
		return errors.Wrap(ErrNotInitialized, "nil manager")
	}
	if m.destroyed {
		return errors.Wrap(ErrNotInitialized, "manager destroyed")
	}
	return nil
}

// PageSize returns the alignment used by Alloc.
func (m *Manager) PageSize() uint64 {
	return m.pageSize
}

// SlabStaticSize returns the buffer size GrowSlab needs for n node records.
func SlabStaticSize(n int) int {
	return slab.StaticSize[node](n)
}

// GrowSlab hands buf to the node slab and returns the number of records added.
// It is how the slab is seeded before any dynamic memory exists.
func (m *Manager) GrowSlab(buf []byte) int {
	if m.check() != nil {
		return 0
	}
	return m.nodes.Grow(buf)
}

// reserve makes sure need records are free before the list is touched,
// refilling the slab when it runs under the threshold. Inside a refill no
// further refill is attempted; the records left must do.
func (m *Manager) reserve(need int) error {
	want := m.threshold
	if need > want {
		want = need
	}
	free := m.nodes.FreeCount()
	if free < want && !m.nodes.Refilling() {
		err := m.nodes.Refill()
		if err != nil && m.nodes.FreeCount() < need {
			return errors.Mark(errors.Wrapf(err, "%d node records free, need %d", free, need), ErrSlabExhausted)
		}
		if err != nil {
			m.log.WithError(err).Debug("slab refill failed, using remaining records")
		}
	}
	if free = m.nodes.FreeCount(); free < need {
		return errors.Wrapf(ErrSlabExhausted, "%d node records free, need %d", free, need)
	}
	return nil
}

// refillSlots lets the slot allocator top up ahead of the allocation. The
// refill may allocate from this manager; the flag keeps that nested call
// from refilling again. Allocations made by a slab refill skip it too, so a
// refill never needs more than the records one allocation takes.
func (m *Manager) refillSlots() {
	if m.slotRefilling || m.nodes.Refilling() {
		return
	}
	m.slotRefilling = true
	defer func() { m.slotRefilling = false }()
	if err := m.slots.Refill(); err != nil {
		m.log.WithError(err).Warn("slot refill failed")
	}
}

// Add registers [base, base+size) backed by the RAM capability cap as free memory.
// The manager takes ownership of cap and destroys it in Destroy.
func (m *Manager) Add(cap capability.Ref, base, size uint64) error {
	if err := m.check(); err != nil {
		return err
	}
	if size == 0 || base+size < base {
		return errors.Wrapf(ErrInvalidArgument, "add [%#x, +%#x)", base, size)
	}
	for i := range m.roots {
		r := &m.roots[i]
		if r.live() && base < r.base+r.size && r.base < base+size {
			return contractViolation(ErrOverlap, "add [%#x, %#x) overlaps [%#x, %#x)", base, base+size, r.base, r.base+r.size)
		}
	}
	if err := m.reserve(1); err != nil {
		return err
	}
	h, err := m.nodes.Alloc()
	if err != nil {
		return errors.Mark(err, ErrSlabExhausted)
	}

	m.roots = append(m.roots, root{cap: capability.Own(cap), base: base, size: size})
	*m.node(h) = node{
		base: base,
		size: size,
		root: uint32(len(m.roots) - 1),
		kind: Free,
	}
	m.pushFront(h)
	m.log.WithFields(logrus.Fields{"base": base, "size": size, "cap": cap}).Debug("region added")
	return nil
}

// Alloc allocates size bytes aligned to the page size.
func (m *Manager) Alloc(size uint64) (capability.Ref, error) {
	if err := m.check(); err != nil {
		return capability.NullRef, err
	}
	return m.AllocAligned(size, m.pageSize)
}

// AllocAligned allocates size bytes starting at a multiple of alignment and
// returns a new capability covering exactly that range.
//
// When no free node can hold the request, ErrNoFittingRegion is returned
// before any refill runs. If the slot allocator or the retype fails, the
// split is undone.
func (m *Manager) AllocAligned(size, alignment uint64) (capability.Ref, error) {
	return m.allocAligned(size, alignment, false)
}

// AllocMetadata is AllocAligned for memory the allocator's own infrastructure
// keeps for its lifetime, such as slab pages and slot cnodes. Such allocations
// are not reported as leaks by Destroy.
func (m *Manager) AllocMetadata(size, alignment uint64) (capability.Ref, error) {
	return m.allocAligned(size, alignment, true)
}

// Refill tops up the slot allocator and the node slab ahead of demand, so
// the next allocation does not have to.
func (m *Manager) Refill() error {
	if err := m.check(); err != nil {
		return err
	}
	m.refillSlots()
	return m.reserve(recordsPerAlloc)
}

func (m *Manager) allocAligned(size, alignment uint64, meta bool) (capability.Ref, error) {
	if err := m.check(); err != nil {
		return capability.NullRef, err
	}
	if size == 0 || alignment == 0 || alignment&(alignment-1) != 0 {
		return capability.NullRef, errors.Wrapf(ErrInvalidArgument, "alloc %#x bytes aligned to %#x", size, alignment)
	}

	// refills may allocate from this manager, fail before touching anything
	if _, _, found := m.firstFit(size, alignment); !found {
		return capability.NullRef, errors.Wrapf(ErrNoFittingRegion, "alloc %#x bytes aligned to %#x", size, alignment)
	}
	m.refillSlots()
	if err := m.reserve(recordsPerAlloc); err != nil {
		return capability.NullRef, err
	}

	// a refill may have taken the candidate
	h, err := m.search(size, alignment)
	if err != nil {
		return capability.NullRef, errors.Wrapf(err, "alloc %#x bytes aligned to %#x", size, alignment)
	}
	if m.node(h).size > size {
		if _, err := m.split(h, size); err != nil {
			m.coalesce(h)
			return capability.NullRef, errors.Mark(err, ErrSlabExhausted)
		}
	}
	n := m.node(h)
	n.kind = Allocated
	n.meta = meta
	base, r := n.base, &m.roots[n.root]

	ref, err := m.slots.Alloc(1)
	if err != nil {
		m.rollback(h)
		return capability.NullRef, errors.Mark(errors.Wrap(err, "alloc slot"), ErrSlotAlloc)
	}
	if err := m.authority.Retype(ref, r.cap.Ref(), base-r.base, m.objType, size, 1); err != nil {
		m.rollback(h)
		if f, ok := m.slots.(slot.Freer); ok {
			if ferr := f.Free(ref, 1); ferr != nil {
				m.log.WithError(ferr).Warn("returning slot after failed retype")
			}
		}
		return capability.NullRef, errors.Mark(errors.Wrapf(err, "retype %#x bytes at %#x", size, base), ErrRetype)
	}

	m.counters.allocs++
	m.log.WithFields(logrus.Fields{"base": base, "size": size, "cap": ref}).Debug("allocated")
	return ref, nil
}

// rollback returns the node h of a failed allocation to free space.
func (m *Manager) rollback(h slab.Handle) {
	n := m.node(h)
	m.log.WithFields(logrus.Fields{"base": n.base, "size": n.size}).Warn("allocation rolled back")
	n.kind = Free
	n.meta = false
	m.coalesce(h)
	m.counters.rollbacks++
}

// Free returns the allocation [base, base+size) and destroys cap, the
// capability AllocAligned returned for it.
//
// base and size must match the allocation exactly. When no node starts at
// base, or the size differs, nothing is changed.
func (m *Manager) Free(cap capability.Ref, base, size uint64) error {
	if err := m.check(); err != nil {
		return err
	}
	h, ok := m.find(base)
	if !ok {
		return errors.Wrapf(ErrNodeNotFound, "free %#x", base)
	}
	n := m.node(h)
	if n.kind != Allocated {
		return contractViolation(ErrDoubleFree, "free [%#x, +%#x): node is free", base, size)
	}
	if n.size != size {
		return contractViolation(ErrSizeMismatch, "free [%#x, +%#x): allocation has size %#x", base, size, n.size)
	}

	n.kind = Free
	n.meta = false
	m.coalesce(h)
	m.counters.frees++
	m.log.WithFields(logrus.Fields{"base": base, "size": size, "cap": cap}).Debug("freed")

	o := capability.Own(cap)
	if err := o.Destroy(m.authority); err != nil {
		return errors.Mark(err, ErrDestroy)
	}
	return nil
}

// Destroy releases all managed memory. Nodes still allocated are turned
// free first; their capabilities die with the revoke of their root. For each
// root, its node records are collapsed, then its capability is revoked and
// destroyed once.
//
// The first capability failure aborts the teardown. The manager is unusable
// afterwards whatever the outcome.
func (m *Manager) Destroy() error {
	if err := m.check(); err != nil {
		return err
	}
	m.destroyed = true

	leaked := 0
	for h := m.head; h != slab.Null; h = m.node(h).next {
		if n := m.node(h); n.kind == Allocated {
			if !n.meta {
				leaked++
			}
			n.kind = Free
		}
	}
	if leaked > 0 {
		m.log.WithField("nodes", leaked).Warn("destroying allocator with outstanding allocations")
	}

	for m.head != slab.Null {
		h := m.head
		n := m.node(h)
		// nodes of one root are contiguous in the list
		for nx := n.next; nx != slab.Null && m.node(nx).root == n.root; nx = n.next {
			m.merge(h, nx)
		}
		r := &m.roots[n.root]
		if r.live() {
			if err := r.cap.RevokeAndDestroy(m.authority); err != nil {
				if errors.Is(err, capability.ErrRevoke) {
					return errors.Mark(err, ErrRevoke)
				}
				return errors.Mark(err, ErrDestroy)
			}
		}
		m.unlink(h)
		m.nodes.Free(h)
	}
	m.log.WithField("regions", len(m.roots)).Debug("allocator destroyed")
	m.roots = nil
	return nil
}
