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

// Package capsim is an in-memory capability space.
//
// It enforces the rules a real capability authority applies to the memory
// manager: retype only from RAM, children stay inside the parent and never
// overlap their siblings, destroyed or revoked capabilities are gone, and every
// slot holds at most one capability. Faults can be injected per operation.
package capsim

import (
	"sort"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/capmm/capability"
)

// CNodeSlotBytes is the memory one cnode slot occupies.
const CNodeSlotBytes = capability.SlotBytes

// DefaultCNodeSlots is the slot count of the well known cnodes.
const DefaultCNodeSlots = 256

// maxMapBytes bounds Map so a simulation never backs gigabytes of RAM.
const maxMapBytes = 16 << 20

// Op names a provider operation for fault injection and counters.
type Op int

const (
	OpRetype Op = iota
	OpDestroy
	OpRevoke
	OpIdentify
	numOps
)

var (
	// ErrEmptySlot is returned for operations on a slot holding no capability.
	ErrEmptySlot = errors.New("capsim: empty slot")

	// ErrSlotInUse is returned when a retype targets an occupied slot.
	ErrSlotInUse = errors.New("capsim: destination slot in use")

	// ErrNoCNode is returned when a slot refers to a cnode that does not exist.
	ErrNoCNode = errors.New("capsim: no such cnode")

	// ErrRange is returned when a retype does not fit the source capability.
	ErrRange = errors.New("capsim: retype out of range")

	// ErrOverlap is returned when a retype overlaps an existing child.
	ErrOverlap = errors.New("capsim: retype overlaps existing descendant")

	// ErrType is returned for retypes from or into unsupported types.
	ErrType = errors.New("capsim: invalid type")
)

// rootCNode holds the capabilities of cnodes created by NewCNode.
var rootCNode = capability.CNodeRef{Root: 1, Addr: 0x1, Level: capability.LevelL1}

type entry struct {
	ref      capability.Ref
	typ      capability.ObjType
	base     uint64
	size     uint64
	parent   *entry
	children map[*entry]struct{}
	cnode    *capability.CNodeRef
}

// Space is a simulated capability space. It is not safe for concurrent use.
type Space struct {
	caps     map[capability.Ref]*entry
	cnodes   map[capability.CNodeRef]uint32
	frames   map[capability.Ref][]byte
	retired  [][]byte // mapped memory of deleted capabilities, freed by Close
	faults   [numOps][]error
	counts   [numOps]int
	nextAddr uint32
	rootSlot uint32
}

// New returns a space holding the well known cnodes and no capabilities.
func New() *Space {
	s := &Space{
		caps:     map[capability.Ref]*entry{},
		cnodes:   map[capability.CNodeRef]uint32{},
		frames:   map[capability.Ref][]byte{},
		nextAddr: 0x100,
	}
	s.cnodes[capability.SuperCNode] = DefaultCNodeSlots
	s.cnodes[capability.SlotAllocCNode0] = DefaultCNodeSlots
	s.cnodes[rootCNode] = 1 << 16
	return s
}

// InjectFault makes the next call of op fail with err. Faults queue up in order.
func (s *Space) InjectFault(op Op, err error) {
	s.faults[op] = append(s.faults[op], err)
}

func (s *Space) enter(op Op) error {
	s.counts[op]++
	if q := s.faults[op]; len(q) > 0 {
		s.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

// Count returns how many times op was invoked, including injected failures.
func (s *Space) Count(op Op) int {
	return s.counts[op]
}

// Mint places a root RAM capability for [base, base+size) in ref, the way the
// kernel hands boot memory to the first process.
func (s *Space) Mint(ref capability.Ref, base, size uint64) error {
	if err := s.checkDest(ref, 1); err != nil {
		return err
	}
	if size == 0 || base+size < base {
		return errors.Wrapf(ErrRange, "mint [%#x, +%#x)", base, size)
	}
	s.caps[ref] = &entry{
		ref:      ref,
		typ:      capability.ObjTypeRAM,
		base:     base,
		size:     size,
		children: map[*entry]struct{}{},
	}
	return nil
}

func (s *Space) checkDest(dest capability.Ref, count int) error {
	slots, ok := s.cnodes[dest.CNode]
	if !ok {
		return errors.Wrapf(ErrNoCNode, "%s", dest)
	}
	if uint64(dest.Slot)+uint64(count) > uint64(slots) {
		return errors.Wrapf(ErrNoCNode, "%s: slots %d..%d beyond cnode size %d", dest, dest.Slot, dest.Slot+uint32(count), slots)
	}
	for i := 0; i < count; i++ {
		if _, ok := s.caps[dest.At(i)]; ok {
			return errors.Wrapf(ErrSlotInUse, "%s", dest.At(i))
		}
	}
	return nil
}

func (s *Space) lookup(ref capability.Ref) (*entry, error) {
	e, ok := s.caps[ref]
	if !ok {
		return nil, errors.Wrapf(ErrEmptySlot, "%s", ref)
	}
	return e, nil
}

// Retype implements capability.Provider.
func (s *Space) Retype(dest, src capability.Ref, offset uint64, typ capability.ObjType, size uint64, count int) error {
	if err := s.enter(OpRetype); err != nil {
		return err
	}
	parent, err := s.lookup(src)
	if err != nil {
		return err
	}
	if parent.typ != capability.ObjTypeRAM {
		return errors.Wrapf(ErrType, "retype from %s", parent.typ)
	}
	if typ == capability.ObjTypeNull {
		return errors.Wrapf(ErrType, "retype into %s", typ)
	}
	if typ == capability.ObjTypeL2CNode && (size == 0 || size%CNodeSlotBytes != 0) {
		return errors.Wrapf(ErrType, "cnode size %d is not a multiple of %d", size, CNodeSlotBytes)
	}
	if size == 0 || count < 1 {
		return errors.Wrapf(ErrRange, "size %d count %d", size, count)
	}
	total := size * uint64(count)
	if total/uint64(count) != size || offset > parent.size || total > parent.size-offset {
		return errors.Wrapf(ErrRange, "offset %#x + %d x %#x exceeds %#x", offset, count, size, parent.size)
	}
	if err := s.checkDest(dest, count); err != nil {
		return err
	}
	lo, hi := parent.base+offset, parent.base+offset+total
	for c := range parent.children {
		if c.base < hi && lo < c.base+c.size {
			return errors.Wrapf(ErrOverlap, "[%#x, %#x) overlaps %s [%#x, %#x)", lo, hi, c.ref, c.base, c.base+c.size)
		}
	}

	for i := 0; i < count; i++ {
		child := &entry{
			ref:      dest.At(i),
			typ:      typ,
			base:     lo + uint64(i)*size,
			size:     size,
			parent:   parent,
			children: map[*entry]struct{}{},
		}
		if typ == capability.ObjTypeL2CNode {
			cn := capability.CNodeRef{Root: dest.CNode.Root, Addr: s.nextAddr, Level: capability.LevelL2}
			s.nextAddr++
			s.cnodes[cn] = uint32(size / CNodeSlotBytes)
			child.cnode = &cn
		}
		parent.children[child] = struct{}{}
		s.caps[child.ref] = child
	}
	return nil
}

func (s *Space) remove(e *entry) {
	if e.parent != nil {
		delete(e.parent.children, e)
	}
	for c := range e.children {
		c.parent = nil
	}
	if e.cnode != nil {
		delete(s.cnodes, *e.cnode)
	}
	if buf, ok := s.frames[e.ref]; ok {
		// callers may still hold the mapping
		s.retired = append(s.retired, buf)
		delete(s.frames, e.ref)
	}
	delete(s.caps, e.ref)
}

// Destroy implements capability.Provider. Descendants of a destroyed
// capability survive it.
func (s *Space) Destroy(ref capability.Ref) error {
	if err := s.enter(OpDestroy); err != nil {
		return err
	}
	e, err := s.lookup(ref)
	if err != nil {
		return err
	}
	s.remove(e)
	return nil
}

// Revoke implements capability.Provider. It deletes every descendant of ref
// and keeps ref itself.
func (s *Space) Revoke(ref capability.Ref) error {
	if err := s.enter(OpRevoke); err != nil {
		return err
	}
	e, err := s.lookup(ref)
	if err != nil {
		return err
	}
	s.revoke(e)
	return nil
}

func (s *Space) revoke(e *entry) {
	for c := range e.children {
		s.revoke(c)
		s.remove(c)
	}
}

// Identify implements capability.Provider.
func (s *Space) Identify(ref capability.Ref) (capability.Identity, error) {
	if err := s.enter(OpIdentify); err != nil {
		return capability.Identity{}, err
	}
	e, err := s.lookup(ref)
	if err != nil {
		return capability.Identity{}, err
	}
	return capability.Identity{Type: e.typ, Base: e.base, Size: e.size}, nil
}

// NewCNode retypes the RAM capability ram into an L2 cnode whose capability is
// kept in an internal root cnode, and returns the new cnode's address.
func (s *Space) NewCNode(ram capability.Ref) (capability.CNodeRef, error) {
	e, err := s.lookup(ram)
	if err != nil {
		return capability.CNodeRef{}, err
	}
	dest := capability.Ref{CNode: rootCNode, Slot: s.rootSlot}
	if err := s.Retype(dest, ram, 0, capability.ObjTypeL2CNode, e.size, 1); err != nil {
		return capability.CNodeRef{}, errors.Wrap(err, "create cnode")
	}
	s.rootSlot++
	return *s.caps[dest].cnode, nil
}

// Map returns memory backing the RAM or frame capability ref. Repeated calls
// return the same bytes until the capability is destroyed or revoked. The
// memory stays valid until Close.
func (s *Space) Map(ref capability.Ref) ([]byte, error) {
	e, err := s.lookup(ref)
	if err != nil {
		return nil, err
	}
	if e.typ != capability.ObjTypeRAM && e.typ != capability.ObjTypeFrame {
		return nil, errors.Wrapf(ErrType, "map %s", e.typ)
	}
	if e.size > maxMapBytes {
		return nil, errors.Newf("capsim: refusing to back %d bytes", e.size)
	}
	if buf, ok := s.frames[ref]; ok {
		return buf, nil
	}
	buf := mcache.Malloc(int(e.size))
	s.frames[ref] = buf
	return buf, nil
}

// Close returns all mapped memory to the pool. Nothing obtained from Map may
// be used afterwards.
func (s *Space) Close() {
	for _, buf := range s.retired {
		mcache.Free(buf)
	}
	for ref, buf := range s.frames {
		mcache.Free(buf)
		delete(s.frames, ref)
	}
	s.retired = nil
}

// Has reports whether ref holds a capability.
func (s *Space) Has(ref capability.Ref) bool {
	_, ok := s.caps[ref]
	return ok
}

// Len returns the number of live capabilities.
func (s *Space) Len() int {
	return len(s.caps)
}

// Children returns the identities of the direct descendants of ref, ordered by base.
func (s *Space) Children(ref capability.Ref) []capability.Identity {
	e, ok := s.caps[ref]
	if !ok {
		return nil
	}
	ret := make([]capability.Identity, 0, len(e.children))
	for c := range e.children {
		ret = append(ret, capability.Identity{Type: c.typ, Base: c.base, Size: c.size})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Base < ret[j].Base })
	return ret
}

var _ capability.Provider = (*Space)(nil)
