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

// Package capability defines the handles and the authority interface the
// memory manager builds on.
//
// A capability is an unforgeable token that both names a physical resource
// and authorizes operations on it. Retyping a capability carves a narrower
// child capability out of it; revoking invalidates every descendant; destroying
// releases the slot holding it.
package capability

import "fmt"

// Level is the depth of a cnode in the capability space.
type Level uint8

const (
	LevelL0 Level = iota
	LevelL1
	LevelL2
)

// SlotBytes is the memory one cnode slot occupies.
const SlotBytes = 64

// CNodeRef addresses a cnode inside a capability root.
type CNodeRef struct {
	Root  uint32
	Addr  uint32
	Level Level
}

// Ref is a capability reference: one slot of one cnode.
type Ref struct {
	CNode CNodeRef
	Slot  uint32
}

// NullRef is the zero reference. No valid capability lives there.
var NullRef = Ref{}

// Well known cnodes handed over by the kernel at boot.
var (
	// SuperCNode holds one RAM capability per boot memory region.
	SuperCNode = CNodeRef{Root: 1, Addr: 0x10, Level: LevelL2}

	// SlotAllocCNode0 is the first cnode owned by the slot preallocator.
	SlotAllocCNode0 = CNodeRef{Root: 1, Addr: 0x20, Level: LevelL2}
)

// IsNull reports whether r is NullRef.
func (r Ref) IsNull() bool {
	return r == NullRef
}

// At returns the reference offset slots after r within the same cnode.
func (r Ref) At(offset int) Ref {
	r.Slot += uint32(offset)
	return r
}

func (r Ref) String() string {
	return fmt.Sprintf("cap{root=%d cnode=%#x level=%d slot=%d}", r.CNode.Root, r.CNode.Addr, r.CNode.Level, r.Slot)
}

// ObjType is the type of object a capability refers to.
type ObjType uint8

const (
	ObjTypeNull ObjType = iota
	ObjTypeRAM
	ObjTypeFrame
	ObjTypeDevFrame
	ObjTypeL2CNode
)

var objTypeNames = map[ObjType]string{
	ObjTypeNull:     "Null",
	ObjTypeRAM:      "RAM",
	ObjTypeFrame:    "Frame",
	ObjTypeDevFrame: "DevFrame",
	ObjTypeL2CNode:  "L2CNode",
}

func (t ObjType) String() string {
	if s, ok := objTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ObjType(%d)", uint8(t))
}

// Identity is what the authority reports about a capability.
type Identity struct {
	Type ObjType
	Base uint64
	Size uint64
}

// End returns the first address past the identified range.
func (id Identity) End() uint64 {
	return id.Base + id.Size
}

// Provider is the capability authority.
//
// Retype creates count capabilities of type typ, each size bytes, in the
// consecutive slots starting at dest. They cover the range starting offset
// bytes into src.
type Provider interface {
	Retype(dest, src Ref, offset uint64, typ ObjType, size uint64, count int) error
	Destroy(ref Ref) error
	Revoke(ref Ref) error
	Identify(ref Ref) (Identity, error)
}
