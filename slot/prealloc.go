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

// Package slot hands out empty capability slots.
//
// Every capability the memory manager creates needs a slot to live in. The
// Prealloc allocator keeps two cnodes: one it allocates from, and a spare.
// When one fills up, Refill replaces it with a fresh cnode made from memory
// that the manager itself allocates, which is why a refill must run while
// the other cnode still has room.
package slot

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudwego/capmm/capability"
)

var (
	// ErrNoSlots is returned when neither cnode has room for the request.
	ErrNoSlots = errors.New("slot: no free slots")

	// ErrBadSlot is returned when freeing slots this allocator does not own.
	ErrBadSlot = errors.New("slot: slot not owned by allocator")

	// ErrCNodeSource is returned when the cnode source fails during refill.
	ErrCNodeSource = errors.New("slot: cnode source failed")
)

// Allocator hands out count contiguous slots and can be asked to refill ahead
// of demand.
type Allocator interface {
	Alloc(count int) (capability.Ref, error)
	Refill() error
}

// Freer is implemented by allocators that take slots back.
type Freer interface {
	Free(ref capability.Ref, count int) error
}

// CNodeSource creates a fresh L2 cnode with the configured number of slots.
type CNodeSource func() (capability.CNodeRef, error)

type cnodeMeta struct {
	cnode capability.CNodeRef
	valid bool
	used  bitmap
}

func (m *cnodeMeta) free() int {
	if !m.valid {
		return 0
	}
	return m.used.n - m.used.used()
}

// Prealloc is a two-cnode slot allocator. It is not safe for concurrent use.
type Prealloc struct {
	meta    [2]cnodeMeta
	current int
	slots   int

	source    CNodeSource
	refilling bool
	log       logrus.FieldLogger
}

// NewPrealloc creates an allocator over the existing cnode initial with
// slots slots. The spare cnode is created by source on the first Refill.
func NewPrealloc(initial capability.CNodeRef, slots int, source CNodeSource, log logrus.FieldLogger) (*Prealloc, error) {
	if slots <= 0 {
		return nil, errors.Newf("slot: cnode size must be > 0, got %d", slots)
	}
	if source == nil {
		return nil, errors.New("slot: nil cnode source")
	}
	if log == nil {
		log = logrus.StandardLogger().WithField("prefix", "slot")
	}
	p := &Prealloc{
		slots:  slots,
		source: source,
		log:    log,
	}
	p.meta[0] = cnodeMeta{cnode: initial, valid: true, used: newBitmap(slots)}
	return p, nil
}

// Alloc implements Allocator. It switches to the spare cnode when the current
// one cannot satisfy the request.
func (p *Prealloc) Alloc(count int) (capability.Ref, error) {
	if count <= 0 || count > p.slots {
		return capability.NullRef, errors.Newf("slot: invalid count %d", count)
	}
	for i := 0; i < 2; i++ {
		m := &p.meta[p.current]
		if m.valid {
			if idx := m.used.alloc(count); idx >= 0 {
				return capability.Ref{CNode: m.cnode, Slot: uint32(idx)}, nil
			}
		}
		p.current = 1 - p.current
	}
	return capability.NullRef, errors.Wrapf(ErrNoSlots, "%d slots", count)
}

// Free implements Freer.
func (p *Prealloc) Free(ref capability.Ref, count int) error {
	for i := range p.meta {
		m := &p.meta[i]
		if !m.valid || m.cnode != ref.CNode {
			continue
		}
		if int(ref.Slot)+count > m.used.n {
			return errors.Wrapf(ErrBadSlot, "%s +%d", ref, count)
		}
		for s := int(ref.Slot); s < int(ref.Slot)+count; s++ {
			if !m.used.isSet(s) {
				return errors.Wrapf(ErrBadSlot, "%s is not allocated", capability.Ref{CNode: ref.CNode, Slot: uint32(s)})
			}
		}
		m.used.setRange(int(ref.Slot), count, false)
		return nil
	}
	return errors.Wrapf(ErrBadSlot, "%s", ref)
}

// Refill implements Allocator. It replaces every cnode that is missing or
// completely used with a fresh one from the cnode source. A Refill issued
// while one is running returns immediately.
func (p *Prealloc) Refill() error {
	if p.refilling {
		return nil
	}
	p.refilling = true
	defer func() { p.refilling = false }()

	for i := range p.meta {
		m := &p.meta[i]
		if m.valid && m.free() > 0 {
			continue
		}
		cnode, err := p.source()
		if err != nil {
			return errors.Mark(errors.Wrap(err, "refill slot cnode"), ErrCNodeSource)
		}
		p.log.WithField("cnode", cnode.Addr).Debug("slot cnode refilled")
		*m = cnodeMeta{cnode: cnode, valid: true, used: newBitmap(p.slots)}
	}
	return nil
}

// Available returns the number of slots available across both cnodes.
func (p *Prealloc) Available() int {
	return p.meta[0].free() + p.meta[1].free()
}

var (
	_ Allocator = (*Prealloc)(nil)
	_ Freer     = (*Prealloc)(nil)
)
