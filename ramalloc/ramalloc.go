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

// Package ramalloc is the RAM allocator used at boot, before any memory
// service exists. It owns an mm.Manager over every empty boot region and
// hands out RAM capabilities from it.
package ramalloc

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudwego/capmm/capability"
	"github.com/cloudwego/capmm/mm"
	"github.com/cloudwego/capmm/slot"
)

// Platform is what the allocator needs from the system it boots on.
type Platform interface {
	capability.Provider
	mm.Mapper

	// NewCNode turns the RAM capability ram into an L2 cnode.
	NewCNode(ram capability.Ref) (capability.CNodeRef, error)
}

// Allocator is the boot RAM allocator.
type Allocator struct {
	mm       *mm.Manager
	slots    *slot.Prealloc
	platform Platform
	conf     *Config
	log      logrus.FieldLogger

	static []byte
	added  uint64
}

// Init creates the allocator and registers every empty region of regions.
// The capability of the n-th empty region must be in BootCap(n).
// Regions that cannot be added are logged and skipped.
func Init(p Platform, regions []BootRegion, c *Config, log logrus.FieldLogger) (*Allocator, error) {
	if c == nil {
		c = DefaultConfig()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger().WithField("prefix", "ramalloc")
	}

	a := &Allocator{
		platform: p,
		conf:     c,
		log:      log,
	}
	slots, err := slot.NewPrealloc(capability.SlotAllocCNode0, c.CNodeSlots, a.newCNode, log.WithField("prefix", "slot"))
	if err != nil {
		return nil, errors.Wrap(err, "ramalloc: init slot allocator")
	}
	a.slots = slots

	m, err := mm.New(capability.ObjTypeRAM, slots, p, &mm.Option{
		SlabRefill:      mm.PageRefill(p),
		PageSize:        c.PageSize,
		RefillThreshold: c.SlabRefillThreshold,
		Logger:          log.WithField("prefix", "mm"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "ramalloc: init memory manager")
	}
	a.mm = m

	a.static = make([]byte, mm.SlabStaticSize(c.StaticSlabRecords))
	m.GrowSlab(a.static)

	n := 0
	for i, r := range regions {
		if r.Type != RegionEmpty {
			continue
		}
		if err := m.Add(BootCap(n), r.Base, r.Size); err != nil {
			log.WithError(err).Warnf("adding RAM region %d [%#x, +%#x) failed", i, r.Base, r.Size)
		} else {
			a.added += r.Size
		}
		n++
	}
	log.Infof("added %d MB of physical memory", a.added>>20)
	return a, nil
}

// newCNode is the slot allocator's cnode source.
func (a *Allocator) newCNode() (capability.CNodeRef, error) {
	ram, err := a.mm.AllocMetadata(uint64(a.conf.CNodeSlots)*capability.SlotBytes, a.conf.PageSize)
	if err != nil {
		return capability.CNodeRef{}, errors.Wrap(err, "allocate cnode memory")
	}
	cn, err := a.platform.NewCNode(ram)
	if err != nil {
		if ferr := a.Free(ram); ferr != nil {
			a.log.WithError(ferr).Warn("releasing cnode memory")
		}
		return capability.CNodeRef{}, errors.Wrap(err, "create cnode")
	}
	return cn, nil
}

// AllocAligned returns a RAM capability of size bytes aligned to alignment.
func (a *Allocator) AllocAligned(size, alignment uint64) (capability.Ref, error) {
	return a.mm.AllocAligned(size, alignment)
}

// Alloc returns a page aligned RAM capability of size bytes.
func (a *Allocator) Alloc(size uint64) (capability.Ref, error) {
	return a.mm.Alloc(size)
}

// Free returns the memory of cap, a capability obtained from this allocator.
func (a *Allocator) Free(cap capability.Ref) error {
	id, err := a.platform.Identify(cap)
	if err != nil {
		return errors.Wrapf(err, "ramalloc: identify %s", cap)
	}
	return a.mm.Free(cap, id.Base, id.Size)
}

// Added returns the bytes registered at Init.
func (a *Allocator) Added() uint64 {
	return a.added
}

// Available returns the bytes currently free.
func (a *Allocator) Available() uint64 {
	return a.mm.Stats().FreeBytes
}

// Manager returns the underlying manager.
func (a *Allocator) Manager() *mm.Manager {
	return a.mm
}

// Close revokes and destroys every boot capability. Capabilities handed out
// by the allocator are gone afterwards.
func (a *Allocator) Close() error {
	return a.mm.Destroy()
}
