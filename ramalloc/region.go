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

package ramalloc

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/cloudwego/capmm/capability"
)

// RegionType classifies a physical memory region reported at boot.
type RegionType uint8

const (
	// RegionEmpty is unused RAM. Only empty regions are managed.
	RegionEmpty RegionType = iota
	// RegionModule holds a boot module image.
	RegionModule
	// RegionDevice is device memory.
	RegionDevice
	// RegionPlatformData is memory reserved by the platform.
	RegionPlatformData
)

var regionTypeNames = map[RegionType]string{
	RegionEmpty:        "empty",
	RegionModule:       "module",
	RegionDevice:       "device",
	RegionPlatformData: "platform_data",
}

func (t RegionType) String() string {
	if s, ok := regionTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RegionType(%d)", uint8(t))
}

// UnmarshalText parses the names returned by String.
func (t *RegionType) UnmarshalText(b []byte) error {
	for k, v := range regionTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return errors.Newf("ramalloc: unknown region type %q", b)
}

// MarshalText implements encoding.TextMarshaler.
func (t RegionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// BootRegion is one entry of the boot memory map.
type BootRegion struct {
	Type RegionType `yaml:"type"`
	Base uint64     `yaml:"base"`
	Size uint64     `yaml:"size"`
}

// Minter creates root RAM capabilities.
type Minter interface {
	Mint(ref capability.Ref, base, size uint64) error
}

// BootCap returns the super cnode slot holding the capability of the n-th
// empty region.
func BootCap(n int) capability.Ref {
	return capability.Ref{CNode: capability.SuperCNode, Slot: uint32(n)}
}

// Handover mints a RAM capability for every empty region into consecutive
// super cnode slots, the layout Init expects.
func Handover(m Minter, regions []BootRegion) error {
	n := 0
	for i, r := range regions {
		if r.Type != RegionEmpty {
			continue
		}
		if err := m.Mint(BootCap(n), r.Base, r.Size); err != nil {
			return errors.Wrapf(err, "region %d", i)
		}
		n++
	}
	return nil
}
