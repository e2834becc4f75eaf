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
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/capmm/capability"
	"github.com/cloudwego/capmm/container/slab"
)

// Mapper makes the memory of a capability accessible.
type Mapper interface {
	Map(ref capability.Ref) ([]byte, error)
}

// PageRefill returns a RefillFunc that grows the node slab with one page
// allocated from the manager itself and mapped through mapper.
//
// Mapped pages are never returned; they die with their root in Destroy.
// Use a RefillThreshold of at least 4 with it.
func PageRefill(mapper Mapper) RefillFunc {
	return func(m *Manager, g slab.Grower) error {
		ref, err := m.AllocMetadata(m.pageSize, m.pageSize)
		if err != nil {
			return errors.Wrap(err, "allocate slab page")
		}
		buf, err := mapper.Map(ref)
		if err != nil {
			if id, ierr := m.authority.Identify(ref); ierr == nil {
				if ferr := m.Free(ref, id.Base, id.Size); ferr != nil {
					m.log.WithError(ferr).Warn("releasing unmapped slab page")
				}
			}
			return errors.Wrapf(err, "map slab page %s", ref)
		}
		if n := g.Grow(buf); n == 0 {
			return errors.Newf("slab page of %d bytes holds no record", len(buf))
		}
		m.log.WithField("cap", ref).Debug("node slab refilled")
		return nil
	}
}
