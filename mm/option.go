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
	"github.com/sirupsen/logrus"

	"github.com/cloudwego/capmm/container/slab"
)

// BasePageSize is the default allocation granularity of Alloc.
const BasePageSize = 4096

// DefaultRefillThreshold is the free record count below which the node slab
// is refilled before an operation that needs records.
const DefaultRefillThreshold = 2

// RefillFunc supplies memory to the manager's node slab.
// It may allocate from m itself; see PageRefill.
type RefillFunc func(m *Manager, g slab.Grower) error

// Option ...
type Option struct {
	// SlabRefill is called when the node slab runs low.
	// If nil, the slab only grows through GrowSlab.
	SlabRefill RefillFunc

	// PageSize is the alignment Alloc uses. Must be a power of two.
	PageSize uint64

	// RefillThreshold is the free record count under which the slab is
	// refilled ahead of an operation.
	// A SlabRefill that allocates from the manager itself needs a threshold of
	// at least 4, so the nested allocation still finds the two records a split
	// may take.
	RefillThreshold int

	// Logger receives debug traces and warnings. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		PageSize:        BasePageSize,
		RefillThreshold: DefaultRefillThreshold,
	}
}
