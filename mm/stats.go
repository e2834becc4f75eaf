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
	"github.com/samber/lo"

	"github.com/cloudwego/capmm/capability"
	"github.com/cloudwego/capmm/container/slab"
)

// NodeInfo is a snapshot of one node.
type NodeInfo struct {
	Kind    Kind
	Base    uint64
	Size    uint64
	Root    int
	RootCap capability.Ref
}

// Nodes returns every node in list order.
func (m *Manager) Nodes() []NodeInfo {
	if m.check() != nil {
		return nil
	}
	var ret []NodeInfo
	for h := m.head; h != slab.Null; h = m.node(h).next {
		n := m.node(h)
		ret = append(ret, NodeInfo{
			Kind:    n.kind,
			Base:    n.base,
			Size:    n.size,
			Root:    int(n.root),
			RootCap: m.roots[n.root].cap.Ref(),
		})
	}
	return ret
}

// Stats summarizes a Manager.
type Stats struct {
	Regions        int
	Managed        uint64
	FreeBytes      uint64
	AllocatedBytes uint64
	FreeNodes      int
	AllocatedNodes int
	LargestFree    uint64

	Allocs    uint64
	Frees     uint64
	Rollbacks uint64

	Slab slab.Stats
}

// Stats returns current usage figures.
func (m *Manager) Stats() Stats {
	if m.check() != nil {
		return Stats{}
	}
	nodes := m.Nodes()
	free, allocated := lo.FilterReject(nodes, func(n NodeInfo, _ int) bool { return n.Kind == Free })
	size := func(n NodeInfo) uint64 { return n.Size }

	s := Stats{
		Regions:        len(m.roots),
		FreeBytes:      lo.SumBy(free, size),
		AllocatedBytes: lo.SumBy(allocated, size),
		FreeNodes:      len(free),
		AllocatedNodes: len(allocated),
		Allocs:         m.counters.allocs,
		Frees:          m.counters.frees,
		Rollbacks:      m.counters.rollbacks,
		Slab:           m.nodes.Stats(),
	}
	s.Managed = s.FreeBytes + s.AllocatedBytes
	if len(free) > 0 {
		s.LargestFree = lo.MaxBy(free, func(a, b NodeInfo) bool { return a.Size > b.Size }).Size
	}
	return s
}
