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
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/cloudwego/capmm/container/slab"
)

// Validate walks the node list and reports every broken invariant: list
// linkage, empty nodes, per-root tiling of the registered ranges, and free
// neighbours left unmerged. It returns nil for a consistent manager.
func (m *Manager) Validate() error {
	if err := m.check(); err != nil {
		return err
	}
	var result *multierror.Error

	prev := slab.Null
	seen := 0
	for h := m.head; h != slab.Null; h = m.node(h).next {
		n := m.node(h)
		if n.prev != prev {
			result = multierror.Append(result, errors.Newf("node %#x: prev link %#x, want %#x", n.base, n.prev, prev))
		}
		if n.size == 0 {
			result = multierror.Append(result, errors.Newf("node %#x: empty", n.base))
		}
		if int(n.root) >= len(m.roots) || !m.roots[n.root].live() {
			result = multierror.Append(result, errors.Newf("node %#x: dangling root %d", n.base, n.root))
		}
		if prev != slab.Null && m.mergeable(prev, h) {
			result = multierror.Append(result, errors.Newf("node %#x: free and unmerged with its predecessor", n.base))
		}
		prev = h
		seen++
	}
	if used := m.nodes.Stats().Records - m.nodes.FreeCount(); used != seen {
		result = multierror.Append(result, errors.Newf("%d node records in use, %d linked", used, seen))
	}

	byRoot := lo.GroupBy(m.Nodes(), func(n NodeInfo) int { return n.Root })
	for i := range m.roots {
		r := &m.roots[i]
		if !r.live() {
			continue
		}
		nodes := byRoot[i]
		if len(nodes) == 0 {
			result = multierror.Append(result, errors.Newf("root %d [%#x, %#x): no nodes", i, r.base, r.base+r.size))
			continue
		}
		sort.Slice(nodes, func(a, b int) bool { return nodes[a].Base < nodes[b].Base })
		at := r.base
		for _, n := range nodes {
			if n.Base != at {
				result = multierror.Append(result, errors.Newf("root %d: node at %#x, want %#x", i, n.Base, at))
			}
			at = n.Base + n.Size
		}
		if at != r.base+r.size {
			result = multierror.Append(result, errors.Newf("root %d: nodes end at %#x, want %#x", i, at, r.base+r.size))
		}
	}
	return result.ErrorOrNil()
}
