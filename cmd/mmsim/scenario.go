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

package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/capmm/capability"
	"github.com/cloudwego/capmm/capability/capsim"
	"github.com/cloudwego/capmm/mm"
	"github.com/cloudwego/capmm/ramalloc"
)

// Op is one step of a scenario.
type Op struct {
	Op    string `yaml:"op"`
	Name  string `yaml:"name"`
	Size  uint64 `yaml:"size"`
	Align uint64 `yaml:"align"`
	// Fail injects a provider fault into the next call of the step, e.g.
	// "retype". On alloc steps the allocator refills its slots and slab
	// first, so the fault reaches the allocation itself.
	Fail string `yaml:"fail"`
	// Expect is the error mark the step must fail with, e.g. "no_fit".
	Expect string `yaml:"expect"`
}

// Scenario is a boot memory map plus a list of operations replayed on it.
type Scenario struct {
	Config  ramalloc.Config       `yaml:"config"`
	Regions []ramalloc.BootRegion `yaml:"regions"`
	Ops     []Op                  `yaml:"ops"`
}

var faultOps = map[string]capsim.Op{
	"retype":   capsim.OpRetype,
	"destroy":  capsim.OpDestroy,
	"revoke":   capsim.OpRevoke,
	"identify": capsim.OpIdentify,
}

var errInjected = errors.New("mmsim: injected fault")

var expectMarks = map[string]error{
	"no_fit":   mm.ErrNoFittingRegion,
	"invalid":  mm.ErrInvalidArgument,
	"retype":   mm.ErrRetype,
	"destroy":  mm.ErrDestroy,
	"slab":     mm.ErrSlabExhausted,
	"slot":     mm.ErrSlotAlloc,
	"injected": errInjected,
}

// LoadScenario reads a scenario file. Config fields left out of the file keep
// their defaults; CAPMM_* environment variables override both.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open scenario")
	}
	defer f.Close()
	return ParseScenario(f)
}

// ParseScenario decodes a scenario from r.
func ParseScenario(r io.Reader) (*Scenario, error) {
	sc := &Scenario{Config: *ramalloc.DefaultConfig()}
	if err := yaml.NewDecoder(r).Decode(sc); err != nil {
		return nil, errors.Wrap(err, "decode scenario")
	}
	if err := sc.Config.FromEnv(); err != nil {
		return nil, err
	}
	for i, op := range sc.Ops {
		if op.Fail != "" {
			if _, ok := faultOps[op.Fail]; !ok {
				return nil, errors.Newf("op %d: unknown fault %q", i, op.Fail)
			}
		}
		if op.Expect != "" {
			if _, ok := expectMarks[op.Expect]; !ok {
				return nil, errors.Newf("op %d: unknown expectation %q", i, op.Expect)
			}
		}
	}
	return sc, nil
}

type runner struct {
	w     io.Writer
	space *capsim.Space
	alloc *ramalloc.Allocator
	live  map[string]capability.Ref
	log   logrus.FieldLogger
}

// Run boots an allocator on a simulated capability space, replays the
// scenario and writes the outcome of every step to w.
func Run(w io.Writer, sc *Scenario, log logrus.FieldLogger) error {
	space := capsim.New()
	defer space.Close()
	if err := ramalloc.Handover(space, sc.Regions); err != nil {
		return err
	}
	a, err := ramalloc.Init(space, sc.Regions, &sc.Config, log)
	if err != nil {
		return err
	}
	r := &runner{
		w:     w,
		space: space,
		alloc: a,
		live:  map[string]capability.Ref{},
		log:   log,
	}
	for i, op := range sc.Ops {
		if op.Fail != "" {
			if op.Op == "alloc" {
				if err := a.Manager().Refill(); err != nil {
					return errors.Wrapf(err, "op %d: refill", i)
				}
			}
			space.InjectFault(faultOps[op.Fail], errInjected)
		}
		err := r.step(op)
		if op.Expect != "" {
			if !errors.Is(err, expectMarks[op.Expect]) {
				return errors.Newf("op %d (%s %s): want %s error, got %v", i, op.Op, op.Name, op.Expect, err)
			}
			fmt.Fprintf(w, "%-8s %-10s failed as expected: %v\n", op.Op, op.Name, err)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "op %d (%s %s)", i, op.Op, op.Name)
		}
	}
	if len(r.live) > 0 {
		names := lo.Keys(r.live)
		sort.Strings(names)
		fmt.Fprintf(w, "leaving %d allocations: %v\n", len(names), names)
	}
	if err := a.Close(); err != nil {
		return errors.Wrap(err, "close allocator")
	}
	fmt.Fprintf(w, "closed, %d capabilities left\n", space.Len())
	return nil
}

func (r *runner) step(op Op) error {
	switch op.Op {
	case "alloc":
		return r.allocate(op)
	case "free":
		ref, ok := r.live[op.Name]
		if !ok {
			return errors.Newf("no allocation named %q", op.Name)
		}
		err := r.alloc.Free(ref)
		if err != nil && !errors.Is(err, mm.ErrDestroy) {
			return err
		}
		// a failed destroy still returns the range
		delete(r.live, op.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.w, "%-8s %-10s %s\n", "free", op.Name, ref)
		return nil
	case "dump":
		r.dump()
		return nil
	case "validate":
		if err := r.alloc.Manager().Validate(); err != nil {
			return err
		}
		fmt.Fprintf(r.w, "%-8s ok\n", "validate")
		return nil
	}
	return errors.Newf("unknown op %q", op.Op)
}

func (r *runner) allocate(op Op) error {
	if _, ok := r.live[op.Name]; ok {
		return errors.Newf("allocation %q exists", op.Name)
	}
	var (
		ref capability.Ref
		err error
	)
	if op.Align == 0 {
		ref, err = r.alloc.Alloc(op.Size)
	} else {
		ref, err = r.alloc.AllocAligned(op.Size, op.Align)
	}
	if err != nil {
		return err
	}
	id, err := r.space.Identify(ref)
	if err != nil {
		return err
	}
	r.live[op.Name] = ref
	fmt.Fprintf(r.w, "%-8s %-10s [%#x, %#x) %s\n", "alloc", op.Name, id.Base, id.End(), ref)
	return nil
}

func (r *runner) dump() {
	nodes := r.alloc.Manager().Nodes()
	lines := lo.Map(nodes, func(n mm.NodeInfo, _ int) string {
		return fmt.Sprintf("  %-9s [%#x, %#x) root %d", n.Kind, n.Base, n.Base+n.Size, n.Root)
	})
	fmt.Fprintf(r.w, "%-8s %d nodes, %d bytes free\n", "dump", len(nodes), r.alloc.Available())
	for _, l := range lines {
		fmt.Fprintln(r.w, l)
	}
}
