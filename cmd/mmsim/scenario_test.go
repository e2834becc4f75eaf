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
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBasic(t *testing.T) {
	sc, err := LoadScenario("testdata/basic.yaml")
	require.NoError(t, err)
	assert.Equal(t, "warning", sc.Config.LogLevel)
	assert.Equal(t, uint64(4096), sc.Config.PageSize)
	require.Len(t, sc.Regions, 3)
	require.Len(t, sc.Ops, 10)

	log, _ := test.NewNullLogger()
	var out bytes.Buffer
	require.NoError(t, Run(&out, sc, log))

	got := out.String()
	// the first allocation is preceded by the spare slot cnode at 0
	assert.Contains(t, got, "[0x4000, 0x5000)")
	assert.Contains(t, got, "[0x6000, 0x7000)")
	assert.Contains(t, got, "validate ok")
	assert.Contains(t, got, "dump     2 nodes, 1032192 bytes free")
	assert.Contains(t, got, "allocated [0x0, 0x4000) root 0")
	assert.Contains(t, got, "free      [0x4000, 0x100000) root 0")
	assert.Contains(t, got, "huge       failed as expected")
	assert.Contains(t, got, "leaving 1 allocations: [e]")
	assert.True(t, strings.HasSuffix(got, "closed, 0 capabilities left\n"))
}

func TestRunFaultOnFirstAlloc(t *testing.T) {
	sc, err := ParseScenario(strings.NewReader(`
regions:
  - {type: empty, base: 0x0, size: 0x100000}
ops:
  - {op: alloc, name: a, size: 0x1000, fail: retype, expect: retype}
  - {op: alloc, name: b, size: 0x1000}
  - {op: validate}
`))
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	var out bytes.Buffer
	require.NoError(t, Run(&out, sc, log))

	got := out.String()
	assert.Contains(t, got, "a          failed as expected")
	// the slot cnode was made before the fault was armed
	assert.Contains(t, got, "b          [0x4000, 0x5000)")
	assert.Contains(t, got, "validate ok")
}

func TestParseScenario(t *testing.T) {
	t.Setenv("CAPMM_SLAB_REFILL_THRESHOLD", "16")
	sc, err := ParseScenario(strings.NewReader(`
config:
  page_size: 8192
regions:
  - {type: empty, base: 0x0, size: 0x10000}
`))
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), sc.Config.PageSize)
	assert.Equal(t, 16, sc.Config.SlabRefillThreshold)
	assert.Equal(t, 64, sc.Config.StaticSlabRecords)

	_, err = ParseScenario(strings.NewReader("ops:\n  - {op: alloc, fail: reboot}\n"))
	assert.Error(t, err)
	_, err = ParseScenario(strings.NewReader("ops:\n  - {op: alloc, expect: luck}\n"))
	assert.Error(t, err)
}

func TestRunFailures(t *testing.T) {
	log, _ := test.NewNullLogger()
	tests := []struct {
		name string
		in   string
	}{
		{"unknown op", "regions: [{type: empty, base: 0, size: 0x10000}]\nops: [{op: defrag}]\n"},
		{"unexpected success", "regions: [{type: empty, base: 0, size: 0x100000}]\nops: [{op: alloc, name: a, size: 0x1000, expect: no_fit}]\n"},
		{"free unknown", "regions: [{type: empty, base: 0, size: 0x10000}]\nops: [{op: free, name: a}]\n"},
		{"duplicate name", "regions: [{type: empty, base: 0, size: 0x100000}]\nops: [{op: alloc, name: a, size: 0x1000}, {op: alloc, name: a, size: 0x1000}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := ParseScenario(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Error(t, Run(&bytes.Buffer{}, sc, log))
		})
	}
}
