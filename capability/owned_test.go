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

package capability_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/capmm/capability"
	"github.com/cloudwego/capmm/capability/capsim"
)

func TestRef(t *testing.T) {
	assert.True(t, capability.NullRef.IsNull())
	r := capability.Ref{CNode: capability.SuperCNode, Slot: 3}
	assert.False(t, r.IsNull())
	assert.Equal(t, uint32(5), r.At(2).Slot)
	assert.Equal(t, r.CNode, r.At(2).CNode)
	assert.Equal(t, "cap{root=1 cnode=0x10 level=2 slot=3}", r.String())
	assert.Equal(t, "RAM", capability.ObjTypeRAM.String())
	assert.Equal(t, "ObjType(200)", capability.ObjType(200).String())
}

func TestOwnedDestroy(t *testing.T) {
	s := capsim.New()
	ref := capability.Ref{CNode: capability.SuperCNode}
	require.NoError(t, s.Mint(ref, 0, 4096))

	o := capability.Own(ref)
	require.NoError(t, o.Destroy(s))
	assert.True(t, o.Released())
	assert.False(t, s.Has(ref))

	// second release never reaches the provider
	err := o.Destroy(s)
	assert.True(t, errors.Is(err, capability.ErrReleased))
	assert.Equal(t, 1, s.Count(capsim.OpDestroy))
}

func TestOwnedRevokeAndDestroy(t *testing.T) {
	s := capsim.New()
	root := capability.Ref{CNode: capability.SuperCNode}
	child := capability.Ref{CNode: capability.SlotAllocCNode0}
	require.NoError(t, s.Mint(root, 0, 8192))
	require.NoError(t, s.Retype(child, root, 0, capability.ObjTypeRAM, 4096, 1))

	o := capability.Own(root)
	boom := errors.New("boom")
	s.InjectFault(capsim.OpRevoke, boom)
	err := o.RevokeAndDestroy(s)
	assert.True(t, errors.Is(err, capability.ErrRevoke))
	assert.True(t, errors.Is(err, boom))
	assert.False(t, o.Released())

	require.NoError(t, o.RevokeAndDestroy(s))
	assert.Equal(t, 0, s.Len())
}

func TestOwnedDestroyFailureConsumes(t *testing.T) {
	s := capsim.New()
	o := capability.Own(capability.Ref{CNode: capability.SuperCNode})
	err := o.Destroy(s)
	assert.True(t, errors.Is(err, capability.ErrDestroy))
	assert.True(t, errors.Is(err, capsim.ErrEmptySlot))
	assert.True(t, o.Released())
}
