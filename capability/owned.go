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

package capability

import "github.com/cockroachdb/errors"

// Owned is a capability whose lifetime belongs to the holder.
// It is consumed by exactly one call to Destroy or RevokeAndDestroy; any
// later release returns ErrReleased and does not reach the provider.
type Owned struct {
	ref      Ref
	released bool
}

// Own takes ownership of ref.
func Own(ref Ref) Owned {
	return Owned{ref: ref}
}

// Ref returns the underlying reference.
func (o *Owned) Ref() Ref {
	return o.ref
}

// Released reports whether o has been consumed.
func (o *Owned) Released() bool {
	return o.released
}

// Destroy releases the capability slot.
// A failed destroy still consumes o.
func (o *Owned) Destroy(p Provider) error {
	if o.released {
		return errors.Wrapf(ErrReleased, "destroy %s", o.ref)
	}
	o.released = true
	if err := p.Destroy(o.ref); err != nil {
		return errors.Mark(errors.Wrapf(err, "destroy %s", o.ref), ErrDestroy)
	}
	return nil
}

// RevokeAndDestroy invalidates every descendant of the capability and then
// destroys it. o is consumed only if the revoke succeeds.
func (o *Owned) RevokeAndDestroy(p Provider) error {
	if o.released {
		return errors.Wrapf(ErrReleased, "revoke %s", o.ref)
	}
	if err := p.Revoke(o.ref); err != nil {
		return errors.Mark(errors.Wrapf(err, "revoke %s", o.ref), ErrRevoke)
	}
	return o.Destroy(p)
}
