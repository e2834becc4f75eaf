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

var (
	// ErrRetype marks failures reported by Provider.Retype.
	ErrRetype = errors.New("capability: retype failed")

	// ErrDestroy marks failures reported by Provider.Destroy.
	ErrDestroy = errors.New("capability: destroy failed")

	// ErrRevoke marks failures reported by Provider.Revoke.
	ErrRevoke = errors.New("capability: revoke failed")

	// ErrIdentify marks failures reported by Provider.Identify.
	ErrIdentify = errors.New("capability: identify failed")

	// ErrReleased is returned when an Owned capability is released twice.
	ErrReleased = errors.New("capability: already released")
)
