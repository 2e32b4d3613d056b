// Copyright 2025 The dma-direct authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package direct

import "errors"

var (
	// ErrAllocFailed reports that no zone or mechanism produced an
	// addressable coherent buffer of the requested size. No partial
	// buffer remains outstanding.
	ErrAllocFailed = errors.New("no addressable memory for coherent allocation")

	// ErrNotAddressable reports that a physical range cannot be reached
	// by the device and bounce bridging was unavailable or exhausted.
	ErrNotAddressable = errors.New("address outside device reach and bounce pool unavailable")

	// ErrRange reports a user-space mapping request outside the buffer's
	// page extent.
	ErrRange = errors.New("user mapping outside buffer pages")
)
