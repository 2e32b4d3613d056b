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

// UserRange identifies the window of a coherent buffer a user mapping
// request asks for, in whole pages.
type UserRange struct {
	// PageOffset is the first buffer page to expose.
	PageOffset uint64
	// Pages is the number of user pages requested.
	Pages uint64
}

// CanMmap reports whether coherent buffers for dev may be exposed to user
// address space at all.
func (m *Mapper) CanMmap(dev *Device) bool {
	return dev.Coherent || m.caps.NonCoherentMmap
}

// MmapCoherent exposes a window of an allocated coherent buffer to user
// space through a single direct page-range mapping. The request fails
// with ErrRange when the window exceeds the buffer's page extent.
func (m *Mapper) MmapCoherent(dev *Device, rng UserRange, bus BusAddr, size uint64) error {
	count := PageAlign(size) >> PageShift
	frame := m.addr.ToPhys(bus).Frame()

	if rng.PageOffset >= count || rng.Pages > count-rng.PageOffset {
		return ErrRange
	}
	return m.user.MapRange(rng, frame+rng.PageOffset)
}
