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

import (
	"math"
	"math/bits"
)

// RequiredMask returns the smallest mask of the form 2^k-1 that lets dev
// reach every byte of physical memory directly.
func (m *Mapper) RequiredMask(dev *Device) BusAddr {
	maxBus := m.deviceAddress(dev, PhysAddr((m.maxFrame-1)<<PageShift))
	if maxBus == 0 {
		return BitMask(PageShift)
	}
	// Round down to a power of two, double, subtract one: the next
	// all-ones value covering maxBus.
	return BusAddr(1)<<bits.Len64(uint64(maxBus)) - 1
}

// MaskSupported reports whether a device limited to mask can be served by
// the direct mapping at all. Every platform is expected to satisfy 32-bit
// masks; narrower masks need the restricted zone. The comparison uses the
// unencrypted translation so the encryption bit is not part of the check.
func (m *Mapper) MaskSupported(dev *Device, mask BusAddr) bool {
	minMask := BitMask(32)
	if m.zones.HasRestricted {
		minMask = BitMask(m.zones.restrictedBits())
	}
	if top := BusAddr((m.maxFrame - 1) << PageShift); top < minMask {
		minMask = top
	}
	return mask >= m.addr.ToBusUnencrypted(PhysAddr(minMask))
}

// addressingLimited reports whether dev cannot reach all of physical
// memory directly.
func (m *Mapper) addressingLimited(dev *Device) bool {
	return minNotZero(dev.Mask, dev.BusLimit) < m.RequiredMask(dev)
}

// MaxMappingSize returns the largest single transfer MapSingle can accept
// for dev. Only bouncing constrains it: an addressing-limited device, or a
// forced-bounce configuration, is capped by the pool's slot capacity.
func (m *Mapper) MaxMappingSize(dev *Device) uint64 {
	if m.bounce.Active() && (m.addressingLimited(dev) || m.bounce.Forced()) {
		return m.bounce.MaxTransferSize(dev)
	}
	return math.MaxUint64
}
