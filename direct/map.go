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

import "k8s.io/klog/v2"

// directPossible reports whether a transfer can go straight to memory,
// without the bounce pool.
func (m *Mapper) directPossible(dev *Device, bus BusAddr, size uint64) bool {
	return !m.bounce.Forced() && m.addressable(dev, bus, size, true)
}

// reportAddr emits the once-per-device diagnostic for a failed mapping.
// Devices with narrow masks are expected to overflow and stay quiet.
func (m *Mapper) reportAddr(dev *Device, bus BusAddr, size uint64, attrs Attr) {
	if attrs.Has(AttrNoWarn) {
		return
	}
	dev.diag.Do(func() {
		switch {
		case dev.Mask == 0:
			klog.Errorf("%s: mapping attempted without an addressing mask", dev.Name)
		case dev.Mask >= BitMask(32) || dev.BusLimit != 0:
			klog.Errorf("%s: overflow %#x+%d of mask %#x bus limit %#x",
				dev.Name, uint64(bus), size, uint64(dev.Mask), uint64(dev.BusLimit))
		default:
			klog.V(2).Infof("%s: %#x+%d outside %d-wide mask", dev.Name, uint64(bus), size, dev.Mask)
		}
	})
}

// MapSingle makes [phys, phys+size) visible to dev for a transfer in the
// given direction and returns the bus address the device must use. When
// the range is out of the device's reach, or bouncing is globally forced,
// the transfer is bridged through a bounce slot. On failure the returned
// address is MappingError.
func (m *Mapper) MapSingle(dev *Device, phys PhysAddr, size uint64, dir Direction, attrs Attr) (BusAddr, error) {
	bus := m.addr.ToBus(phys)

	if !m.directPossible(dev, bus, size) {
		slot, err := m.bounce.Map(phys, size, dir, attrs)
		if err != nil {
			m.reportAddr(dev, bus, size, attrs)
			return MappingError, ErrNotAddressable
		}
		bus = m.addr.ToBus(slot)
		if !m.addressable(dev, bus, size, true) {
			m.bounce.Unmap(slot, size, size, dir, attrs|AttrSkipCPUSync)
			m.reportAddr(dev, bus, size, attrs)
			return MappingError, ErrNotAddressable
		}
		phys = slot
	}

	if !dev.Coherent && !attrs.Has(AttrSkipCPUSync) {
		m.cache.FlushForDevice(phys, size, dir)
	}
	return bus, nil
}

// UnmapSingle tears down a mapping established by MapSingle, performing
// the CPU-facing synchronization unless suppressed and returning any
// bounce slot to the pool.
func (m *Mapper) UnmapSingle(dev *Device, bus BusAddr, size uint64, dir Direction, attrs Attr) {
	phys := m.addr.ToPhys(bus)

	if !attrs.Has(AttrSkipCPUSync) {
		m.SyncForCPU(dev, bus, size, dir)
	}
	if m.bounce.IsSlot(phys) {
		m.bounce.Unmap(phys, size, size, dir, attrs)
	}
}

// MapResource maps a physical range that is not ordinary memory, such as a
// peripheral's own register window. No cache maintenance applies and the
// range is never bounced; only the device's addressing limit is checked.
// The bus limit does not participate: resource ranges are not routed
// through the RAM path of the bus.
func (m *Mapper) MapResource(dev *Device, phys PhysAddr, size uint64, dir Direction, attrs Attr) (BusAddr, error) {
	bus := BusAddr(phys)

	if !m.addressable(dev, bus, size, false) {
		m.reportAddr(dev, bus, size, attrs)
		return MappingError, ErrNotAddressable
	}
	return bus, nil
}

// UnmapResource releases a mapping established by MapResource. Nothing to
// do in the direct case.
func (m *Mapper) UnmapResource(dev *Device, bus BusAddr, size uint64, dir Direction) {
}
