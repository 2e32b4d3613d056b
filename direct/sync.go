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

// Cache synchronization around device/CPU ownership transfer. These calls
// are pure orchestration of the bounce copies and the architecture cache
// primitives; the underlying operations cannot fail.
//
// Hand-off to the device refreshes the bounce slot before flushing, so the
// device reads current data. Hand-off to the CPU invalidates before the
// bounce copy-out, so the copy lands in clean lines.

// SyncForDevice transfers ownership of a mapped range to the device.
func (m *Mapper) SyncForDevice(dev *Device, bus BusAddr, size uint64, dir Direction) {
	phys := m.addr.ToPhys(bus)

	if m.bounce.IsSlot(phys) {
		m.bounce.CopyIn(phys, size, dir)
	}
	if !dev.Coherent {
		m.cache.FlushForDevice(phys, size, dir)
	}
}

// SyncForCPU transfers ownership of a mapped range back to the CPU.
func (m *Mapper) SyncForCPU(dev *Device, bus BusAddr, size uint64, dir Direction) {
	phys := m.addr.ToPhys(bus)

	if !dev.Coherent {
		m.cache.InvalidateForCPU(phys, size, dir)
		m.cache.InvalidateBarrier()
	}
	if m.bounce.IsSlot(phys) {
		m.bounce.CopyOut(phys, size, dir)
	}
}

// SyncScatterForDevice transfers ownership of every mapped segment to the
// device.
func (m *Mapper) SyncScatterForDevice(dev *Device, sgl []ScatterEntry, dir Direction) {
	for i := range sgl {
		phys := m.addr.ToPhys(sgl[i].Bus)
		if m.bounce.IsSlot(phys) {
			m.bounce.CopyIn(phys, sgl[i].BusLength, dir)
		}
		if !dev.Coherent {
			m.cache.FlushForDevice(phys, sgl[i].BusLength, dir)
		}
	}
}

// SyncScatterForCPU transfers ownership of every mapped segment back to
// the CPU. The post-invalidate barrier runs once for the whole list, after
// the per-segment work.
func (m *Mapper) SyncScatterForCPU(dev *Device, sgl []ScatterEntry, dir Direction) {
	for i := range sgl {
		phys := m.addr.ToPhys(sgl[i].Bus)
		if !dev.Coherent {
			m.cache.InvalidateForCPU(phys, sgl[i].BusLength, dir)
		}
		if m.bounce.IsSlot(phys) {
			m.bounce.CopyOut(phys, sgl[i].BusLength, dir)
		}
	}
	if !dev.Coherent {
		m.cache.InvalidateBarrier()
	}
}
