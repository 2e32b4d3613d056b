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

// ScatterEntry is one segment of a scatter-gather list: a physical range
// on input, extended with its device-visible address once mapped.
type ScatterEntry struct {
	// Phys is the physical start of the segment (page base plus offset).
	Phys PhysAddr
	// Length is the segment's byte length.
	Length uint64

	// Bus and BusLength describe the mapped segment. Populated by
	// MapScatter, cleared again when the segment is unmapped.
	Bus       BusAddr
	BusLength uint64
}

// MapScatter maps every segment of sgl in order. Either the whole list
// maps, and the segment count is returned, or no segment stays mapped and
// the count is zero: on the first failure the already-mapped prefix is
// rolled back with synchronization suppressed, since those segments were
// synced at map time and the device never saw the list.
func (m *Mapper) MapScatter(dev *Device, sgl []ScatterEntry, dir Direction, attrs Attr) (int, error) {
	for i := range sgl {
		bus, err := m.MapSingle(dev, sgl[i].Phys, sgl[i].Length, dir, attrs)
		if err != nil {
			m.UnmapScatter(dev, sgl[:i], dir, attrs|AttrSkipCPUSync)
			return 0, err
		}
		sgl[i].Bus = bus
		sgl[i].BusLength = sgl[i].Length
	}
	return len(sgl), nil
}

// UnmapScatter unmaps every mapped segment of sgl in order and clears the
// mapped addresses. Unmapping cannot fail; no rollback exists or is
// needed.
func (m *Mapper) UnmapScatter(dev *Device, sgl []ScatterEntry, dir Direction, attrs Attr) {
	for i := range sgl {
		m.UnmapSingle(dev, sgl[i].Bus, sgl[i].BusLength, dir, attrs)
		sgl[i].Bus = 0
		sgl[i].BusLength = 0
	}
}

// SGTable wraps one contiguous coherent buffer as a single-entry
// scatter-gather list, for hand-off to callers that consume the generic
// representation. The entry covers the buffer's whole page extent.
func (m *Mapper) SGTable(dev *Device, bus BusAddr, size uint64) []ScatterEntry {
	return []ScatterEntry{{
		Phys:   m.addr.ToPhys(bus).PageBase(),
		Length: PageAlign(size),
	}}
}
