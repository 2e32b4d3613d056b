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

import "fmt"

// Zone classifies physical memory by the bus-address ceiling it satisfies.
type Zone int

const (
	// ZoneNormal places no addressing constraint.
	ZoneNormal Zone = iota
	// ZoneLow32 holds memory reachable through 32-bit bus addresses.
	ZoneLow32
	// ZoneRestricted holds memory below the platform's restricted ceiling,
	// for devices with very narrow masks. Scarce; used only when nothing
	// wider satisfies the request.
	ZoneRestricted
)

// String returns a short human-readable name for the zone.
func (z Zone) String() string {
	switch z {
	case ZoneNormal:
		return "normal"
	case ZoneLow32:
		return "low32"
	case ZoneRestricted:
		return "restricted"
	}
	return "invalid"
}

// DefaultRestrictedBits is the conventional width of the restricted zone.
const DefaultRestrictedBits = 24

// ZoneConfig is the process-wide zone layout, fixed before the first
// allocation and read-only afterwards.
type ZoneConfig struct {
	// HasRestricted enables the restricted zone.
	HasRestricted bool
	// RestrictedBits is the bit width of the restricted zone ceiling.
	// Zero selects DefaultRestrictedBits.
	RestrictedBits uint
	// HasLow32 enables the 32-bit zone.
	HasLow32 bool
}

func (z ZoneConfig) validate() error {
	if z.RestrictedBits >= 32 {
		return fmt.Errorf("restricted zone width %d must be below 32 bits", z.RestrictedBits)
	}
	return nil
}

// restrictedBits returns the effective restricted ceiling width.
func (z ZoneConfig) restrictedBits() uint {
	if z.RestrictedBits == 0 {
		return DefaultRestrictedBits
	}
	return z.RestrictedBits
}

// optimalZone returns the preferred placement for an allocation limited by
// mask, together with the physical ceiling the result must stay under.
// The widest zone that could satisfy the limit is tried first; escalation
// to stricter zones happens only when the result proves unaddressable.
func (m *Mapper) optimalZone(dev *Device, mask BusAddr) (Zone, PhysAddr) {
	limit := minNotZero(mask, dev.BusLimit)

	var physLimit PhysAddr
	if m.enc.Forced(dev) {
		physLimit = m.addr.ToPhysUnencrypted(limit)
	} else {
		physLimit = m.addr.ToPhys(limit)
	}

	switch {
	case m.zones.HasRestricted && physLimit <= PhysAddr(BitMask(m.zones.restrictedBits())):
		return ZoneRestricted, physLimit
	case m.zones.HasLow32 && physLimit <= PhysAddr(BitMask(32)):
		return ZoneLow32, physLimit
	}
	return ZoneNormal, physLimit
}

// zoneLadder expands the preferred placement into the ordered list of
// candidates walked when an allocation lands outside the ceiling:
// unrestricted first, then 32-bit, then restricted.
func (m *Mapper) zoneLadder(dev *Device, mask BusAddr) []Zone {
	zone, physLimit := m.optimalZone(dev, mask)

	ladder := []Zone{zone}
	if zone == ZoneNormal && m.zones.HasLow32 && physLimit < PhysAddr(BitMask(64)) {
		ladder = append(ladder, ZoneLow32)
	}
	if zone != ZoneRestricted && m.zones.HasRestricted {
		ladder = append(ladder, ZoneRestricted)
	}
	return ladder
}
