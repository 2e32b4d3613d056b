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

import "math/bits"

const (
	// PageShift is the width, in bits, of the offset within a page.
	PageShift = 12
	// PageSize is the allocation granule of the physical allocators.
	PageSize = 1 << PageShift
)

// PhysAddr is a CPU physical address.
type PhysAddr uint64

// BusAddr is the address a device uses to reach memory, which may differ
// from the CPU physical address by a fixed offset and an encryption bit.
type BusAddr uint64

// VirtAddr is a CPU-visible handle for a physical range: the linear map
// address, an uncached alias, or a remapped view.
type VirtAddr uint64

// MappingError is the bus address returned by failed mapping attempts. It
// is never a valid mapping result.
const MappingError = ^BusAddr(0)

// Frame returns the physical frame number of p.
func (p PhysAddr) Frame() uint64 {
	return uint64(p) >> PageShift
}

// PageBase returns p rounded down to its page base.
func (p PhysAddr) PageBase() PhysAddr {
	return p &^ (PageSize - 1)
}

// PageAlign rounds n up to a whole number of pages.
func PageAlign(n uint64) uint64 {
	return (n + PageSize - 1) &^ uint64(PageSize-1)
}

// BitMask returns the widest bus address representable in the given number
// of bits.
func BitMask(width uint) BusAddr {
	if width >= 64 {
		return ^BusAddr(0)
	}
	return BusAddr(1)<<width - 1
}

// sizeOrder returns the smallest power-of-two page order covering n bytes.
func sizeOrder(n uint64) int {
	pages := PageAlign(n) >> PageShift
	if pages <= 1 {
		return 0
	}
	return bits.Len64(pages - 1)
}

// minNotZero mirrors the addressing-limit convention: a zero limit means
// "no limit" and never wins the comparison.
func minNotZero(a, b BusAddr) BusAddr {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	}
	return b
}

// AddressMap is the fixed physical/bus translation of the platform. The
// forward and inverse conversions are exact inverses of each other; no
// other arithmetic between the two address families is permitted.
type AddressMap struct {
	// BusOffset is subtracted from a physical address to produce the bus
	// address.
	BusOffset uint64

	// EncryptionBit is set on bus addresses that reference memory through
	// the encrypted view. Zero on platforms without memory encryption.
	EncryptionBit uint64
}

// ToBus translates a physical address to the bus address of its encrypted
// (default) view.
func (a AddressMap) ToBus(p PhysAddr) BusAddr {
	return BusAddr((uint64(p) - a.BusOffset) | a.EncryptionBit)
}

// ToBusUnencrypted translates a physical address to a bus address without
// applying the encryption bit, for devices that require unencrypted
// access to shared memory.
func (a AddressMap) ToBusUnencrypted(p PhysAddr) BusAddr {
	return BusAddr(uint64(p) - a.BusOffset)
}

// ToPhys is the inverse of ToBus.
func (a AddressMap) ToPhys(b BusAddr) PhysAddr {
	return PhysAddr((uint64(b) &^ a.EncryptionBit) + a.BusOffset)
}

// ToPhysUnencrypted is the inverse of ToBusUnencrypted.
func (a AddressMap) ToPhysUnencrypted(b BusAddr) PhysAddr {
	return PhysAddr(uint64(b) + a.BusOffset)
}
