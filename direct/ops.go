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

// The mapper layers on top of a set of external collaborators. All of
// them are assumed to provide their own synchronization; the mapper holds
// no locks of its own. Collaborators left nil in the Config are replaced
// by no-op implementations representing an absent platform capability.

// PageAllocator hands out page-aligned power-of-two page runs from a
// given zone.
type PageAllocator interface {
	// AllocPages returns the base of 1<<order pages placed in the given
	// zone, honoring the affinity hint where possible.
	AllocPages(zone Zone, node int, order int) (PhysAddr, error)
}

// ContiguousAllocator carves contiguous physical regions. Its Release
// method must also accept memory that originated from the PageAllocator;
// the mapper frees both provenances through it.
type ContiguousAllocator interface {
	Alloc(size uint64, zone Zone) (PhysAddr, error)
	Release(base PhysAddr, size uint64)
}

// BouncePool relays transfers through always-addressable intermediary
// slots. Slot placement and eviction are the pool's business; the mapper
// only decides when bouncing is required.
type BouncePool interface {
	// Map reserves a slot for a transfer of size bytes originally aimed
	// at orig, performing the initial copy implied by dir, and returns
	// the slot's physical address.
	Map(orig PhysAddr, size uint64, dir Direction, attrs Attr) (PhysAddr, error)
	// Unmap releases a slot, copying out any pending device-written data
	// as implied by dir.
	Unmap(slot PhysAddr, origSize, mappedSize uint64, dir Direction, attrs Attr)
	// CopyIn refreshes the slot from the original buffer ahead of device
	// access.
	CopyIn(slot PhysAddr, size uint64, dir Direction)
	// CopyOut publishes the slot's content back to the original buffer
	// after device access.
	CopyOut(slot PhysAddr, size uint64, dir Direction)
	// IsSlot reports whether p lies within the pool.
	IsSlot(p PhysAddr) bool
	// Active reports whether the pool exists at all.
	Active() bool
	// Forced reports the global override that routes every transfer
	// through the pool regardless of addressability.
	Forced() bool
	// MaxTransferSize is the largest single transfer the pool can relay.
	MaxTransferSize(dev *Device) uint64
}

// AtomicPool serves coherent allocations on paths that must not block,
// from pre-reserved uncached memory.
type AtomicPool interface {
	Alloc(size uint64) (VirtAddr, PhysAddr, error)
	Free(v VirtAddr, size uint64) bool
}

// CacheOps are the architecture cache maintenance primitives. They cannot
// fail.
type CacheOps interface {
	// FlushForDevice writes dirty lines covering the range back to memory
	// before the device reads it.
	FlushForDevice(p PhysAddr, size uint64, dir Direction)
	// InvalidateForCPU discards stale lines covering the range after the
	// device wrote it.
	InvalidateForCPU(p PhysAddr, size uint64, dir Direction)
	// InvalidateBarrier completes all outstanding invalidations.
	InvalidateBarrier()
	// PrepareCoherent removes dirty lines on the kernel alias of a page
	// run about to be handed out as a coherent buffer.
	PrepareCoherent(p PhysAddr, size uint64)
}

// EncryptionOps toggle a physical range between the platform's encrypted
// and shared (unencrypted) states.
type EncryptionOps interface {
	MarkDecrypted(p PhysAddr, size uint64)
	MarkEncrypted(p PhysAddr, size uint64)
	// Forced reports whether the device must access memory unencrypted.
	Forced(dev *Device) bool
}

// RemapService builds uncached virtual views of physical ranges.
type RemapService interface {
	// Remap returns an uncached virtual alias covering size bytes at
	// base.
	Remap(base PhysAddr, size uint64) (VirtAddr, error)
	// Unmap releases an alias created by Remap.
	Unmap(v VirtAddr)
	// UncachedAlias converts a linear address to the platform's uncached
	// segment alias of the same memory.
	UncachedAlias(v VirtAddr) VirtAddr
}

// MemOps expose the CPU's view of allocated memory: the linear mapping and
// bulk clearing. Separated from CacheOps so hosted test backends can
// observe buffer contents.
type MemOps interface {
	// Linear returns the linear-map address of p. Only valid for memory
	// below the linear-map limit.
	Linear(p PhysAddr) VirtAddr
	// Zero clears size bytes at v.
	Zero(v VirtAddr, size uint64)
}

// UserPageMapper establishes a run of direct page mappings in a user
// address range. The single call hides all page-table mechanics.
type UserPageMapper interface {
	MapRange(rng UserRange, firstFrame uint64) error
}

// Capabilities records which optional platform facilities exist. Absent
// facilities make the corresponding collaborator a no-op and steer the
// allocator to mechanisms that do not need them.
type Capabilities struct {
	// Remap is true when RemapService can build uncached aliases.
	Remap bool
	// UncachedSegment is true when the platform has an uncached alias of
	// the whole linear map.
	UncachedSegment bool
	// NonCoherentMmap is true when non-coherent buffers may be exposed to
	// user space.
	NonCoherentMmap bool
	// LinearMapLimit is the first physical address outside the linear
	// map; memory at or above it is highmem. Zero means the whole of
	// memory is linearly mapped.
	LinearMapLimit PhysAddr
}

// errNoCapability is returned by the no-op collaborators standing in for
// absent platform facilities.
var errNoCapability = errors.New("platform capability not present")

type nopPages struct{}

func (nopPages) AllocPages(Zone, int, int) (PhysAddr, error) { return 0, errNoCapability }

type nopContiguous struct{}

func (nopContiguous) Alloc(uint64, Zone) (PhysAddr, error) { return 0, errNoCapability }
func (nopContiguous) Release(PhysAddr, uint64) {}

type nopBounce struct{}

func (nopBounce) Map(PhysAddr, uint64, Direction, Attr) (PhysAddr, error) {
	return 0, errNoCapability
}
func (nopBounce) Unmap(PhysAddr, uint64, uint64, Direction, Attr) {}
func (nopBounce) CopyIn(PhysAddr, uint64, Direction) {}
func (nopBounce) CopyOut(PhysAddr, uint64, Direction) {}
func (nopBounce) IsSlot(PhysAddr) bool { return false }
func (nopBounce) Active() bool { return false }
func (nopBounce) Forced() bool { return false }
func (nopBounce) MaxTransferSize(*Device) uint64 { return 0 }

type nopAtomicPool struct{}

func (nopAtomicPool) Alloc(uint64) (VirtAddr, PhysAddr, error) { return 0, 0, errNoCapability }
func (nopAtomicPool) Free(VirtAddr, uint64) bool { return false }

type nopCache struct{}

func (nopCache) FlushForDevice(PhysAddr, uint64, Direction) {}
func (nopCache) InvalidateForCPU(PhysAddr, uint64, Direction) {}
func (nopCache) InvalidateBarrier() {}
func (nopCache) PrepareCoherent(PhysAddr, uint64) {}

type nopEncryption struct{}

func (nopEncryption) MarkDecrypted(PhysAddr, uint64) {}
func (nopEncryption) MarkEncrypted(PhysAddr, uint64) {}
func (nopEncryption) Forced(*Device) bool { return false }

type nopRemap struct{}

func (nopRemap) Remap(PhysAddr, uint64) (VirtAddr, error) { return 0, errNoCapability }
func (nopRemap) Unmap(VirtAddr) {}
func (nopRemap) UncachedAlias(v VirtAddr) VirtAddr { return v }

type nopMem struct{}

func (nopMem) Linear(p PhysAddr) VirtAddr { return VirtAddr(p) }
func (nopMem) Zero(VirtAddr, uint64) {}

type nopUserMapper struct{}

func (nopUserMapper) MapRange(UserRange, uint64) error { return errNoCapability }
