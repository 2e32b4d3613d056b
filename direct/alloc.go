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
	"fmt"

	"k8s.io/klog/v2"
)

// Mechanism records how a coherent buffer was produced. The free path
// dispatches on it; it must be handed back exactly as allocated.
type Mechanism int

const (
	// MechPlainPage memory came from the page allocator.
	MechPlainPage Mechanism = iota
	// MechContiguous memory came from the contiguous allocator.
	MechContiguous
	// MechRemapped buffers carry an uncached virtual alias that must be
	// torn down on free.
	MechRemapped
	// MechAtomicPool buffers live in the pre-reserved atomic pool.
	MechAtomicPool
	// MechPageCookie buffers have no CPU mapping; the handle is only a
	// cookie for the free call.
	MechPageCookie
)

// String returns the mechanism tag's name.
func (c Mechanism) String() string {
	switch c {
	case MechPlainPage:
		return "plain-page"
	case MechContiguous:
		return "contiguous-region"
	case MechRemapped:
		return "remapped-uncached"
	case MechAtomicPool:
		return "atomic-pool"
	case MechPageCookie:
		return "page-cookie-only"
	}
	return "invalid"
}

// Buffer is a coherent buffer owned by the mapper's caller between
// AllocCoherent and FreeCoherent. The Mechanism tag is not recoverable
// from the addresses; callers must preserve the whole handle.
type Buffer struct {
	// Phys is the physical base of the underlying pages.
	Phys PhysAddr
	// Bus is the device-visible address of the buffer.
	Bus BusAddr
	// Size is the requested length in bytes.
	Size uint64
	// Virt is the CPU handle: linear address, uncached alias, remapped
	// view, or zero for page-cookie buffers.
	Virt VirtAddr
	// Mechanism tags the allocation path for the free call.
	Mechanism Mechanism
	// Highmem marks pages outside the linear map.
	Highmem bool
}

// needsUncached reports whether a coherent allocation for dev must be
// reachable through an uncached CPU mapping.
func (m *Mapper) needsUncached(dev *Device) bool {
	return !dev.Coherent
}

// coherentOK checks a candidate allocation against the device's coherent
// addressing limits.
func (m *Mapper) coherentOK(dev *Device, base PhysAddr, size uint64) bool {
	bus := m.deviceAddress(dev, base)
	return bus+BusAddr(size)-1 <= minNotZero(dev.coherentMask(), dev.BusLimit)
}

// allocPages obtains page-aligned memory satisfying the device's coherent
// mask: the contiguous allocator is tried once at the optimal placement,
// then the page allocator, escalating down the zone ladder while results
// land outside the ceiling.
func (m *Mapper) allocPages(dev *Device, size uint64) (PhysAddr, Mechanism, error) {
	alloc := PageAlign(size)
	ladder := m.zoneLadder(dev, dev.coherentMask())

	if base, err := m.contig.Alloc(alloc, ladder[0]); err == nil {
		if m.coherentOK(dev, base, size) {
			return base, MechContiguous, nil
		}
		m.contig.Release(base, alloc)
	}

	for i, zone := range ladder {
		base, err := m.pages.AllocPages(zone, dev.Node, sizeOrder(alloc))
		if err != nil {
			klog.V(2).Infof("%s: %s zone exhausted: %v", dev.Name, zone, err)
			return 0, 0, ErrAllocFailed
		}
		if m.coherentOK(dev, base, size) {
			return base, MechPlainPage, nil
		}
		// Misplaced result: give it back and try a stricter zone.
		m.contig.Release(base, alloc)
		if i == len(ladder)-1 {
			return 0, 0, ErrAllocFailed
		}
	}
	return 0, 0, ErrAllocFailed
}

// AllocCoherent allocates a zeroed coherent buffer of size bytes for dev.
// When blocking is false the allocation must not suspend: uncached
// requests are served from the atomic pool or fail. The returned handle
// must be passed unchanged to FreeCoherent.
func (m *Mapper) AllocCoherent(dev *Device, size uint64, blocking bool, attrs Attr) (*Buffer, error) {
	if size == 0 {
		return nil, ErrAllocFailed
	}
	alloc := PageAlign(size)

	if m.caps.Remap && m.needsUncached(dev) && !blocking {
		v, p, err := m.pool.Alloc(alloc)
		if err != nil {
			if !attrs.Has(AttrNoWarn) {
				klog.Warningf("%s: atomic pool exhausted for %d bytes: %v", dev.Name, alloc, err)
			}
			return nil, ErrAllocFailed
		}
		return &Buffer{
			Phys:      p,
			Bus:       m.deviceAddress(dev, p),
			Size:      size,
			Virt:      v,
			Mechanism: MechAtomicPool,
		}, nil
	}

	base, mech, err := m.allocPages(dev, size)
	if err != nil {
		return nil, err
	}

	buf := &Buffer{
		Phys:      base,
		Size:      size,
		Mechanism: mech,
		Highmem:   m.highmem(base, alloc),
	}

	switch {
	case attrs.Has(AttrNoKernelMapping) && !m.enc.Forced(dev):
		// The caller never touches the memory through the CPU; hand back
		// a bare cookie. Stale lines on the kernel alias still have to go.
		if !buf.Highmem {
			m.cache.PrepareCoherent(base, size)
		}
		buf.Mechanism = MechPageCookie

	case m.caps.Remap && (m.needsUncached(dev) || buf.Highmem):
		m.cache.PrepareCoherent(base, alloc)
		v, err := m.remap.Remap(base, alloc)
		if err != nil {
			klog.Warningf("%s: cannot remap %d bytes at %#x: %v", dev.Name, alloc, base, err)
			m.contig.Release(base, alloc)
			return nil, ErrAllocFailed
		}
		m.mem.Zero(v, size)
		buf.Virt = v
		buf.Mechanism = MechRemapped

	case buf.Highmem:
		// Without remap support a highmem page cannot be represented.
		klog.Infof("%s: rejecting highmem page at %#x", dev.Name, base)
		m.contig.Release(base, alloc)
		return nil, ErrAllocFailed

	default:
		v := m.mem.Linear(base)
		if m.enc.Forced(dev) {
			m.enc.MarkDecrypted(base, alloc)
		}
		m.mem.Zero(v, size)
		if m.caps.UncachedSegment && m.needsUncached(dev) {
			m.cache.PrepareCoherent(base, size)
			v = m.remap.UncachedAlias(v)
		}
		buf.Virt = v
	}

	buf.Bus = m.deviceAddress(dev, base)
	return buf, nil
}

// FreeCoherent releases a buffer obtained from AllocCoherent. The handle's
// mechanism tag drives the teardown; it must mirror the allocation
// exactly. A corrupted or mismatched tag is a programming error.
func (m *Mapper) FreeCoherent(dev *Device, buf *Buffer) {
	alloc := PageAlign(buf.Size)

	switch buf.Mechanism {
	case MechPageCookie:
		m.contig.Release(buf.Phys, alloc)
		return

	case MechAtomicPool:
		if !m.pool.Free(buf.Virt, alloc) {
			panic(fmt.Sprintf("atomic-pool buffer %#x not recognized by pool", buf.Virt))
		}
		return

	case MechPlainPage, MechContiguous:
		if m.enc.Forced(dev) {
			m.enc.MarkEncrypted(buf.Phys, alloc)
		}

	case MechRemapped:
		m.remap.Unmap(buf.Virt)

	default:
		panic(fmt.Sprintf("coherent buffer %#x freed with invalid mechanism %d", buf.Phys, buf.Mechanism))
	}

	m.contig.Release(buf.Phys, alloc)
}
