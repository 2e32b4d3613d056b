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

// Package direct maps host memory for peripheral devices without an
// IOMMU: bus addresses are physical addresses shifted by a fixed platform
// offset. The mapper allocates coherent buffers under a device's
// addressing limits, bridges unreachable buffers through a bounce pool,
// and orders cache maintenance around device/CPU hand-off.
//
// The mapper itself holds no locks and may be called concurrently on
// independent buffers. For any single buffer the caller must keep the
// allocate/map, sync, free/unmap order; the mapper does not enforce it.
package direct

import "fmt"

// Config assembles a Mapper. It is read once by New; the resulting Mapper
// never mutates it.
type Config struct {
	// Addr is the platform's physical/bus translation.
	Addr AddressMap
	// Zones is the process-wide zone layout.
	Zones ZoneConfig
	// Caps describes the optional platform facilities.
	Caps Capabilities
	// MaxFrame is one past the highest physical frame number backed by
	// memory.
	MaxFrame uint64

	// Collaborators. Any of these may be nil; absent ones behave as an
	// unavailable capability.
	Pages      PageAllocator
	Contiguous ContiguousAllocator
	Bounce     BouncePool
	AtomicPool AtomicPool
	Cache      CacheOps
	Encryption EncryptionOps
	Remap      RemapService
	Mem        MemOps
	UserMapper UserPageMapper
}

// Mapper is the direct mapping layer. All fields are fixed at
// construction.
type Mapper struct {
	addr     AddressMap
	zones    ZoneConfig
	caps     Capabilities
	maxFrame uint64

	pages  PageAllocator
	contig ContiguousAllocator
	bounce BouncePool
	pool   AtomicPool
	cache  CacheOps
	enc    EncryptionOps
	remap  RemapService
	mem    MemOps
	user   UserPageMapper
}

// New validates cfg and returns a ready Mapper. Collaborators left nil are
// replaced with no-op implementations representing the absent capability.
func New(cfg Config) (*Mapper, error) {
	if cfg.MaxFrame == 0 {
		return nil, fmt.Errorf("config: MaxFrame must cover at least one frame")
	}
	if err := cfg.Zones.validate(); err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}

	m := &Mapper{
		addr:     cfg.Addr,
		zones:    cfg.Zones,
		caps:     cfg.Caps,
		maxFrame: cfg.MaxFrame,
		pages:    cfg.Pages,
		contig:   cfg.Contiguous,
		bounce:   cfg.Bounce,
		pool:     cfg.AtomicPool,
		cache:    cfg.Cache,
		enc:      cfg.Encryption,
		remap:    cfg.Remap,
		mem:      cfg.Mem,
		user:     cfg.UserMapper,
	}

	if m.pages == nil {
		m.pages = nopPages{}
	}
	if m.contig == nil {
		m.contig = nopContiguous{}
	}
	if m.bounce == nil {
		m.bounce = nopBounce{}
	}
	if m.pool == nil {
		m.pool = nopAtomicPool{}
	}
	if m.cache == nil {
		m.cache = nopCache{}
	}
	if m.enc == nil {
		m.enc = nopEncryption{}
	}
	if m.remap == nil {
		m.remap = nopRemap{}
	}
	if m.mem == nil {
		m.mem = nopMem{}
	}
	if m.user == nil {
		m.user = nopUserMapper{}
	}
	return m, nil
}

// deviceAddress translates phys to the bus address the device must use,
// accounting for forced-unencrypted access.
func (m *Mapper) deviceAddress(dev *Device, phys PhysAddr) BusAddr {
	if m.enc.Forced(dev) {
		return m.addr.ToBusUnencrypted(phys)
	}
	return m.addr.ToBus(phys)
}

// addressable reports whether the device can reach the whole of
// [bus, bus+size). The bus limit participates unless the call site opts
// out (resource ranges sit outside the bus hierarchy's RAM routing).
func (m *Mapper) addressable(dev *Device, bus BusAddr, size uint64, withBusLimit bool) bool {
	if size == 0 {
		return false
	}
	end := bus + BusAddr(size) - 1
	if end < bus {
		return false
	}
	limit := dev.Mask
	if withBusLimit {
		limit = minNotZero(dev.Mask, dev.BusLimit)
	}
	if limit == 0 {
		return false
	}
	return end <= limit
}

// highmem reports whether any part of [base, base+size) lies outside the
// linear map.
func (m *Mapper) highmem(base PhysAddr, size uint64) bool {
	return m.caps.LinearMapLimit != 0 && base+PhysAddr(size) > m.caps.LinearMapLimit
}
