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

//go:build tamago

// Package region backs the mapper's allocator interfaces with tamago DMA
// regions, for bare-metal targets where physical memory windows are
// declared in the board's memory layout.
package region

import (
	"fmt"
	"sync"

	tamadma "github.com/usbarmory/tamago/dma"

	"github.com/firmware-dev/dma-direct/direct"
)

// zoneRegion couples a tamago region with the physical window it was
// created over, so releases can be routed back to their origin.
type zoneRegion struct {
	r     *tamadma.Region
	start direct.PhysAddr
	size  uint64
}

func (z *zoneRegion) contains(p direct.PhysAddr) bool {
	return p >= z.start && p < z.start+direct.PhysAddr(z.size)
}

// reserve wraps the region's allocator, converting its out-of-memory
// panic into an error the zone ladder can act on.
func (z *zoneRegion) reserve(size, align int) (addr uint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("region reservation failed: %v", r)
		}
	}()
	addr, _ = z.r.Reserve(size, align)
	if addr == 0 {
		err = fmt.Errorf("region exhausted")
	}
	return
}

// Allocator implements direct.PageAllocator and direct.ContiguousAllocator
// over one tamago DMA region per zone.
type Allocator struct {
	mu    sync.Mutex
	zones map[direct.Zone]*zoneRegion
}

// NewAllocator returns an allocator with no zones configured.
func NewAllocator() *Allocator {
	return &Allocator{zones: make(map[direct.Zone]*zoneRegion)}
}

// AddZone creates a DMA region over [start, start+size) and serves the
// given zone from it. The window must respect the zone's address ceiling;
// that is the board layout's responsibility.
func (a *Allocator) AddZone(zone direct.Zone, start direct.PhysAddr, size uint64) error {
	r, err := tamadma.NewRegion(uint(start), int(size), false)
	if err != nil {
		return fmt.Errorf("zone %v region at %#x: %v", zone, uint64(start), err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.zones[zone]; ok {
		return fmt.Errorf("zone %v already configured", zone)
	}
	a.zones[zone] = &zoneRegion{r: r, start: start, size: size}
	return nil
}

func (a *Allocator) zone(zone direct.Zone) (*zoneRegion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	z, ok := a.zones[zone]
	if !ok {
		return nil, fmt.Errorf("zone %v not configured", zone)
	}
	return z, nil
}

// AllocPages implements direct.PageAllocator. Runs are reserved at their
// natural alignment.
func (a *Allocator) AllocPages(zone direct.Zone, node int, order int) (direct.PhysAddr, error) {
	z, err := a.zone(zone)
	if err != nil {
		return 0, err
	}
	addr, err := z.reserve(direct.PageSize<<order, direct.PageSize<<order)
	if err != nil {
		return 0, err
	}
	return direct.PhysAddr(addr), nil
}

// Alloc implements direct.ContiguousAllocator. Contiguity is inherent:
// region reservations are single spans.
func (a *Allocator) Alloc(size uint64, zone direct.Zone) (direct.PhysAddr, error) {
	z, err := a.zone(zone)
	if err != nil {
		return 0, err
	}
	addr, err := z.reserve(int(direct.PageAlign(size)), direct.PageSize)
	if err != nil {
		return 0, err
	}
	return direct.PhysAddr(addr), nil
}

// Release implements direct.ContiguousAllocator for memory from any of
// the configured zones.
func (a *Allocator) Release(base direct.PhysAddr, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, z := range a.zones {
		if z.contains(base) {
			z.r.Release(uint(base))
			return
		}
	}
	panic(fmt.Sprintf("release of %#x outside all configured zones", uint64(base)))
}

// AtomicPool implements direct.AtomicPool over a dedicated pre-reserved
// uncached region. On tamago targets the CPU view of the region is its
// physical address.
type AtomicPool struct {
	z zoneRegion
}

// NewAtomicPool creates the pool's region over [start, start+size).
func NewAtomicPool(start direct.PhysAddr, size uint64) (*AtomicPool, error) {
	r, err := tamadma.NewRegion(uint(start), int(size), false)
	if err != nil {
		return nil, fmt.Errorf("atomic pool region at %#x: %v", uint64(start), err)
	}
	return &AtomicPool{z: zoneRegion{r: r, start: start, size: size}}, nil
}

// Alloc implements direct.AtomicPool.
func (p *AtomicPool) Alloc(size uint64) (direct.VirtAddr, direct.PhysAddr, error) {
	addr, err := p.z.reserve(int(direct.PageAlign(size)), direct.PageSize)
	if err != nil {
		return 0, 0, err
	}
	return direct.VirtAddr(addr), direct.PhysAddr(addr), nil
}

// Free implements direct.AtomicPool.
func (p *AtomicPool) Free(v direct.VirtAddr, size uint64) bool {
	if !p.z.contains(direct.PhysAddr(v)) {
		return false
	}
	p.z.r.Release(uint(v))
	return true
}
