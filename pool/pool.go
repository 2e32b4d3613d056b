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

// Package pool implements a bounce-buffer pool over a fixed arena carved
// into equal slots. Transfers aimed at memory a device cannot reach are
// relayed through runs of contiguous slots; the pool copies data between
// the original buffer and its slots according to the transfer direction.
//
// The pool is safe for concurrent use. It decides nothing about when to
// bounce; that is its caller's business.
package pool

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/firmware-dev/dma-direct/direct"
)

// DefaultSlotSize is the allocation granule of the pool.
const DefaultSlotSize = 2048

// defaultMaxSlots caps a single relayed transfer, keeping one mapping
// from monopolizing the arena.
const defaultMaxSlots = 128

// SystemMemory is the pool's access to the memory it copies to and from.
// The original buffers of bounced transfers live outside the pool's
// arena, so plain slices will not do.
type SystemMemory interface {
	Read(p direct.PhysAddr, b []byte)
	Write(p direct.PhysAddr, b []byte)
}

// Config describes a pool.
type Config struct {
	// Base is the physical address of the arena's first byte. The arena
	// must be reachable by every device the pool serves.
	Base direct.PhysAddr
	// Size is the arena length in bytes.
	Size uint64
	// SlotSize is the allocation granule; zero selects DefaultSlotSize.
	// Must be a power of two.
	SlotSize uint64
	// MaxTransfer caps a single relayed transfer; zero selects
	// defaultMaxSlots slots' worth.
	MaxTransfer uint64
	// Force routes every transfer through the pool, addressable or not.
	Force bool
	// Mem performs the copies between original buffers and slots.
	Mem SystemMemory
}

// mapping is the bookkeeping for one relayed transfer.
type mapping struct {
	orig  direct.PhysAddr
	size  uint64
	slots int
}

// Pool is a bounce pool. It implements direct.BouncePool.
type Pool struct {
	base        direct.PhysAddr
	slotSize    uint64
	maxTransfer uint64
	force       bool
	mem         SystemMemory

	mu        sync.Mutex
	used      []bool
	live      map[direct.PhysAddr]*mapping
	inUse     int
	highWater int
}

// New validates cfg and returns an empty pool.
func New(cfg Config) (*Pool, error) {
	slotSize := cfg.SlotSize
	if slotSize == 0 {
		slotSize = DefaultSlotSize
	}
	if slotSize&(slotSize-1) != 0 {
		return nil, fmt.Errorf("slot size %d is not a power of two", slotSize)
	}
	if cfg.Mem == nil {
		return nil, fmt.Errorf("system memory access is required")
	}

	slots := cfg.Size / slotSize
	maxTransfer := cfg.MaxTransfer
	if maxTransfer == 0 {
		maxTransfer = defaultMaxSlots * slotSize
	}

	return &Pool{
		base:        cfg.Base,
		slotSize:    slotSize,
		maxTransfer: maxTransfer,
		force:       cfg.Force,
		mem:         cfg.Mem,
		used:        make([]bool, slots),
		live:        make(map[direct.PhysAddr]*mapping),
	}, nil
}

// slotCount returns the number of slots covering size bytes.
func (p *Pool) slotCount(size uint64) int {
	return int((size + p.slotSize - 1) / p.slotSize)
}

// findRun locates n contiguous free slots, first fit. Caller holds p.mu.
func (p *Pool) findRun(n int) (int, bool) {
	run := 0
	for i := range p.used {
		if p.used[i] {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1, true
		}
	}
	return 0, false
}

// Map implements direct.BouncePool. It reserves a slot run for a transfer
// of size bytes aimed at orig and performs the initial CPU-side copy
// implied by dir.
func (p *Pool) Map(orig direct.PhysAddr, size uint64, dir direct.Direction, attrs direct.Attr) (direct.PhysAddr, error) {
	if size > p.maxTransfer {
		return 0, fmt.Errorf("transfer of %d bytes exceeds pool maximum %d", size, p.maxTransfer)
	}
	n := p.slotCount(size)

	p.mu.Lock()
	first, ok := p.findRun(n)
	if !ok {
		inUse, total := p.inUse, len(p.used)
		p.mu.Unlock()
		if !attrs.Has(direct.AttrNoWarn) {
			klog.Warningf("bounce pool is full: %d slots wanted, %d of %d in use", n, inUse, total)
		}
		return 0, fmt.Errorf("no run of %d free slots", n)
	}
	for i := first; i < first+n; i++ {
		p.used[i] = true
	}
	p.inUse += n
	if p.inUse > p.highWater {
		p.highWater = p.inUse
	}
	slot := p.base + direct.PhysAddr(uint64(first)*p.slotSize)
	p.live[slot] = &mapping{orig: orig, size: size, slots: n}
	p.mu.Unlock()

	if !attrs.Has(direct.AttrSkipCPUSync) && dir != direct.FromDevice {
		p.copy(orig, slot, size)
	}
	return slot, nil
}

// Unmap implements direct.BouncePool, copying out pending device-written
// data and releasing the slot run.
func (p *Pool) Unmap(slot direct.PhysAddr, origSize, mappedSize uint64, dir direct.Direction, attrs direct.Attr) {
	p.mu.Lock()
	m, ok := p.live[slot]
	p.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("unmap of %#x which is not a live slot", uint64(slot)))
	}

	if !attrs.Has(direct.AttrSkipCPUSync) && dir != direct.ToDevice {
		p.copy(slot, m.orig, mappedSize)
	}

	p.mu.Lock()
	first := int(uint64(slot-p.base) / p.slotSize)
	for i := first; i < first+m.slots; i++ {
		p.used[i] = false
	}
	p.inUse -= m.slots
	delete(p.live, slot)
	p.mu.Unlock()
}

// CopyIn implements direct.BouncePool: refresh the slot from the original
// buffer before the device reads it.
func (p *Pool) CopyIn(slot direct.PhysAddr, size uint64, dir direct.Direction) {
	if dir == direct.FromDevice {
		return
	}
	if m := p.lookup(slot); m != nil {
		p.copy(m.orig, slot, size)
	}
}

// CopyOut implements direct.BouncePool: publish device-written slot data
// back to the original buffer.
func (p *Pool) CopyOut(slot direct.PhysAddr, size uint64, dir direct.Direction) {
	if dir == direct.ToDevice {
		return
	}
	if m := p.lookup(slot); m != nil {
		p.copy(slot, m.orig, size)
	}
}

// IsSlot implements direct.BouncePool.
func (p *Pool) IsSlot(addr direct.PhysAddr) bool {
	return addr >= p.base && addr < p.base+direct.PhysAddr(uint64(len(p.used))*p.slotSize)
}

// Active implements direct.BouncePool.
func (p *Pool) Active() bool {
	return len(p.used) > 0
}

// Forced implements direct.BouncePool.
func (p *Pool) Forced() bool {
	return p.force
}

// MaxTransferSize implements direct.BouncePool.
func (p *Pool) MaxTransferSize(dev *direct.Device) uint64 {
	return p.maxTransfer
}

// InUse returns the number of slots currently reserved.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// HighWater returns the largest number of slots ever reserved at once.
func (p *Pool) HighWater() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highWater
}

func (p *Pool) lookup(slot direct.PhysAddr) *mapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[slot]
}

func (p *Pool) copy(from, to direct.PhysAddr, size uint64) {
	b := make([]byte, size)
	p.mem.Read(from, b)
	p.mem.Write(to, b)
}
