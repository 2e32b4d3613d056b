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

// Package testonly provides byte-backed, instrumented collaborators for
// mapper tests: a fake physical memory arena, placement-controlled
// allocators, and recorders for the cache, encryption, remap, and
// user-mapping operations. Instrumentation counters let tests verify that
// every teardown returns to baseline.
package testonly

import (
	"fmt"
	"sync"

	"github.com/firmware-dev/dma-direct/direct"
)

// Virtual-address tag bits used by the fake remapper. The arena strips
// them, so a tagged address still resolves to its backing bytes.
const (
	// RemapTag marks addresses returned by Remapper.Remap.
	RemapTag = direct.VirtAddr(1) << 60
	// UncachedTag marks uncached segment aliases.
	UncachedTag = direct.VirtAddr(1) << 59

	virtTags = RemapTag | UncachedTag
)

// Arena is a span of fake physical memory backed by ordinary bytes. It
// implements direct.MemOps with an identity linear map (virtual address ==
// physical address, modulo tags).
type Arena struct {
	// Base is the physical address of the first byte.
	Base direct.PhysAddr

	mu  sync.Mutex
	mem []byte
}

// NewArena creates an arena of size bytes starting at base.
func NewArena(base direct.PhysAddr, size uint64) *Arena {
	return &Arena{Base: base, mem: make([]byte, size)}
}

// Size returns the arena's length in bytes.
func (a *Arena) Size() uint64 {
	return uint64(len(a.mem))
}

// Slice returns the backing bytes for [p, p+n). The physical range must
// lie inside the arena.
func (a *Arena) Slice(p direct.PhysAddr, n uint64) []byte {
	off := uint64(p - a.Base)
	if p < a.Base || off+n > uint64(len(a.mem)) {
		panic(fmt.Sprintf("arena access [%#x, %#x+%d) outside [%#x, +%d)", uint64(p), uint64(p), n, uint64(a.Base), len(a.mem)))
	}
	return a.mem[off : off+n]
}

// Read copies arena bytes at p into b.
func (a *Arena) Read(p direct.PhysAddr, b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(b, a.Slice(p, uint64(len(b))))
}

// Write copies b into arena bytes at p.
func (a *Arena) Write(p direct.PhysAddr, b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.Slice(p, uint64(len(b))), b)
}

// Fill sets every byte of [p, p+n) to c.
func (a *Arena) Fill(p direct.PhysAddr, n uint64, c byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.Slice(p, n)
	for i := range s {
		s[i] = c
	}
}

// Linear implements direct.MemOps.
func (a *Arena) Linear(p direct.PhysAddr) direct.VirtAddr {
	return direct.VirtAddr(p)
}

// Zero implements direct.MemOps, accepting tagged aliases of arena
// addresses.
func (a *Arena) Zero(v direct.VirtAddr, size uint64) {
	a.Fill(direct.PhysAddr(v&^virtTags), size, 0)
}

// span is a bump-allocated placement window. Addresses are never reused;
// tests only care about placement and balance, not fragmentation.
type span struct {
	base direct.PhysAddr
	size uint64
	next uint64
}

func (s *span) take(n uint64) (direct.PhysAddr, bool) {
	if s == nil || s.next+n > s.size {
		return 0, false
	}
	p := s.base + direct.PhysAddr(s.next)
	s.next += n
	return p, true
}

// Allocator implements direct.PageAllocator and direct.ContiguousAllocator
// with per-zone placement windows, so tests steer where results land and
// provoke the zone escalation ladder.
type Allocator struct {
	mu          sync.Mutex
	zones       map[direct.Zone]*span
	contig      *span
	outstanding map[direct.PhysAddr]uint64

	// Counters.
	PageCalls   int
	ContigCalls int
	Releases    int
}

// NewAllocator returns an allocator with no placement windows; every
// request fails until zones are added.
func NewAllocator() *Allocator {
	return &Allocator{
		zones:       make(map[direct.Zone]*span),
		outstanding: make(map[direct.PhysAddr]uint64),
	}
}

// SetZone gives the page allocator a placement window for zone.
func (f *Allocator) SetZone(zone direct.Zone, base direct.PhysAddr, size uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zones[zone] = &span{base: base, size: size}
}

// SetContiguous gives the contiguous allocator its own placement window.
// Without one, contiguous requests fail and the mapper falls back to the
// page allocator.
func (f *Allocator) SetContiguous(base direct.PhysAddr, size uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contig = &span{base: base, size: size}
}

// AllocPages implements direct.PageAllocator.
func (f *Allocator) AllocPages(zone direct.Zone, node int, order int) (direct.PhysAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PageCalls++

	n := uint64(direct.PageSize) << order
	p, ok := f.zones[zone].take(n)
	if !ok {
		return 0, fmt.Errorf("no pages in zone %v", zone)
	}
	f.outstanding[p] = n
	return p, nil
}

// Alloc implements direct.ContiguousAllocator.
func (f *Allocator) Alloc(size uint64, zone direct.Zone) (direct.PhysAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ContigCalls++

	p, ok := f.contig.take(direct.PageAlign(size))
	if !ok {
		return 0, fmt.Errorf("no contiguous window")
	}
	f.outstanding[p] = direct.PageAlign(size)
	return p, nil
}

// Release implements direct.ContiguousAllocator for both provenances.
func (f *Allocator) Release(base direct.PhysAddr, size uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Releases++

	if _, ok := f.outstanding[base]; !ok {
		panic(fmt.Sprintf("release of %#x which is not outstanding", uint64(base)))
	}
	delete(f.outstanding, base)
}

// Outstanding returns the number of live allocations.
func (f *Allocator) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outstanding)
}

// CacheRecorder implements direct.CacheOps and keeps an ordered log of
// the primitives invoked.
type CacheRecorder struct {
	mu sync.Mutex

	// Events holds one entry per primitive call, in order:
	// "flush", "invalidate", "barrier", "prepare".
	Events []string

	Flushes     int
	Invalidates int
	Barriers    int
	Prepares    int
}

func (c *CacheRecorder) record(ev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, ev)
}

// FlushForDevice implements direct.CacheOps.
func (c *CacheRecorder) FlushForDevice(p direct.PhysAddr, size uint64, dir direct.Direction) {
	c.record("flush")
	c.Flushes++
}

// InvalidateForCPU implements direct.CacheOps.
func (c *CacheRecorder) InvalidateForCPU(p direct.PhysAddr, size uint64, dir direct.Direction) {
	c.record("invalidate")
	c.Invalidates++
}

// InvalidateBarrier implements direct.CacheOps.
func (c *CacheRecorder) InvalidateBarrier() {
	c.record("barrier")
	c.Barriers++
}

// PrepareCoherent implements direct.CacheOps.
func (c *CacheRecorder) PrepareCoherent(p direct.PhysAddr, size uint64) {
	c.record("prepare")
	c.Prepares++
}

// Encryptor implements direct.EncryptionOps, tracking decrypted ranges so
// tests can assert the toggle balances over a buffer's lifetime.
type Encryptor struct {
	mu        sync.Mutex
	decrypted map[direct.PhysAddr]uint64

	Decrypts int
	Encrypts int
}

// NewEncryptor returns an Encryptor with no decrypted ranges.
func NewEncryptor() *Encryptor {
	return &Encryptor{decrypted: make(map[direct.PhysAddr]uint64)}
}

// Forced implements direct.EncryptionOps from the device profile.
func (e *Encryptor) Forced(dev *direct.Device) bool {
	return dev.Unencrypted
}

// MarkDecrypted implements direct.EncryptionOps.
func (e *Encryptor) MarkDecrypted(p direct.PhysAddr, size uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Decrypts++
	if _, ok := e.decrypted[p]; ok {
		panic(fmt.Sprintf("double decrypt of %#x", uint64(p)))
	}
	e.decrypted[p] = size
}

// MarkEncrypted implements direct.EncryptionOps.
func (e *Encryptor) MarkEncrypted(p direct.PhysAddr, size uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Encrypts++
	if _, ok := e.decrypted[p]; !ok {
		panic(fmt.Sprintf("encrypt of %#x which is not decrypted", uint64(p)))
	}
	delete(e.decrypted, p)
}

// Balanced reports whether every decrypted range has been encrypted
// again.
func (e *Encryptor) Balanced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.decrypted) == 0
}

// Remapper implements direct.RemapService with tagged aliases of arena
// addresses.
type Remapper struct {
	mu     sync.Mutex
	mapped map[direct.VirtAddr]uint64

	Remaps int
	Unmaps int
}

// NewRemapper returns a Remapper with no live aliases.
func NewRemapper() *Remapper {
	return &Remapper{mapped: make(map[direct.VirtAddr]uint64)}
}

// Remap implements direct.RemapService.
func (r *Remapper) Remap(base direct.PhysAddr, size uint64) (direct.VirtAddr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Remaps++
	v := direct.VirtAddr(base) | RemapTag
	r.mapped[v] = size
	return v, nil
}

// Unmap implements direct.RemapService.
func (r *Remapper) Unmap(v direct.VirtAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unmaps++
	if _, ok := r.mapped[v]; !ok {
		panic(fmt.Sprintf("unmap of unknown alias %#x", uint64(v)))
	}
	delete(r.mapped, v)
}

// UncachedAlias implements direct.RemapService.
func (r *Remapper) UncachedAlias(v direct.VirtAddr) direct.VirtAddr {
	return v | UncachedTag
}

// Outstanding returns the number of live aliases.
func (r *Remapper) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mapped)
}

// AtomicPool implements direct.AtomicPool over a window of the arena.
type AtomicPool struct {
	mu   sync.Mutex
	span span
	live map[direct.VirtAddr]uint64
}

// NewAtomicPool returns a pool serving allocations from [base, base+size).
func NewAtomicPool(base direct.PhysAddr, size uint64) *AtomicPool {
	return &AtomicPool{
		span: span{base: base, size: size},
		live: make(map[direct.VirtAddr]uint64),
	}
}

// Alloc implements direct.AtomicPool.
func (p *AtomicPool) Alloc(size uint64) (direct.VirtAddr, direct.PhysAddr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	base, ok := p.span.take(direct.PageAlign(size))
	if !ok {
		return 0, 0, fmt.Errorf("atomic pool exhausted")
	}
	v := direct.VirtAddr(base)
	p.live[v] = size
	return v, base, nil
}

// Free implements direct.AtomicPool.
func (p *AtomicPool) Free(v direct.VirtAddr, size uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[v]; !ok {
		return false
	}
	delete(p.live, v)
	return true
}

// Outstanding returns the number of live pool allocations.
func (p *AtomicPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// UserMapRecorder implements direct.UserPageMapper and records the single
// range call.
type UserMapRecorder struct {
	Calls     int
	LastRange direct.UserRange
	LastFrame uint64
	FailNext  bool
}

// MapRange implements direct.UserPageMapper.
func (u *UserMapRecorder) MapRange(rng direct.UserRange, firstFrame uint64) error {
	u.Calls++
	u.LastRange = rng
	u.LastFrame = firstFrame
	if u.FailNext {
		u.FailNext = false
		return fmt.Errorf("user mapping refused")
	}
	return nil
}
