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

package direct_test

import (
	"testing"

	"github.com/firmware-dev/dma-direct/direct"
	"github.com/firmware-dev/dma-direct/direct/testonly"
	"github.com/firmware-dev/dma-direct/pool"
)

// Fake physical layout shared by the tests. The bounce window sits below
// 2^16 so that slots satisfy even very narrow device masks.
const (
	arenaBase = direct.PhysAddr(0x8000)
	arenaSize = 0x5f8000

	bounceBase = arenaBase
	bounceSize = 0x8000

	restrictedBase = direct.PhysAddr(0x100000)
	restrictedSize = 0x100000
	low32Base      = direct.PhysAddr(0x200000)
	low32Size      = 0x200000
	normalBase     = direct.PhysAddr(0x400000)
	normalSize     = 0x100000
	atomicBase     = direct.PhysAddr(0x500000)
	atomicSize     = 0x40000
	contigBase     = direct.PhysAddr(0x540000)
	contigSize     = 0x80000
)

type harnessOpts struct {
	addr direct.AddressMap
	caps direct.Capabilities

	// contig enables the contiguous allocator's placement window.
	contig bool

	// bounce enables the bounce pool; bounceBytes overrides its arena
	// size, force routes everything through it.
	bounce      bool
	bounceBytes uint64
	force       bool
}

// harness assembles a mapper over byte-backed fakes with all three zones
// populated.
type harness struct {
	arena  *testonly.Arena
	alloc  *testonly.Allocator
	cache  *testonly.CacheRecorder
	enc    *testonly.Encryptor
	remap  *testonly.Remapper
	apool  *testonly.AtomicPool
	user   *testonly.UserMapRecorder
	bounce *pool.Pool
	m      *direct.Mapper
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()

	h := &harness{
		arena: testonly.NewArena(arenaBase, arenaSize),
		alloc: testonly.NewAllocator(),
		cache: &testonly.CacheRecorder{},
		enc:   testonly.NewEncryptor(),
		remap: testonly.NewRemapper(),
		apool: testonly.NewAtomicPool(atomicBase, atomicSize),
		user:  &testonly.UserMapRecorder{},
	}
	h.alloc.SetZone(direct.ZoneRestricted, restrictedBase, restrictedSize)
	h.alloc.SetZone(direct.ZoneLow32, low32Base, low32Size)
	h.alloc.SetZone(direct.ZoneNormal, normalBase, normalSize)
	if o.contig {
		h.alloc.SetContiguous(contigBase, contigSize)
	}

	cfg := direct.Config{
		Addr:       o.addr,
		Zones:      direct.ZoneConfig{HasRestricted: true, HasLow32: true},
		Caps:       o.caps,
		MaxFrame:   uint64(arenaBase+arenaSize) >> direct.PageShift,
		Pages:      h.alloc,
		Contiguous: h.alloc,
		AtomicPool: h.apool,
		Cache:      h.cache,
		Encryption: h.enc,
		Remap:      h.remap,
		Mem:        h.arena,
		UserMapper: h.user,
	}

	if o.bounce {
		size := o.bounceBytes
		if size == 0 {
			size = bounceSize
		}
		p, err := pool.New(pool.Config{
			Base:  bounceBase,
			Size:  size,
			Force: o.force,
			Mem:   h.arena,
		})
		if err != nil {
			t.Fatalf("pool.New: %v", err)
		}
		h.bounce = p
		cfg.Bounce = p
	}

	m, err := direct.New(cfg)
	if err != nil {
		t.Fatalf("direct.New: %v", err)
	}
	h.m = m
	return h
}

// checkBaseline asserts that every collaborator's accounting has returned
// to its initial state.
func (h *harness) checkBaseline(t *testing.T) {
	t.Helper()
	if n := h.alloc.Outstanding(); n != 0 {
		t.Errorf("%d allocations still outstanding", n)
	}
	if n := h.remap.Outstanding(); n != 0 {
		t.Errorf("%d remap aliases still outstanding", n)
	}
	if n := h.apool.Outstanding(); n != 0 {
		t.Errorf("%d atomic pool buffers still outstanding", n)
	}
	if !h.enc.Balanced() {
		t.Error("encryption state did not return to baseline")
	}
	if h.bounce != nil {
		if n := h.bounce.InUse(); n != 0 {
			t.Errorf("%d bounce slots still in use", n)
		}
	}
}

// resetEvents clears the cache recorder's ordered log.
func (h *harness) resetEvents() {
	h.cache.Events = nil
}

// allZero reports whether every byte of [p, p+n) in the arena is zero.
func (h *harness) allZero(p direct.PhysAddr, n uint64) bool {
	for _, b := range h.arena.Slice(p, n) {
		if b != 0 {
			return false
		}
	}
	return true
}
