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

// dmastress exercises the direct mapping layer against the same hosted
// collaborators the test suite uses: concurrent workers allocate, map,
// sync and tear down buffers while the tool watches the pool and
// allocator accounting return to baseline.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync/atomic"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/firmware-dev/dma-direct/direct"
	"github.com/firmware-dev/dma-direct/direct/testonly"
	"github.com/firmware-dev/dma-direct/pool"
)

// Hosted fake-physical layout, all offsets relative to arenaBase.
const (
	arenaBase = direct.PhysAddr(1 << 20)
	arenaSize = 16 << 20

	bounceOff     = 0
	bounceSize    = 1 << 20
	restrictedOff = 1 << 20
	restrictedSz  = 1 << 20
	low32Off      = 2 << 20
	low32Size     = 4 << 20
	normalOff     = 6 << 20
	normalSize    = 8 << 20
	atomicOff     = 14 << 20
	atomicSize    = 1 << 20
	contigOff     = 15 << 20
	contigSize    = 1 << 20
)

type config struct {
	workers  int
	ops      int
	maskBits uint
	coherent bool
	force    bool
	seed     int64
}

var conf config

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)

	flag.IntVar(&conf.workers, "w", 4, "concurrent workers")
	flag.IntVar(&conf.ops, "n", 2000, "total operations")
	flag.UintVar(&conf.maskBits, "m", 32, "device mask width in bits")
	flag.BoolVar(&conf.coherent, "c", false, "device observes CPU caches")
	flag.BoolVar(&conf.force, "f", false, "force all transfers through the bounce pool")
	flag.Int64Var(&conf.seed, "s", 1, "random seed")
}

func buildMapper() (*direct.Mapper, *testonly.Allocator, *pool.Pool, error) {
	arena := testonly.NewArena(arenaBase, arenaSize)

	alloc := testonly.NewAllocator()
	alloc.SetZone(direct.ZoneRestricted, arenaBase+restrictedOff, restrictedSz)
	alloc.SetZone(direct.ZoneLow32, arenaBase+low32Off, low32Size)
	alloc.SetZone(direct.ZoneNormal, arenaBase+normalOff, normalSize)
	alloc.SetContiguous(arenaBase+contigOff, contigSize)

	bounce, err := pool.New(pool.Config{
		Base:  arenaBase + bounceOff,
		Size:  bounceSize,
		Force: conf.force,
		Mem:   arena,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	m, err := direct.New(direct.Config{
		Zones:      direct.ZoneConfig{HasRestricted: true, HasLow32: true},
		Caps:       direct.Capabilities{Remap: true},
		MaxFrame:   (uint64(arenaBase) + arenaSize) >> direct.PageShift,
		Pages:      alloc,
		Contiguous: alloc,
		Bounce:     bounce,
		AtomicPool: testonly.NewAtomicPool(arenaBase+atomicOff, atomicSize),
		Cache:      &testonly.CacheRecorder{},
		Encryption: testonly.NewEncryptor(),
		Remap:      testonly.NewRemapper(),
		Mem:        arena,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return m, alloc, bounce, nil
}

// worker runs n mixed operations against m, reporting progress on bar.
func worker(m *direct.Mapper, rng *rand.Rand, n int, bar *pb.ProgressBar, allocFails, mapFails *atomic.Int64) error {
	dev := &direct.Device{
		Name:     fmt.Sprintf("stress%d", rng.Int31n(1<<10)),
		Mask:     direct.BitMask(conf.maskBits),
		Coherent: conf.coherent,
	}

	for i := 0; i < n; i++ {
		switch rng.Intn(3) {
		case 0:
			size := uint64(1+rng.Intn(4)) * direct.PageSize
			buf, err := m.AllocCoherent(dev, size, rng.Intn(2) == 0, direct.AttrNoWarn)
			if err != nil {
				allocFails.Add(1)
				break
			}
			m.FreeCoherent(dev, buf)

		case 1:
			phys := arenaBase + normalOff + direct.PhysAddr(rng.Intn(normalSize-512))
			size := uint64(1 + rng.Intn(512))
			bus, err := m.MapSingle(dev, phys, size, direct.Bidirectional, direct.AttrNoWarn)
			if err != nil {
				mapFails.Add(1)
				break
			}
			m.SyncForCPU(dev, bus, size, direct.Bidirectional)
			m.SyncForDevice(dev, bus, size, direct.Bidirectional)
			m.UnmapSingle(dev, bus, size, direct.Bidirectional, 0)

		case 2:
			sgl := make([]direct.ScatterEntry, 1+rng.Intn(4))
			for j := range sgl {
				sgl[j].Phys = arenaBase + low32Off + direct.PhysAddr(rng.Intn(low32Size-256))
				sgl[j].Length = uint64(1 + rng.Intn(256))
			}
			if cnt, err := m.MapScatter(dev, sgl, direct.ToDevice, direct.AttrNoWarn); err == nil {
				m.SyncScatterForDevice(dev, sgl[:cnt], direct.ToDevice)
				m.UnmapScatter(dev, sgl[:cnt], direct.ToDevice, 0)
			} else {
				mapFails.Add(1)
			}
		}
		bar.Increment()
	}
	return nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	m, alloc, bounce, err := buildMapper()
	if err != nil {
		log.Fatalf("cannot build mapper: %v", err)
	}

	bar := pb.StartNew(conf.ops)
	var allocFails, mapFails atomic.Int64

	g := new(errgroup.Group)
	for w := 0; w < conf.workers; w++ {
		rng := rand.New(rand.NewSource(conf.seed + int64(w)))
		n := conf.ops / conf.workers
		if w == 0 {
			n += conf.ops % conf.workers
		}
		g.Go(func() error {
			return worker(m, rng, n, bar, &allocFails, &mapFails)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("worker failure: %v", err)
	}
	bar.Finish()

	log.Printf("alloc failures:    %d", allocFails.Load())
	log.Printf("map failures:      %d", mapFails.Load())
	log.Printf("pool high water:   %d slots", bounce.HighWater())
	log.Printf("pool in use:       %d slots", bounce.InUse())
	log.Printf("live allocations:  %d", alloc.Outstanding())

	if bounce.InUse() != 0 || alloc.Outstanding() != 0 {
		log.Fatal("accounting did not return to baseline")
	}
}
