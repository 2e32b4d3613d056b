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
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/firmware-dev/dma-direct/direct"
)

func TestSyncForDeviceBounced(t *testing.T) {
	h := newHarness(t, harnessOpts{bounce: true})
	dev := &direct.Device{Name: "sdhc0", Mask: direct.BitMask(16)}

	orig := low32Base
	h.arena.Write(orig, bytes.Repeat([]byte{0x11}, 64))
	bus, err := h.m.MapSingle(dev, orig, 64, direct.Bidirectional, 0)
	if err != nil {
		t.Fatalf("MapSingle: %v", err)
	}

	// The CPU updates the original buffer after the map; handing the range
	// back to the device must refresh the slot and flush.
	update := bytes.Repeat([]byte{0x22}, 64)
	h.arena.Write(orig, update)
	h.resetEvents()
	h.m.SyncForDevice(dev, bus, 64, direct.Bidirectional)

	if got := h.arena.Slice(direct.PhysAddr(bus), 64); !bytes.Equal(got, update) {
		t.Error("slot not refreshed from the original buffer")
	}
	want := []string{"flush"}
	if diff := cmp.Diff(want, h.cache.Events); diff != "" {
		t.Errorf("cache events diff (-want +got):\n%s", diff)
	}

	h.m.UnmapSingle(dev, bus, 64, direct.Bidirectional, 0)
	h.checkBaseline(t)
}

func TestSyncForCPUBounced(t *testing.T) {
	h := newHarness(t, harnessOpts{bounce: true})
	dev := &direct.Device{Name: "sdhc0", Mask: direct.BitMask(16)}

	orig := low32Base
	bus, err := h.m.MapSingle(dev, orig, 64, direct.FromDevice, 0)
	if err != nil {
		t.Fatalf("MapSingle: %v", err)
	}

	// The device writes the slot; taking the range back must invalidate,
	// complete the invalidation, and only then publish the slot's data.
	devData := bytes.Repeat([]byte{0x33}, 64)
	h.arena.Write(direct.PhysAddr(bus), devData)
	h.resetEvents()
	h.m.SyncForCPU(dev, bus, 64, direct.FromDevice)

	if got := h.arena.Slice(orig, 64); !bytes.Equal(got, devData) {
		t.Error("device-written data did not reach the original buffer")
	}
	want := []string{"invalidate", "barrier"}
	if diff := cmp.Diff(want, h.cache.Events); diff != "" {
		t.Errorf("cache events diff (-want +got):\n%s", diff)
	}

	h.m.UnmapSingle(dev, bus, 64, direct.FromDevice, 0)
	h.checkBaseline(t)
}

func TestSyncCoherentDevice(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	dev := &direct.Device{Name: "eth0", Mask: direct.BitMask(32), Coherent: true}

	bus, err := h.m.MapSingle(dev, low32Base, 512, direct.Bidirectional, 0)
	if err != nil {
		t.Fatalf("MapSingle: %v", err)
	}
	h.m.SyncForDevice(dev, bus, 512, direct.Bidirectional)
	h.m.SyncForCPU(dev, bus, 512, direct.Bidirectional)
	h.m.UnmapSingle(dev, bus, 512, direct.Bidirectional, 0)

	if len(h.cache.Events) != 0 {
		t.Errorf("coherent device saw cache maintenance: %v", h.cache.Events)
	}
}

func TestSyncScatter(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	dev := &direct.Device{Name: "nvme0", Mask: direct.BitMask(32)}

	sgl := []direct.ScatterEntry{
		{Phys: low32Base, Length: 512},
		{Phys: low32Base + direct.PageSize, Length: 512},
		{Phys: normalBase, Length: 512},
	}
	if _, err := h.m.MapScatter(dev, sgl, direct.Bidirectional, 0); err != nil {
		t.Fatalf("MapScatter: %v", err)
	}

	h.resetEvents()
	h.m.SyncScatterForDevice(dev, sgl, direct.Bidirectional)
	want := []string{"flush", "flush", "flush"}
	if diff := cmp.Diff(want, h.cache.Events); diff != "" {
		t.Errorf("for-device events diff (-want +got):\n%s", diff)
	}

	// One barrier for the whole list, after the per-segment invalidates.
	h.resetEvents()
	h.m.SyncScatterForCPU(dev, sgl, direct.Bidirectional)
	want = []string{"invalidate", "invalidate", "invalidate", "barrier"}
	if diff := cmp.Diff(want, h.cache.Events); diff != "" {
		t.Errorf("for-CPU events diff (-want +got):\n%s", diff)
	}

	h.m.UnmapScatter(dev, sgl, direct.Bidirectional, direct.AttrSkipCPUSync)
	h.checkBaseline(t)
}
