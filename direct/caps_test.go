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
	"math"
	"testing"

	"github.com/firmware-dev/dma-direct/direct"
)

func capsMapper(t *testing.T, cfg direct.Config) *direct.Mapper {
	t.Helper()
	m, err := direct.New(cfg)
	if err != nil {
		t.Fatalf("direct.New: %v", err)
	}
	return m
}

func TestRequiredMask(t *testing.T) {
	for _, test := range []struct {
		name     string
		maxFrame uint64
		addr     direct.AddressMap
		want     direct.BusAddr
	}{
		{
			name:     "20 GiB of memory",
			maxFrame: (20 << 30) >> direct.PageShift,
			want:     direct.BitMask(35),
		},
		{
			name:     "exactly 4 GiB",
			maxFrame: (4 << 30) >> direct.PageShift,
			want:     direct.BitMask(32),
		},
		{
			name:     "single frame",
			maxFrame: 1,
			want:     direct.BitMask(direct.PageShift),
		},
		{
			name:     "bus offset shrinks the requirement",
			maxFrame: (4 << 30) >> direct.PageShift,
			addr:     direct.AddressMap{BusOffset: 2 << 30},
			want:     direct.BitMask(31),
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m := capsMapper(t, direct.Config{Addr: test.addr, MaxFrame: test.maxFrame})
			if got := m.RequiredMask(&direct.Device{}); got != test.want {
				t.Errorf("RequiredMask = %#x, want %#x", uint64(got), uint64(test.want))
			}
		})
	}
}

func TestRequiredMaskMonotonic(t *testing.T) {
	// More memory can only widen the requirement.
	var last direct.BusAddr
	for _, frames := range []uint64{1, 1 << 8, 1 << 16, 1 << 20, 1 << 23, 1 << 24} {
		m := capsMapper(t, direct.Config{MaxFrame: frames})
		got := m.RequiredMask(&direct.Device{})
		if got < last {
			t.Errorf("RequiredMask(%d frames) = %#x, below previous %#x", frames, uint64(got), uint64(last))
		}
		last = got
	}
}

func TestMaskSupported(t *testing.T) {
	for _, test := range []struct {
		name     string
		zones    direct.ZoneConfig
		maxFrame uint64
		mask     direct.BusAddr
		want     bool
	}{
		{
			name:     "32-bit mask always works",
			maxFrame: (8 << 30) >> direct.PageShift,
			mask:     direct.BitMask(32),
			want:     true,
		},
		{
			name:     "narrow mask without a restricted zone",
			maxFrame: (8 << 30) >> direct.PageShift,
			mask:     direct.BitMask(24),
			want:     false,
		},
		{
			name:     "narrow mask with a restricted zone",
			zones:    direct.ZoneConfig{HasRestricted: true},
			maxFrame: (8 << 30) >> direct.PageShift,
			mask:     direct.BitMask(24),
			want:     true,
		},
		{
			name:     "below the restricted ceiling",
			zones:    direct.ZoneConfig{HasRestricted: true},
			maxFrame: (8 << 30) >> direct.PageShift,
			mask:     direct.BitMask(16),
			want:     false,
		},
		{
			name:     "tiny memory lowers the bar",
			maxFrame: 256,
			mask:     direct.BitMask(20),
			want:     true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m := capsMapper(t, direct.Config{Zones: test.zones, MaxFrame: test.maxFrame})
			if got := m.MaskSupported(&direct.Device{}, test.mask); got != test.want {
				t.Errorf("MaskSupported(%#x) = %v, want %v", uint64(test.mask), got, test.want)
			}
		})
	}
}

func TestMaskSupportedMonotonic(t *testing.T) {
	m := capsMapper(t, direct.Config{
		Zones:    direct.ZoneConfig{HasRestricted: true},
		MaxFrame: (8 << 30) >> direct.PageShift,
	})
	dev := &direct.Device{}

	// Once a mask is supported, every wider mask is too.
	supported := false
	for width := uint(12); width <= 64; width++ {
		got := m.MaskSupported(dev, direct.BitMask(width))
		if supported && !got {
			t.Fatalf("MaskSupported(%d bits) = false after narrower mask passed", width)
		}
		supported = supported || got
	}
	if !supported {
		t.Error("no mask width was supported at all")
	}
}

func TestMaxMappingSize(t *testing.T) {
	const poolMax = 128 * 2048 // default pool transfer cap

	for _, test := range []struct {
		name string
		opts harnessOpts
		mask direct.BusAddr
		want uint64
	}{
		{
			name: "limited device with pool",
			opts: harnessOpts{bounce: true},
			mask: direct.BitMask(16),
			want: poolMax,
		},
		{
			name: "wide device with pool",
			opts: harnessOpts{bounce: true},
			mask: direct.BitMask(32),
			want: math.MaxUint64,
		},
		{
			name: "forced bouncing caps everyone",
			opts: harnessOpts{bounce: true, force: true},
			mask: direct.BitMask(32),
			want: poolMax,
		},
		{
			name: "limited device without pool",
			mask: direct.BitMask(16),
			want: math.MaxUint64,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, test.opts)
			dev := &direct.Device{Name: "dev0", Mask: test.mask}
			if got := h.m.MaxMappingSize(dev); got != test.want {
				t.Errorf("MaxMappingSize = %d, want %d", got, test.want)
			}
		})
	}
}
