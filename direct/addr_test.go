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

import "testing"

func TestAddressMapInverse(t *testing.T) {
	for _, test := range []struct {
		name string
		am   AddressMap
	}{
		{name: "identity"},
		{name: "offset", am: AddressMap{BusOffset: 0x4000_0000}},
		{name: "encrypted", am: AddressMap{EncryptionBit: 1 << 47}},
		{name: "offset and encrypted", am: AddressMap{BusOffset: 0x8000_0000, EncryptionBit: 1 << 51}},
	} {
		t.Run(test.name, func(t *testing.T) {
			for _, p := range []PhysAddr{0x9000_0000, 0x9000_0abc, 0xfff0_0000} {
				if got := test.am.ToPhys(test.am.ToBus(p)); got != p {
					t.Errorf("ToPhys(ToBus(%#x)) = %#x", uint64(p), uint64(got))
				}
				if got := test.am.ToPhysUnencrypted(test.am.ToBusUnencrypted(p)); got != p {
					t.Errorf("ToPhysUnencrypted(ToBusUnencrypted(%#x)) = %#x", uint64(p), uint64(got))
				}
				if test.am.EncryptionBit != 0 {
					if bus := test.am.ToBus(p); uint64(bus)&test.am.EncryptionBit == 0 {
						t.Errorf("ToBus(%#x) = %#x lacks encryption bit", uint64(p), uint64(bus))
					}
					if bus := test.am.ToBusUnencrypted(p); uint64(bus)&test.am.EncryptionBit != 0 {
						t.Errorf("ToBusUnencrypted(%#x) = %#x carries encryption bit", uint64(p), uint64(bus))
					}
				}
			}
		})
	}
}

func TestBitMask(t *testing.T) {
	for _, test := range []struct {
		width uint
		want  BusAddr
	}{
		{width: 0, want: 0},
		{width: 1, want: 1},
		{width: 16, want: 0xffff},
		{width: 24, want: 0xff_ffff},
		{width: 32, want: 0xffff_ffff},
		{width: 64, want: ^BusAddr(0)},
		{width: 80, want: ^BusAddr(0)},
	} {
		if got := BitMask(test.width); got != test.want {
			t.Errorf("BitMask(%d) = %#x, want %#x", test.width, uint64(got), uint64(test.want))
		}
	}
}

func TestPageHelpers(t *testing.T) {
	if got := PageAlign(1); got != PageSize {
		t.Errorf("PageAlign(1) = %d", got)
	}
	if got := PageAlign(PageSize); got != PageSize {
		t.Errorf("PageAlign(PageSize) = %d", got)
	}
	if got := PageAlign(PageSize + 1); got != 2*PageSize {
		t.Errorf("PageAlign(PageSize+1) = %d", got)
	}
	if got := PhysAddr(0x12345).PageBase(); got != 0x12000 {
		t.Errorf("PageBase = %#x", uint64(got))
	}
	if got := PhysAddr(0x12345).Frame(); got != 0x12 {
		t.Errorf("Frame = %#x", got)
	}
}

func TestSizeOrder(t *testing.T) {
	for _, test := range []struct {
		size uint64
		want int
	}{
		{size: 1, want: 0},
		{size: PageSize, want: 0},
		{size: PageSize + 1, want: 1},
		{size: 2 * PageSize, want: 1},
		{size: 3 * PageSize, want: 2},
		{size: 4 * PageSize, want: 2},
		{size: 5 * PageSize, want: 3},
	} {
		if got := sizeOrder(test.size); got != test.want {
			t.Errorf("sizeOrder(%d) = %d, want %d", test.size, got, test.want)
		}
	}
}

func TestAttrHas(t *testing.T) {
	attrs := AttrNoWarn | AttrSkipCPUSync
	for _, test := range []struct {
		flag Attr
		want bool
	}{
		{flag: AttrNoWarn, want: true},
		{flag: AttrSkipCPUSync, want: true},
		{flag: AttrNoKernelMapping, want: false},
	} {
		if got := attrs.Has(test.flag); got != test.want {
			t.Errorf("Has(%b) = %v, want %v", test.flag, got, test.want)
		}
	}
	if Attr(0).Has(AttrNoWarn) {
		t.Error("empty attribute set reports a flag")
	}
}

func TestMinNotZero(t *testing.T) {
	for _, test := range []struct {
		a, b, want BusAddr
	}{
		{a: 0, b: 0, want: 0},
		{a: 0, b: 5, want: 5},
		{a: 5, b: 0, want: 5},
		{a: 3, b: 5, want: 3},
		{a: 5, b: 3, want: 3},
	} {
		if got := minNotZero(test.a, test.b); got != test.want {
			t.Errorf("minNotZero(%d, %d) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
