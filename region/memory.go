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

package region

import (
	"unsafe"

	"github.com/firmware-dev/dma-direct/direct"
)

// DirectMemory accesses identity-mapped physical memory, as seen by the
// CPU on bare-metal tamago targets. It implements both the pool's
// SystemMemory and direct.MemOps.
type DirectMemory struct{}

// Read copies len(b) bytes at physical address p into b.
func (DirectMemory) Read(p direct.PhysAddr, b []byte) {
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p))), len(b)))
}

// Write copies b to physical address p.
func (DirectMemory) Write(p direct.PhysAddr, b []byte) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p))), len(b)), b)
}

// Linear implements direct.MemOps: the linear map is the identity.
func (DirectMemory) Linear(p direct.PhysAddr) direct.VirtAddr {
	return direct.VirtAddr(p)
}

// Zero implements direct.MemOps.
func (DirectMemory) Zero(v direct.VirtAddr, size uint64) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(v))), size)
	for i := range b {
		b[i] = 0
	}
}
