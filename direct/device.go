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

import "sync"

// Direction describes which way data flows during a transfer, from the
// CPU's point of view.
type Direction int

const (
	// Bidirectional transfers are read and written by both sides.
	Bidirectional Direction = iota
	// ToDevice transfers carry CPU-written data to the device.
	ToDevice
	// FromDevice transfers carry device-written data to the CPU.
	FromDevice
)

// String returns a short human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case Bidirectional:
		return "bidirectional"
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	}
	return "invalid"
}

// Attr is a set of per-operation attribute flags.
type Attr uint

const (
	// AttrSkipCPUSync suppresses the implicit cache synchronization around
	// map and unmap; the caller takes over explicit sync calls.
	AttrSkipCPUSync Attr = 1 << iota
	// AttrNoWarn suppresses failure diagnostics for callers that expect,
	// and handle, mapping or allocation failure.
	AttrNoWarn
	// AttrNoKernelMapping requests a coherent buffer without a CPU-visible
	// mapping; the returned handle is a cookie for the free call only.
	AttrNoKernelMapping
)

// Has reports whether the flag f is set.
func (a Attr) Has(f Attr) bool {
	return a&f != 0
}

// Device describes the addressing limits and coherency behavior of one
// peripheral. It is immutable for the duration of any mapping operation;
// the caller owns it and keeps it alive for as long as mappings exist.
type Device struct {
	// Name identifies the device in diagnostics.
	Name string

	// Mask is the widest bus address the device can drive on streaming
	// mappings. Zero means the device has no mask configured, which makes
	// every mapping attempt fail.
	Mask BusAddr

	// CoherentMask is the addressing limit for coherent allocations.
	// Zero falls back to Mask.
	CoherentMask BusAddr

	// BusLimit is an optional ceiling imposed by the bus the device sits
	// on, independent of the device's own mask. Zero means no limit.
	BusLimit BusAddr

	// Node is a memory affinity hint forwarded to the page allocator.
	Node int

	// Coherent reports whether the device observes CPU caches.
	// Non-coherent devices need explicit cache synchronization and
	// uncached coherent buffers.
	Coherent bool

	// Unencrypted marks devices that must access shared memory outside
	// the platform's memory encryption. Consulted by EncryptionOps.
	Unencrypted bool

	// diag latches the once-per-device addressing diagnostic.
	diag sync.Once
}

// coherentMask returns the effective addressing limit for coherent
// allocations.
func (d *Device) coherentMask() BusAddr {
	if d.CoherentMask != 0 {
		return d.CoherentMask
	}
	return d.Mask
}
