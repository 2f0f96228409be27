/*
memory: flat physical address space for the IA-32 core.

Copyright (c) 2024, Richard Cornwell

Permission is hereby granted, free of charge, to any person obtaining a
copy of this software and associated documentation files (the "Software"),
to deal in the Software without restriction, including without limitation
the rights to use, copy, modify, merge, publish, distribute, sublicense,
and/or sell copies of the Software, and to permit persons to whom the
Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/

// Package memory implements the physical address space the MMU translates
// into: a flat byte-addressable RAM region plus the self-modifying-code
// bitmap that the trace cache consults on every store (§3.5).
package memory

import "encoding/binary"

// RAM is a flat little-endian physical address space, sized at
// construction time. Rather than a package-level singleton, a CPU
// owns a *RAM instance so tests can build independent machines.
type RAM struct {
	data []byte
	SMC  Tracker
}

// New allocates size bytes of physical RAM, zero-filled.
func New(size uint32) *RAM {
	r := &RAM{data: make([]byte, size)}
	r.SMC.init(size)
	return r
}

// Size returns the physical RAM size in bytes.
func (r *RAM) Size() uint32 { return uint32(len(r.data)) }

// InBounds reports whether [addr, addr+n) lies entirely within RAM.
func (r *RAM) InBounds(addr uint32, n uint32) bool {
	return uint64(addr)+uint64(n) <= uint64(len(r.data))
}

// ReadByte, ReadWord, and ReadDword fetch unsigned little-endian values.
// Callers (the MMU layer) are responsible for bounds/permission checks;
// these panic on out-of-range access so a bug surfaces immediately rather
// than silently wrapping.
func (r *RAM) ReadByte(addr uint32) uint8 { return r.data[addr] }

func (r *RAM) ReadWord(addr uint32) uint16 {
	return binary.LittleEndian.Uint16(r.data[addr : addr+2])
}

func (r *RAM) ReadDword(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(r.data[addr : addr+4])
}

// ReadQword and Read128 serve the 64-/128-bit accesses the FPU (FLD/FSTP
// of an 80-bit extended operand is split into two reads by its caller)
// and SSE register loads need (§4.2, §4.8); alignment is enforced by the
// caller, not here.
func (r *RAM) ReadQword(addr uint32) uint64 {
	return binary.LittleEndian.Uint64(r.data[addr : addr+8])
}

func (r *RAM) Read128(addr uint32) [16]byte {
	var v [16]byte
	copy(v[:], r.data[addr:addr+16])
	return v
}

// WriteByte, WriteWord, and WriteDword store little-endian values and mark
// the containing 128-byte chunk for SMC invalidation (§3.5, §4.5).
func (r *RAM) WriteByte(addr uint32, v uint8) {
	r.data[addr] = v
	r.SMC.NotifyWrite(addr, 1)
}

func (r *RAM) WriteWord(addr uint32, v uint16) {
	binary.LittleEndian.PutUint16(r.data[addr:addr+2], v)
	r.SMC.NotifyWrite(addr, 2)
}

func (r *RAM) WriteDword(addr uint32, v uint32) {
	binary.LittleEndian.PutUint32(r.data[addr:addr+4], v)
	r.SMC.NotifyWrite(addr, 4)
}

// WriteQword and Write128 mirror WriteDword for the wider SSE/FPU
// accesses (§4.2, §4.8).
func (r *RAM) WriteQword(addr uint32, v uint64) {
	binary.LittleEndian.PutUint64(r.data[addr:addr+8], v)
	r.SMC.NotifyWrite(addr, 8)
}

func (r *RAM) Write128(addr uint32, v [16]byte) {
	copy(r.data[addr:addr+16], v[:])
	r.SMC.NotifyWrite(addr, 16)
}

// Bytes exposes the backing slice for bulk DMA-style transfers (disk image
// loaders, BIOS shadowing); callers must not retain it past the RAM's
// lifetime and must not write through it without going through WriteByte
// if the written range might contain code (the SMC bitmap would not see
// the write).
func (r *RAM) Bytes() []byte { return r.data }
