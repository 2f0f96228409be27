/*
segment: protected-mode segment and gate descriptors.

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

// Package segment parses and evaluates GDT/LDT/IDT descriptors: segment
// descriptors, call/task/interrupt/trap gates, and the privilege checks
// that gate their use (§4.6). Grounded on original_source's struct
// seg_desc and ACCESS_* bit macros in include/cpu/cpu.h.
package segment

// Descriptor is a parsed 8-byte GDT/LDT segment descriptor. Gate
// descriptors reuse the same fields with different meanings (see Gate).
type Descriptor struct {
	Base   uint32
	Limit  uint32
	Access uint16 // raw access-rights byte(s), bit-compatible with the x86 encoding
}

// Access-rights bits (byte 5 of the descriptor, shifted into Access).
const (
	AccAccessed  = 1 << 0
	AccRW        = 1 << 1 // readable (code) / writable (data)
	AccConform   = 1 << 2 // conforming (code) / expand-down (data)
	AccExecute   = 1 << 3
	AccCodeData  = 1 << 4 // S bit: 1 = code/data, 0 = system
	AccDPLShift  = 5
	AccDPLMask   = 3 << AccDPLShift
	AccPresent   = 1 << 7
	AccAvail     = 1 << 12 // AVL
	AccLong      = 1 << 13
	AccBig       = 1 << 14 // D/B
	AccGranular  = 1 << 15 // G: limit scaled by 4KiB
)

// Parse decodes a raw 8-byte GDT/LDT/IDT entry into a Descriptor.
func Parse(lo, hi uint32) Descriptor {
	limit := (lo & 0xFFFF) | (hi & 0x000F0000)
	base := (lo >> 16) | ((hi & 0xFF) << 16) | (hi & 0xFF000000)
	access := uint16((hi>>8)&0xFF) | uint16((hi>>20)&0xF)<<12
	d := Descriptor{Base: base, Limit: limit, Access: access}
	if d.Access&AccGranular != 0 {
		d.Limit = (d.Limit << 12) | 0xFFF
	}
	return d
}

// Raw packs the descriptor back into its two 32-bit GDT words, the
// inverse of Parse.
func (d Descriptor) Raw() (lo, hi uint32) {
	limit := d.Limit
	access := d.Access
	if d.Access&AccGranular != 0 {
		limit >>= 12
	}
	lo = (limit & 0xFFFF) | (d.Base << 16)
	hi = (d.Base >> 16 & 0xFF) | (uint32(access&0xFF) << 8) | (limit & 0xF0000) |
		(uint32(access>>12&0xF) << 20) | (d.Base & 0xFF000000)
	return lo, hi
}

// DPL returns the descriptor privilege level.
func (d Descriptor) DPL() int { return int(d.Access&AccDPLMask) >> AccDPLShift }

// Present reports the P bit.
func (d Descriptor) Present() bool { return d.Access&AccPresent != 0 }

// IsCodeData reports whether this is a code/data (S=1) descriptor, as
// opposed to a system descriptor (gate, TSS, LDT).
func (d Descriptor) IsCodeData() bool { return d.Access&AccCodeData != 0 }

// IsCode reports whether a code/data descriptor describes code.
func (d Descriptor) IsCode() bool { return d.IsCodeData() && d.Access&AccExecute != 0 }

// IsConforming reports whether a code descriptor is conforming.
func (d Descriptor) IsConforming() bool { return d.IsCode() && d.Access&AccConform != 0 }

// Readable reports whether a code descriptor permits reads, or a data
// descriptor always (data is always readable).
func (d Descriptor) Readable() bool {
	if d.IsCode() {
		return d.Access&AccRW != 0
	}
	return true
}

// Writable reports whether a data descriptor permits writes; code is
// never writable.
func (d Descriptor) Writable() bool {
	return d.IsCodeData() && !d.IsCode() && d.Access&AccRW != 0
}

// Big reports the D/B bit (32-bit default operand/address size for code,
// ESP/SP-as-stack-pointer-width for stack segments).
func (d Descriptor) Big() bool { return d.Access&AccBig != 0 }

// System descriptor subtypes (Access&0xF when AccCodeData is clear).
const (
	SysLDT         = 0x2
	SysTSS16Avail  = 0x1
	SysTSS16Busy   = 0x3
	SysCallGate16  = 0x4
	SysTaskGate    = 0x5
	SysTSS32Avail  = 0x9
	SysTSS32Busy   = 0xB
	SysCallGate32  = 0xC
	SysIntGate16   = 0x6
	SysTrapGate16  = 0x7
	SysIntGate32   = 0xE
	SysTrapGate32  = 0xF
)

// SystemType returns the low 4 bits of Access for a system descriptor;
// callers must check !IsCodeData() first.
func (d Descriptor) SystemType() int { return int(d.Access & 0xF) }

// Gate describes a call/interrupt/trap/task gate's target and argument
// count, decoded from the same raw descriptor words via ParseGate.
type Gate struct {
	Selector  uint16
	Offset    uint32
	ParamCount uint8
	Type       int
	DPL        int
	Present    bool
}

// ParseGate decodes a raw 8-byte gate descriptor.
func ParseGate(lo, hi uint32) Gate {
	return Gate{
		Selector:   uint16(lo >> 16),
		Offset:     (lo & 0xFFFF) | (hi & 0xFFFF0000),
		ParamCount: uint8(hi & 0x1F),
		Type:       int(hi>>8) & 0xF,
		DPL:        int(hi>>13) & 3,
		Present:    hi&(1<<15) != 0,
	}
}

// Is32Bit reports whether a call/interrupt/trap gate targets 32-bit code.
func (g Gate) Is32Bit() bool {
	switch g.Type {
	case SysCallGate32, SysIntGate32, SysTrapGate32:
		return true
	default:
		return false
	}
}
