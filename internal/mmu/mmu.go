/*
mmu: software TLB and linear-to-physical translation.

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

// Package mmu implements the software MMU described in §3.3/§4.3: a
// per-page TLB tagged with cached permission bits so the common case
// (same page, same access kind as last time) never re-walks the page
// tables, and a full two-level walk (with PSE 4MiB pages) on a tag miss.
// Grounded on original_source/src/cpu/mmu.c.
package mmu

import "github.com/rcornwell/ia32core/internal/memory"

// AccessKind names the six combinations of privilege (supervisor/user) and
// direction (read/write/fetch) a
// translation request can need, matching the shift encoding cpu_mmu_translate
// uses to index PDE/PTE permission bits.
type AccessKind uint8

const (
	ReadSuper AccessKind = iota
	WriteSuper
	ReadUser
	WriteUser
	FetchSuper
	FetchUser
)

func (k AccessKind) isWrite() bool { return k == WriteSuper || k == WriteUser }
func (k AccessKind) isUser() bool  { return k == ReadUser || k == WriteUser || k == FetchUser }
func (k AccessKind) isFetch() bool { return k == FetchSuper || k == FetchUser }

// permission bits cached per TLB entry; a 1 bit means "this kind of
// access is permitted without a re-walk".
const (
	permSuperRead = 1 << iota
	permSuperWrite
	permUserRead
	permUserWrite
	permSuperFetch
	permUserFetch
)

func (k AccessKind) permBit() uint8 {
	switch k {
	case ReadSuper:
		return permSuperRead
	case WriteSuper:
		return permSuperWrite
	case ReadUser:
		return permUserRead
	case FetchSuper:
		return permSuperFetch
	case FetchUser:
		return permUserFetch
	default:
		return permUserWrite
	}
}

// pteNX repurposes a software-available PTE/PDE bit (bit 11, one of the
// three AVL bits Intel reserves for OS use in a non-PAE entry) as a
// no-execute attribute: real NX requires the PAE 64-bit entry format,
// which this core's two-level 32-bit walk does not implement, but a
// software MMU is free to give fetch permission its own checked bit
// without it (§4.3, §8.3.3).
const pteNX = 1 << 11

// PageFault carries the architectural error code for a #PF delivery; the
// cpu package wraps it into a Fault when it catches one.
type PageFault struct {
	Linear    uint32
	ErrorCode uint32
}

func (e *PageFault) Error() string { return "page fault" }

const (
	pdeAddrMask = 0xFFC
	pteAddrMask = 0xFFC
	cr0PG       = 1 << 31
	cr4PSE      = 1 << 4
)

type tlbEntry struct {
	physBase uint32 // phys page base; physBase + (lin&0xFFF) is the address
	perm     uint8
	valid    bool
}

// TLB caches linear-page -> physical-page translations plus their access
// permissions. One instance per CPU; Flush empties it on CR3 loads, TLBI,
// and CPU.Reset.
type TLB struct {
	mem     *memory.RAM
	entries map[uint32]tlbEntry
	a20Mask uint32
}

// New builds a TLB backed by the given physical memory, with the A20 gate
// initially disabled (mask restricts bit 20, matching real-mode reset
// state on real hardware).
func New(mem *memory.RAM) *TLB {
	return &TLB{
		mem:     mem,
		entries: make(map[uint32]tlbEntry),
		a20Mask: 0xFFEFFFFF,
	}
}

// SetA20 enables or disables the A20 address line.
func (t *TLB) SetA20(enabled bool) {
	if enabled {
		t.a20Mask = 0xFFFFFFFF
	} else {
		t.a20Mask = 0xFFEFFFFF
	}
	t.Flush()
}

// Flush empties every cached translation (§4.3: CR3 load, INVLPG-all,
// mode transitions).
func (t *TLB) Flush() {
	for k := range t.entries {
		delete(t.entries, k)
	}
}

// Invalidate drops the single page containing the given linear address,
// the effect of INVLPG.
func (t *TLB) Invalidate(lin uint32) {
	delete(t.entries, lin>>12)
}

// Translate converts a linear address to a physical one for the given
// access kind, consulting the cached tag first and falling back to a full
// page-table walk on a miss or permission change (§4.3).
func (t *TLB) Translate(lin uint32, kind AccessKind, cr0, cr3, cr4 uint32) (uint32, *PageFault) {
	page := lin >> 12
	if e, ok := t.entries[page]; ok && e.valid && e.perm&kind.permBit() != 0 {
		return e.physBase | (lin & 0xFFF), nil
	}

	if cr0&cr0PG == 0 {
		phys := lin & t.a20Mask
		t.entries[page] = tlbEntry{physBase: phys &^ 0xFFF, perm: 0xFF, valid: true}
		return phys, nil
	}

	return t.walk(lin, kind, cr3, cr4)
}

func (t *TLB) readPhys(addr uint32) uint32 {
	if !t.mem.InBounds(addr, 4) {
		return 0xFFFFFFFF
	}
	return t.mem.ReadDword(addr)
}

func (t *TLB) writePhys(addr, v uint32) {
	if t.mem.InBounds(addr, 4) {
		t.mem.WriteDword(addr, v)
	}
}

// walk performs the two-level IA-32 page table walk (with PSE 4MiB large
// pages), updates accessed/dirty bits in the page tables, caches the
// resulting permission tag, and returns a *PageFault on any violation.
func (t *TLB) walk(lin uint32, kind AccessKind, cr3, cr4 uint32) (uint32, *PageFault) {
	write := kind.isWrite()
	user := kind.isUser()
	fetch := kind.isFetch()

	pdeAddr := (cr3 &^ 0xFFF) + (lin>>20)&pdeAddrMask
	pde := t.readPhys(pdeAddr)
	if pde&1 == 0 {
		return 0, &PageFault{Linear: lin, ErrorCode: errCode(false, write, user, fetch)}
	}

	if pde&0x80 != 0 && cr4&cr4PSE != 0 {
		if write && pde&2 == 0 {
			return 0, &PageFault{Linear: lin, ErrorCode: errCode(true, write, user, fetch)}
		}
		if user && pde&4 == 0 {
			return 0, &PageFault{Linear: lin, ErrorCode: errCode(true, write, user, fetch)}
		}
		if fetch && pde&pteNX != 0 {
			return 0, &PageFault{Linear: lin, ErrorCode: errCode(true, write, user, fetch)}
		}
		if pde&0x20 == 0 || (write && pde&0x40 == 0) {
			t.writePhys(pdeAddr, pde|0x20|boolBit(write, 0x40))
		}
		phys := (pde & 0xFFC00000) | (lin & 0x003FF000) | (lin & 0xFFF)
		perm := permFromBits(pde, pde, user)
		t.cache(lin, phys&^0xFFF, perm)
		return phys, nil
	}

	pteAddr := (pde &^ 0xFFF) + (lin>>10)&pteAddrMask
	pte := t.readPhys(pteAddr)
	if pte&1 == 0 {
		return 0, &PageFault{Linear: lin, ErrorCode: errCode(false, write, user, fetch)}
	}

	combined := ^pte | ^pde
	if write && combined&2 != 0 {
		return 0, &PageFault{Linear: lin, ErrorCode: errCode(true, write, user, fetch)}
	}
	if user && combined&4 != 0 {
		return 0, &PageFault{Linear: lin, ErrorCode: errCode(true, write, user, fetch)}
	}
	if fetch && (pte&pteNX != 0 || pde&pteNX != 0) {
		return 0, &PageFault{Linear: lin, ErrorCode: errCode(true, write, user, fetch)}
	}

	if pde&0x20 == 0 {
		t.writePhys(pdeAddr, pde|0x20)
	}
	if pte&0x20 == 0 || (write && pte&0x40 == 0) {
		t.writePhys(pteAddr, pte|0x20|boolBit(write, 0x40))
	}

	phys := (pte &^ 0xFFF) | (lin & 0xFFF)
	perm := permFromBits(pde, pte, user)
	t.cache(lin, phys&^0xFFF, perm)
	return phys, nil
}

func (t *TLB) cache(lin, physBase uint32, perm uint8) {
	t.entries[lin>>12] = tlbEntry{physBase: physBase & t.a20Mask, perm: perm, valid: true}
}

func permFromBits(pde, pte uint32, user bool) uint8 {
	perm := uint8(permSuperRead)
	writable := pde&2 != 0 && pte&2 != 0
	if writable {
		perm |= permSuperWrite
	}
	if pde&pteNX == 0 && pte&pteNX == 0 {
		perm |= permSuperFetch
	}
	if pde&4 != 0 && pte&4 != 0 {
		perm |= permUserRead
		if writable {
			perm |= permUserWrite
		}
		if perm&permSuperFetch != 0 {
			perm |= permUserFetch
		}
	}
	_ = user
	return perm
}

// errCode builds the architectural page-fault error code (§4.3): bit 0
// present, bit 1 write, bit 2 user, bit 4 instruction fetch (always
// reported for a fetch-kind access, matching real hardware's I/D bit
// regardless of whether NX itself caused the fault).
func errCode(present, write, user, fetch bool) uint32 {
	var e uint32
	if present {
		e |= 1
	}
	if write {
		e |= 2
	}
	if user {
		e |= 4
	}
	if fetch {
		e |= 0x10
	}
	return e
}

func boolBit(b bool, bit uint32) uint32 {
	if b {
		return bit
	}
	return 0
}
