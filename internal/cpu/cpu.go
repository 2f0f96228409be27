/*
   CPU: architectural state for the IA-32 core.

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
   ROBERT M SUPNIK BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

// Package cpu implements the IA-32 instruction-set core: architectural
// register state, the lazy flags engine, the decoder and handler table,
// control transfers, the FPU, and SSE/MMX.
package cpu

import (
	"github.com/rcornwell/ia32core/internal/ioport"
	"github.com/rcornwell/ia32core/internal/memory"
	"github.com/rcornwell/ia32core/internal/mmu"
	"github.com/rcornwell/ia32core/internal/trace"
)

// General-purpose register indices (§3.1).
const (
	EAX = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	EZR  // hidden zero register, used by the decoder for synthetic forms
	ETMP // hidden scratch register
)

// Segment register indices.
const (
	ES = iota
	CS
	SS
	DS
	FS
	GS
	SegTR
	SegGDTR
	SegLDTR
	SegIDTR
	numSegs
)

// CR0 bits.
const (
	CR0PE = 1 << 0
	CR0MP = 1 << 1
	CR0EM = 1 << 2
	CR0TS = 1 << 3
	CR0ET = 1 << 4
	CR0NE = 1 << 5
	CR0WP = 1 << 16
	CR0NW = 1 << 29
	CR0CD = 1 << 30
	CR0PG = 1 << 31
)

// CR4 bits.
const (
	CR4VME        = 1 << 0
	CR4PVI        = 1 << 1
	CR4TSD        = 1 << 2
	CR4DE         = 1 << 3
	CR4PSE        = 1 << 4
	CR4PAE        = 1 << 5
	CR4MCE        = 1 << 6
	CR4PGE        = 1 << 7
	CR4PCE        = 1 << 8
	CR4OSFXSR     = 1 << 9
	CR4OSXMMEXCPT = 1 << 10
)

// Segment descriptor cache: base/limit/access loaded from a GDT/LDT/IDT
// entry or synthesised directly for real/V8086 mode (§3.1).
type SegCache struct {
	Selector uint16
	Base     uint32
	Limit    uint32
	Access   uint16 // raw access-rights byte(s), ACCESS_* encoded
	Valid    bool
	Big      bool // 32-bit default operand/address size (D/B bit)
}

// DPL returns the descriptor privilege level cached from the raw access
// byte, the same bit position segment.Descriptor.DPL reads from the GDT
// entry directly (§4.6).
func (s SegCache) DPL() int { return int(s.Access>>5) & 3 }

// CPU holds all per-instance architectural state: general and segment
// registers, control/debug registers, the FPU/MMX/XMM register files, and
// the lazy-flags bookkeeping.
// There is exactly one logical CPU (§5: no SMP).
type CPU struct {
	// General registers, aliased by width through Reg8/Reg16/Reg32 helpers.
	Regs [10]uint32

	// Segment registers: six user-visible plus TR/GDTR/LDTR/IDTR.
	Seg [numSegs]SegCache

	CR [8]uint32
	DR [8]uint32

	// EFLAGS split into the authoritative non-arithmetic word and the
	// lazy-flags scratch fields (§3.1, §4.1).
	Eflags uint32
	Laux   lazyOp
	Lop1   uint32
	Lop2   uint32
	Lr     uint32

	// EIP triplet (§3.1).
	PhysEIP     uint32
	LastPhysEIP uint32
	EIPPhysBias uint32

	CPL int

	StateHash uint32 // mixes CS.Big and address-size default into trace keys

	// FPU. Extended80 is defined in fpu.go alongside its float64 conversions.
	FPR      [8]Extended80
	FTop     uint8
	FPUSW    uint16 // status word
	FPUCW    uint16 // control word
	FPUTag   uint16 // tag word, 2 bits per register
	FPUIP    uint32
	FPUCS    uint16
	FPUDP    uint32
	FPUDS    uint16
	FloatExc uint16 // transient exception flags for the instruction in flight

	// SSE.
	XMM   [8][16]byte
	MXCSR uint32

	MSR map[uint32]uint64

	HaltState      bool
	InterruptBlock bool // interrupts_blocked: disables IRQ check for one instruction
	A20Enabled     bool

	TLB   *mmu.TLB
	Mem   *memory.RAM
	Trace *trace.Cache

	Ports ioport.PortBus
	PIC   ioport.PIC
	APIC  ioport.APIC

	table [512]Handler // one-byte (0-255) + two-byte 0F xx (256-511) forms

	// ExitRequested is polled by the outer loop (internal/core) after
	// every dispatched instruction; it is set by anything that cannot
	// safely continue executing the current trace in-line.
	ExitRequested bool
	ExitReason    ExitReason

	FaultPending *Fault
}

// ExitReason names why Step requested the outer loop stop early.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitHalt
	ExitFault
	ExitTaskSwitch
	ExitTraceInvalidated
	ExitEflagsIF
	ExitDeviceRequest
)

// New constructs a CPU wired to the given RAM, TLB, trace cache, and
// external port/interrupt collaborators (§6.2).
func New(ram *memory.RAM, tlb *mmu.TLB, tr *trace.Cache, ports ioport.PortBus, pic ioport.PIC, apic ioport.APIC) *CPU {
	c := &CPU{
		Mem:   ram,
		TLB:   tlb,
		Trace: tr,
		Ports: ports,
		PIC:   pic,
		APIC:  apic,
		MSR:   make(map[uint32]uint64),
	}
	c.buildTable()
	c.Reset()
	return c
}

// Reset implements cpu_reset (§6.1, §8.1): CS = F000:FFF0 in a high-based
// real-mode cache, EFLAGS = 2, CR0 = 0x60000010, DR6/DR7/MXCSR/PAT defaults,
// and empties the TLB/trace/SMC state via their own Reset/Flush methods.
func (c *CPU) Reset() {
	for i := range c.Regs {
		c.Regs[i] = 0
	}
	c.Regs[EZR] = 0
	c.Regs[ETMP] = 0xFFFFFFFF

	for i := range c.Seg {
		c.Seg[i] = SegCache{}
	}
	c.Seg[CS] = SegCache{Selector: 0xF000, Base: 0xFFFF0000, Limit: 0xFFFF, Valid: true}
	for _, s := range []int{ES, SS, DS, FS, GS} {
		c.Seg[s] = SegCache{Selector: 0, Base: 0, Limit: 0xFFFF, Valid: true}
	}
	c.Seg[SegIDTR] = SegCache{Base: 0, Limit: 0x3FF, Valid: true}

	c.CR[0] = 0x60000010
	c.DR[6] = 0xFFFF0FF0
	c.DR[7] = 0x400
	c.MXCSR = 0x1F80

	c.Eflags = 2
	c.Laux = FullUpdate
	c.Lop1, c.Lop2, c.Lr = 0, 0, 0

	c.PhysEIP = 0xFFF0
	c.LastPhysEIP = 0xFFFFFFFF // force re-translation on first fetch
	c.EIPPhysBias = 0

	c.CPL = 0
	c.HaltState = false
	c.InterruptBlock = false

	c.FTop = 0
	c.FPUCW = 0x37F
	c.FPUSW = 0
	c.FPUTag = 0xFFFF

	c.MSR[MsrPAT] = 0x0007040600070406

	c.TLB.Flush()
	c.Trace.Flush()
	c.Mem.SMC.Reset()

	c.recomputeStateHash()
}

// recomputeStateHash mixes CS.Big and the address-size default into the
// trace-cache key (§3.4) so that 16-bit and 32-bit views of identical
// bytes never alias one another.
func (c *CPU) recomputeStateHash() {
	h := uint32(0)
	if c.Seg[CS].Big {
		h |= 1
	}
	c.StateHash = h
}

// VM reports whether EFLAGS.VM (V8086 mode) is set.
func (c *CPU) VM() bool { return c.Eflags&EflagsVM != 0 }

// EFLAGS bit masks (§3.1, grounded on original_source/include/cpu/cpu.h).
const (
	EflagsCF   = 0x000001
	EflagsPF   = 0x000004
	EflagsAF   = 0x000010
	EflagsZF   = 0x000040
	EflagsSF   = 0x000080
	EflagsTF   = 0x000100
	EflagsIF   = 0x000200
	EflagsDF   = 0x000400
	EflagsOF   = 0x000800
	EflagsIOPL = 0x003000
	EflagsNT   = 0x004000
	EflagsRF   = 0x010000
	EflagsVM   = 0x020000
	EflagsAC   = 0x040000
	EflagsVIF  = 0x080000
	EflagsVIP  = 0x100000
	EflagsID   = 0x200000

	validFlagMask = EflagsID | EflagsVIP | EflagsVIF | EflagsAC | EflagsVM | EflagsRF |
		EflagsNT | EflagsIOPL | EflagsOF | EflagsDF | EflagsIF | EflagsTF | EflagsSF |
		EflagsZF | EflagsAF | EflagsPF | EflagsCF
	arithFlagMask = EflagsOF | EflagsSF | EflagsZF | EflagsAF | EflagsPF | EflagsCF
)

// IOPL returns the current I/O privilege level from EFLAGS.
func (c *CPU) IOPL() int { return int(c.Eflags>>12) & 3 }
