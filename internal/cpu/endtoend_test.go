package cpu

import (
	"testing"

	"github.com/rcornwell/ia32core/internal/segment"
)

// endtoend_test.go drives full Decode+dispatch (CPU.Step) rather than
// calling primitives directly, the way a guest program would actually
// exercise these paths.

func newEndToEndCPU(t *testing.T, ramSize uint32) *CPU {
	t.Helper()
	mem := newTestRAM(ramSize)
	tlb := newTestTLB(mem)
	tlb.SetA20(true)
	tr := newTestTrace()
	c := New(mem, tlb, tr, testNullBus{}, testNullIC{}, testNullIC{})
	// Reset leaves CS at the real-mode BIOS reset base (0xFFFF0000);
	// give every scenario a flat code segment at linear 0 unless it
	// explicitly sets up its own descriptors.
	c.Seg[CS] = SegCache{Selector: 0, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	return c
}

func writeBytes(c *CPU, addr uint32, b ...byte) {
	for i, v := range b {
		c.Mem.WriteByte(addr+uint32(i), v)
	}
}

func codeDescRaw(base, limit uint32, dpl int, big bool) (uint32, uint32) {
	access := uint16(segment.AccPresent | segment.AccCodeData | segment.AccExecute | segment.AccRW | segment.AccGranular)
	access |= uint16(dpl) << segment.AccDPLShift
	if big {
		access |= segment.AccBig
	}
	d := segment.Descriptor{Base: base, Limit: limit, Access: access}
	return d.Raw()
}

func dataDescRaw(base, limit uint32, dpl int, big bool) (uint32, uint32) {
	access := uint16(segment.AccPresent | segment.AccCodeData | segment.AccRW | segment.AccGranular)
	access |= uint16(dpl) << segment.AccDPLShift
	if big {
		access |= segment.AccBig
	}
	d := segment.Descriptor{Base: base, Limit: limit, Access: access}
	return d.Raw()
}

func tssDescRaw(base, limit uint32) (uint32, uint32) {
	access := uint16(segment.AccPresent) | uint16(segment.SysTSS32Avail)
	d := segment.Descriptor{Base: base, Limit: limit, Access: access}
	return d.Raw()
}

func callGateRaw(selector uint16, offset uint32, paramCount uint8, dpl int, present bool) (uint32, uint32) {
	lo := uint32(selector)<<16 | (offset & 0xFFFF)
	hi := (offset & 0xFFFF0000) | uint32(paramCount&0x1F) | uint32(segment.SysCallGate32)<<8 | uint32(dpl&3)<<13
	if present {
		hi |= 1 << 15
	}
	return lo, hi
}

func setGDTEntry(c *CPU, gdtBase uint32, index uint32, lo, hi uint32) {
	c.Mem.WriteDword(gdtBase+index*8, lo)
	c.Mem.WriteDword(gdtBase+index*8+4, hi)
}

// Scenario 1 (§8.3.1): ADD overflow. 0x7F + 0x01 signed-overflows an
// 8-bit AL without an unsigned carry out.
func TestScenarioAddOverflow(t *testing.T) {
	c := newEndToEndCPU(t, 1<<16)
	c.Regs[EAX] = 0x7F
	writeBytes(c, 0x1000, 0x04, 0x01) // ADD AL, 0x01
	if err := c.SetEIP(0x1000); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.Regs[EAX]&0xFF != 0x80 {
		t.Fatalf("expected AL=0x80, got %#x", c.Regs[EAX]&0xFF)
	}
	if c.GetCF() {
		t.Fatalf("did not expect unsigned carry")
	}
	if !c.GetOF() {
		t.Fatalf("expected signed overflow")
	}
}

// Scenario 2 (§8.3.2): far call through a ring-0 call gate from CS=0x1B
// (CPL 3), ESP=0xFFF0, through a 32-bit call gate (DPL=3, target DPL=0,
// param count=2) to CS=0x10, EIP=0x400000.
func TestScenarioCallGateFarCall(t *testing.T) {
	c := newEndToEndCPU(t, 8<<20)
	c.CR[0] |= CR0PE

	const gdtBase = 0x5000
	c.Seg[SegGDTR] = SegCache{Base: gdtBase, Limit: 0xFF, Valid: true}

	// index 1, selector 0x08: call gate -> CS 0x10, target EIP 0x400000, 2 params, DPL 3.
	lo, hi := callGateRaw(0x10, 0x400000, 2, 3, true)
	setGDTEntry(c, gdtBase, 1, lo, hi)

	// index 2, selector 0x10: target ring-0 32-bit code.
	lo, hi = codeDescRaw(0, 0xFFFFFFFF, 0, true)
	setGDTEntry(c, gdtBase, 2, lo, hi)

	// index 3, selector 0x1B (RPL 3): caller's ring-3 code segment.
	lo, hi = codeDescRaw(0, 0xFFFFFFFF, 3, true)
	setGDTEntry(c, gdtBase, 3, lo, hi)

	// index 4, selector 0x23 (RPL 3): caller's ring-3 stack segment.
	lo, hi = dataDescRaw(0, 0xFFFFFFFF, 3, true)
	setGDTEntry(c, gdtBase, 4, lo, hi)

	// index 5, selector 0x28: the TSS, holding ESP0/SS0 for ring 0.
	const tssBase = 0x4000
	lo, hi = tssDescRaw(tssBase, 0x67)
	setGDTEntry(c, gdtBase, 5, lo, hi)
	c.Mem.WriteDword(tssBase+tssESP0, 0x9000)
	c.Mem.WriteDword(tssBase+tssSS0, 0x30)

	// index 6, selector 0x30: the ring-0 stack segment ESP0/SS0 names.
	lo, hi = dataDescRaw(0, 0xFFFFFFFF, 0, true)
	setGDTEntry(c, gdtBase, 6, lo, hi)

	c.Seg[SegTR] = SegCache{Selector: 0x28, Base: tssBase, Limit: 0x67, Valid: true}
	c.CPL = 3
	c.Seg[CS] = SegCache{Selector: 0x1B, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.Seg[SS] = SegCache{Selector: 0x23, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.Regs[ESP] = 0xFFF0

	// Caller's pre-call stack: (0xAAAA, 0xBBBB).
	c.Mem.WriteDword(0xFFF0, 0xAAAA)
	c.Mem.WriteDword(0xFFF4, 0xBBBB)

	// CALL 0x08:<anything> (ptr16:32, opcode 0x9A): offset field is
	// ignored for a call-gate target, only the selector matters.
	writeBytes(c, 0x2000, 0x9A, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00)
	if err := c.SetEIP(0x2000); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}

	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if c.CPL != 0 {
		t.Fatalf("expected CPL 0 after the gate, got %d", c.CPL)
	}
	if c.Seg[CS].Selector != 0x10 {
		t.Fatalf("expected CS=0x10, got %#x", c.Seg[CS].Selector)
	}
	if c.VirtEIP() != 0x400000 {
		t.Fatalf("expected EIP=0x400000, got %#x", c.VirtEIP())
	}
	if c.Seg[SS].Selector != 0x30 {
		t.Fatalf("expected SS loaded from TSS (0x30), got %#x", c.Seg[SS].Selector)
	}
	if c.Regs[ESP] != 0x9000-24 {
		t.Fatalf("expected ESP=%#x, got %#x", 0x9000-24, c.Regs[ESP])
	}

	esp := c.Regs[ESP]
	readDword := func(addr uint32) uint32 { v, _ := c.readMem(addr, 32); return v }
	if v := readDword(esp + 20); v != 0x23 {
		t.Fatalf("expected old SS 0x23 at top of new stack, got %#x", v)
	}
	if v := readDword(esp + 16); v != 0xFFF0 {
		t.Fatalf("expected old ESP 0xFFF0, got %#x", v)
	}
	if v := readDword(esp + 12); v != 0xAAAA {
		t.Fatalf("expected param0 0xAAAA, got %#x", v)
	}
	if v := readDword(esp + 8); v != 0xBBBB {
		t.Fatalf("expected param1 0xBBBB, got %#x", v)
	}
	if v := readDword(esp + 4); v != 0x1B {
		t.Fatalf("expected old CS 0x1B, got %#x", v)
	}
}

// Scenario 3 (§8.3.3): a fetch from a linear address mapped NX raises
// #PF with the instruction-fetch error-code bit set and CR2 pointing at
// the faulting address.
func TestScenarioNXPageFaultOnFetch(t *testing.T) {
	c := newEndToEndCPU(t, 4<<20)
	c.CR[0] |= CR0PE | CR0PG

	const pdBase = 0x1000
	const ptBase = 0x2000
	const codePage = 0x500

	c.CR[3] = pdBase
	// PDE/PTE index 0 for linear 0x500: both tables' first entries.
	c.Mem.WriteDword(pdBase, ptBase|0x7) // present, writable, user

	const pteNX = 1 << 11
	c.Mem.WriteDword(ptBase, codePage|0x7|pteNX)

	writeBytes(c, codePage, 0x90) // NOP, never reached
	if err := c.SetEIP(codePage); err == nil {
		t.Fatalf("expected #PF translating an NX-mapped fetch")
	} else if f, ok := err.(*Fault); !ok || f.Vector != VecPF {
		t.Fatalf("expected #PF, got %v", err)
	} else if f.ErrorCode&0x10 == 0 {
		t.Fatalf("expected the instruction-fetch bit set in the error code, got %#x", f.ErrorCode)
	}
	if c.CR[2] != codePage {
		t.Fatalf("expected CR2=%#x, got %#x", codePage, c.CR[2])
	}
}

// Scenario 4: self-modifying-code coherence. A trace decoded for one
// opcode byte at a physical address must not be reused once a store
// overwrites that address with a different opcode.
func TestScenarioSMCCoherence(t *testing.T) {
	c := newEndToEndCPU(t, 1<<16)
	const addr = 0x3000

	writeBytes(c, addr, 0x90) // NOP
	if err := c.SetEIP(addr); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.HaltState {
		t.Fatalf("NOP must not halt")
	}

	if err := c.SetEIP(addr); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}
	if err := c.writeMem(addr, 8, 0xF4); err != nil { // HLT, over the traced NOP
		t.Fatalf("writeMem: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !c.HaltState {
		t.Fatalf("expected the HLT written over the stale trace to execute")
	}
}

// Scenario 5: REP MOVSB with CX=5, DF=1. Source DS:SI=0x2004, dest
// ES:DI=0x3004; after execution CX=0, SI=0x1FFF, DI=0x2FFF and the bytes
// land at physical 0x3000..0x3004.
func TestScenarioRepMovsb(t *testing.T) {
	c := newEndToEndCPU(t, 1<<16)
	c.Eflags |= EflagsDF
	c.Regs[ECX] = 5
	c.Regs[ESI] = 0x2004
	c.Regs[EDI] = 0x3004
	writeBytes(c, 0x2000, 0x01, 0x02, 0x03, 0x04, 0x05)

	writeBytes(c, 0x6000, 0xF3, 0xA4) // REP MOVSB
	if err := c.SetEIP(0x6000); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if c.Regs[ECX] != 0 {
		t.Fatalf("expected CX=0, got %#x", c.Regs[ECX])
	}
	if c.Regs[ESI] != 0x1FFF {
		t.Fatalf("expected SI=0x1FFF, got %#x", c.Regs[ESI])
	}
	if c.Regs[EDI] != 0x2FFF {
		t.Fatalf("expected DI=0x2FFF, got %#x", c.Regs[EDI])
	}
	for i := uint32(0); i < 5; i++ {
		want := byte(i + 1)
		got := c.Mem.ReadByte(0x3000 + i)
		if got != want {
			t.Fatalf("byte %d: expected %#x, got %#x", i, want, got)
		}
	}
}

// Scenario 6 (§8.3.6): IRET from ring 0 to V8086. Stack top holds EIP,
// CS, EFLAGS(VM=1), ESP, SS, ES, DS, FS, GS; after IRET32 the CPU is in
// V8086 mode at CPL 3 with every segment reloaded real-mode-style.
func TestScenarioIretToV8086(t *testing.T) {
	c := newEndToEndCPU(t, 1<<16)
	c.CR[0] |= CR0PE
	c.CPL = 0
	c.Seg[CS] = SegCache{Selector: 0x08, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.Seg[SS] = SegCache{Selector: 0x10, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.Regs[ESP] = 0x8000

	frame := []uint32{
		0x00001234, // EIP
		0x00000050, // CS
		0x00020202 | EflagsVM, // EFLAGS, VM=1
		0x00000100, // ESP
		0x00000060, // SS
		0x00000070, // ES
		0x00000080, // DS
		0x00000090, // FS
		0x000000A0, // GS
	}
	for i, v := range frame {
		c.Mem.WriteDword(0x8000+uint32(i)*4, v)
	}

	writeBytes(c, 0x1000, 0xCF) // IRETD
	if err := c.SetEIP(0x1000); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if !c.VM() {
		t.Fatalf("expected EFLAGS.VM set after the IRET")
	}
	if c.CPL != 3 {
		t.Fatalf("expected CPL 3 in V8086 mode, got %d", c.CPL)
	}
	if c.Seg[CS].Selector != 0x50 || c.Seg[CS].Base != 0x50<<4 {
		t.Fatalf("expected CS reloaded real-mode-style from 0x50, got sel=%#x base=%#x", c.Seg[CS].Selector, c.Seg[CS].Base)
	}
	if c.Seg[SS].Selector != 0x60 || c.Seg[ES].Selector != 0x70 || c.Seg[DS].Selector != 0x80 ||
		c.Seg[FS].Selector != 0x90 || c.Seg[GS].Selector != 0xA0 {
		t.Fatalf("expected the full segment quartet plus SS reloaded from the frame")
	}
	if c.Regs[ESP] != 0x100 {
		t.Fatalf("expected ESP=0x100, got %#x", c.Regs[ESP])
	}
	if c.VirtEIP() != 0x1234 {
		t.Fatalf("expected EIP=0x1234, got %#x", c.VirtEIP())
	}
}
