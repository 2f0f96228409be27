package cpu

import "testing"

func newTestCPU(t *testing.T) *CPU {
	t.Helper()
	mem := newTestRAM(1 << 16)
	tlb := newTestTLB(mem)
	tr := newTestTrace()
	return New(mem, tlb, tr, testNullBus{}, testNullIC{}, testNullIC{})
}

func TestAddFlags8BitSignedOverflow(t *testing.T) {
	c := newTestCPU(t)
	r := c.Add(8, 0x7F, 0x01) // 127 + 1 = 128: signed overflow, no unsigned carry
	if r != 0x80 {
		t.Fatalf("expected result 0x80, got %#x", r)
	}
	if c.GetCF() {
		t.Fatalf("did not expect unsigned carry out of a byte")
	}
	if !c.GetOF() {
		t.Fatalf("expected signed overflow from 0x7F+0x01")
	}
	if !c.GetSF() {
		t.Fatalf("expected sign flag set for an 8-bit result of 0x80")
	}
	if c.GetZF() {
		t.Fatalf("did not expect zero flag")
	}
}

func TestAddFlags8BitUnsignedCarry(t *testing.T) {
	c := newTestCPU(t)
	r := c.Add(8, 0xFF, 0x01)
	if r != 0x00 {
		t.Fatalf("expected wraparound to 0, got %#x", r)
	}
	if !c.GetCF() {
		t.Fatalf("expected unsigned carry out of the byte")
	}
	if !c.GetZF() {
		t.Fatalf("expected zero flag")
	}
	if c.GetOF() {
		t.Fatalf("did not expect signed overflow from 0xFF+0x01")
	}
}

func TestSubFlagsBorrow(t *testing.T) {
	c := newTestCPU(t)
	r := c.Sub(8, 0x00, 0x01)
	if r != 0xFF {
		t.Fatalf("expected 0xFF, got %#x", r)
	}
	if !c.GetCF() {
		t.Fatalf("expected a borrow")
	}
	if !c.GetSF() {
		t.Fatalf("expected sign flag set for 0xFF")
	}
}

func TestLogicClearsOFAndSetsSFFromWidth(t *testing.T) {
	c := newTestCPU(t)
	c.And(16, 0x8001, 0xFFFF) // result 0x8001, width 16 -> SF from bit 15
	if c.GetOF() {
		t.Fatalf("AND must clear OF")
	}
	if !c.GetSF() {
		t.Fatalf("expected SF set from bit 15 of a 16-bit logic result")
	}
	if c.GetZF() {
		t.Fatalf("did not expect ZF")
	}
}

func TestLogic32BitSignFlag(t *testing.T) {
	c := newTestCPU(t)
	c.Or(32, 0x80000000, 0)
	if !c.GetSF() {
		t.Fatalf("expected SF set from bit 31 of a 32-bit logic result")
	}
}

func TestMulOverflowSetsCFAndOF(t *testing.T) {
	c := newTestCPU(t)
	hi, lo := c.Mul(8, 0xFF, 0xFF) // 255*255 = 65025, high byte nonzero
	if hi == 0 {
		t.Fatalf("expected a nonzero high half, got lo=%#x", lo)
	}
	if !c.GetCF() || !c.GetOF() {
		t.Fatalf("expected MUL to report CF/OF when the high half is nonzero")
	}
}

func TestGetEflagsSetEflagsRoundTrip(t *testing.T) {
	c := newTestCPU(t)
	c.Add(32, 0xFFFFFFFF, 1) // zero result, sets ZF/CF lazily

	v := c.GetEflags()
	if v&EflagsZF == 0 {
		t.Fatalf("expected ZF to be materialized in GetEflags")
	}

	c.SetEflags(0x202) // IF + reserved bit 1, ZF clear
	if c.GetZF() {
		t.Fatalf("expected ZF clear after SetEflags with ZF bit unset")
	}
	if c.Eflags&EflagsIF == 0 {
		t.Fatalf("expected IF to be set after SetEflags")
	}
}

func TestCondTrueJE(t *testing.T) {
	c := newTestCPU(t)
	c.Add(32, 1, 0xFFFFFFFF) // 1 + (-1) = 0
	if !c.CondTrue(0x4) { // JZ/JE: cond>>1 == 2 selects ZF
		t.Fatalf("expected JE to be true after a zero result")
	}
	if c.CondTrue(0x5) { // JNZ should be false
		t.Fatalf("expected JNE to be false after a zero result")
	}
}
