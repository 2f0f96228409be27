package cpu

import "testing"

func TestAdcIncludesCarryIn(t *testing.T) {
	c := newTestCPU(t)
	c.Add(8, 0xFF, 0x01) // sets CF from the unsigned wrap
	if !c.GetCF() {
		t.Fatalf("setup expected CF set")
	}
	r := c.Adc(8, 0x01, 0x01)
	if r != 0x03 {
		t.Fatalf("expected 1+1+CF(1) = 3, got %#x", r)
	}
}

func TestSbbIncludesBorrowIn(t *testing.T) {
	c := newTestCPU(t)
	c.Sub(8, 0x00, 0x01) // sets CF (borrow)
	if !c.GetCF() {
		t.Fatalf("setup expected CF set")
	}
	r := c.Sbb(8, 0x05, 0x01)
	if r != 0x03 {
		t.Fatalf("expected 5-1-CF(1) = 3, got %#x", r)
	}
}

func TestIncDoesNotTouchCF(t *testing.T) {
	c := newTestCPU(t)
	c.Add(8, 0xFF, 0x01) // sets CF
	if !c.GetCF() {
		t.Fatalf("setup expected CF set")
	}
	c.Inc(8, 0x01)
	if !c.GetCF() {
		t.Fatalf("INC must leave CF untouched")
	}
}

func TestDecDoesNotTouchCF(t *testing.T) {
	c := newTestCPU(t)
	c.Add(8, 0xFF, 0x01) // sets CF
	c.Dec(8, 0x01)
	if !c.GetCF() {
		t.Fatalf("DEC must leave CF untouched")
	}
}

func TestNotIsBitwiseComplementOnly(t *testing.T) {
	c := newTestCPU(t)
	c.Add(8, 0xFF, 0x01) // sets CF, to verify Not leaves flags alone
	v := c.Not(8, 0x0F)
	if v != 0xF0 {
		t.Fatalf("expected 0xF0, got %#x", v)
	}
	if !c.GetCF() {
		t.Fatalf("NOT must not affect flags")
	}
}

func TestShlZeroCountLeavesFlagsAlone(t *testing.T) {
	c := newTestCPU(t)
	c.Add(8, 0xFF, 0x01) // sets CF
	r := c.Shl(8, 0x01, 0)
	if r != 0x01 {
		t.Fatalf("expected value unchanged, got %#x", r)
	}
	if !c.GetCF() {
		t.Fatalf("a zero-count shift must not touch CF")
	}
}

func TestShlCarriesOutTopBit(t *testing.T) {
	c := newTestCPU(t)
	c.Shl(8, 0x81, 1)
	if !c.GetCF() {
		t.Fatalf("expected CF set from the bit shifted out of an 8-bit value")
	}
}

func TestSarPreservesSign(t *testing.T) {
	c := newTestCPU(t)
	r := c.Sar(8, 0x80, 4)
	if r != 0xF8 {
		t.Fatalf("expected sign-extended shift to 0xF8, got %#x", r)
	}
}

func TestShrLogicalNoSignExtend(t *testing.T) {
	c := newTestCPU(t)
	r := c.Shr(8, 0x80, 4)
	if r != 0x08 {
		t.Fatalf("expected 0x08, got %#x", r)
	}
}

func TestRolSetsCFFromBitRotatedIn(t *testing.T) {
	c := newTestCPU(t)
	r := c.Rol(8, 0x81, 1)
	if r != 0x03 {
		t.Fatalf("expected 0x03, got %#x", r)
	}
	if !c.GetCF() {
		t.Fatalf("expected CF set from the bit rotated around")
	}
}

func TestRorSetsCFFromBitRotatedIn(t *testing.T) {
	c := newTestCPU(t)
	r := c.Ror(8, 0x01, 1)
	if r != 0x80 {
		t.Fatalf("expected 0x80, got %#x", r)
	}
	if !c.GetCF() {
		t.Fatalf("expected CF set from the bit rotated around")
	}
}

func TestRclIncludesCarryInAndRotatesThroughIt(t *testing.T) {
	c := newTestCPU(t)
	c.SetCF(true)
	r := c.Rcl(8, 0x00, 1)
	if r != 0x01 {
		t.Fatalf("expected the carry-in to rotate into bit 0, got %#x", r)
	}
}

func TestRcrIncludesCarryInAndRotatesThroughIt(t *testing.T) {
	c := newTestCPU(t)
	c.SetCF(true)
	r := c.Rcr(8, 0x00, 1)
	if r != 0x80 {
		t.Fatalf("expected the carry-in to rotate into the top bit, got %#x", r)
	}
}

func TestShldShiftsBitsInFromSource(t *testing.T) {
	c := newTestCPU(t)
	r := c.Shld(16, 0x0001, 0x8000, 1)
	if r != 0x0003 {
		t.Fatalf("expected 0x0003, got %#x", r)
	}
}

func TestShrdShiftsBitsInFromSource(t *testing.T) {
	c := newTestCPU(t)
	r := c.Shrd(16, 0x8000, 0x0001, 1)
	if r != 0xC000 {
		t.Fatalf("expected 0xC000, got %#x", r)
	}
}

func TestBsfFindsLowestSetBit(t *testing.T) {
	idx, zero := Bsf(32, 0x00000100)
	if zero {
		t.Fatalf("did not expect zero flag for a nonzero operand")
	}
	if idx != 8 {
		t.Fatalf("expected bit index 8, got %d", idx)
	}
}

func TestBsfReportsZeroOnZeroOperand(t *testing.T) {
	_, zero := Bsf(32, 0)
	if !zero {
		t.Fatalf("expected zero flag for a zero operand")
	}
}

func TestBsrFindsHighestSetBit(t *testing.T) {
	idx, zero := Bsr(32, 0x00000100)
	if zero {
		t.Fatalf("did not expect zero flag for a nonzero operand")
	}
	if idx != 8 {
		t.Fatalf("expected bit index 8, got %d", idx)
	}
}

func TestBitTestReportsCFAndLeavesValueToCaller(t *testing.T) {
	c := newTestCPU(t)
	set := c.BitTest(32, 0x00000004, 2)
	if !set {
		t.Fatalf("expected bit 2 of 0x4 to be set")
	}
	if !c.GetCF() {
		t.Fatalf("expected CF to mirror the tested bit")
	}
	set = c.BitTest(32, 0x00000004, 0)
	if set {
		t.Fatalf("did not expect bit 0 of 0x4 to be set")
	}
	if c.GetCF() {
		t.Fatalf("expected CF clear for an unset bit")
	}
}
