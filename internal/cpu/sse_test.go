package cpu

import (
	"encoding/binary"
	"math"
	"testing"
)

func newSSETestCPU(t *testing.T) *CPU {
	t.Helper()
	c := newTestCPU(t)
	c.CR[4] |= CR4OSFXSR
	return c
}

func regInst(reg, rm uint8) *DecodedInst {
	return &DecodedInst{RegField: reg, RM: rm, IsMem: false}
}

func TestSSECheckRequiresOSFXSR(t *testing.T) {
	c := newTestCPU(t) // OSFXSR not set
	inst := regInst(0, 1)
	err := opMovaps(c, inst)
	if err == nil {
		t.Fatalf("expected #UD when CR4.OSFXSR is clear")
	}
}

func TestMovapsRegisterToRegister(t *testing.T) {
	c := newSSETestCPU(t)
	c.XMM[1] = [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := opMovaps(c, regInst(0, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.XMM[0] != c.XMM[1] {
		t.Fatalf("expected XMM0 to equal XMM1 after MOVAPS")
	}
}

func TestMovdLoadAndStoreRoundTrip(t *testing.T) {
	c := newSSETestCPU(t)
	c.Regs[EAX] = 0xDEADBEEF
	inst := &DecodedInst{RegField: 2, RM: uint8(EAX), IsMem: false, Has66: true}
	if err := opMovdLoad(c, inst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := binary.LittleEndian.Uint32(c.XMM[2][0:4])
	if got != 0xDEADBEEF {
		t.Fatalf("expected 0xDEADBEEF in XMM2 low dword, got %#x", got)
	}

	c.Regs[EBX] = 0
	storeInst := &DecodedInst{RegField: 2, RM: uint8(EBX), IsMem: false, Has66: true}
	if err := opMovdStore(c, storeInst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs[EBX] != 0xDEADBEEF {
		t.Fatalf("expected EBX == 0xDEADBEEF after MOVD store, got %#x", c.Regs[EBX])
	}
}

func TestCvtsi2ssAndCvttss2siRoundTrip(t *testing.T) {
	c := newSSETestCPU(t)
	neg := int32(-42)
	c.Regs[EAX] = uint32(neg)
	inst := &DecodedInst{RegField: 0, RM: uint8(EAX), IsMem: false}
	if err := opCvtsi2ss(c, inst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := math.Float32frombits(binary.LittleEndian.Uint32(c.XMM[0][0:4]))
	if f != -42 {
		t.Fatalf("expected -42.0, got %v", f)
	}

	back := &DecodedInst{RegField: uint8(ECX), RM: 0, IsMem: false}
	if err := opCvttss2si(c, back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if int32(c.Regs[ECX]) != -42 {
		t.Fatalf("expected ECX == -42, got %d", int32(c.Regs[ECX]))
	}
}

func TestAddpsPackedAllFourLanes(t *testing.T) {
	c := newSSETestCPU(t)
	putF32x4(&c.XMM[0], 1, 2, 3, 4)
	putF32x4(&c.XMM[1], 10, 20, 30, 40)
	add := makeSSEArith(sseAddF)
	if err := add(c, regInst(0, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := getF32x4(&c.XMM[0])
	want := [4]float32{11, 22, 33, 44}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddssOnlyTouchesLowestLane(t *testing.T) {
	c := newSSETestCPU(t)
	putF32x4(&c.XMM[0], 1, 2, 3, 4)
	putF32x4(&c.XMM[1], 100, 200, 300, 400)
	add := makeSSEArith(sseAddF)
	inst := regInst(0, 1)
	inst.Rep = 0xF3
	if err := add(c, inst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := getF32x4(&c.XMM[0])
	want := [4]float32{101, 2, 3, 4}
	if got != want {
		t.Fatalf("expected only lane 0 touched, got %v", got)
	}
}

func TestAndpsClearsBitsPerLane(t *testing.T) {
	c := newSSETestCPU(t)
	c.XMM[0] = [16]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	c.XMM[1] = [16]byte{0x0F, 0x0F, 0x0F, 0x0F, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	and := makeSSELogic(sseAnd)
	if err := and(c, regInst(0, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [4]byte{0x0F, 0x0F, 0x0F, 0x0F}
	for i := 0; i < 4; i++ {
		if c.XMM[0][i] != want[i] {
			t.Fatalf("expected byte %d == %#x, got %#x", i, want[i], c.XMM[0][i])
		}
	}
}

func TestPaddbWrapsPerByteLane(t *testing.T) {
	c := newSSETestCPU(t)
	c.XMM[0][0] = 0xFF
	c.XMM[1][0] = 0x02
	add := makePackedArith(1, false)
	inst := regInst(0, 1)
	inst.Has66 = true
	if err := add(c, inst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.XMM[0][0] != 0x01 {
		t.Fatalf("expected byte-lane wraparound to 0x01, got %#x", c.XMM[0][0])
	}
}

func TestPackedShiftSaturatesOnOutOfRangeCount(t *testing.T) {
	c := newSSETestCPU(t)
	binary.LittleEndian.PutUint32(c.XMM[0][0:4], 0xFFFFFFFF)
	shift := makePackedShiftGroup(4)
	inst := &DecodedInst{Mod: 3, RegField: 2, RM: 0, Has66: true, Imm: 64}
	if err := shift(c, inst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binary.LittleEndian.Uint32(c.XMM[0][0:4]) != 0 {
		t.Fatalf("expected a logical shift by >= width to zero the lane")
	}
}

func TestEmmsMarksAllTagsEmpty(t *testing.T) {
	c := newSSETestCPU(t)
	c.FPUTag = 0
	if err := opEmms(c, &DecodedInst{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FPUTag != 0xFFFF {
		t.Fatalf("expected EMMS to mark every MMX/FPU tag empty, got %#x", c.FPUTag)
	}
}

func TestComissSetsZFPFCFOnUnordered(t *testing.T) {
	c := newSSETestCPU(t)
	binary.LittleEndian.PutUint32(c.XMM[0][0:4], math.Float32bits(float32(math.NaN())))
	binary.LittleEndian.PutUint32(c.XMM[1][0:4], math.Float32bits(1.0))
	comiss := makeComiss(false)
	if err := comiss(c, regInst(0, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.GetZF() || !c.GetCF() {
		t.Fatalf("expected ZF and CF set for an unordered compare")
	}
}

func putF32x4(dst *[16]byte, a, b, c, d float32) {
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(a))
	binary.LittleEndian.PutUint32(dst[4:8], math.Float32bits(b))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(c))
	binary.LittleEndian.PutUint32(dst[12:16], math.Float32bits(d))
}

func getF32x4(src *[16]byte) [4]float32 {
	var out [4]float32
	for i := 0; i < 4; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4 : i*4+4]))
	}
	return out
}
