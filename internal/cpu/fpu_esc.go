package cpu

import "math"

// fpu_esc.go: the eight x87 ESC opcode dispatchers (0xD8-0xDF), each
// switching on ModRM's reg field (memory form) or the full ModRM byte
// (register form), per the Intel SDM's x87 opcode-extension tables. This
// core wires the forms a bring-up guest's float/double arithmetic and
// common transcendentals actually hit; the less common register-move and
// exception-state forms (FCMOVcc, FUCOMI/FCOMI, FSAVE/FRSTOR, packed BCD)
// fall through to #UD like any other undecoded opcode, tracked in
// DESIGN.md rather than silently miscompiled.

func opEscD8(c *CPU, inst *DecodedInst) error {
	if inst.IsMem {
		v, err := c.readMem(c.effAddr(inst), 32)
		if err != nil {
			return err
		}
		src := FromFloat64(float64(math.Float32frombits(v)))
		switch inst.RegField {
		case 0:
			return c.fpuArith(0, src, fpuAdd, false, false)
		case 1:
			return c.fpuArith(0, src, fpuMul, false, false)
		case 2:
			return c.fpuCompareVal(src, 0)
		case 3:
			return c.fpuCompareVal(src, 0)
		case 4:
			return c.fpuArith(0, src, fpuSub, false, false)
		case 5:
			return c.fpuArith(0, src, fpuSub, true, false)
		case 6:
			return c.fpuArith(0, src, fpuDiv, false, false)
		case 7:
			return c.fpuArith(0, src, fpuDiv, true, false)
		}
		return NewFault(VecUD)
	}
	sti := uint8(inst.RM)
	switch inst.RegField {
	case 0:
		return c.fpuArithST(sti, fpuAdd, false, false)
	case 1:
		return c.fpuArithST(sti, fpuMul, false, false)
	case 2:
		return c.fpuCompare(inst, 0)
	case 3:
		return c.fpuCompare(inst, 1)
	case 4:
		return c.fpuArithST(sti, fpuSub, false, false)
	case 5:
		return c.fpuArithST(sti, fpuSub, true, false)
	case 6:
		return c.fpuArithST(sti, fpuDiv, false, false)
	case 7:
		return c.fpuArithST(sti, fpuDiv, true, false)
	}
	return NewFault(VecUD)
}

func opEscD9(c *CPU, inst *DecodedInst) error {
	if inst.IsMem {
		switch inst.RegField {
		case 0:
			return c.fldM32(inst)
		case 2:
			return c.fstM32(inst, false)
		case 3:
			return c.fstM32(inst, true)
		}
		return NewFault(VecUD)
	}
	full := uint8(inst.Mod)<<6 | inst.RegField<<3 | inst.RM
	switch {
	case full>>3 == 0xC0>>3: // D9 C0-C7: FLD ST(i)
		return c.FPUPush(c.FPUStAt(uint8(inst.RM)))
	case full>>3 == 0xC8>>3: // D9 C8-CF: FXCH ST(i)
		return opFxch(c, inst)
	case full == 0xD0:
		return nil // FNOP
	case full == 0xE0:
		return opFchs(c, inst)
	case full == 0xE1:
		return opFabs(c, inst)
	case full == 0xE4:
		return c.fpuCompareVal(FromFloat64(0), 0)
	case full == 0xE8:
		return opFld1(c, inst)
	case full == 0xEA:
		return opFldl2e(c, inst)
	case full == 0xEB:
		return opFldpi(c, inst)
	case full == 0xED:
		return opFldln2(c, inst)
	case full == 0xEE:
		return opFldz(c, inst)
	case full == 0xFA:
		return opFsqrt(c, inst)
	case full == 0xFC:
		c.fpuSetStAt(0, FromFloat64(math.Round(c.FPUStAt(0).ToFloat64())))
		return nil
	case full == 0xFE:
		c.fpuSetStAt(0, FromFloat64(math.Sin(c.FPUStAt(0).ToFloat64())))
		return nil
	case full == 0xFF:
		c.fpuSetStAt(0, FromFloat64(math.Cos(c.FPUStAt(0).ToFloat64())))
		return nil
	case full == 0xF1: // FYL2X: ST(1) * log2(ST(0)), pop
		y := c.FPUStAt(1).ToFloat64()
		x := c.FPUStAt(0).ToFloat64()
		c.fpuSetStAt(1, FromFloat64(y*math.Log2(x)))
		_, err := c.FPUPop()
		return err
	}
	return NewFault(VecUD)
}

func opEscDA(c *CPU, inst *DecodedInst) error {
	if !inst.IsMem {
		return NewFault(VecUD) // FCMOVcc/FUCOMPP register forms not wired
	}
	v, err := c.readMem(c.effAddr(inst), 32)
	if err != nil {
		return err
	}
	src := FromFloat64(float64(int32(v)))
	switch inst.RegField {
	case 0:
		return c.fpuArith(0, src, fpuAdd, false, false)
	case 1:
		return c.fpuArith(0, src, fpuMul, false, false)
	case 4:
		return c.fpuArith(0, src, fpuSub, false, false)
	case 5:
		return c.fpuArith(0, src, fpuSub, true, false)
	case 6:
		return c.fpuArith(0, src, fpuDiv, false, false)
	case 7:
		return c.fpuArith(0, src, fpuDiv, true, false)
	}
	return NewFault(VecUD)
}

func opEscDB(c *CPU, inst *DecodedInst) error {
	if inst.IsMem {
		switch inst.RegField {
		case 0:
			return c.fildM32(inst)
		case 2:
			return c.fistM32(inst, false)
		case 3:
			return c.fistM32(inst, true)
		}
		return NewFault(VecUD)
	}
	full := uint8(inst.Mod)<<6 | inst.RegField<<3 | inst.RM
	if full == 0xE2 { // FNCLEX
		c.FPUSW &^= swInvalid | swDenormal | swZeroDiv | swOverflow | swUnderflow | swPrecision | swStackFault | swErrSummary
		return nil
	}
	if full == 0xE3 { // FNINIT
		c.FPUCW = 0x037F
		c.FPUSW = 0
		c.FPUTag = 0xFFFF
		c.fpuSetTop(0)
		return nil
	}
	return NewFault(VecUD)
}

func opEscDC(c *CPU, inst *DecodedInst) error {
	if inst.IsMem {
		lo, err := c.readMem(c.effAddr(inst), 32)
		if err != nil {
			return err
		}
		hi, err := c.readMem(c.effAddr(inst)+4, 32)
		if err != nil {
			return err
		}
		src := FromFloat64(math.Float64frombits(uint64(hi)<<32 | uint64(lo)))
		switch inst.RegField {
		case 0:
			return c.fpuArith(0, src, fpuAdd, false, false)
		case 1:
			return c.fpuArith(0, src, fpuMul, false, false)
		case 2:
			return c.fpuCompareVal(src, 0)
		case 3:
			return c.fpuCompareVal(src, 0)
		case 4:
			return c.fpuArith(0, src, fpuSub, false, false)
		case 5:
			return c.fpuArith(0, src, fpuSub, true, false)
		case 6:
			return c.fpuArith(0, src, fpuDiv, false, false)
		case 7:
			return c.fpuArith(0, src, fpuDiv, true, false)
		}
		return NewFault(VecUD)
	}
	// Register form reverses dst/src relative to D8 and stores into ST(i):
	// DC /4 = FSUBR ST(i),ST; DC /5 = FSUB ST(i),ST (the well-known swap).
	sti := uint8(inst.RM)
	switch inst.RegField {
	case 0:
		return c.fpuArithInto(sti, c.FPUStAt(0), fpuAdd, false, false)
	case 1:
		return c.fpuArithInto(sti, c.FPUStAt(0), fpuMul, false, false)
	case 4:
		return c.fpuArithInto(sti, c.FPUStAt(0), fpuSub, true, false)
	case 5:
		return c.fpuArithInto(sti, c.FPUStAt(0), fpuSub, false, false)
	case 6:
		return c.fpuArithInto(sti, c.FPUStAt(0), fpuDiv, true, false)
	case 7:
		return c.fpuArithInto(sti, c.FPUStAt(0), fpuDiv, false, false)
	}
	return NewFault(VecUD)
}

func opEscDD(c *CPU, inst *DecodedInst) error {
	if inst.IsMem {
		switch inst.RegField {
		case 0:
			return c.fldM64(inst)
		case 2:
			return c.fstM64(inst, false)
		case 3:
			return c.fstM64(inst, true)
		}
		return NewFault(VecUD)
	}
	full := uint8(inst.Mod)<<6 | inst.RegField<<3 | inst.RM
	i := uint8(inst.RM)
	switch {
	case full>>3 == 0xC0>>3: // FFREE ST(i)
		c.fpuSetTag(i, tagEmpty)
		return nil
	case full>>3 == 0xD0>>3: // FST ST(i)
		c.fpuSetStAt(i, c.FPUStAt(0))
		return nil
	case full>>3 == 0xD8>>3: // FSTP ST(i)
		c.fpuSetStAt(i, c.FPUStAt(0))
		_, err := c.FPUPop()
		return err
	case full>>3 == 0xE0>>3: // FUCOM ST(i)
		c.fpuSetCondFromCmp(c.FPUStAt(0).ToFloat64(), c.FPUStAt(i).ToFloat64())
		return nil
	case full>>3 == 0xE8>>3: // FUCOMP ST(i)
		c.fpuSetCondFromCmp(c.FPUStAt(0).ToFloat64(), c.FPUStAt(i).ToFloat64())
		_, err := c.FPUPop()
		return err
	}
	return NewFault(VecUD)
}

func opEscDE(c *CPU, inst *DecodedInst) error {
	if inst.IsMem {
		v, err := c.readMem(c.effAddr(inst), 16)
		if err != nil {
			return err
		}
		src := FromFloat64(float64(int16(v)))
		switch inst.RegField {
		case 0:
			return c.fpuArith(0, src, fpuAdd, false, false)
		case 1:
			return c.fpuArith(0, src, fpuMul, false, false)
		case 4:
			return c.fpuArith(0, src, fpuSub, false, false)
		case 5:
			return c.fpuArith(0, src, fpuSub, true, false)
		case 6:
			return c.fpuArith(0, src, fpuDiv, false, false)
		case 7:
			return c.fpuArith(0, src, fpuDiv, true, false)
		}
		return NewFault(VecUD)
	}
	full := uint8(inst.Mod)<<6 | inst.RegField<<3 | inst.RM
	sti := uint8(inst.RM)
	switch {
	case full>>3 == 0xC0>>3:
		return c.fpuArithST(sti, fpuAdd, false, true)
	case full>>3 == 0xC8>>3:
		return c.fpuArithST(sti, fpuMul, false, true)
	case full == 0xD9:
		return c.fpuCompare(inst, 2) // FCOMPP
	case full>>3 == 0xE0>>3:
		return c.fpuArithST(sti, fpuSub, true, true)
	case full>>3 == 0xE8>>3:
		return c.fpuArithST(sti, fpuSub, false, true)
	case full>>3 == 0xF0>>3:
		return c.fpuArithST(sti, fpuDiv, true, true)
	case full>>3 == 0xF8>>3:
		return c.fpuArithST(sti, fpuDiv, false, true)
	}
	return NewFault(VecUD)
}

func opEscDF(c *CPU, inst *DecodedInst) error {
	if inst.IsMem {
		switch inst.RegField {
		case 0:
			v, err := c.readMem(c.effAddr(inst), 16)
			if err != nil {
				return err
			}
			return c.FPUPush(FromFloat64(float64(int16(v))))
		case 2:
			v := int16(math.Round(c.FPUStAt(0).ToFloat64()))
			return c.writeMem(c.effAddr(inst), 16, uint32(uint16(v)))
		case 3:
			v := int16(math.Round(c.FPUStAt(0).ToFloat64()))
			if err := c.writeMem(c.effAddr(inst), 16, uint32(uint16(v))); err != nil {
				return err
			}
			_, err := c.FPUPop()
			return err
		}
		return NewFault(VecUD)
	}
	full := uint8(inst.Mod)<<6 | inst.RegField<<3 | inst.RM
	if full == 0xE0 { // FNSTSW AX
		c.Regs[EAX] = (c.Regs[EAX] &^ 0xFFFF) | uint32(c.FPUSW)
		return nil
	}
	return NewFault(VecUD)
}

// fpuCompareVal compares ST(0) against an already-converted memory
// operand (used by the D8/DC/memory forms, which load a non-ST source
// before comparing, unlike fpuCompare's register/memory dispatch on
// inst.RM).
func (c *CPU) fpuCompareVal(src Extended80, pop int) error {
	c.fpuSetCondFromCmp(c.FPUStAt(0).ToFloat64(), src.ToFloat64())
	for i := 0; i < pop; i++ {
		if _, err := c.FPUPop(); err != nil {
			return err
		}
	}
	return nil
}
