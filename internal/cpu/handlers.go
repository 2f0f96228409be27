package cpu

// handlers.go: per-opcode handler functions for the instruction subset
// buildTable wires up (§3.9). Each Handler reads its operands through the
// decode.go operand helpers and writes results back the same way, so the
// same code path works whether an operand is a register or memory.

// --- arithmetic group (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP) ---

type arithFn = func(*CPU, int, uint32, uint32) uint32

func makeArithEbGb(fn arithFn, writeBack bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		dst, err := c.loadOperand(inst, 8)
		if err != nil {
			return err
		}
		src := c.regVal(8, inst.RegField)
		r := fn(c, 8, dst, src)
		if writeBack {
			return c.storeOperand(inst, 8, r)
		}
		return nil
	}
}

func makeArithEvGv(fn arithFn, writeBack bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		w := inst.OpSize
		dst, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		src := c.regVal(w, inst.RegField)
		r := fn(c, w, dst, src)
		if writeBack {
			return c.storeOperand(inst, w, r)
		}
		return nil
	}
}

func makeArithGbEb(fn arithFn, writeBack bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		dst := c.regVal(8, inst.RegField)
		src, err := c.loadOperand(inst, 8)
		if err != nil {
			return err
		}
		r := fn(c, 8, dst, src)
		if writeBack {
			c.setReg(8, inst.RegField, r)
		}
		return nil
	}
}

func makeArithGvEv(fn arithFn, writeBack bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		w := inst.OpSize
		dst := c.regVal(w, inst.RegField)
		src, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		r := fn(c, w, dst, src)
		if writeBack {
			c.setReg(w, inst.RegField, r)
		}
		return nil
	}
}

func makeArithALIb(fn arithFn, writeBack bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		dst := c.regVal(8, EAX)
		src := inst.Imm & 0xFF
		r := fn(c, 8, dst, src)
		if writeBack {
			c.setReg(8, EAX, r)
		}
		return nil
	}
}

func makeArithEAXIz(fn arithFn, writeBack bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		w := inst.OpSize
		dst := c.regVal(w, EAX)
		r := fn(c, w, dst, inst.Imm)
		if writeBack {
			c.setReg(w, EAX, r)
		}
		return nil
	}
}

// --- register-form PUSH/POP/INC/DEC/MOV ---

func opPushReg(c *CPU, inst *DecodedInst) error {
	reg := inst.Opcode & 7
	return c.Push(inst.OpSize, c.regVal(inst.OpSize, reg))
}

func opPopReg(c *CPU, inst *DecodedInst) error {
	reg := inst.Opcode & 7
	v, err := c.Pop(inst.OpSize)
	if err != nil {
		return err
	}
	c.setReg(inst.OpSize, reg, v)
	return nil
}

func opIncReg(c *CPU, inst *DecodedInst) error {
	reg := inst.Opcode & 7
	v := c.Inc(inst.OpSize, c.regVal(inst.OpSize, reg))
	c.setReg(inst.OpSize, reg, v)
	return nil
}

func opDecReg(c *CPU, inst *DecodedInst) error {
	reg := inst.Opcode & 7
	v := c.Dec(inst.OpSize, c.regVal(inst.OpSize, reg))
	c.setReg(inst.OpSize, reg, v)
	return nil
}

func opMovRegImm(c *CPU, inst *DecodedInst) error {
	reg := inst.Opcode & 7
	c.setReg(inst.OpSize, reg, inst.Imm)
	return nil
}

func opPushImm32(c *CPU, inst *DecodedInst) error { return c.Push(inst.OpSize, inst.Imm) }
func opPushImm8(c *CPU, inst *DecodedInst) error  { return c.Push(inst.OpSize, inst.Imm) }

// --- test/mov/lea ---

func opTestEbGb(c *CPU, inst *DecodedInst) error {
	dst, err := c.loadOperand(inst, 8)
	if err != nil {
		return err
	}
	c.Test(8, dst, c.regVal(8, inst.RegField))
	return nil
}

func opTestEvGv(c *CPU, inst *DecodedInst) error {
	w := inst.OpSize
	dst, err := c.loadOperand(inst, w)
	if err != nil {
		return err
	}
	c.Test(w, dst, c.regVal(w, inst.RegField))
	return nil
}

func opTestALIb(c *CPU, inst *DecodedInst) error {
	c.Test(8, c.regVal(8, EAX), inst.Imm&0xFF)
	return nil
}

func opTestEAXIz(c *CPU, inst *DecodedInst) error {
	w := inst.OpSize
	c.Test(w, c.regVal(w, EAX), inst.Imm)
	return nil
}

func opMovEbGb(c *CPU, inst *DecodedInst) error {
	return c.storeOperand(inst, 8, c.regVal(8, inst.RegField))
}

func opMovEvGv(c *CPU, inst *DecodedInst) error {
	w := inst.OpSize
	return c.storeOperand(inst, w, c.regVal(w, inst.RegField))
}

func opMovGbEb(c *CPU, inst *DecodedInst) error {
	v, err := c.loadOperand(inst, 8)
	if err != nil {
		return err
	}
	c.setReg(8, inst.RegField, v)
	return nil
}

func opMovGvEv(c *CPU, inst *DecodedInst) error {
	w := inst.OpSize
	v, err := c.loadOperand(inst, w)
	if err != nil {
		return err
	}
	c.setReg(w, inst.RegField, v)
	return nil
}

func opMovEbIb(c *CPU, inst *DecodedInst) error { return c.storeOperand(inst, 8, inst.Imm&0xFF) }
func opMovEvIz(c *CPU, inst *DecodedInst) error { return c.storeOperand(inst, inst.OpSize, inst.Imm) }

func opLea(c *CPU, inst *DecodedInst) error {
	if !inst.IsMem {
		return Fatalf("LEA with register operand at eip %#x", inst.StartEIP)
	}
	c.setReg(inst.OpSize, inst.RegField, inst.MemAddr)
	return nil
}

func opNop(c *CPU, inst *DecodedInst) error { return nil }

// --- XCHG: swaps r/m and a register, reg and EAX (§8.2: its own inverse) ---

func opXchgEbGb(c *CPU, inst *DecodedInst) error {
	a, err := c.loadOperand(inst, 8)
	if err != nil {
		return err
	}
	b := c.regVal(8, inst.RegField)
	if err := c.storeOperand(inst, 8, b); err != nil {
		return err
	}
	c.setReg(8, inst.RegField, a)
	return nil
}

func opXchgEvGv(c *CPU, inst *DecodedInst) error {
	w := inst.OpSize
	a, err := c.loadOperand(inst, w)
	if err != nil {
		return err
	}
	b := c.regVal(w, inst.RegField)
	if err := c.storeOperand(inst, w, b); err != nil {
		return err
	}
	c.setReg(w, inst.RegField, a)
	return nil
}

func makeXchgEAXReg(reg uint8) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		w := inst.OpSize
		a := c.regVal(w, EAX)
		b := c.regVal(w, reg)
		c.setReg(w, EAX, b)
		c.setReg(w, reg, a)
		return nil
	}
}

// --- MOV Sreg,r/m and r/m,Sreg (§3.1, §4.6) ---

// segRegFromField maps a ModRM reg field to a segment register index; CS
// (field 1) is never a valid MOV-to-segment target.
func segRegFromField(f uint8) (int, bool) {
	switch f {
	case 0:
		return ES, true
	case 2:
		return SS, true
	case 3:
		return DS, true
	case 4:
		return FS, true
	case 5:
		return GS, true
	default:
		return -1, false
	}
}

func opMovSregFromRm(c *CPU, inst *DecodedInst) error {
	which, ok := segRegFromField(inst.RegField)
	if !ok {
		return NewFault(VecUD)
	}
	v, err := c.loadOperand(inst, 16)
	if err != nil {
		return err
	}
	return c.loadSegment(which, uint16(v))
}

func opMovRmFromSreg(c *CPU, inst *DecodedInst) error {
	var sel uint16
	switch inst.RegField {
	case 0:
		sel = c.Seg[ES].Selector
	case 1:
		sel = c.Seg[CS].Selector
	case 2:
		sel = c.Seg[SS].Selector
	case 3:
		sel = c.Seg[DS].Selector
	case 4:
		sel = c.Seg[FS].Selector
	case 5:
		sel = c.Seg[GS].Selector
	default:
		return NewFault(VecUD)
	}
	return c.storeOperand(inst, 16, uint32(sel))
}

func opCbwCwde(c *CPU, inst *DecodedInst) error {
	if inst.OpSize == 16 {
		al := int8(c.reg8(EAX))
		c.Regs[EAX] = (c.Regs[EAX] &^ 0xFFFF) | uint32(uint16(int16(al)))
	} else {
		ax := int16(c.Regs[EAX] & 0xFFFF)
		c.Regs[EAX] = uint32(int32(ax))
	}
	return nil
}

func opCwdCdq(c *CPU, inst *DecodedInst) error {
	if inst.OpSize == 16 {
		ax := int16(c.Regs[EAX] & 0xFFFF)
		dx := uint32(0)
		if ax < 0 {
			dx = 0xFFFF
		}
		c.Regs[EDX] = (c.Regs[EDX] &^ 0xFFFF) | dx
	} else {
		eax := int32(c.Regs[EAX])
		edx := uint32(0)
		if eax < 0 {
			edx = 0xFFFFFFFF
		}
		c.Regs[EDX] = edx
	}
	return nil
}

func opPushf(c *CPU, inst *DecodedInst) error { return c.Push(inst.OpSize, c.GetEflags()) }

func opPopf(c *CPU, inst *DecodedInst) error {
	v, err := c.Pop(inst.OpSize)
	if err != nil {
		return err
	}
	c.SetEflags(v)
	return nil
}

// --- shift/rotate group (0xD0-0xD3) and unary group (0xF6/0xF7) ---

// makeShiftGroup builds the handler for the 0xD0-0xD3 opcode group, whose
// RegField selects ROL/ROR/RCL/RCR/SHL/SHR/SAL/SAR and whose count is
// either the literal 1 (immOne) or CL (the !immOne, byCL case).
func makeShiftGroup(_ int, byCL bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		w := 8
		if inst.RM != 0 || inst.IsMem {
			// width comes from the opcode's low bit, carried by caller via inst.OpSize
		}
		if inst.Opcode&1 != 0 {
			w = inst.OpSize
		}
		v, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		count := uint32(1)
		if byCL {
			count = c.Regs[ECX] & 0x1F
		}
		var r uint32
		switch inst.RegField {
		case 0:
			r = c.Rol(w, v, count)
		case 1:
			r = c.Ror(w, v, count)
		case 2:
			r = c.Rcl(w, v, count)
		case 3:
			r = c.Rcr(w, v, count)
		case 4, 6:
			r = c.Shl(w, v, count)
		case 5:
			r = c.Shr(w, v, count)
		case 7:
			r = c.Sar(w, v, count)
		}
		return c.storeOperand(inst, w, r)
	}
}

// makeUnaryGroup builds the handler for 0xF6/0xF7 (TEST/NOT/NEG/MUL/IMUL/
// DIV/IDIV by RegField); width comes from the opcode's low bit.
func makeUnaryGroup(_ int) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		w := 8
		if inst.Opcode&1 != 0 {
			w = inst.OpSize
		}
		switch inst.RegField {
		case 0, 1: // TEST Eb/Ev, ib/iz — immediate already decoded generically
			v, err := c.loadOperand(inst, w)
			if err != nil {
				return err
			}
			c.Test(w, v, inst.Imm)
			return nil
		case 2: // NOT
			v, err := c.loadOperand(inst, w)
			if err != nil {
				return err
			}
			return c.storeOperand(inst, w, c.Not(w, v))
		case 3: // NEG
			v, err := c.loadOperand(inst, w)
			if err != nil {
				return err
			}
			return c.storeOperand(inst, w, c.Neg(w, v))
		case 4: // MUL
			v, err := c.loadOperand(inst, w)
			if err != nil {
				return err
			}
			hi, lo := c.Mul(w, c.regVal(w, EAX), v)
			c.storeMulResult(w, hi, lo)
			return nil
		case 5: // IMUL (signed); imul sign-extends both operands and multiplies in int64
			v, err := c.loadOperand(inst, w)
			if err != nil {
				return err
			}
			hi, lo := c.imul(w, c.regVal(w, EAX), v)
			c.storeMulResult(w, hi, lo)
			return nil
		case 6: // DIV
			v, err := c.loadOperand(inst, w)
			if err != nil {
				return err
			}
			return c.div(w, v)
		case 7: // IDIV
			v, err := c.loadOperand(inst, w)
			if err != nil {
				return err
			}
			return c.idiv(w, v)
		}
		return nil
	}
}

func (c *CPU) storeMulResult(w int, hi, lo uint32) {
	switch w {
	case 8:
		c.Regs[EAX] = (c.Regs[EAX] &^ 0xFFFF) | (hi << 8) | lo
	case 16:
		c.Regs[EAX] = (c.Regs[EAX] &^ 0xFFFF) | lo
		c.Regs[EDX] = (c.Regs[EDX] &^ 0xFFFF) | hi
	default:
		c.Regs[EAX] = lo
		c.Regs[EDX] = hi
	}
}

func (c *CPU) imul(w int, a, b uint32) (hi, lo uint32) {
	sa := signExtend(w, a)
	sb := signExtend(w, b)
	prod := int64(sa) * int64(sb)
	m := uint64(maskFor(w))
	lo = uint32(uint64(prod) & m)
	hi = uint32((uint64(prod) >> uint(w)) & m)
	overflow := prod != int64(int32(lo))
	if w == 8 {
		overflow = prod != int64(int8(lo))
	} else if w == 16 {
		overflow = prod != int64(int16(lo))
	}
	c.Lop1, c.Lop2 = 0, 0
	if overflow {
		c.Lop1, c.Lop2 = 1, 0
	}
	c.Lr = lo
	c.Laux = classFor(opMul8, w)
	return hi, lo
}

func signExtend(w int, v uint32) int32 {
	switch w {
	case 8:
		return int32(int8(v))
	case 16:
		return int32(int16(v))
	default:
		return int32(v)
	}
}

func (c *CPU) div(w int, v uint32) error {
	v &= maskFor(w)
	if v == 0 {
		return NewFault(VecDE)
	}
	var dividend uint64
	switch w {
	case 8:
		dividend = uint64(c.Regs[EAX] & 0xFFFF)
	case 16:
		dividend = uint64(c.Regs[EDX]&0xFFFF)<<16 | uint64(c.Regs[EAX]&0xFFFF)
	default:
		dividend = uint64(c.Regs[EDX])<<32 | uint64(c.Regs[EAX])
	}
	q := dividend / uint64(v)
	r := dividend % uint64(v)
	if q > uint64(maskFor(w)) {
		return NewFault(VecDE)
	}
	c.storeMulResult(w, uint32(r), uint32(q))
	return nil
}

func (c *CPU) idiv(w int, v uint32) error {
	sv := int64(signExtend(w, v))
	if sv == 0 {
		return NewFault(VecDE)
	}
	var dividend int64
	switch w {
	case 8:
		dividend = int64(int16(c.Regs[EAX] & 0xFFFF))
	case 16:
		dividend = int64(int32(uint32(c.Regs[EDX]&0xFFFF)<<16 | (c.Regs[EAX] & 0xFFFF)))
	default:
		dividend = int64(int64(c.Regs[EDX])<<32 | int64(c.Regs[EAX]))
	}
	q := dividend / sv
	r := dividend % sv
	m := int64(maskFor(w))
	if q > m>>1 || q < -(m>>1)-1 {
		return NewFault(VecDE)
	}
	c.storeMulResult(w, uint32(r)&maskFor(w), uint32(q)&maskFor(w))
	return nil
}

// --- INC/DEC Eb (0xFE) and the CALL/JMP/PUSH/INC/DEC group (0xFF) ---

func opIncDecEb(c *CPU, inst *DecodedInst) error {
	v, err := c.loadOperand(inst, 8)
	if err != nil {
		return err
	}
	var r uint32
	if inst.RegField == 0 {
		r = c.Inc(8, v)
	} else {
		r = c.Dec(8, v)
	}
	return c.storeOperand(inst, 8, r)
}

func opGroupFF(c *CPU, inst *DecodedInst) error {
	w := inst.OpSize
	switch inst.RegField {
	case 0:
		v, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		return c.storeOperand(inst, w, c.Inc(w, v))
	case 1:
		v, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		return c.storeOperand(inst, w, c.Dec(w, v))
	case 2: // CALL near indirect
		v, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		ret := c.VirtEIP() + uint32(inst.Length)
		if err := c.Push(w, ret); err != nil {
			return err
		}
		return c.SetEIP(v & sizeMask(w))
	case 4: // JMP near indirect
		v, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		return c.SetEIP(v & sizeMask(w))
	case 6: // PUSH r/m
		v, err := c.loadOperand(inst, w)
		if err != nil {
			return err
		}
		return c.Push(w, v)
	default:
		return NewFault(VecUD)
	}
}

// --- string/loop I/O ---

func opInALIb(c *CPU, inst *DecodedInst) error {
	c.setReg(8, EAX, uint32(c.Ports.InB(uint16(inst.Imm))))
	return nil
}

func opInEAXIb(c *CPU, inst *DecodedInst) error {
	if inst.OpSize == 16 {
		c.setReg(16, EAX, uint32(c.Ports.InW(uint16(inst.Imm))))
	} else {
		c.setReg(32, EAX, c.Ports.InL(uint16(inst.Imm)))
	}
	return nil
}

func opOutIbAL(c *CPU, inst *DecodedInst) error {
	c.Ports.OutB(uint16(inst.Imm), uint8(c.regVal(8, EAX)))
	return nil
}

func opOutIbEAX(c *CPU, inst *DecodedInst) error {
	if inst.OpSize == 16 {
		c.Ports.OutW(uint16(inst.Imm), uint16(c.regVal(16, EAX)))
	} else {
		c.Ports.OutL(uint16(inst.Imm), c.regVal(32, EAX))
	}
	return nil
}

func opInALDX(c *CPU, inst *DecodedInst) error {
	c.setReg(8, EAX, uint32(c.Ports.InB(uint16(c.Regs[EDX]))))
	return nil
}

func opInEAXDX(c *CPU, inst *DecodedInst) error {
	if inst.OpSize == 16 {
		c.setReg(16, EAX, uint32(c.Ports.InW(uint16(c.Regs[EDX]))))
	} else {
		c.setReg(32, EAX, c.Ports.InL(uint16(c.Regs[EDX])))
	}
	return nil
}

func opOutDXAL(c *CPU, inst *DecodedInst) error {
	c.Ports.OutB(uint16(c.Regs[EDX]), uint8(c.regVal(8, EAX)))
	return nil
}

func opOutDXEAX(c *CPU, inst *DecodedInst) error {
	if inst.OpSize == 16 {
		c.Ports.OutW(uint16(c.Regs[EDX]), uint16(c.regVal(16, EAX)))
	} else {
		c.Ports.OutL(uint16(c.Regs[EDX]), c.regVal(32, EAX))
	}
	return nil
}

// --- flag/misc single-byte opcodes ---

func opHlt(c *CPU, inst *DecodedInst) error {
	c.HaltState = true
	c.requestExit(ExitHalt)
	return nil
}

func opCmc(c *CPU, inst *DecodedInst) error { c.SetCF(!c.GetCF()); return nil }
func opClc(c *CPU, inst *DecodedInst) error { c.SetCF(false); return nil }
func opStc(c *CPU, inst *DecodedInst) error { c.SetCF(true); return nil }
func opCli(c *CPU, inst *DecodedInst) error { c.Eflags &^= EflagsIF; return nil }
func opSti(c *CPU, inst *DecodedInst) error { c.Eflags |= EflagsIF; c.requestExit(ExitEflagsIF); return nil }
func opCld(c *CPU, inst *DecodedInst) error { c.Eflags &^= EflagsDF; return nil }
func opStd(c *CPU, inst *DecodedInst) error { c.Eflags |= EflagsDF; return nil }

func opUndefined(c *CPU, inst *DecodedInst) error { return NewFault(VecUD) }

// --- privileged / system instructions ---

func opRdtsc(c *CPU, inst *DecodedInst) error {
	tsc, _ := c.ReadMSR(MsrTSC)
	c.Regs[EAX] = uint32(tsc)
	c.Regs[EDX] = uint32(tsc >> 32)
	return nil
}

func opCpuid(c *CPU, inst *DecodedInst) error {
	a, b, d, cx := c.CPUID(c.Regs[EAX], c.Regs[ECX])
	c.Regs[EAX], c.Regs[EBX], c.Regs[EDX], c.Regs[ECX] = a, b, d, cx
	return nil
}

func opSyscallUnsupported(c *CPU, inst *DecodedInst) error { return NewFault(VecUD) }

func opRdmsr(c *CPU, inst *DecodedInst) error {
	v, err := c.ReadMSR(c.Regs[ECX])
	if err != nil {
		return err
	}
	c.Regs[EAX] = uint32(v)
	c.Regs[EDX] = uint32(v >> 32)
	return nil
}

func opWrmsr(c *CPU, inst *DecodedInst) error {
	v := uint64(c.Regs[EDX])<<32 | uint64(c.Regs[EAX])
	return c.WriteMSR(c.Regs[ECX], v)
}

func opMovFromCR(c *CPU, inst *DecodedInst) error {
	if c.CPL != 0 {
		return NewFaultCode(VecGP, 0)
	}
	c.Regs[inst.RM] = c.CR[inst.RegField]
	return nil
}

func opMovToCR(c *CPU, inst *DecodedInst) error {
	if c.CPL != 0 {
		return NewFaultCode(VecGP, 0)
	}
	old := c.CR[inst.RegField]
	c.CR[inst.RegField] = c.Regs[inst.RM]
	if inst.RegField == 0 && (old^c.CR[0])&CR0PG != 0 {
		c.TLB.Flush()
		c.Trace.Flush()
	}
	if inst.RegField == 3 {
		c.TLB.Flush()
	}
	return nil
}
