package cpu

// string.go: the string-move instruction family (§4.3, grounded on
// original_source's cpu/ops/string.c semantics) — MOVS/STOS/LODS/SCAS/CMPS
// in byte and word/dword forms, each optionally repeated under a REP/REPE/
// REPNE prefix. DS:SI is the source index (segment-overridable via
// inst.Seg), ES:DI is always the destination index and is never
// overridable. Direction is taken from EFLAGS.DF.

// idxVal masks SI/DI/CX to 16 bits for 16-bit address size, matching the
// index registers' own width.
func idxVal(addrSize int, v uint32) uint32 {
	if addrSize == 16 {
		return v & 0xFFFF
	}
	return v
}

func (c *CPU) strStep(width int) uint32 {
	step := uint32(width / 8)
	if c.Eflags&EflagsDF != 0 {
		return uint32(-int32(step))
	}
	return step
}

func (c *CPU) advanceIndex(addrSize int, reg int, delta uint32) {
	if addrSize == 16 {
		v := (c.Regs[reg] + delta) & 0xFFFF
		c.Regs[reg] = (c.Regs[reg] &^ 0xFFFF) | v
		return
	}
	c.Regs[reg] += delta
}

// runStringOp loops body once per repetition under a REP/REPE/REPNE
// prefix, decrementing (E)CX and early-breaking SCAS/CMPS on a ZF
// mismatch with the prefix's sense; with no prefix it runs body exactly
// once.
func (c *CPU) runStringOp(inst *DecodedInst, isCompare bool, body func() error) error {
	if inst.Rep == 0 {
		return body()
	}
	for idxVal(inst.AddrSize, c.Regs[ECX]) != 0 {
		if err := body(); err != nil {
			return err
		}
		c.advanceIndex(inst.AddrSize, ECX, ^uint32(0))
		if isCompare {
			wantZF := inst.Rep == 0xF3 // REPE/REPZ
			if c.GetZF() != wantZF {
				break
			}
		}
	}
	return nil
}

func opMovsb(c *CPU, inst *DecodedInst) error { return stringMovs(c, inst, 8) }
func opMovsw(c *CPU, inst *DecodedInst) error { return stringMovs(c, inst, inst.OpSize) }

func stringMovs(c *CPU, inst *DecodedInst, width int) error {
	return c.runStringOp(inst, false, func() error {
		si, di := c.Regs[ESI], c.Regs[EDI]
		v, err := c.readMem(c.Seg[inst.Seg].Base+idxVal(inst.AddrSize, si), width)
		if err != nil {
			return err
		}
		if err := c.writeMem(c.Seg[ES].Base+idxVal(inst.AddrSize, di), width, v); err != nil {
			return err
		}
		step := c.strStep(width)
		c.advanceIndex(inst.AddrSize, ESI, step)
		c.advanceIndex(inst.AddrSize, EDI, step)
		return nil
	})
}

func opStosb(c *CPU, inst *DecodedInst) error { return stringStos(c, inst, 8) }
func opStosw(c *CPU, inst *DecodedInst) error { return stringStos(c, inst, inst.OpSize) }

func stringStos(c *CPU, inst *DecodedInst, width int) error {
	return c.runStringOp(inst, false, func() error {
		di := c.Regs[EDI]
		if err := c.writeMem(c.Seg[ES].Base+idxVal(inst.AddrSize, di), width, c.regVal(width, EAX)); err != nil {
			return err
		}
		c.advanceIndex(inst.AddrSize, EDI, c.strStep(width))
		return nil
	})
}

func opLodsb(c *CPU, inst *DecodedInst) error { return stringLods(c, inst, 8) }
func opLodsw(c *CPU, inst *DecodedInst) error { return stringLods(c, inst, inst.OpSize) }

func stringLods(c *CPU, inst *DecodedInst, width int) error {
	return c.runStringOp(inst, false, func() error {
		si := c.Regs[ESI]
		v, err := c.readMem(c.Seg[inst.Seg].Base+idxVal(inst.AddrSize, si), width)
		if err != nil {
			return err
		}
		c.setReg(width, EAX, v)
		c.advanceIndex(inst.AddrSize, ESI, c.strStep(width))
		return nil
	})
}

func opScasb(c *CPU, inst *DecodedInst) error { return stringScas(c, inst, 8) }
func opScasw(c *CPU, inst *DecodedInst) error { return stringScas(c, inst, inst.OpSize) }

func stringScas(c *CPU, inst *DecodedInst, width int) error {
	return c.runStringOp(inst, true, func() error {
		di := c.Regs[EDI]
		v, err := c.readMem(c.Seg[ES].Base+idxVal(inst.AddrSize, di), width)
		if err != nil {
			return err
		}
		c.Cmp(width, c.regVal(width, EAX), v)
		c.advanceIndex(inst.AddrSize, EDI, c.strStep(width))
		return nil
	})
}

func opCmpsb(c *CPU, inst *DecodedInst) error { return stringCmps(c, inst, 8) }
func opCmpsw(c *CPU, inst *DecodedInst) error { return stringCmps(c, inst, inst.OpSize) }

func stringCmps(c *CPU, inst *DecodedInst, width int) error {
	return c.runStringOp(inst, true, func() error {
		si, di := c.Regs[ESI], c.Regs[EDI]
		a, err := c.readMem(c.Seg[inst.Seg].Base+idxVal(inst.AddrSize, si), width)
		if err != nil {
			return err
		}
		b, err := c.readMem(c.Seg[ES].Base+idxVal(inst.AddrSize, di), width)
		if err != nil {
			return err
		}
		c.Cmp(width, a, b)
		step := c.strStep(width)
		c.advanceIndex(inst.AddrSize, ESI, step)
		c.advanceIndex(inst.AddrSize, EDI, step)
		return nil
	})
}
