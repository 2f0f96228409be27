package cpu

import "github.com/rcornwell/ia32core/internal/segment"

// sysdesc.go: the two-byte system/descriptor-table group instructions
// (§4.6) — SLDT/STR/LLDT/LTR/VERR/VERW (0F 00), SGDT/SIDT/LGDT/LIDT/
// SMSW/LMSW/INVLPG (0F 01), and CLTS (0F 06). All are RegField-dispatched
// groups sharing a single opcode slot in the two-byte table.

func opGroup0F00(c *CPU, inst *DecodedInst) error {
	switch inst.RegField {
	case 0: // SLDT
		return c.storeOperand(inst, 16, uint32(c.Seg[SegLDTR].Selector))
	case 1: // STR
		return c.storeOperand(inst, 16, uint32(c.Seg[SegTR].Selector))
	case 2: // LLDT
		if c.CPL != 0 {
			return NewFaultCode(VecGP, 0)
		}
		v, err := c.loadOperand(inst, 16)
		if err != nil {
			return err
		}
		return c.loadSegment(SegLDTR, uint16(v))
	case 3: // LTR
		if c.CPL != 0 {
			return NewFaultCode(VecGP, 0)
		}
		v, err := c.loadOperand(inst, 16)
		if err != nil {
			return err
		}
		return c.loadSegment(SegTR, uint16(v))
	case 4, 5: // VERR/VERW
		v, err := c.loadOperand(inst, 16)
		if err != nil {
			return err
		}
		c.setVerifyZF(uint16(v), inst.RegField == 5)
		return nil
	default:
		return NewFault(VecUD)
	}
}

// setVerifyZF implements VERR/VERW's access check: ZF is set when the
// selector names a present, correctly-typed descriptor the current CPL
// can access.
func (c *CPU) setVerifyZF(selector uint16, forWrite bool) {
	ok := c.verifySelector(selector, forWrite)
	f := c.GetEflags() &^ EflagsZF
	if ok {
		f |= EflagsZF
	}
	c.SetEflags(f)
}

func (c *CPU) verifySelector(selector uint16, forWrite bool) bool {
	if selector&0xFFFC == 0 {
		return false
	}
	lo, hi, err := c.readRawDescriptor(selector)
	if err != nil {
		return false
	}
	d := segment.Parse(lo, hi)
	if !d.Present() || !d.IsCodeData() {
		return false
	}
	if d.IsCode() {
		if forWrite {
			return false
		}
		if !d.IsConforming() && (d.DPL() < c.CPL || d.DPL() < int(selector&3)) {
			return false
		}
		return d.Readable()
	}
	if forWrite && !d.Writable() {
		return false
	}
	return d.DPL() >= c.CPL && d.DPL() >= int(selector&3)
}

func opGroup0F01(c *CPU, inst *DecodedInst) error {
	switch inst.RegField {
	case 0: // SGDT
		return c.storeDescTable(inst, SegGDTR)
	case 1: // SIDT
		return c.storeDescTable(inst, SegIDTR)
	case 2: // LGDT
		if c.CPL != 0 {
			return NewFaultCode(VecGP, 0)
		}
		return c.loadDescTable(inst, SegGDTR)
	case 3: // LIDT
		if c.CPL != 0 {
			return NewFaultCode(VecGP, 0)
		}
		return c.loadDescTable(inst, SegIDTR)
	case 4: // SMSW
		return c.storeOperand(inst, 16, c.CR[0]&0xFFFF)
	case 6: // LMSW
		if c.CPL != 0 {
			return NewFaultCode(VecGP, 0)
		}
		v, err := c.loadOperand(inst, 16)
		if err != nil {
			return err
		}
		c.CR[0] = (c.CR[0] &^ 0xFFFF) | (v & 0xFFFF) | CR0PE
		return nil
	case 7: // INVLPG
		if c.CPL != 0 {
			return NewFaultCode(VecGP, 0)
		}
		if !inst.IsMem {
			return NewFault(VecUD)
		}
		c.TLB.Invalidate(c.effAddr(inst))
		c.Trace.Flush()
		return nil
	default:
		return NewFault(VecUD)
	}
}

// storeDescTable writes a descriptor-table pointer (16-bit limit followed
// by a 32-bit base) to memory for SGDT/SIDT.
func (c *CPU) storeDescTable(inst *DecodedInst, which int) error {
	if !inst.IsMem {
		return NewFault(VecUD)
	}
	addr := c.effAddr(inst)
	if err := c.writeMem(addr, 16, c.Seg[which].Limit); err != nil {
		return err
	}
	return c.writeMem(addr+2, 32, c.Seg[which].Base)
}

func (c *CPU) loadDescTable(inst *DecodedInst, which int) error {
	if !inst.IsMem {
		return NewFault(VecUD)
	}
	addr := c.effAddr(inst)
	limit, err := c.readMem(addr, 16)
	if err != nil {
		return err
	}
	base, err := c.readMem(addr+2, 32)
	if err != nil {
		return err
	}
	c.Seg[which] = SegCache{Base: base, Limit: limit, Valid: true}
	return nil
}

func opClts(c *CPU, inst *DecodedInst) error {
	if c.CPL != 0 {
		return NewFaultCode(VecGP, 0)
	}
	c.CR[0] &^= CR0TS
	return nil
}
