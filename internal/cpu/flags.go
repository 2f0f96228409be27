package cpu

// Lazy flags engine (§4.1). Every arithmetic primitive writes Lr (and
// usually Lop1/Lop2) together with Laux, a tag naming the operation class
// that the flag readers below dispatch on to recompute OF/SF/ZF/AF/PF/CF
// on demand. Grounded on original_source/src/cpu/eflags.c; laux is a
// typed enum here instead of a raw bitmask int so the switch below can't
// silently fall through to an unrelated class.
type lazyOp uint8

const (
	opAdd8 lazyOp = iota
	opAdd16
	opAdd32
	opSub8
	opSub16
	opSub32
	opAdc8
	opAdc16
	opAdc32
	opSbb8
	opSbb16
	opSbb32
	opShl8
	opShl16
	opShl32
	opShr8
	opShr16
	opShr32
	opSar8
	opSar16
	opSar32
	opShld16
	opShld32
	opShrd16
	opShrd32
	opInc8
	opInc16
	opInc32
	opDec8
	opDec16
	opDec32
	opMul8
	opMul16
	opMul32
	opBit8
	opBit16
	opBit32
	// FullUpdate means eflags already holds the authoritative OF/SF/ZF/AF/PF/CF
	// bits; readers must not try to recompute them from Lop1/Lop2/Lr.
	FullUpdate
)

// setArith records the common (lr, laux) pair written by every arithmetic
// primitive. Callers set Lop1/Lop2 themselves beforehand when the class
// needs them.
func (c *CPU) setArith(lr uint32, class lazyOp) {
	c.Lr = lr
	c.Laux = class
}

// GetZF: ZF is always lr == 0, independent of operation class.
func (c *CPU) GetZF() bool {
	return c.Lr == 0
}

// GetSF uses the "fudge bit" trick: the top bit of Laux-adjacent state
// lets an explicit writer force SF without discarding the rest of Lr.
// Since Laux here is a small enum (not a bitmask sharing bits with a
// fudge flag), explicit writers instead transition through FullUpdate
// and store the bit directly in Eflags, matching the "bits in eflags are
// authoritative" meaning of EFLAGS_FULL_UPDATE. Lr is stored masked to
// the operation's width, not sign-extended to bit 31, so SF reads the
// bit at that width's top position, not always bit 31.
func (c *CPU) GetSF() bool {
	if c.Laux == FullUpdate {
		return c.Eflags&EflagsSF != 0
	}
	return (c.Lr>>(c.lazyWidth()-1))&1 != 0
}

// lazyWidth recovers the operand width (8/16/32) the current Laux class
// was recorded at, so GetSF can test the right bit of Lr regardless of
// operation size.
func (c *CPU) lazyWidth() uint32 {
	switch c.Laux {
	case opAdd8, opSub8, opAdc8, opSbb8, opShl8, opShr8, opSar8,
		opInc8, opDec8, opMul8, opBit8:
		return 8
	case opAdd16, opSub16, opAdc16, opSbb16, opShl16, opShr16, opSar16,
		opShld16, opShrd16, opInc16, opDec16, opMul16, opBit16:
		return 16
	default:
		return 32
	}
}

// GetPF: parity of the low byte of Lr.
func (c *CPU) GetPF() bool {
	if c.Laux == FullUpdate {
		return c.Eflags&EflagsPF != 0
	}
	v := uint8(c.Lr)
	v ^= v >> 4
	v &= 0x0F
	return (0x9669>>v)&1 != 0
}

// GetOF computes the overflow flag per operation class, grounded on
// cpu_get_of in original_source/src/cpu/eflags.c.
func (c *CPU) GetOF() bool {
	switch c.Laux {
	case opMul8, opMul16, opMul32:
		return c.Lop1 != c.Lop2
	case opBit8, opBit16, opBit32, opSar8, opSar16, opSar32:
		return false
	case opAdd8:
		lop1 := c.Lr - c.Lop2
		return ((lop1^c.Lop2^0xFF)&(c.Lop2^c.Lr))>>7&1 != 0
	case opAdd16:
		lop1 := c.Lr - c.Lop2
		return ((lop1^c.Lop2^0xFFFF)&(c.Lop2^c.Lr))>>15&1 != 0
	case opAdd32:
		lop1 := c.Lr - c.Lop2
		return ((lop1^c.Lop2^0xFFFFFFFF)&(c.Lop2^c.Lr))>>31&1 != 0
	case opSub8:
		lop1 := c.Lop2 + c.Lr
		return ((lop1^c.Lop2)&(lop1^c.Lr))>>7&1 != 0
	case opSub16:
		lop1 := c.Lop2 + c.Lr
		return ((lop1^c.Lop2)&(lop1^c.Lr))>>15&1 != 0
	case opSub32:
		lop1 := c.Lop2 + c.Lr
		return ((lop1^c.Lop2)&(lop1^c.Lr))>>31&1 != 0
	case opAdc8:
		return ((c.Lop1^c.Lr)&(c.Lop2^c.Lr))>>7&1 != 0
	case opAdc16:
		return ((c.Lop1^c.Lr)&(c.Lop2^c.Lr))>>15&1 != 0
	case opAdc32:
		return ((c.Lop1^c.Lr)&(c.Lop2^c.Lr))>>31&1 != 0
	case opSbb8:
		return ((c.Lr^c.Lop1)&(c.Lop2^c.Lop1))>>7&1 != 0
	case opSbb16:
		return ((c.Lr^c.Lop1)&(c.Lop2^c.Lop1))>>15&1 != 0
	case opSbb32:
		return ((c.Lr^c.Lop1)&(c.Lop2^c.Lop1))>>31&1 != 0
	case opShl8:
		return (c.Lr>>7)^(c.Lop1>>(8-c.Lop2))&1 != 0
	case opShl16:
		return (c.Lr>>15)^(c.Lop1>>(16-c.Lop2))&1 != 0
	case opShl32:
		return (c.Lr>>31)^(c.Lop1>>(32-c.Lop2))&1 != 0
	case opShr8:
		return (c.Lr<<1^c.Lr)>>7&1 != 0
	case opShr16:
		return (c.Lr<<1^c.Lr)>>15&1 != 0
	case opShr32:
		return (c.Lr<<1^c.Lr)>>31&1 != 0
	case opShld16:
		return c.GetCF() != ((c.Lr>>15)&1 != 0)
	case opShld32:
		return c.GetCF() != ((c.Lr>>31)&1 != 0)
	case opShrd16:
		return (c.Lr<<1^c.Lr)>>15&1 != 0
	case opShrd32:
		return (c.Lr<<1^c.Lr)>>31&1 != 0
	case opInc8:
		return c.Lr&0xFF == 0x80
	case opInc16:
		return c.Lr&0xFFFF == 0x8000
	case opInc32:
		return c.Lr == 0x80000000
	case opDec8:
		return c.Lr&0xFF == 0x7F
	case opDec16:
		return c.Lr&0xFFFF == 0x7FFF
	case opDec32:
		return c.Lr == 0x7FFFFFFF
	case FullUpdate:
		return c.Eflags&EflagsOF != 0
	default:
		return false
	}
}

// GetAF computes the auxiliary carry flag per operation class.
func (c *CPU) GetAF() bool {
	switch c.Laux {
	case opBit8, opBit16, opBit32, opMul8, opMul16, opMul32,
		opShl8, opShl16, opShl32, opShr8, opShr16, opShr32,
		opShld16, opShld32, opShrd16, opShrd32,
		opSar8, opSar16, opSar32:
		return false
	case opAdd8, opAdd16, opAdd32:
		lop1 := c.Lr - c.Lop2
		return (lop1^c.Lop2^c.Lr)>>4&1 != 0
	case opSub8, opSub16, opSub32:
		lop1 := c.Lr + c.Lop2
		return (lop1^c.Lop2^c.Lr)>>4&1 != 0
	case opAdc8, opAdc16, opAdc32, opSbb8, opSbb16, opSbb32:
		return (c.Lop1^c.Lop2^c.Lr)>>4&1 != 0
	case opInc8, opInc16, opInc32:
		return c.Lr&15 == 0
	case opDec8, opDec16, opDec32:
		return c.Lr&15 == 15
	case FullUpdate:
		return c.Eflags&EflagsAF != 0
	default:
		return false
	}
}

// GetCF computes the carry flag per operation class.
func (c *CPU) GetCF() bool {
	switch c.Laux {
	case opMul8, opMul16, opMul32:
		return c.Lop1 != c.Lop2
	case opAdd8:
		return c.Lr&0xFF < c.Lop2&0xFF
	case opAdd16:
		return c.Lr&0xFFFF < c.Lop2&0xFFFF
	case opAdd32:
		return c.Lr < c.Lop2
	case opSub8:
		lop1 := c.Lop2 + c.Lr
		return c.Lop2 > lop1&0xFF
	case opSub16:
		lop1 := c.Lop2 + c.Lr
		return c.Lop2 > lop1&0xFFFF
	case opSub32:
		lop1 := c.Lop2 + c.Lr
		return c.Lop2 > lop1
	case opAdc8:
		return (c.Lop1^((c.Lop1^c.Lop2)&(c.Lop2^c.Lr)))>>7&1 != 0
	case opAdc16:
		return (c.Lop1^((c.Lop1^c.Lop2)&(c.Lop2^c.Lr)))>>15&1 != 0
	case opAdc32:
		return (c.Lop1^((c.Lop1^c.Lop2)&(c.Lop2^c.Lr)))>>31&1 != 0
	case opSbb8:
		return (c.Lr^((c.Lr^c.Lop2)&(c.Lop1^c.Lop2)))>>7&1 != 0
	case opSbb16:
		return (c.Lr^((c.Lr^c.Lop2)&(c.Lop1^c.Lop2)))>>15&1 != 0
	case opSbb32:
		return (c.Lr^((c.Lr^c.Lop2)&(c.Lop1^c.Lop2)))>>31&1 != 0
	case opShr8, opSar8, opShr16, opSar16, opShr32, opSar32:
		return (c.Lop1>>(c.Lop2-1))&1 != 0
	case opShl8:
		return (c.Lop1>>(8-c.Lop2))&1 != 0
	case opShl16:
		return (c.Lop1>>(16-c.Lop2))&1 != 0
	case opShl32:
		return (c.Lop1>>(32-c.Lop2))&1 != 0
	case opShld16:
		if c.Lop2 <= 16 {
			return (c.Lop1>>(16-c.Lop2))&1 != 0
		}
		return (c.Lop1>>(32-c.Lop2))&1 != 0
	case opShld32:
		return (c.Lop1>>(32-c.Lop2))&1 != 0
	case opShrd16, opShrd32:
		return (c.Lop1>>(c.Lop2-1))&1 != 0
	case opInc8, opInc16, opInc32, opDec8, opDec16, opDec32, FullUpdate:
		return c.Eflags&1 != 0
	case opBit8, opBit16, opBit32:
		return false
	default:
		return false
	}
}

// SetOF, SetAF, SetCF are the explicit writers referenced in §4.1 (used by
// STC/CLC and the bit helpers): they materialise the other two scratch
// bits first (so they aren't lost), then transition to FullUpdate.
func (c *CPU) SetOF(v bool) { c.materializeEflags(); c.setBit(EflagsOF, v); c.Laux = FullUpdate }
func (c *CPU) SetAF(v bool) { c.materializeEflags(); c.setBit(EflagsAF, v); c.Laux = FullUpdate }
func (c *CPU) SetCF(v bool) { c.materializeEflags(); c.setBit(EflagsCF, v); c.Laux = FullUpdate }

func (c *CPU) setBit(mask uint32, v bool) {
	if v {
		c.Eflags |= mask
	} else {
		c.Eflags &^= mask
	}
}

// materializeEflags writes all six arithmetic bits into Eflags from the
// current lazy state, without yet flipping Laux.
func (c *CPU) materializeEflags() {
	c.setBit(EflagsOF, c.GetOF())
	c.setBit(EflagsSF, c.GetSF())
	c.setBit(EflagsZF, c.GetZF())
	c.setBit(EflagsAF, c.GetAF())
	c.setBit(EflagsPF, c.GetPF())
	c.setBit(EflagsCF, c.GetCF())
}

// GetEflags returns the full, authoritative EFLAGS value (§4.1).
func (c *CPU) GetEflags() uint32 {
	e := c.Eflags &^ arithFlagMask
	if c.GetOF() {
		e |= EflagsOF
	}
	if c.GetSF() {
		e |= EflagsSF
	}
	if c.GetZF() {
		e |= EflagsZF
	}
	if c.GetAF() {
		e |= EflagsAF
	}
	if c.GetPF() {
		e |= EflagsPF
	}
	if c.GetCF() {
		e |= EflagsCF
	}
	return e
}

// SetEflags implements a full EFLAGS write (§4.1): sets the raw word under
// validFlagMask, transitions Laux to FullUpdate, and requests a fast exit
// from the outer loop whenever IF flipped (§5 ordering guarantees).
func (c *CPU) SetEflags(v uint32) {
	old := c.Eflags
	c.Eflags = (c.Eflags &^ validFlagMask) | (v & validFlagMask)
	c.Lr = 0
	if v&EflagsZF == 0 {
		c.Lr = 1
	}
	c.Laux = FullUpdate
	if (old^c.Eflags)&EflagsIF != 0 {
		c.requestExit(ExitEflagsIF)
	}
}

// setCompareFlags writes ZF/PF/CF directly and clears OF/SF/AF, the
// result shape COMISS/UCOMISS and the integer PF/ZF/CF-setting bit
// helpers need (§4.8); transitions Laux to FullUpdate like any other
// explicit writer.
func (c *CPU) setCompareFlags(zf, pf, cf bool) {
	c.Eflags &^= EflagsOF | EflagsSF | EflagsAF | EflagsZF | EflagsPF | EflagsCF
	c.setBit(EflagsZF, zf)
	c.setBit(EflagsPF, pf)
	c.setBit(EflagsCF, cf)
	c.Lr = 0
	if !zf {
		c.Lr = 1
	}
	c.Laux = FullUpdate
}

func (c *CPU) requestExit(reason ExitReason) {
	c.ExitRequested = true
	c.ExitReason = reason
}

// CondTrue evaluates one of the sixteen Jcc/SETcc/CMOVcc condition codes,
// encoded the way the one-byte opcode map does: bits 3:1 select the
// predicate, bit 0 inverts it.
func (c *CPU) CondTrue(cond uint8) bool {
	var v bool
	switch (cond >> 1) & 7 {
	case 0:
		v = c.GetOF()
	case 1:
		v = c.GetCF()
	case 2:
		v = c.GetZF()
	case 3:
		v = c.GetZF() || c.GetCF()
	case 4:
		v = c.GetSF()
	case 5:
		v = c.GetPF()
	case 6:
		v = c.GetSF() != c.GetOF()
	case 7:
		v = c.GetZF() || (c.GetSF() != c.GetOF())
	}
	if cond&1 != 0 {
		return !v
	}
	return v
}
