package cpu

// Arithmetic primitives (§4.1/§4.2): every one of these writes Lop1/Lop2/
// Lr/Laux so the flag readers in flags.go can reconstruct OF/SF/ZF/AF/PF/CF
// without the caller ever touching EFLAGS directly. Widths are always 8,
// 16, or 32. Grounded on original_source/src/cpu/ops/arith.c and ops/bit.c.

func maskFor(width int) uint32 {
	switch width {
	case 8:
		return 0xFF
	case 16:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

func signBit(width int) uint32 {
	switch width {
	case 8:
		return 0x80
	case 16:
		return 0x8000
	default:
		return 0x80000000
	}
}

func classFor(base lazyOp, width int) lazyOp {
	switch width {
	case 8:
		return base
	case 16:
		return base + 1
	default:
		return base + 2
	}
}

// Add computes dst+src at the given width and records lazy flag state.
func (c *CPU) Add(width int, dst, src uint32) uint32 {
	m := maskFor(width)
	r := (dst + src) & m
	c.Lop1, c.Lop2, c.Lr = dst&m, src&m, r
	c.Laux = classFor(opAdd8, width)
	return r
}

// Adc computes dst+src+CF.
func (c *CPU) Adc(width int, dst, src uint32) uint32 {
	m := maskFor(width)
	cf := uint32(0)
	if c.GetCF() {
		cf = 1
	}
	r := (dst + src + cf) & m
	c.Lop1, c.Lop2, c.Lr = dst&m, src&m, r
	c.Laux = classFor(opAdc8, width)
	return r
}

// Sub computes dst-src.
func (c *CPU) Sub(width int, dst, src uint32) uint32 {
	m := maskFor(width)
	r := (dst - src) & m
	c.Lop1, c.Lop2, c.Lr = dst&m, src&m, r
	c.Laux = classFor(opSub8, width)
	return r
}

// Sbb computes dst-src-CF.
func (c *CPU) Sbb(width int, dst, src uint32) uint32 {
	m := maskFor(width)
	cf := uint32(0)
	if c.GetCF() {
		cf = 1
	}
	r := (dst - src - cf) & m
	c.Lop1, c.Lop2, c.Lr = dst&m, src&m, r
	c.Laux = classFor(opSbb8, width)
	return r
}

// Cmp is Sub without keeping the result, matching CMP's flag-only effect;
// callers discard the return value.
func (c *CPU) Cmp(width int, dst, src uint32) uint32 { return c.Sub(width, dst, src) }

// Inc computes v+1. Unlike Add, INC never touches CF (§4.1), which is why
// it has its own lazy class: GetCF for opInc* reads straight from Eflags.
func (c *CPU) Inc(width int, v uint32) uint32 {
	c.setBit(EflagsCF, c.GetCF())
	m := maskFor(width)
	r := (v + 1) & m
	c.Lop1, c.Lr = v&m, r
	c.Laux = classFor(opInc8, width)
	return r
}

// Dec computes v-1, also leaving CF alone.
func (c *CPU) Dec(width int, v uint32) uint32 {
	c.setBit(EflagsCF, c.GetCF())
	m := maskFor(width)
	r := (v - 1) & m
	c.Lop1, c.Lr = v&m, r
	c.Laux = classFor(opDec8, width)
	return r
}

// Neg computes 0-v, equivalent to Sub(width, 0, v) with CF := (v != 0).
func (c *CPU) Neg(width int, v uint32) uint32 { return c.Sub(width, 0, v) }

// And, Or, Xor, Test all clear OF/CF and set SF/ZF/PF from the result;
// they share the opBit lazy class (which never looks at Lop1/Lop2).
func (c *CPU) logic(width int, r uint32) uint32 {
	r &= maskFor(width)
	c.Lr = r
	c.Laux = classFor(opBit8, width)
	return r
}

func (c *CPU) And(width int, dst, src uint32) uint32  { return c.logic(width, dst&src) }
func (c *CPU) Or(width int, dst, src uint32) uint32   { return c.logic(width, dst|src) }
func (c *CPU) Xor(width int, dst, src uint32) uint32  { return c.logic(width, dst^src) }
func (c *CPU) Test(width int, dst, src uint32) uint32 { return c.logic(width, dst&src) }
func (c *CPU) Not(width int, v uint32) uint32         { return (^v) & maskFor(width) }

// Shl, Shr, Sar implement the shift group; count is already masked to
// 0..31 (5 bits) by the caller per the 8086-compatible shift-count mask.
// A zero count leaves all flags, including the ones this would otherwise
// touch, unmodified (§4.1 shift-group special case).
func (c *CPU) Shl(width int, v, count uint32) uint32 {
	if count == 0 {
		return v & maskFor(width)
	}
	m := maskFor(width)
	r := (v << count) & m
	c.Lop1, c.Lop2, c.Lr = v&m, count, r
	c.Laux = classFor(opShl8, width)
	return r
}

func (c *CPU) Shr(width int, v, count uint32) uint32 {
	if count == 0 {
		return v & maskFor(width)
	}
	m := maskFor(width)
	r := (v & m) >> count
	c.Lop1, c.Lop2, c.Lr = v&m, count, r
	c.Laux = classFor(opShr8, width)
	return r
}

func (c *CPU) Sar(width int, v, count uint32) uint32 {
	if count == 0 {
		return v & maskFor(width)
	}
	m := maskFor(width)
	sbit := v & signBit(width)
	vv := v & m
	var r uint32
	if sbit != 0 {
		ext := ^uint32(0) << (uint32(width) - count)
		r = (vv >> count) | ext
	} else {
		r = vv >> count
	}
	r &= m
	c.Lop1, c.Lop2, c.Lr = vv, count, r
	c.Laux = classFor(opSar8, width)
	return r
}

// Rol, Ror, Rcl, Rcr are the rotate group. Rotates only ever affect CF and
// (for 1-bit rotates) OF, both of which are set explicitly here rather
// than through the lazy mechanism since rotates don't touch SF/ZF/AF/PF
// at all (§4.1).
func (c *CPU) Rol(width int, v, count uint32) uint32 {
	bits := uint32(width)
	count %= bits
	m := maskFor(width)
	vv := v & m
	if count == 0 {
		return vv
	}
	r := ((vv << count) | (vv >> (bits - count))) & m
	c.SetCF(r&1 != 0)
	if count == 1 {
		c.SetOF((r&1 != 0) != (r&signBit(width) != 0))
	}
	return r
}

func (c *CPU) Ror(width int, v, count uint32) uint32 {
	bits := uint32(width)
	count %= bits
	m := maskFor(width)
	vv := v & m
	if count == 0 {
		return vv
	}
	r := ((vv >> count) | (vv << (bits - count))) & m
	c.SetCF(r&signBit(width) != 0)
	if count == 1 {
		top2 := (r >> (width - 2)) & 3
		c.SetOF(top2 == 1 || top2 == 2)
	}
	return r
}

func (c *CPU) Rcl(width int, v, count uint32) uint32 {
	bits := uint32(width) + 1
	count %= bits
	m := maskFor(width)
	vv := v & m
	cf := uint32(0)
	if c.GetCF() {
		cf = 1
	}
	for i := uint32(0); i < count; i++ {
		newCF := (vv & signBit(width)) != 0
		vv = ((vv << 1) | cf) & m
		if newCF {
			cf = 1
		} else {
			cf = 0
		}
	}
	if count != 0 {
		c.SetCF(cf != 0)
	}
	if count == 1 {
		c.SetOF((cf != 0) != (vv&signBit(width) != 0))
	}
	return vv
}

func (c *CPU) Rcr(width int, v, count uint32) uint32 {
	bits := uint32(width) + 1
	count %= bits
	m := maskFor(width)
	vv := v & m
	cf := uint32(0)
	if c.GetCF() {
		cf = 1
	}
	if count == 1 {
		c.SetOF((vv&signBit(width) != 0) != (cf != 0))
	}
	for i := uint32(0); i < count; i++ {
		newCF := vv & 1
		vv = (vv >> 1) | (cf << (width - 1))
		vv &= m
		cf = newCF
	}
	if count != 0 {
		c.SetCF(cf != 0)
	}
	return vv
}

// Shld and Shrd implement the double-precision shift group (SHLD/SHRD):
// v is shifted by count bits, with bits shifted in from src.
func (c *CPU) Shld(width int, v, src, count uint32) uint32 {
	if count == 0 {
		return v & maskFor(width)
	}
	m := maskFor(width)
	vv, ss := v&m, src&m
	r := ((vv << count) | (ss >> (uint32(width) - count))) & m
	c.Lop1, c.Lop2, c.Lr = vv, count, r
	if width == 16 {
		c.Laux = opShld16
	} else {
		c.Laux = opShld32
	}
	return r
}

func (c *CPU) Shrd(width int, v, src, count uint32) uint32 {
	if count == 0 {
		return v & maskFor(width)
	}
	m := maskFor(width)
	vv, ss := v&m, src&m
	r := ((vv >> count) | (ss << (uint32(width) - count))) & m
	c.Lop1, c.Lop2, c.Lr = vv, count, r
	if width == 16 {
		c.Laux = opShrd16
	} else {
		c.Laux = opShrd32
	}
	return r
}

// Mul performs an unsigned width-bit multiply, returning the full
// double-width result packed into two uint32s (high, low). OF/CF are set
// whenever the high half is nonzero.
func (c *CPU) Mul(width int, a, b uint32) (hi, lo uint32) {
	m := maskFor(width)
	prod := uint64(a&m) * uint64(b&m)
	lo = uint32(prod) & m
	hi = uint32(prod>>uint(width)) & m
	c.Lop1, c.Lop2 = 0, 0
	if hi != 0 {
		c.Lop1, c.Lop2 = 1, 0
	}
	c.Lr = lo
	c.Laux = classFor(opMul8, width)
	return hi, lo
}

// Bsf and Bsr implement BSF/BSR: ZF is set when v == 0 (result undefined
// per the manual; this implementation leaves the destination unchanged,
// matching common hardware behavior), otherwise it's the bit index.
func Bsf(width int, v uint32) (index uint32, zero bool) {
	v &= maskFor(width)
	if v == 0 {
		return 0, true
	}
	idx := uint32(0)
	for v&1 == 0 {
		v >>= 1
		idx++
	}
	return idx, false
}

func Bsr(width int, v uint32) (index uint32, zero bool) {
	v &= maskFor(width)
	if v == 0 {
		return 0, true
	}
	idx := uint32(width - 1)
	for v&signBit(width) == 0 {
		v <<= 1
		idx--
	}
	return idx, false
}

// BitTest reads bit (index mod width) of v and reports it as the new CF;
// BT/BTS/BTR/BTC differ only in what they do with v afterward, which the
// caller handles.
func (c *CPU) BitTest(width int, v, index uint32) bool {
	bit := index % uint32(width)
	set := (v>>bit)&1 != 0
	c.SetCF(set)
	return set
}
