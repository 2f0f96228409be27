package cpu

import (
	"encoding/binary"
	"math"
)

// sse.go: the SSE/MMX subset named in §4.8 — 128-bit XMM load/store and
// packed/scalar single-precision arithmetic, the packed-integer logic and
// shift helpers, MOVD, EMMS, and the LDMXCSR/STMXCSR/FXSAVE/FXRSTOR group
// dispatched from 0F AE. Grounded on the lazy-flags and ESC-group style of
// flags.go/fpu_esc.go; unlike the x87 stack this core does not soft-float
// every bit of SSE, it narrows through Go's native float32/float64 (§1
// Non-goals: bit-exact reciprocal/rsqrt approximations are out of scope,
// and ordinary arithmetic is within a rounding mode IEEE-754 already
// gives us for free). Scalar-double (SD) forms, CVTPS2PD-style width
// conversions, and PSHUFD/CMPPS's immediate-predicate variants are not
// wired into this subset; see DESIGN.md.
//
// MMX instructions alias the x87 register file directly by absolute
// index (not through FTop) per §4.8: mmxEnter resets the stack pointer
// to ST(0) and marks every tag valid the way real hardware does on the
// first MMX instruction after an x87 sequence.

// fpuAvailCheck gates any FPU- or MMX-touching opcode on CR0.EM/TS,
// independent of the SSE-specific OSFXSR gate (§4.7, §4.8).
func (c *CPU) fpuAvailCheck() error {
	if c.CR[0]&CR0EM != 0 {
		return NewFault(VecUD)
	}
	if c.CR[0]&CR0TS != 0 {
		return NewFault(VecNM)
	}
	return nil
}

// sseCheck additionally asserts CR4.OSFXSR, the gate every XMM-touching
// form needs on top of basic FPU availability (§4.8).
func (c *CPU) sseCheck() error {
	if c.CR[4]&CR4OSFXSR == 0 {
		return NewFault(VecUD)
	}
	return c.fpuAvailCheck()
}

// mmxEnter resets the x87 stack pointer and marks all eight registers
// non-empty, per the "any MMX instruction reinitialises the tag word"
// rule in §4.8.
func (c *CPU) mmxEnter() {
	c.fpuSetTop(0)
	c.FPUTag = 0x0000
}

// sseLoadOperand reads the decoded instruction's xmm/m128 source operand;
// requireAlign enforces the #GP(0)-on-misalignment rule MOVAPS-class and
// arithmetic forms use but MOVUPS does not.
func (c *CPU) sseLoadOperand(inst *DecodedInst, requireAlign bool) ([16]byte, error) {
	if inst.IsMem {
		return c.readMem128(c.effAddr(inst), requireAlign)
	}
	return c.XMM[inst.RM], nil
}

// sseLoadScalar32 reads a 32-bit scalar source (xmm/m32), used by the
// CVT*SI and COMISS/UCOMISS forms.
func (c *CPU) sseLoadScalar32(inst *DecodedInst) (uint32, error) {
	if inst.IsMem {
		return c.readMem(c.effAddr(inst), 32)
	}
	return binary.LittleEndian.Uint32(c.XMM[inst.RM][0:4]), nil
}

// --- data movement: MOVUPS/MOVUPD (unaligned), MOVAPS/MOVAPD (aligned) ---

func opMovups(c *CPU, inst *DecodedInst) error {
	if err := c.sseCheck(); err != nil {
		return err
	}
	v, err := c.sseLoadOperand(inst, false)
	if err != nil {
		return err
	}
	c.XMM[inst.RegField] = v
	return nil
}

func opMovupsStore(c *CPU, inst *DecodedInst) error {
	if err := c.sseCheck(); err != nil {
		return err
	}
	v := c.XMM[inst.RegField]
	if inst.IsMem {
		return c.writeMem128(c.effAddr(inst), v, false)
	}
	c.XMM[inst.RM] = v
	return nil
}

func opMovaps(c *CPU, inst *DecodedInst) error {
	if err := c.sseCheck(); err != nil {
		return err
	}
	v, err := c.sseLoadOperand(inst, true)
	if err != nil {
		return err
	}
	c.XMM[inst.RegField] = v
	return nil
}

func opMovapsStore(c *CPU, inst *DecodedInst) error {
	if err := c.sseCheck(); err != nil {
		return err
	}
	v := c.XMM[inst.RegField]
	if inst.IsMem {
		return c.writeMem128(c.effAddr(inst), v, true)
	}
	c.XMM[inst.RM] = v
	return nil
}

// --- MOVD: xmm/mm <-> r/m32 (§4.8) ---

func opMovdLoad(c *CPU, inst *DecodedInst) error {
	v, err := c.loadOperand(inst, 32)
	if err != nil {
		return err
	}
	if inst.Has66 {
		if err := c.sseCheck(); err != nil {
			return err
		}
		var buf [16]byte
		binary.LittleEndian.PutUint32(buf[0:4], v)
		c.XMM[inst.RegField] = buf
		return nil
	}
	if err := c.fpuAvailCheck(); err != nil {
		return err
	}
	c.mmxEnter()
	c.FPR[inst.RegField] = Extended80{Mantissa: uint64(v)}
	c.fpuSetTag(inst.RegField, tagValid)
	return nil
}

func opMovdStore(c *CPU, inst *DecodedInst) error {
	var v uint32
	if inst.Has66 {
		if err := c.sseCheck(); err != nil {
			return err
		}
		v = binary.LittleEndian.Uint32(c.XMM[inst.RegField][0:4])
	} else {
		if err := c.fpuAvailCheck(); err != nil {
			return err
		}
		v = uint32(c.FPR[inst.RegField].Mantissa)
	}
	return c.storeOperand(inst, 32, v)
}

// --- conversions and compares ---

func opCvtsi2ss(c *CPU, inst *DecodedInst) error {
	if err := c.sseCheck(); err != nil {
		return err
	}
	v, err := c.loadOperand(inst, 32)
	if err != nil {
		return err
	}
	dst := c.XMM[inst.RegField]
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(float32(int32(v))))
	c.XMM[inst.RegField] = dst
	return nil
}

func opCvttss2si(c *CPU, inst *DecodedInst) error {
	if err := c.sseCheck(); err != nil {
		return err
	}
	bits, err := c.sseLoadScalar32(inst)
	if err != nil {
		return err
	}
	c.setReg(32, inst.RegField, uint32(int32(math.Float32frombits(bits))))
	return nil
}

func opCvtss2si(c *CPU, inst *DecodedInst) error {
	if err := c.sseCheck(); err != nil {
		return err
	}
	bits, err := c.sseLoadScalar32(inst)
	if err != nil {
		return err
	}
	c.setReg(32, inst.RegField, uint32(int32(math.Round(float64(math.Float32frombits(bits))))))
	return nil
}

// makeComiss builds COMISS (unordered=false) and UCOMISS (unordered=true)
// handlers; this core does not distinguish their QNaN exception policy
// (§4.8 DESIGN.md note), only the EFLAGS result they both define: ZF/PF/CF
// set, OF/SF/AF cleared.
func makeComiss(unordered bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if err := c.sseCheck(); err != nil {
			return err
		}
		bBits, err := c.sseLoadScalar32(inst)
		if err != nil {
			return err
		}
		a := math.Float32frombits(binary.LittleEndian.Uint32(c.XMM[inst.RegField][0:4]))
		b := math.Float32frombits(bBits)
		switch {
		case math.IsNaN(float64(a)) || math.IsNaN(float64(b)):
			c.setCompareFlags(true, true, true)
		case a < b:
			c.setCompareFlags(false, false, true)
		case a > b:
			c.setCompareFlags(false, false, false)
		default:
			c.setCompareFlags(true, false, false)
		}
		return nil
	}
}

// --- packed/scalar single-precision arithmetic (ADDPS/ADDSS etc.) ---

func sseAddF(a, b float32) float32 { return a + b }
func sseSubF(a, b float32) float32 { return a - b }
func sseMulF(a, b float32) float32 { return a * b }
func sseDivF(a, b float32) float32 { return a / b }
func sseSqrt(_, b float32) float32 { return float32(math.Sqrt(float64(b))) }

func sseMinF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func sseMaxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// makeSSEArith builds the ADDPS/SUBPS/MULPS/DIVPS/MINPS/MAXPS/SQRTPS
// family. With an F3 or F2 prefix the same single-precision op runs on
// the lowest 32-bit lane only, leaving the rest of the destination
// register untouched; there is no double-precision (SD) arithmetic.
func makeSSEArith(op func(a, b float32) float32) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if err := c.sseCheck(); err != nil {
			return err
		}
		dst := c.XMM[inst.RegField]
		if inst.Rep == 0xF3 || inst.Rep == 0xF2 {
			bBits, err := c.sseLoadScalar32(inst)
			if err != nil {
				return err
			}
			a := math.Float32frombits(binary.LittleEndian.Uint32(dst[0:4]))
			b := math.Float32frombits(bBits)
			binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(op(a, b)))
			c.XMM[inst.RegField] = dst
			return nil
		}
		src, err := c.sseLoadOperand(inst, true)
		if err != nil {
			return err
		}
		for i := 0; i < 16; i += 4 {
			a := math.Float32frombits(binary.LittleEndian.Uint32(dst[i : i+4]))
			b := math.Float32frombits(binary.LittleEndian.Uint32(src[i : i+4]))
			binary.LittleEndian.PutUint32(dst[i:i+4], math.Float32bits(op(a, b)))
		}
		c.XMM[inst.RegField] = dst
		return nil
	}
}

// --- packed bitwise logic: ANDPS/ANDNPS/ORPS/XORPS and PAND/PANDN/POR/PXOR ---

func sseAnd(a, b uint32) uint32  { return a & b }
func sseAndn(a, b uint32) uint32 { return ^a & b }
func sseOr(a, b uint32) uint32   { return a | b }
func sseXor(a, b uint32) uint32  { return a ^ b }

// makeSSELogic builds ANDPS/ANDNPS/ORPS/XORPS: always packed, no scalar
// form exists for these in the base ISA.
func makeSSELogic(op func(a, b uint32) uint32) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if err := c.sseCheck(); err != nil {
			return err
		}
		src, err := c.sseLoadOperand(inst, true)
		if err != nil {
			return err
		}
		dst := c.XMM[inst.RegField]
		for i := 0; i < 16; i += 4 {
			a := binary.LittleEndian.Uint32(dst[i : i+4])
			b := binary.LittleEndian.Uint32(src[i : i+4])
			binary.LittleEndian.PutUint32(dst[i:i+4], op(a, b))
		}
		c.XMM[inst.RegField] = dst
		return nil
	}
}

// makePackedLogic builds the PAND/PANDN/POR/PXOR family, which operate on
// either an MMX 64-bit register (no mandatory-66 prefix) or an XMM
// 128-bit one (66 prefix), sharing the same opcode byte (§4.8).
func makePackedLogic(op func(a, b uint32) uint32) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if inst.Has66 {
			if err := c.sseCheck(); err != nil {
				return err
			}
			src, err := c.sseLoadOperand(inst, true)
			if err != nil {
				return err
			}
			dst := c.XMM[inst.RegField]
			for i := 0; i < 16; i += 4 {
				a := binary.LittleEndian.Uint32(dst[i : i+4])
				b := binary.LittleEndian.Uint32(src[i : i+4])
				binary.LittleEndian.PutUint32(dst[i:i+4], op(a, b))
			}
			c.XMM[inst.RegField] = dst
			return nil
		}
		if err := c.fpuAvailCheck(); err != nil {
			return err
		}
		c.mmxEnter()
		var srcVal uint64
		if inst.IsMem {
			v, err := c.readMem64(c.effAddr(inst))
			if err != nil {
				return err
			}
			srcVal = v
		} else {
			srcVal = c.FPR[inst.RM].Mantissa
		}
		dst := c.FPR[inst.RegField].Mantissa
		lo := op(uint32(dst), uint32(srcVal))
		hi := op(uint32(dst>>32), uint32(srcVal>>32))
		c.FPR[inst.RegField].Mantissa = uint64(lo) | uint64(hi)<<32
		c.fpuSetTag(inst.RegField, tagValid)
		return nil
	}
}

// --- packed integer add/sub: PADDB/W/D, PSUBB/W/D ---

func applyLanesAdd(dst, src []byte, elemSize int, sub bool) {
	lanes := len(dst) / elemSize
	for i := 0; i < lanes; i++ {
		off := i * elemSize
		switch elemSize {
		case 1:
			a, b := dst[off], src[off]
			if sub {
				dst[off] = a - b
			} else {
				dst[off] = a + b
			}
		case 2:
			a := binary.LittleEndian.Uint16(dst[off : off+2])
			b := binary.LittleEndian.Uint16(src[off : off+2])
			var r uint16
			if sub {
				r = a - b
			} else {
				r = a + b
			}
			binary.LittleEndian.PutUint16(dst[off:off+2], r)
		case 4:
			a := binary.LittleEndian.Uint32(dst[off : off+4])
			b := binary.LittleEndian.Uint32(src[off : off+4])
			var r uint32
			if sub {
				r = a - b
			} else {
				r = a + b
			}
			binary.LittleEndian.PutUint32(dst[off:off+4], r)
		}
	}
}

// makePackedArith builds PADDB/W/D (sub=false) and PSUBB/W/D (sub=true)
// for elemSize in {1,2,4}, over either an MMX or XMM register per the
// 66-prefix convention makePackedLogic uses.
func makePackedArith(elemSize int, sub bool) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if inst.Has66 {
			if err := c.sseCheck(); err != nil {
				return err
			}
			src, err := c.sseLoadOperand(inst, true)
			if err != nil {
				return err
			}
			dst := c.XMM[inst.RegField]
			applyLanesAdd(dst[:], src[:], elemSize, sub)
			c.XMM[inst.RegField] = dst
			return nil
		}
		if err := c.fpuAvailCheck(); err != nil {
			return err
		}
		c.mmxEnter()
		var srcBuf [8]byte
		if inst.IsMem {
			v, err := c.readMem64(c.effAddr(inst))
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(srcBuf[:], v)
		} else {
			binary.LittleEndian.PutUint64(srcBuf[:], c.FPR[inst.RM].Mantissa)
		}
		var dstBuf [8]byte
		binary.LittleEndian.PutUint64(dstBuf[:], c.FPR[inst.RegField].Mantissa)
		applyLanesAdd(dstBuf[:], srcBuf[:], elemSize, sub)
		c.FPR[inst.RegField].Mantissa = binary.LittleEndian.Uint64(dstBuf[:])
		c.fpuSetTag(inst.RegField, tagValid)
		return nil
	}
}

// --- packed shifts: PSRLW/D/Q, PSRAW/D, PSLLW/D/Q (group 71/72/73) ---

// shiftVector implements the "mask word" trick of §4.8: an out-of-range
// count saturates to all-zero (logical) or all-sign-bit (arithmetic)
// instead of relying on Go's shift-amount-modulo behavior.
func shiftVector(v []byte, elemSize int, count uint32, arith, left bool) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	lanes := len(v) / elemSize
	bits := uint32(elemSize * 8)
	for i := 0; i < lanes; i++ {
		off := i * elemSize
		switch elemSize {
		case 2:
			x := binary.LittleEndian.Uint16(v[off : off+2])
			var r uint16
			switch {
			case count >= bits:
				if arith && int16(x) < 0 {
					r = 0xFFFF
				}
			case left:
				r = x << count
			case arith:
				r = uint16(int16(x) >> count)
			default:
				r = x >> count
			}
			binary.LittleEndian.PutUint16(out[off:off+2], r)
		case 4:
			x := binary.LittleEndian.Uint32(v[off : off+4])
			var r uint32
			switch {
			case count >= bits:
				if arith && int32(x) < 0 {
					r = 0xFFFFFFFF
				}
			case left:
				r = x << count
			case arith:
				r = uint32(int32(x) >> count)
			default:
				r = x >> count
			}
			binary.LittleEndian.PutUint32(out[off:off+4], r)
		case 8:
			x := binary.LittleEndian.Uint64(v[off : off+8])
			var r uint64
			switch {
			case count >= bits:
				r = 0
			case left:
				r = x << count
			default:
				r = x >> count
			}
			binary.LittleEndian.PutUint64(out[off:off+8], r)
		}
	}
	return out
}

func makePackedShiftGroup(elemSize int) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if inst.Mod != 3 {
			return NewFault(VecUD)
		}
		var left, arith bool
		switch inst.RegField {
		case 2:
		case 4:
			if elemSize == 8 {
				return NewFault(VecUD)
			}
			arith = true
		case 6:
			left = true
		default:
			return NewFault(VecUD)
		}
		count := inst.Imm & 0xFF

		if inst.Has66 {
			if err := c.sseCheck(); err != nil {
				return err
			}
			v := c.XMM[inst.RM]
			out := shiftVector(v[:], elemSize, count, arith, left)
			copy(c.XMM[inst.RM][:], out)
			return nil
		}
		if err := c.fpuAvailCheck(); err != nil {
			return err
		}
		c.mmxEnter()
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], c.FPR[inst.RM].Mantissa)
		out := shiftVector(buf[:], elemSize, count, arith, left)
		c.FPR[inst.RM].Mantissa = binary.LittleEndian.Uint64(out)
		c.fpuSetTag(inst.RM, tagValid)
		return nil
	}
}

// --- EMMS and the LDMXCSR/STMXCSR/FXSAVE/FXRSTOR group (0F AE) ---

func opEmms(c *CPU, inst *DecodedInst) error {
	if err := c.fpuAvailCheck(); err != nil {
		return err
	}
	c.FPUTag = 0xFFFF
	return nil
}

func opGroupAE(c *CPU, inst *DecodedInst) error {
	switch inst.RegField {
	case 0:
		if !inst.IsMem {
			return NewFault(VecUD)
		}
		return c.fxsave(c.effAddr(inst))
	case 1:
		if !inst.IsMem {
			return NewFault(VecUD)
		}
		return c.fxrstor(c.effAddr(inst))
	case 2:
		if !inst.IsMem {
			return NewFault(VecUD)
		}
		v, err := c.readMem(c.effAddr(inst), 32)
		if err != nil {
			return err
		}
		c.MXCSR = v
		return nil
	case 3:
		if !inst.IsMem {
			return NewFault(VecUD)
		}
		return c.writeMem(c.effAddr(inst), 32, c.MXCSR)
	default:
		// LFENCE/MFENCE/SFENCE (register-form /5,/6,/7): no ordering to
		// enforce on a single logical CPU (§5), so these are no-ops.
		return nil
	}
}
