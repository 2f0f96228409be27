package cpu

import "math"

// fpu_trans.go: x87 arithmetic, comparison, and a representative
// transcendental subset (§4.7), grounded on original_source/src/cpu/fpu.c's
// FADD/FSUB/FMUL/FDIV/FCOM family. Every arithmetic op routes through
// Extended80.ToFloat64/FromFloat64 (see fpu.go's doc comment for the
// precision tradeoff that conversion makes).

type fpuBinOp func(a, b float64) float64

func fpuAdd(a, b float64) float64 { return a + b }
func fpuSub(a, b float64) float64 { return a - b }
func fpuMul(a, b float64) float64 { return a * b }
func fpuDiv(a, b float64) float64 { return a / b }

// fpuArith implements the reg-or-memory, regular-or-reversed, pop-or-not
// matrix shared by FADD/FSUB/FSUBR/FMUL/FDIV/FDIVR: op(dst, src) or
// op(src, dst) when reversed, stored back into st, optionally popping.
func (c *CPU) fpuArith(st uint8, src Extended80, op fpuBinOp, reversed, pop bool) error {
	a := c.FPUStAt(st).ToFloat64()
	b := src.ToFloat64()
	var r float64
	if reversed {
		r = op(b, a)
	} else {
		r = op(a, b)
	}
	c.fpuSetStAt(st, FromFloat64(r))
	if pop {
		_, err := c.FPUPop()
		return err
	}
	return nil
}

// register-to-register forms: FADD/FSUB/etc. ST(0), ST(i) or, with pop
// (FADDP/FSUBP/...), ST(i) op= ST(0) stored back into ST(i) before the
// pop removes what was ST(0).
func (c *CPU) fpuArithST(sti uint8, op fpuBinOp, reversed, pop bool) error {
	if pop {
		return c.fpuArithInto(sti, c.FPUStAt(0), op, reversed, true)
	}
	return c.fpuArith(0, c.FPUStAt(sti), op, reversed, false)
}

// fpuArithInto computes op(ST(dst), src) (or the reversed order) and
// stores the result into ST(dst), optionally popping the stack afterward
// (for the FADDP/FSUBP/... forms where dst is ST(i) and src is ST(0)).
func (c *CPU) fpuArithInto(dst uint8, src Extended80, op fpuBinOp, reversed, pop bool) error {
	a := c.FPUStAt(dst).ToFloat64()
	b := src.ToFloat64()
	var r float64
	if reversed {
		r = op(b, a)
	} else {
		r = op(a, b)
	}
	c.fpuSetStAt(dst, FromFloat64(r))
	if pop {
		_, err := c.FPUPop()
		return err
	}
	return nil
}

func opFchs(c *CPU, inst *DecodedInst) error {
	v := c.FPUStAt(0)
	v.SignExp ^= 0x8000
	c.fpuSetStAt(0, v)
	return nil
}

func opFabs(c *CPU, inst *DecodedInst) error {
	v := c.FPUStAt(0)
	v.SignExp &^= 0x8000
	c.fpuSetStAt(0, v)
	return nil
}

func opFsqrt(c *CPU, inst *DecodedInst) error {
	c.fpuSetStAt(0, FromFloat64(math.Sqrt(c.FPUStAt(0).ToFloat64())))
	return nil
}

func opFld1(c *CPU, inst *DecodedInst) error  { return c.FPUPush(FromFloat64(1.0)) }
func opFldz(c *CPU, inst *DecodedInst) error  { return c.FPUPush(FromFloat64(0.0)) }
func opFldpi(c *CPU, inst *DecodedInst) error { return c.FPUPush(FromFloat64(math.Pi)) }
func opFldl2e(c *CPU, inst *DecodedInst) error {
	return c.FPUPush(FromFloat64(math.Log2(math.E)))
}
func opFldln2(c *CPU, inst *DecodedInst) error { return c.FPUPush(FromFloat64(math.Ln2)) }

// fpuSetCondFromCmp sets C3:C2:C0 per the unordered-compare result table
// (§4.7), mirroring FUCOMI's condition-code encoding without the
// EFLAGS-mapping variant.
func (c *CPU) fpuSetCondFromCmp(a, b float64) {
	c.FPUSW &^= swC0 | swC2 | swC3
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		c.FPUSW |= swC0 | swC2 | swC3
	case a < b:
		c.FPUSW |= swC0
	case a == b:
		c.FPUSW |= swC3
	}
}

func (c *CPU) fpuCompare(inst *DecodedInst, pop int) error {
	var src Extended80
	if inst.IsMem {
		v, err := c.readMem(c.effAddr(inst), 32)
		if err != nil {
			return err
		}
		src = FromFloat64(float64(math.Float32frombits(v)))
	} else {
		src = c.FPUStAt(uint8(inst.RM))
	}
	c.fpuSetCondFromCmp(c.FPUStAt(0).ToFloat64(), src.ToFloat64())
	for i := 0; i < pop; i++ {
		if _, err := c.FPUPop(); err != nil {
			return err
		}
	}
	return nil
}

func opFxch(c *CPU, inst *DecodedInst) error {
	i := uint8(inst.RM)
	a, b := c.FPUStAt(0), c.FPUStAt(i)
	c.fpuSetStAt(0, b)
	c.fpuSetStAt(i, a)
	return nil
}
