package cpu

import "math"

// fpu_load.go: memory load/store forms (§4.7) for the ESC opcode group
// (0xD8-0xDF). Grounded on original_source/src/cpu/fpu.c's load/store
// dispatch; this core wires a representative subset (single/double real,
// 32-bit integer, and FXSAVE/FXRSTOR) rather than every memory width the
// real instruction set supports (80-bit packed BCD and 64-bit integer
// loads are not wired into the decode table).

func (c *CPU) fldM32(inst *DecodedInst) error {
	v, err := c.readMem(c.effAddr(inst), 32)
	if err != nil {
		return err
	}
	return c.FPUPush(FromFloat64(float64(math.Float32frombits(v))))
}

func (c *CPU) fldM64(inst *DecodedInst) error {
	lo, err := c.readMem(c.effAddr(inst), 32)
	if err != nil {
		return err
	}
	hi, err := c.readMem(c.effAddr(inst)+4, 32)
	if err != nil {
		return err
	}
	bits := uint64(hi)<<32 | uint64(lo)
	return c.FPUPush(FromFloat64(math.Float64frombits(bits)))
}

func (c *CPU) fstM32(inst *DecodedInst, pop bool) error {
	v := c.FPUStAt(0)
	bits := math.Float32bits(float32(v.ToFloat64()))
	if err := c.writeMem(c.effAddr(inst), 32, bits); err != nil {
		return err
	}
	if pop {
		_, err := c.FPUPop()
		return err
	}
	return nil
}

func (c *CPU) fstM64(inst *DecodedInst, pop bool) error {
	v := c.FPUStAt(0)
	bits := math.Float64bits(v.ToFloat64())
	if err := c.writeMem(c.effAddr(inst), 32, uint32(bits)); err != nil {
		return err
	}
	if err := c.writeMem(c.effAddr(inst)+4, 32, uint32(bits>>32)); err != nil {
		return err
	}
	if pop {
		_, err := c.FPUPop()
		return err
	}
	return nil
}

func (c *CPU) fildM32(inst *DecodedInst) error {
	v, err := c.readMem(c.effAddr(inst), 32)
	if err != nil {
		return err
	}
	return c.FPUPush(FromFloat64(float64(int32(v))))
}

func (c *CPU) fistM32(inst *DecodedInst, pop bool) error {
	v := int32(math.Round(c.FPUStAt(0).ToFloat64()))
	if err := c.writeMem(c.effAddr(inst), 32, uint32(v)); err != nil {
		return err
	}
	if pop {
		_, err := c.FPUPop()
		return err
	}
	return nil
}

// fxsave/fxrstor cover the SSE+x87 combined image (§4.7/§4.8), persisting
// only the fields the rest of the core actually models: the control,
// status and tag words at offsets 0, 2 and 4, MXCSR at 24, the eight x87
// registers (in FPR order) at 32+16*i, and XMM0-7 at 160+16*i. No other
// byte of the area is written, so the x87 opcode/selector/offset slots
// and the reserved bytes keep whatever memory held; fxrstor reads back
// only the same fields.
func (c *CPU) fxsave(addr uint32) error {
	if err := c.writeMem(addr+0, 16, uint32(c.FPUCW)); err != nil {
		return err
	}
	if err := c.writeMem(addr+2, 16, uint32(c.FPUSW)); err != nil {
		return err
	}
	if err := c.writeMem(addr+4, 16, uint32(c.FPUTag)); err != nil {
		return err
	}
	if err := c.writeMem(addr+24, 32, c.MXCSR); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		base := addr + 32 + uint32(i)*16
		r := c.FPR[i]
		if err := c.writeMem(base, 32, uint32(r.Mantissa)); err != nil {
			return err
		}
		if err := c.writeMem(base+4, 32, uint32(r.Mantissa>>32)); err != nil {
			return err
		}
		if err := c.writeMem(base+8, 16, uint32(r.SignExp)); err != nil {
			return err
		}
	}
	for i := 0; i < 8; i++ {
		base := addr + 160 + uint32(i)*16
		for w := 0; w < 16; w += 4 {
			var v uint32
			for b := 0; b < 4; b++ {
				v |= uint32(c.XMM[i][w+b]) << (8 * b)
			}
			if err := c.writeMem(base+uint32(w), 32, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *CPU) fxrstor(addr uint32) error {
	cw, err := c.readMem(addr+0, 16)
	if err != nil {
		return err
	}
	sw, err := c.readMem(addr+2, 16)
	if err != nil {
		return err
	}
	tag, err := c.readMem(addr+4, 16)
	if err != nil {
		return err
	}
	mxcsr, err := c.readMem(addr+24, 32)
	if err != nil {
		return err
	}
	c.FPUCW, c.FPUSW, c.FPUTag, c.MXCSR = uint16(cw), uint16(sw), uint16(tag), mxcsr
	c.FTop = uint8((c.FPUSW & swTopMask) >> swTopShift)
	for i := 0; i < 8; i++ {
		base := addr + 32 + uint32(i)*16
		lo, err := c.readMem(base, 32)
		if err != nil {
			return err
		}
		hi, err := c.readMem(base+4, 32)
		if err != nil {
			return err
		}
		se, err := c.readMem(base+8, 16)
		if err != nil {
			return err
		}
		c.FPR[i] = Extended80{Mantissa: uint64(hi)<<32 | uint64(lo), SignExp: uint16(se)}
	}
	for i := 0; i < 8; i++ {
		base := addr + 160 + uint32(i)*16
		for w := 0; w < 16; w += 4 {
			v, err := c.readMem(base+uint32(w), 32)
			if err != nil {
				return err
			}
			for b := 0; b < 4; b++ {
				c.XMM[i][w+b] = uint8(v >> (8 * b))
			}
		}
	}
	return nil
}
