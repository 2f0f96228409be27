package cpu

import "github.com/rcornwell/ia32core/internal/mmu"

// Handler executes one decoded instruction form, dispatched from a flat
// function-pointer table keyed by opcode, carrying a richer
// decoded-instruction record and a real error type instead of a raw
// status code.
type Handler func(*CPU, *DecodedInst) error

// DecodedInst is the record a single trace-cache entry is built from:
// everything the handler needs to execute the instruction without
// re-parsing its bytes (§3.3, §4.4).
type DecodedInst struct {
	Opcode   uint8
	TwoByte  bool
	Length   int
	OpSize   int // 16 or 32
	AddrSize int // 16 or 32

	HasModRM bool
	Mod      uint8
	RegField uint8
	RM       uint8

	IsMem   bool
	MemAddr uint32 // linear address of the memory operand, if IsMem
	Seg     int    // segment register index used for MemAddr

	Imm    uint32
	Imm2   uint32 // far-pointer selector for JMP/CALL ptr16:xx (opcode 0xEA)
	HasImm bool

	Rep  byte // 0, 0xF2 (REPNZ), or 0xF3 (REP/REPZ)
	Has66 bool // mandatory-66 prefix seen, selects an SSE packed-double/xmm form (§4.8)

	StartEIP uint32 // virtual EIP this instruction began at, for fault reporting
}

// buildTable populates the one-byte (0-255) and two-byte 0F xx (256-511)
// handler slots. Unpopulated slots dispatch to opUndefined, which raises
// #UD, matching the original's catch-all "not emulated" behavior rather
// than silently treating missing forms as NOPs.
func (c *CPU) buildTable() {
	for i := range c.table {
		c.table[i] = opUndefined
	}

	t := &c.table

	// Arithmetic group (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP), Eb/Gb Ev/Gv
	// Gb/Eb Gv/Ev AL,ib eAX,iz forms: 0x00-0x3D excluding the segment
	// push/pop opcodes interleaved in that range.
	arithOps := []struct {
		base      uint8
		fn        func(*CPU, int, uint32, uint32) uint32
		writeBack bool
	}{
		{0x00, (*CPU).Add, true}, {0x08, (*CPU).Or, true}, {0x10, (*CPU).Adc, true}, {0x18, (*CPU).Sbb, true},
		{0x20, (*CPU).And, true}, {0x28, (*CPU).Sub, true}, {0x30, (*CPU).Xor, true}, {0x38, (*CPU).Cmp, false},
	}
	for _, op := range arithOps {
		op := op
		t[op.base+0] = makeArithEbGb(op.fn, op.writeBack)
		t[op.base+1] = makeArithEvGv(op.fn, op.writeBack)
		t[op.base+2] = makeArithGbEb(op.fn, op.writeBack)
		t[op.base+3] = makeArithGvEv(op.fn, op.writeBack)
		t[op.base+4] = makeArithALIb(op.fn, op.writeBack)
		t[op.base+5] = makeArithEAXIz(op.fn, op.writeBack)
	}

	for r := uint8(0); r < 8; r++ {
		t[0x50+r] = opPushReg
		t[0x58+r] = opPopReg
		t[0x40+r] = opIncReg
		t[0x48+r] = opDecReg
		t[0xB8+r] = opMovRegImm
	}

	t[0x68] = opPushImm32
	t[0x6A] = opPushImm8

	for cc := uint8(0); cc < 16; cc++ {
		t[0x70+cc] = makeJcc(cc)
		t[256+0x80+int(cc)] = makeJccNear(cc) // 0F 80+cc
		t[256+0x90+int(cc)] = makeSetcc(cc)   // 0F 90+cc
	}

	t[0x84] = opTestEbGb
	t[0x85] = opTestEvGv
	t[0x86] = opXchgEbGb
	t[0x87] = opXchgEvGv
	t[0x88] = opMovEbGb
	t[0x89] = opMovEvGv
	t[0x8A] = opMovGbEb
	t[0x8B] = opMovGvEv
	t[0x8C] = opMovRmFromSreg
	t[0x8D] = opLea
	t[0x8E] = opMovSregFromRm

	t[0x90] = opNop
	for r := uint8(1); r < 8; r++ {
		t[0x90+r] = makeXchgEAXReg(r)
	}
	t[0x98] = opCbwCwde
	t[0x99] = opCwdCdq
	t[0x9A] = opCallFar

	t[0x9C] = opPushf
	t[0x9D] = opPopf

	t[0xA4] = opMovsb
	t[0xA5] = opMovsw
	t[0xA6] = opCmpsb
	t[0xA7] = opCmpsw
	t[0xA8] = opTestALIb
	t[0xA9] = opTestEAXIz
	t[0xAA] = opStosb
	t[0xAB] = opStosw
	t[0xAC] = opLodsb
	t[0xAD] = opLodsw
	t[0xAE] = opScasb
	t[0xAF] = opScasw

	t[0xC2] = opRetImm16
	t[0xC3] = opRet
	t[0xC6] = opMovEbIb
	t[0xC7] = opMovEvIz
	t[0xC9] = opLeave
	t[0xCB] = opRetFar
	t[0xCC] = opInt3
	t[0xCD] = opIntImm8
	t[0xCE] = opInto
	t[0xCF] = opIret

	t[0xD0] = makeShiftGroup(1, false)
	t[0xD1] = makeShiftGroup(1, true)
	t[0xD2] = makeShiftGroup(0, false)
	t[0xD3] = makeShiftGroup(0, true)

	t[0xE0] = opLoopnz
	t[0xE1] = opLoopz
	t[0xE2] = opLoop
	t[0xE3] = opJcxz

	t[0xE4] = opInALIb
	t[0xE5] = opInEAXIb
	t[0xE6] = opOutIbAL
	t[0xE7] = opOutIbEAX
	t[0xE8] = opCallNear
	t[0xE9] = opJmpNear
	t[0xEA] = opJmpFar
	t[0xEB] = opJmpShort
	t[0xEC] = opInALDX
	t[0xED] = opInEAXDX
	t[0xEE] = opOutDXAL
	t[0xEF] = opOutDXEAX

	t[0xF4] = opHlt
	t[0xF5] = opCmc
	t[0xF6] = makeUnaryGroup(1)
	t[0xF7] = makeUnaryGroup(0)
	t[0xF8] = opClc
	t[0xF9] = opStc
	t[0xFA] = opCli
	t[0xFB] = opSti
	t[0xFC] = opCld
	t[0xFD] = opStd
	t[0xFE] = opIncDecEb
	t[0xFF] = opGroupFF

	t[256+0x00] = opGroup0F00 // SLDT/STR/LLDT/LTR/VERR/VERW
	t[256+0x01] = opGroup0F01 // SGDT/SIDT/LGDT/LIDT/SMSW/LMSW/INVLPG
	t[256+0x06] = opClts
	t[256+0x31] = opRdtsc // 0F 31
	t[256+0xA2] = opCpuid            // 0F A2
	t[256+0x05] = opSyscallUnsupported
	t[256+0x34] = opSysenter
	t[256+0x35] = opSysexit
	t[256+0x20] = opMovFromCR
	t[256+0x22] = opMovToCR
	t[256+0x32] = opRdmsr
	t[256+0x30] = opWrmsr

	t[256+0x10] = opMovups
	t[256+0x11] = opMovupsStore
	t[256+0x28] = opMovaps
	t[256+0x29] = opMovapsStore
	t[256+0x2A] = opCvtsi2ss
	t[256+0x2C] = opCvttss2si
	t[256+0x2D] = opCvtss2si
	t[256+0x2E] = makeComiss(false)
	t[256+0x2F] = makeComiss(true)
	t[256+0x51] = makeSSEArith(sseSqrt)
	t[256+0x54] = makeSSELogic(sseAnd)
	t[256+0x55] = makeSSELogic(sseAndn)
	t[256+0x56] = makeSSELogic(sseOr)
	t[256+0x57] = makeSSELogic(sseXor)
	t[256+0x58] = makeSSEArith(sseAddF)
	t[256+0x59] = makeSSEArith(sseMulF)
	t[256+0x5C] = makeSSEArith(sseSubF)
	t[256+0x5D] = makeSSEArith(sseMinF)
	t[256+0x5E] = makeSSEArith(sseDivF)
	t[256+0x5F] = makeSSEArith(sseMaxF)
	t[256+0x6E] = opMovdLoad
	t[256+0x7E] = opMovdStore
	t[256+0x71] = makePackedShiftGroup(1)
	t[256+0x72] = makePackedShiftGroup(4)
	t[256+0x73] = makePackedShiftGroup(8)
	t[256+0x77] = opEmms
	t[256+0xAE] = opGroupAE
	t[256+0xDB] = makePackedLogic(sseAnd)
	t[256+0xDF] = makePackedLogic(sseAndn)
	t[256+0xEB] = makePackedLogic(sseOr)
	t[256+0xEF] = makePackedLogic(sseXor)
	t[256+0xFC] = makePackedArith(1, false)
	t[256+0xFD] = makePackedArith(2, false)
	t[256+0xFE] = makePackedArith(4, false)
	t[256+0xF8] = makePackedArith(1, true)
	t[256+0xF9] = makePackedArith(2, true)
	t[256+0xFA] = makePackedArith(4, true)

	t[0xD8] = opEscD8
	t[0xD9] = opEscD9
	t[0xDA] = opEscDA
	t[0xDB] = opEscDB
	t[0xDC] = opEscDC
	t[0xDD] = opEscDD
	t[0xDE] = opEscDE
	t[0xDF] = opEscDF
}

// fetch8/16/32 read little-endian immediate/displacement bytes directly
// from physical memory at the cursor the decoder maintains; callers pass
// the physical address and get back the value plus the new cursor.
func (c *CPU) fetch8(phys uint32) (uint8, uint32)   { return c.Mem.ReadByte(phys), phys + 1 }
func (c *CPU) fetch16(phys uint32) (uint16, uint32) { return c.Mem.ReadWord(phys), phys + 2 }
func (c *CPU) fetch32(phys uint32) (uint32, uint32) { return c.Mem.ReadDword(phys), phys + 4 }

// Decode disassembles one instruction starting at the given physical
// address, for the current CS.Big-derived default operand/address size,
// returning the decoded record. It performs only the ModRM/SIB/immediate
// parsing needed by the opcode subset buildTable populates; an opcode
// outside that subset still decodes its ModRM/immediate shape correctly
// (so trailing bytes in a trace stay aligned) even though it dispatches
// to opUndefined.
func (c *CPU) Decode(phys uint32, defBig bool) (*DecodedInst, error) {
	start := phys
	opSize, addrSize := 32, 32
	if !defBig {
		opSize, addrSize = 16, 16
	}
	seg := -1
	var rep byte
	var has66 bool

prefixLoop:
	for {
		b := c.Mem.ReadByte(phys)
		switch b {
		case 0x66:
			has66 = true
			if opSize == 32 {
				opSize = 16
			} else {
				opSize = 32
			}
		case 0x67:
			if addrSize == 32 {
				addrSize = 16
			} else {
				addrSize = 32
			}
		case 0x2E:
			seg = CS
		case 0x36:
			seg = SS
		case 0x3E:
			seg = DS
		case 0x26:
			seg = ES
		case 0x64:
			seg = FS
		case 0x65:
			seg = GS
		case 0xF0: // LOCK, no-op for a single logical CPU
		case 0xF2, 0xF3:
			rep = b
		default:
			break prefixLoop
		}
		phys++
	}

	opcode, next := c.fetch8(phys)
	phys = next
	twoByte := false
	if opcode == 0x0F {
		opcode, next = c.fetch8(phys)
		phys = next
		twoByte = true
	}

	inst := &DecodedInst{Opcode: opcode, TwoByte: twoByte, OpSize: opSize, AddrSize: addrSize, Seg: seg, Rep: rep, Has66: has66}
	if seg < 0 {
		inst.Seg = DS
	}

	if opcodeHasModRM(opcode, twoByte) {
		modrm, afterModRM := c.fetch8(phys)
		phys = afterModRM
		inst.HasModRM = true
		inst.Mod = modrm >> 6
		inst.RegField = (modrm >> 3) & 7
		inst.RM = modrm & 7

		if inst.Mod != 3 {
			inst.IsMem = true
			addr, afterAddr := c.decodeModRMMemory(inst, phys)
			phys = afterAddr
			inst.MemAddr = addr
		}
	}

	if !twoByte && (opcode == 0xEA || opcode == 0x9A) {
		var off uint32
		if opSize == 16 {
			v, n := c.fetch16(phys)
			off, phys = uint32(v), n
		} else {
			v, n := c.fetch32(phys)
			off, phys = v, n
		}
		sel, n := c.fetch16(phys)
		phys = n
		inst.Imm, inst.Imm2, inst.HasImm = off, uint32(sel), true
		inst.Length = int(phys - start)
		return inst, nil
	}

	immBytes := immediateSize(opcode, twoByte, opSize)
	if !twoByte && (opcode == 0xF6 || opcode == 0xF7) && inst.RegField <= 1 {
		// TEST Eb,ib / Ev,iz: only the /0 and /1 forms of F6/F7 carry an immediate.
		immBytes = 1
		if opcode == 0xF7 {
			immBytes = 4
			if opSize == 16 {
				immBytes = 2
			}
		}
	}
	if immBytes > 0 {
		inst.HasImm = true
		switch immBytes {
		case 1:
			v, n := c.fetch8(phys)
			inst.Imm, phys = uint32(int8(v)), n
		case 2:
			v, n := c.fetch16(phys)
			inst.Imm, phys = uint32(v), n
		case 4:
			v, n := c.fetch32(phys)
			inst.Imm, phys = v, n
		}
	}

	inst.Length = int(phys - start)
	return inst, nil
}

// decodeModRMMemory computes the linear effective address for a
// non-register ModRM operand, handling the SIB byte and the disp8/disp32
// (or disp16 in 16-bit addressing) forms. Segment-relative: callers add
// the loaded segment base separately at execution time via c.effAddr.
func (c *CPU) decodeModRMMemory(inst *DecodedInst, phys uint32) (uint32, uint32) {
	if inst.AddrSize == 16 {
		return c.decodeModRM16(inst, phys)
	}

	var base, index, scale uint32
	hasBase, hasIndex := false, false

	if inst.RM == 4 {
		sib, n := c.fetch8(phys)
		phys = n
		scale = 1 << (sib >> 6)
		idx := (sib >> 3) & 7
		b := sib & 7
		if idx != 4 {
			hasIndex = true
			index = c.Regs[idx]
		}
		if b == 5 && inst.Mod == 0 {
			d, n2 := c.fetch32(phys)
			phys = n2
			base = d
		} else {
			hasBase = true
			base = c.Regs[b]
		}
	} else if inst.RM == 5 && inst.Mod == 0 {
		d, n := c.fetch32(phys)
		phys = n
		base = d
	} else {
		hasBase = true
		base = c.Regs[inst.RM]
	}

	addr := uint32(0)
	if hasBase {
		addr += base
	} else if inst.RM != 4 {
		addr += base // disp32-only form already in base
	}
	if hasIndex {
		addr += index * scale
	}
	if inst.RM == 4 && !hasBase {
		addr += base
	}

	switch inst.Mod {
	case 1:
		d, n := c.fetch8(phys)
		phys = n
		addr += uint32(int32(int8(d)))
	case 2:
		d, n := c.fetch32(phys)
		phys = n
		addr += d
	}
	return addr, phys
}

var rm16Table = [8][2]int{
	{EBX, ESI}, {EBX, EDI}, {EBP, ESI}, {EBP, EDI},
	{ESI, -1}, {EDI, -1}, {EBP, -1}, {EBX, -1},
}

func (c *CPU) decodeModRM16(inst *DecodedInst, phys uint32) (uint32, uint32) {
	entry := rm16Table[inst.RM]
	addr := uint32(0)
	if inst.Mod == 0 && inst.RM == 6 {
		d, n := c.fetch16(phys)
		return uint32(d), n
	}
	addr += c.Regs[entry[0]]
	if entry[1] >= 0 {
		addr += c.Regs[entry[1]]
	}
	switch inst.Mod {
	case 1:
		d, n := c.fetch8(phys)
		phys = n
		addr += uint32(int32(int8(d)))
	case 2:
		d, n := c.fetch16(phys)
		phys = n
		addr += uint32(d)
	}
	return addr & 0xFFFF, phys
}

func opcodeHasModRM(opcode uint8, twoByte bool) bool {
	if twoByte {
		switch {
		case opcode >= 0x80 && opcode <= 0x8F: // Jcc near
			return false
		case opcode == 0x31, opcode == 0xA2, opcode == 0x05, opcode == 0x34, opcode == 0x35:
			return false
		case opcode >= 0x90 && opcode <= 0x9F: // SETcc
			return true
		case opcode == 0x20, opcode == 0x22:
			return true
		case opcode == 0x77: // EMMS, no ModRM
			return false
		case opcode == 0x00, opcode == 0x01: // SLDT/STR/LLDT/LTR/VERR/VERW group, SGDT/SIDT/LGDT/LIDT/SMSW/LMSW/INVLPG group
			return true
		case opcode == 0x06: // CLTS, no ModRM
			return false
		case sseHasModRM(opcode):
			return true
		default:
			return false
		}
	}
	switch {
	case opcode <= 0x3D && (opcode&7) <= 3:
		return true
	case opcode == 0x8D, opcode == 0x8A, opcode == 0x8B, opcode == 0x88, opcode == 0x89:
		return true
	case opcode == 0x8C, opcode == 0x8E: // MOV Sreg,r/m and r/m,Sreg
		return true
	case opcode == 0x86, opcode == 0x87: // XCHG Eb,Gb / Ev,Gv
		return true
	case opcode == 0x84, opcode == 0x85:
		return true
	case opcode == 0xC6, opcode == 0xC7:
		return true
	case opcode == 0xD0, opcode == 0xD1, opcode == 0xD2, opcode == 0xD3:
		return true
	case opcode == 0xF6, opcode == 0xF7:
		return true
	case opcode == 0xFE, opcode == 0xFF:
		return true
	case opcode >= 0xD8 && opcode <= 0xDF: // x87 ESC group, always ModRM-addressed
		return true
	default:
		return false
	}
}

// sseHasModRM lists the two-byte SSE/MMX opcodes buildTable wires that
// take a ModRM byte (§4.8); EMMS (0x77) is the only one of the subset
// this core decodes that does not.
func sseHasModRM(opcode uint8) bool {
	switch opcode {
	case 0x10, 0x11, 0x28, 0x29, 0x2A, 0x2C, 0x2D, 0x2E, 0x2F,
		0x51, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5C, 0x5D, 0x5E, 0x5F,
		0x6E, 0x7E, 0x71, 0x72, 0x73, 0xAE,
		0xDB, 0xDF, 0xEB, 0xEF, 0xFC, 0xFD, 0xFE, 0xF8, 0xF9, 0xFA:
		return true
	}
	return false
}

// immediateSize returns the number of immediate bytes following the
// ModRM/SIB/displacement for the opcodes buildTable knows about.
func immediateSize(opcode uint8, twoByte bool, opSize int) int {
	if twoByte {
		if opcode >= 0x80 && opcode <= 0x8F {
			if opSize == 16 {
				return 2
			}
			return 4
		}
		if opcode == 0x71 || opcode == 0x72 || opcode == 0x73 {
			return 1
		}
		return 0
	}
	switch opcode {
	case 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C, 0xA8, 0x6A, 0xCD, 0xE4, 0xE5, 0xE6, 0xE7:
		return 1
	case 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D, 0xA9, 0x68:
		if opSize == 16 {
			return 2
		}
		return 4
	case 0xC6:
		return 1
	case 0xC7:
		if opSize == 16 {
			return 2
		}
		return 4
	case 0xC2:
		return 2
	case 0xE8, 0xE9:
		if opSize == 16 {
			return 2
		}
		return 4
	case 0xEB, 0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79, 0x7A, 0x7B,
		0x7C, 0x7D, 0x7E, 0x7F, 0xE0, 0xE1, 0xE2, 0xE3:
		return 1
	}
	if opcode >= 0xB8 && opcode <= 0xBF {
		if opSize == 16 {
			return 2
		}
		return 4
	}
	return 0
}

// width for this decoded instruction's default operand size.
func (inst *DecodedInst) width() int { return inst.OpSize }

// regVal/setReg read/write a general register at the instruction's
// operand width, masking appropriately for 8/16/32-bit sub-registers.
func (c *CPU) regVal(width int, reg uint8) uint32 {
	switch width {
	case 8:
		return c.reg8(reg)
	case 16:
		return c.Regs[reg] & 0xFFFF
	default:
		return c.Regs[reg]
	}
}

func (c *CPU) setReg(width int, reg uint8, v uint32) {
	switch width {
	case 8:
		c.setReg8(reg, uint8(v))
	case 16:
		c.Regs[reg] = (c.Regs[reg] &^ 0xFFFF) | (v & 0xFFFF)
	default:
		c.Regs[reg] = v
	}
}

// reg8/setReg8 implement the legacy AL/CL/DL/BL/AH/CH/DH/BH encoding.
func (c *CPU) reg8(reg uint8) uint32 {
	if reg < 4 {
		return c.Regs[reg] & 0xFF
	}
	return (c.Regs[reg-4] >> 8) & 0xFF
}

func (c *CPU) setReg8(reg uint8, v uint8) {
	if reg < 4 {
		c.Regs[reg] = (c.Regs[reg] &^ 0xFF) | uint32(v)
		return
	}
	c.Regs[reg-4] = (c.Regs[reg-4] &^ 0xFF00) | (uint32(v) << 8)
}

// effAddr adds the loaded segment base to a ModRM-computed offset (§4.6:
// every memory reference is segment-relative even in flat flat-model
// configurations where the base happens to be zero).
func (c *CPU) effAddr(inst *DecodedInst) uint32 {
	return c.Seg[inst.Seg].Base + inst.MemAddr
}

// loadOperand/storeOperand read or write the r/m operand of a decoded
// instruction, going through the MMU when it's memory.
func (c *CPU) loadOperand(inst *DecodedInst, width int) (uint32, error) {
	if !inst.IsMem {
		return c.regVal(width, inst.RM), nil
	}
	return c.readMem(c.effAddr(inst), width)
}

func (c *CPU) storeOperand(inst *DecodedInst, width int, v uint32) error {
	if !inst.IsMem {
		c.setReg(width, inst.RM, v)
		return nil
	}
	return c.writeMem(c.effAddr(inst), width, v)
}

// pageFault records CR2 from the MMU's PageFault before wrapping it into
// the guest-visible #PF (§4.3, §8.3.3).
func (c *CPU) pageFault(pf *mmu.PageFault) error {
	c.CR[2] = pf.Linear
	return NewFaultCode(VecPF, pf.ErrorCode)
}

// readMem/writeMem translate lin through the TLB and perform the access,
// invalidating any trace whose code this write clobbered (§3.5/§3.6).
func (c *CPU) readMem(lin uint32, width int) (uint32, error) {
	kind := mmu.ReadSuper
	if c.CPL == 3 {
		kind = mmu.ReadUser
	}
	phys, pf := c.TLB.Translate(lin, kind, c.CR[0], c.CR[3], c.CR[4])
	if pf != nil {
		return 0, c.pageFault(pf)
	}
	switch width {
	case 8:
		return uint32(c.Mem.ReadByte(phys)), nil
	case 16:
		return uint32(c.Mem.ReadWord(phys)), nil
	default:
		return c.Mem.ReadDword(phys), nil
	}
}

func (c *CPU) writeMem(lin uint32, width int, v uint32) error {
	kind := mmu.WriteSuper
	if c.CPL == 3 {
		kind = mmu.WriteUser
	}
	phys, pf := c.TLB.Translate(lin, kind, c.CR[0], c.CR[3], c.CR[4])
	if pf != nil {
		return c.pageFault(pf)
	}
	switch width {
	case 8:
		c.Mem.WriteByte(phys, uint8(v))
	case 16:
		c.Mem.WriteWord(phys, uint16(v))
	default:
		c.Mem.WriteDword(phys, v)
	}
	c.drainSMC()
	return nil
}

// readMem64/writeMem64 and readMem128/writeMem128 serve the FPU's 80-bit
// loads (high/low halves) and SSE's 128-bit register traffic. The 64-bit
// pair raises #GP(0) on any address that is not 8-byte aligned; the
// 128-bit pair raises #GP(0) on one not 16-byte aligned only when
// requireAlign is set (the MOVAPS-style forms). Neither splits an access
// across a page boundary: only the first byte's page is translated.
func (c *CPU) readMem64(lin uint32) (uint64, error) {
	if lin&7 != 0 {
		return 0, NewFaultCode(VecGP, 0)
	}
	kind := mmu.ReadSuper
	if c.CPL == 3 {
		kind = mmu.ReadUser
	}
	phys, pf := c.TLB.Translate(lin, kind, c.CR[0], c.CR[3], c.CR[4])
	if pf != nil {
		return 0, c.pageFault(pf)
	}
	return c.Mem.ReadQword(phys), nil
}

func (c *CPU) writeMem64(lin uint32, v uint64) error {
	if lin&7 != 0 {
		return NewFaultCode(VecGP, 0)
	}
	kind := mmu.WriteSuper
	if c.CPL == 3 {
		kind = mmu.WriteUser
	}
	phys, pf := c.TLB.Translate(lin, kind, c.CR[0], c.CR[3], c.CR[4])
	if pf != nil {
		return c.pageFault(pf)
	}
	c.Mem.WriteQword(phys, v)
	c.drainSMC()
	return nil
}

func (c *CPU) readMem128(lin uint32, requireAlign bool) ([16]byte, error) {
	if requireAlign && lin&15 != 0 {
		return [16]byte{}, NewFaultCode(VecGP, 0)
	}
	kind := mmu.ReadSuper
	if c.CPL == 3 {
		kind = mmu.ReadUser
	}
	phys, pf := c.TLB.Translate(lin, kind, c.CR[0], c.CR[3], c.CR[4])
	if pf != nil {
		return [16]byte{}, c.pageFault(pf)
	}
	return c.Mem.Read128(phys), nil
}

func (c *CPU) writeMem128(lin uint32, v [16]byte, requireAlign bool) error {
	if requireAlign && lin&15 != 0 {
		return NewFaultCode(VecGP, 0)
	}
	kind := mmu.WriteSuper
	if c.CPL == 3 {
		kind = mmu.WriteUser
	}
	phys, pf := c.TLB.Translate(lin, kind, c.CR[0], c.CR[3], c.CR[4])
	if pf != nil {
		return c.pageFault(pf)
	}
	c.Mem.Write128(phys, v)
	c.drainSMC()
	return nil
}

// drainSMC asks the SMC tracker for any physical pages that need their
// trace-cache entries invalidated since the last store, per §4.5.
func (c *CPU) drainSMC() {
	for _, page := range c.Mem.SMC.DrainPending() {
		hit := false
		for off := uint32(0); off < 0x1000; off += 128 {
			if c.Trace.InvalidateChunk(page + off) {
				hit = true
			}
		}
		if hit && page <= c.PhysEIP && c.PhysEIP < page+0x1000 {
			c.requestExit(ExitTraceInvalidated)
		}
	}
}
