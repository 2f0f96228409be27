package cpu

import "github.com/rcornwell/ia32core/internal/segment"

// loadSegment implements a segment-register load (§4.6): in real mode or
// V8086 mode the selector is just shifted into a flat base; in protected
// mode it indexes a GDT/LDT descriptor, which is validated for presence
// and cached. This covers the data/stack-segment load path and the
// common case of code-segment loads for JMP/CALL/RET/INT/IRET; full gate
// and TSS-based privilege transitions are handled separately in
// task.go/interrupt.go.
func (c *CPU) loadSegment(which int, selector uint16) error {
	if !c.protectedMode() {
		c.Seg[which] = SegCache{Selector: selector, Base: uint32(selector) << 4, Limit: 0xFFFF, Valid: true}
		return nil
	}

	if selector&0xFFFC == 0 {
		c.Seg[which] = SegCache{Selector: 0, Valid: false}
		return nil
	}

	table := c.Seg[SegGDTR]
	if selector&4 != 0 {
		table = c.Seg[SegLDTR]
	}
	lin := table.Base + uint32(selector&^7)
	lo, err := c.readMem(lin, 32)
	if err != nil {
		return err
	}
	hi, err := c.readMem(lin+4, 32)
	if err != nil {
		return err
	}
	d := segment.Parse(lo, hi)
	if !d.Present() {
		return NewFaultCode(VecNP, uint32(selector)&0xFFFC)
	}
	c.Seg[which] = SegCache{Selector: selector, Base: d.Base, Limit: d.Limit, Access: d.Access, Valid: true, Big: d.Big()}
	return nil
}

// protectedMode reports whether segment loads should consult descriptor
// tables (protected mode, not V8086).
func (c *CPU) protectedMode() bool { return c.CR[0]&CR0PE != 0 && !c.VM() }

// readRawDescriptor fetches the raw 8-byte GDT/LDT entry for selector
// without touching any segment cache, for gate dispatch that needs to
// inspect a descriptor's type byte before deciding how to load it.
func (c *CPU) readRawDescriptor(selector uint16) (lo, hi uint32, err error) {
	table := c.Seg[SegGDTR]
	if selector&4 != 0 {
		table = c.Seg[SegLDTR]
	}
	lin := table.Base + uint32(selector&^7)
	lo, err = c.readMem(lin, 32)
	if err != nil {
		return 0, 0, err
	}
	hi, err = c.readMem(lin+4, 32)
	return lo, hi, err
}

// farTargetKind classifies what a far selector's descriptor resolves to,
// per the ACCESS_TYPE table (§4.6).
type farTargetKind int

const (
	farCode farTargetKind = iota
	farCallGate
	farTaskGate
	farTSS
)

type farTarget struct {
	kind farTargetKind
	desc segment.Descriptor // valid when kind == farCode or farTSS
	gate segment.Gate       // valid when kind == farCallGate or farTaskGate
}

// resolveFarTarget reads selector's descriptor and dispatches on its type
// byte: a code segment, a call gate, a task gate, or a TSS descriptor.
func (c *CPU) resolveFarTarget(selector uint16) (farTarget, error) {
	if selector&0xFFFC == 0 {
		return farTarget{}, NewFaultCode(VecGP, 0)
	}
	lo, hi, err := c.readRawDescriptor(selector)
	if err != nil {
		return farTarget{}, err
	}
	d := segment.Parse(lo, hi)
	if d.IsCodeData() {
		if !d.IsCode() {
			return farTarget{}, NewFaultCode(VecGP, uint32(selector)&0xFFFC)
		}
		return farTarget{kind: farCode, desc: d}, nil
	}
	switch d.SystemType() {
	case segment.SysCallGate16, segment.SysCallGate32:
		return farTarget{kind: farCallGate, gate: segment.ParseGate(lo, hi)}, nil
	case segment.SysTaskGate:
		return farTarget{kind: farTaskGate, gate: segment.ParseGate(lo, hi)}, nil
	case segment.SysTSS16Avail, segment.SysTSS32Avail, segment.SysTSS16Busy, segment.SysTSS32Busy:
		return farTarget{kind: farTSS, desc: d}, nil
	default:
		return farTarget{}, NewFaultCode(VecGP, uint32(selector)&0xFFFC)
	}
}

// checkCodeSegAccess applies the conforming/non-conforming privilege
// check from the ACCESS_TYPE table to a direct (non-gated) far transfer.
func (c *CPU) checkCodeSegAccess(d segment.Descriptor, selector uint16) error {
	rpl := int(selector & 3)
	if d.IsConforming() {
		if d.DPL() > c.CPL {
			return NewFaultCode(VecGP, uint32(selector)&0xFFFC)
		}
		return nil
	}
	if d.DPL() != c.CPL || rpl > c.CPL {
		return NewFaultCode(VecGP, uint32(selector)&0xFFFC)
	}
	return nil
}

func opJmpShort(c *CPU, inst *DecodedInst) error {
	target := c.VirtEIP() + uint32(inst.Length) + inst.Imm
	return c.SetEIP(target & sizeMask(inst.OpSize))
}

func opJmpNear(c *CPU, inst *DecodedInst) error {
	target := c.VirtEIP() + uint32(inst.Length) + inst.Imm
	return c.SetEIP(target & sizeMask(inst.OpSize))
}

// opJmpFar implements far JMP (§4.6): real/V8086 mode always sets CS
// directly, protected mode resolves the selector's descriptor and
// dispatches on its type. A JMP can target a (possibly conforming) code
// segment, a call gate, or a task gate/TSS — but unlike a far CALL it
// never changes CPL and never pushes a return frame.
func opJmpFar(c *CPU, inst *DecodedInst) error {
	sel := uint16(inst.Imm2)
	if !c.protectedMode() {
		if err := c.loadSegment(CS, sel); err != nil {
			return err
		}
		return c.SetEIP(inst.Imm)
	}

	target, err := c.resolveFarTarget(sel)
	if err != nil {
		return err
	}
	switch target.kind {
	case farCode:
		if err := c.checkCodeSegAccess(target.desc, sel); err != nil {
			return err
		}
		if err := c.loadSegment(CS, (sel&^3)|uint16(c.CPL)); err != nil {
			return err
		}
		return c.SetEIP(inst.Imm)
	case farCallGate:
		g := target.gate
		if !g.Present {
			return NewFaultCode(VecNP, uint32(g.Selector)&0xFFFC)
		}
		if c.CPL > g.DPL || int(sel&3) > g.DPL {
			return NewFaultCode(VecGP, uint32(sel)&0xFFFC)
		}
		lo, hi, err := c.readRawDescriptor(g.Selector)
		if err != nil {
			return err
		}
		d := segment.Parse(lo, hi)
		if !d.IsCode() || d.DPL() > c.CPL {
			return NewFaultCode(VecGP, uint32(g.Selector)&0xFFFC)
		}
		if err := c.loadSegment(CS, (g.Selector&^3)|uint16(c.CPL)); err != nil {
			return err
		}
		return c.SetEIP(g.Offset)
	case farTaskGate:
		return c.TaskSwitch(target.gate.Selector)
	case farTSS:
		return c.TaskSwitch(sel)
	}
	return NewFaultCode(VecGP, uint32(sel)&0xFFFC)
}

// opCallFar implements far CALL (opcode 0x9A, §4.6, §8.1, §8.3.2): real
// mode pushes CS:EIP and sets CS flat; protected mode resolves the
// target descriptor and, for a call gate that raises CPL, switches to
// the target-DPL stack from the current TSS and copies the gate's
// parameter words before pushing the caller's CS:EIP.
func opCallFar(c *CPU, inst *DecodedInst) error {
	retEIP := c.VirtEIP() + uint32(inst.Length)
	sel := uint16(inst.Imm2)

	if !c.protectedMode() {
		if err := c.Push(inst.OpSize, uint32(c.Seg[CS].Selector)); err != nil {
			return err
		}
		if err := c.Push(inst.OpSize, retEIP); err != nil {
			return err
		}
		if err := c.loadSegment(CS, sel); err != nil {
			return err
		}
		return c.SetEIP(inst.Imm)
	}

	target, err := c.resolveFarTarget(sel)
	if err != nil {
		return err
	}
	switch target.kind {
	case farCode:
		if err := c.checkCodeSegAccess(target.desc, sel); err != nil {
			return err
		}
		if err := c.Push(inst.OpSize, uint32(c.Seg[CS].Selector)); err != nil {
			return err
		}
		if err := c.Push(inst.OpSize, retEIP); err != nil {
			return err
		}
		if err := c.loadSegment(CS, (sel&^3)|uint16(c.CPL)); err != nil {
			return err
		}
		return c.SetEIP(inst.Imm)
	case farCallGate:
		return c.callThroughGate(target.gate, retEIP)
	case farTaskGate:
		return c.TaskSwitch(target.gate.Selector)
	case farTSS:
		return c.TaskSwitch(sel)
	}
	return NewFaultCode(VecGP, uint32(sel)&0xFFFC)
}

// callThroughGate implements the call-gate parameter-copy algorithm
// (§4.6, invariant §8.1): a gate that lowers CPL (raises privilege)
// switches to the SS:ESP the current TSS holds for the target ring,
// pushes the caller's SS/ESP, copies the gate's parameter words from the
// caller's stack, then pushes the caller's CS/EIP before loading the new
// CS:EIP at the target CPL.
func (c *CPU) callThroughGate(gate segment.Gate, retEIP uint32) error {
	if !gate.Present {
		return NewFaultCode(VecNP, uint32(gate.Selector)&0xFFFC)
	}
	if c.CPL > gate.DPL {
		return NewFaultCode(VecGP, uint32(gate.Selector)&0xFFFC)
	}

	lo, hi, err := c.readRawDescriptor(gate.Selector)
	if err != nil {
		return err
	}
	d := segment.Parse(lo, hi)
	if !d.IsCode() {
		return NewFaultCode(VecGP, uint32(gate.Selector)&0xFFFC)
	}
	targetDPL := d.DPL()
	if targetDPL > c.CPL {
		return NewFaultCode(VecGP, uint32(gate.Selector)&0xFFFC)
	}

	pushWidth := 16
	if gate.Is32Bit() {
		pushWidth = 32
	}

	oldCS := c.Seg[CS].Selector
	oldSS := c.Seg[SS].Selector
	oldSSBase := c.Seg[SS].Base
	oldESP := c.Regs[ESP]

	if targetDPL < c.CPL {
		newSS, newESP, err := c.tssStackFor(targetDPL)
		if err != nil {
			return err
		}
		if err := c.loadStackSegment(newSS, targetDPL); err != nil {
			return err
		}
		c.Regs[ESP] = newESP

		if err := c.Push(pushWidth, uint32(oldSS)); err != nil {
			return err
		}
		if err := c.Push(pushWidth, oldESP); err != nil {
			return err
		}
		for i := uint8(0); i < gate.ParamCount; i++ {
			v, err := c.readMem(oldSSBase+oldESP+uint32(i)*uint32(pushWidth/8), pushWidth)
			if err != nil {
				return err
			}
			if err := c.Push(pushWidth, v); err != nil {
				return err
			}
		}
	}
	c.CPL = targetDPL

	if err := c.Push(pushWidth, uint32(oldCS)); err != nil {
		return err
	}
	if err := c.Push(pushWidth, retEIP); err != nil {
		return err
	}
	if err := c.loadSegment(CS, (gate.Selector&^3)|uint16(targetDPL)); err != nil {
		return err
	}
	return c.SetEIP(gate.Offset)
}

// tssStackFor reads the ring-`dpl` SS:ESP slot from the current task's
// TSS (Intel SDM 7.2.1), used by a privilege-raising call gate.
func (c *CPU) tssStackFor(dpl int) (uint16, uint32, error) {
	base := c.Seg[SegTR].Base
	var espOff, ssOff uint32
	switch dpl {
	case 0:
		espOff, ssOff = tssESP0, tssSS0
	case 1:
		espOff, ssOff = tssESP1, tssSS1
	case 2:
		espOff, ssOff = tssESP2, tssSS2
	default:
		return 0, 0, NewFaultCode(VecTS, uint32(c.Seg[SegTR].Selector))
	}
	esp, err := c.readMem(base+espOff, 32)
	if err != nil {
		return 0, 0, err
	}
	ss, err := c.readMem(base+ssOff, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint16(ss), esp, nil
}

// loadStackSegment validates the new SS for a privilege-raising call gate
// or interrupt (§4.6: writable data, DPL equal to the target CPL,
// present) before loading it.
func (c *CPU) loadStackSegment(selector uint16, dpl int) error {
	lo, hi, err := c.readRawDescriptor(selector)
	if err != nil {
		return err
	}
	d := segment.Parse(lo, hi)
	if !d.Writable() || d.DPL() != dpl || !d.Present() {
		return NewFaultCode(VecTS, uint32(selector)&0xFFFC)
	}
	return c.loadSegment(SS, selector)
}

func sizeMask(width int) uint32 {
	if width == 16 {
		return 0xFFFF
	}
	return 0xFFFFFFFF
}

func opCallNear(c *CPU, inst *DecodedInst) error {
	ret := c.VirtEIP() + uint32(inst.Length)
	if err := c.Push(inst.OpSize, ret); err != nil {
		return err
	}
	target := ret + inst.Imm
	return c.SetEIP(target & sizeMask(inst.OpSize))
}

func opRetImm16(c *CPU, inst *DecodedInst) error {
	eip, err := c.Pop(inst.OpSize)
	if err != nil {
		return err
	}
	c.Regs[ESP] += inst.Imm
	return c.SetEIP(eip)
}

func opRet(c *CPU, inst *DecodedInst) error {
	eip, err := c.Pop(inst.OpSize)
	if err != nil {
		return err
	}
	return c.SetEIP(eip)
}

func opRetFar(c *CPU, inst *DecodedInst) error {
	eip, err := c.Pop(inst.OpSize)
	if err != nil {
		return err
	}
	sel, err := c.Pop(inst.OpSize)
	if err != nil {
		return err
	}
	if err := c.loadSegment(CS, uint16(sel)); err != nil {
		return err
	}
	return c.SetEIP(eip)
}

func opLeave(c *CPU, inst *DecodedInst) error {
	bp := c.Regs[EBP]
	if !c.Seg[SS].Big {
		bp &= 0xFFFF
	}
	lin := c.Seg[SS].Base + bp
	v, err := c.readMem(lin, inst.OpSize)
	if err != nil {
		return err
	}
	c.setReg(inst.OpSize, EBP, v)
	width := 4
	if !c.Seg[SS].Big {
		width = 2
	}
	c.Regs[ESP] = bp + uint32(width)
	return nil
}

func opLoop(c *CPU, inst *DecodedInst) error {
	cx := c.decCounter(inst)
	if cx != 0 {
		return c.takeShortBranch(inst)
	}
	return nil
}

func opLoopz(c *CPU, inst *DecodedInst) error {
	cx := c.decCounter(inst)
	if cx != 0 && c.GetZF() {
		return c.takeShortBranch(inst)
	}
	return nil
}

func opLoopnz(c *CPU, inst *DecodedInst) error {
	cx := c.decCounter(inst)
	if cx != 0 && !c.GetZF() {
		return c.takeShortBranch(inst)
	}
	return nil
}

func opJcxz(c *CPU, inst *DecodedInst) error {
	cx := c.Regs[ECX]
	if inst.AddrSize == 16 {
		cx &= 0xFFFF
	}
	if cx == 0 {
		return c.takeShortBranch(inst)
	}
	return nil
}

func (c *CPU) decCounter(inst *DecodedInst) uint32 {
	if inst.AddrSize == 16 {
		v := (c.Regs[ECX] - 1) & 0xFFFF
		c.Regs[ECX] = (c.Regs[ECX] &^ 0xFFFF) | v
		return v
	}
	c.Regs[ECX]--
	return c.Regs[ECX]
}

func (c *CPU) takeShortBranch(inst *DecodedInst) error {
	target := c.VirtEIP() + uint32(inst.Length) + inst.Imm
	return c.SetEIP(target & sizeMask(inst.OpSize))
}

func makeJcc(cc uint8) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if c.CondTrue(cc) {
			return c.takeShortBranch(inst)
		}
		return nil
	}
}

func makeJccNear(cc uint8) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		if c.CondTrue(cc) {
			target := c.VirtEIP() + uint32(inst.Length) + inst.Imm
			return c.SetEIP(target & sizeMask(inst.OpSize))
		}
		return nil
	}
}

func makeSetcc(cc uint8) Handler {
	return func(c *CPU, inst *DecodedInst) error {
		v := uint32(0)
		if c.CondTrue(cc) {
			v = 1
		}
		return c.storeOperand(inst, 8, v)
	}
}
