package cpu

import "github.com/rcornwell/ia32core/internal/segment"

// DeliverInterrupt implements INT/exception delivery for real mode,
// V8086 mode, and protected mode (§4.6, §8), including the VME
// interrupt-redirection path for a software interrupt taken in V8086
// mode. Gate/task-gate dispatch for protected-mode delivery lives in
// deliverProtectedMode; a privilege-raising interrupt/trap gate switches
// stacks the same way callThroughGate does for a call gate.
func (c *CPU) DeliverInterrupt(vector uint8, hasCode bool, errCode uint32, isSoft bool) error {
	if c.VM() {
		return c.deliverV8086(vector, isSoft)
	}
	if !c.protectedMode() {
		return c.deliverRealMode(vector)
	}
	return c.deliverProtectedMode(vector, hasCode, errCode)
}

// deliverV8086 implements V8086-mode interrupt delivery (§4.6). A
// software interrupt with CR4.VME set consults the TSS's interrupt-
// redirection bitmap: a clear bit redirects the interrupt through the
// real-mode IVT with a synthesized IOPL=3 flags image (so the real-mode
// handler sees itself running with full I/O privilege) instead of
// trapping to the monitor. Anything else needs IOPL==3 to deliver
// directly; lower IOPL raises #GP(0), the monitor-trap signal a V8086
// monitor relies on to emulate the interrupt itself.
func (c *CPU) deliverV8086(vector uint8, isSoft bool) error {
	if isSoft && c.CR[4]&CR4VME != 0 {
		redirect, err := c.vmeRedirected(vector)
		if err != nil {
			return err
		}
		if redirect {
			savedIOPL := c.Eflags & EflagsIOPL
			if c.Eflags&EflagsVIF != 0 {
				c.Eflags |= EflagsIF
			}
			c.Eflags = (c.Eflags &^ EflagsIOPL) | (3 << 12)
			err := c.deliverRealMode(vector)
			c.Eflags = (c.Eflags &^ EflagsIOPL) | savedIOPL
			return err
		}
	}
	if c.IOPL() < 3 {
		return NewFaultCode(VecGP, 0)
	}
	return c.deliverRealMode(vector)
}

// vmeRedirected reports whether vector's bit is clear in the current
// task's interrupt-redirection bitmap, which sits 32 bytes below the
// TSS's I/O permission bitmap (tssIOMapBase).
func (c *CPU) vmeRedirected(vector uint8) (bool, error) {
	base := c.Seg[SegTR].Base
	mapBase, err := c.readMem(base+tssIOMapBase, 16)
	if err != nil {
		return false, err
	}
	bitmapBase := base + mapBase - 32
	bits, err := c.readMem(bitmapBase+uint32(vector)/8, 8)
	if err != nil {
		return false, err
	}
	return bits&(1<<(vector%8)) == 0, nil
}

func (c *CPU) deliverRealMode(vector uint8) error {
	ivtEntry := uint32(vector) * 4
	offLo, err := c.readMem(ivtEntry, 16)
	if err != nil {
		return err
	}
	segLo, err := c.readMem(ivtEntry+2, 16)
	if err != nil {
		return err
	}

	if err := c.Push(16, c.GetEflags()&0xFFFF); err != nil {
		return err
	}
	if err := c.Push(16, uint32(c.Seg[CS].Selector)); err != nil {
		return err
	}
	if err := c.Push(16, c.VirtEIP()); err != nil {
		return err
	}

	c.Eflags &^= EflagsIF | EflagsTF
	c.Seg[CS] = SegCache{Selector: uint16(segLo), Base: uint32(segLo) << 4, Limit: 0xFFFF, Valid: true}
	return c.SetEIP(offLo)
}

func (c *CPU) deliverProtectedMode(vector uint8, hasCode bool, errCode uint32) error {
	idt := c.Seg[SegIDTR]
	entryAddr := idt.Base + uint32(vector)*8
	lo, err := c.readMem(entryAddr, 32)
	if err != nil {
		return err
	}
	hi, err := c.readMem(entryAddr+4, 32)
	if err != nil {
		return err
	}
	gate := segment.ParseGate(lo, hi)
	if !gate.Present {
		return NewFaultCode(VecNP, uint32(vector)*8+2)
	}

	if gate.Type == segment.SysTaskGate {
		return c.TaskSwitch(gate.Selector)
	}

	opSize := 16
	if gate.Is32Bit() {
		opSize = 32
	}

	codeLo, codeHi, err := c.readRawDescriptor(gate.Selector)
	if err != nil {
		return err
	}
	codeDesc := segment.Parse(codeLo, codeHi)
	targetDPL := codeDesc.DPL()

	oldCS := c.Seg[CS].Selector
	oldEIP := c.VirtEIP()
	oldEflags := c.GetEflags()

	if targetDPL < c.CPL {
		oldSS := c.Seg[SS].Selector
		oldESP := c.Regs[ESP]
		newSS, newESP, err := c.tssStackFor(targetDPL)
		if err != nil {
			return err
		}
		if err := c.loadStackSegment(newSS, targetDPL); err != nil {
			return err
		}
		c.Regs[ESP] = newESP
		if err := c.Push(opSize, uint32(oldSS)); err != nil {
			return err
		}
		if err := c.Push(opSize, oldESP); err != nil {
			return err
		}
	}

	if err := c.Push(opSize, oldEflags); err != nil {
		return err
	}
	if err := c.Push(opSize, uint32(oldCS)); err != nil {
		return err
	}
	if err := c.Push(opSize, oldEIP); err != nil {
		return err
	}
	if hasCode {
		if err := c.Push(opSize, errCode); err != nil {
			return err
		}
	}

	if gate.Type == segment.SysIntGate16 || gate.Type == segment.SysIntGate32 {
		c.Eflags &^= EflagsIF
	}
	c.Eflags &^= EflagsTF | EflagsVM | EflagsRF

	if err := c.loadSegment(CS, (gate.Selector&^3)|uint16(targetDPL)); err != nil {
		return err
	}
	c.CPL = targetDPL
	return c.SetEIP(gate.Offset)
}

func opInt3(c *CPU, inst *DecodedInst) error { return c.DeliverInterrupt(VecBP, false, 0, true) }

func opIntImm8(c *CPU, inst *DecodedInst) error {
	return c.DeliverInterrupt(uint8(inst.Imm), false, 0, true)
}

func opInto(c *CPU, inst *DecodedInst) error {
	if c.GetOF() {
		return c.DeliverInterrupt(VecOF, false, 0, true)
	}
	return nil
}

// opIret inverts interrupt delivery (§4.6, §8.3.6). A V8086-mode IRET
// pops the plain 3-word real-mode-style frame; a protected-mode IRET
// whose popped EFLAGS has VM set switches the CPU into V8086 mode via
// the 9-word frame (EIP, CS, EFLAGS, ESP, SS, ES, DS, FS, GS); otherwise
// it inverts same-ring and outer-ring returns, popping SS:ESP and
// invalidating any data segment whose cached DPL is now unreachable only
// when the return crosses rings.
func opIret(c *CPU, inst *DecodedInst) error {
	w := inst.OpSize

	if c.VM() {
		return c.iretV8086(w)
	}

	eip, err := c.Pop(w)
	if err != nil {
		return err
	}
	selRaw, err := c.Pop(w)
	if err != nil {
		return err
	}
	flags, err := c.Pop(w)
	if err != nil {
		return err
	}
	sel := uint16(selRaw)

	if w == 32 && flags&EflagsVM != 0 && c.CPL == 0 {
		return c.iretToV8086(eip, sel, flags)
	}

	rpl := int(sel & 3)
	if rpl > c.CPL {
		if err := c.loadSegment(CS, sel); err != nil {
			return err
		}
		c.setEflagsFromIret(flags, w)
		if err := c.SetEIP(eip); err != nil {
			return err
		}
		esp, err := c.Pop(w)
		if err != nil {
			return err
		}
		ss, err := c.Pop(w)
		if err != nil {
			return err
		}
		c.CPL = rpl
		if err := c.loadSegment(SS, uint16(ss)); err != nil {
			return err
		}
		c.Regs[ESP] = esp
		c.invalidateLowerPrivSegs(rpl)
		return nil
	}

	if err := c.loadSegment(CS, sel); err != nil {
		return err
	}
	c.CPL = rpl
	c.setEflagsFromIret(flags, w)
	return c.SetEIP(eip)
}

// iretToV8086 reloads the full segment quartet (ES/DS/FS/GS) plus
// CS/SS/ESP from the 9-word V8086 stack frame and enters V8086 mode at
// CPL 3 (§8.3.6).
func (c *CPU) iretToV8086(eip uint32, sel uint16, flags uint32) error {
	esp, err := c.Pop(32)
	if err != nil {
		return err
	}
	ss, err := c.Pop(32)
	if err != nil {
		return err
	}
	es, err := c.Pop(32)
	if err != nil {
		return err
	}
	ds, err := c.Pop(32)
	if err != nil {
		return err
	}
	fs, err := c.Pop(32)
	if err != nil {
		return err
	}
	gs, err := c.Pop(32)
	if err != nil {
		return err
	}

	c.SetEflags(flags)
	c.CPL = 3
	c.loadV8086Segment(CS, sel)
	c.loadV8086Segment(SS, uint16(ss))
	c.loadV8086Segment(ES, uint16(es))
	c.loadV8086Segment(DS, uint16(ds))
	c.loadV8086Segment(FS, uint16(fs))
	c.loadV8086Segment(GS, uint16(gs))
	c.Regs[ESP] = esp
	return c.SetEIP(eip)
}

// iretV8086 pops the plain real-mode-style frame for an IRET already
// running in V8086 mode: VME's redirection bitmap governs interrupt
// *delivery*, not this unwind, so the frame shape here is always the
// 3-word real-mode one regardless of CR4.VME.
func (c *CPU) iretV8086(w int) error {
	eip, err := c.Pop(w)
	if err != nil {
		return err
	}
	sel, err := c.Pop(w)
	if err != nil {
		return err
	}
	flags, err := c.Pop(w)
	if err != nil {
		return err
	}
	c.loadV8086Segment(CS, uint16(sel))
	c.setEflagsFromIret(flags, w)
	return c.SetEIP(eip)
}

func (c *CPU) loadV8086Segment(which int, selector uint16) {
	c.Seg[which] = SegCache{Selector: selector, Base: uint32(selector) << 4, Limit: 0xFFFF, Valid: true}
}

// setEflagsFromIret writes the popped EFLAGS word back, masking to the
// low 16 bits for a 16-bit IRET the way the real hardware leaves the
// upper word untouched.
func (c *CPU) setEflagsFromIret(flags uint32, w int) {
	if w == 32 {
		c.SetEflags(flags)
		return
	}
	c.SetEflags((c.GetEflags() &^ 0xFFFF) | (flags & 0xFFFF))
}

// invalidateLowerPrivSegs nulls any of ES/DS/FS/GS whose cached DPL is
// below newCPL: a data segment a more-privileged caller had loaded is no
// longer addressable once CPL has risen numerically (dropped in
// privilege) past it (§4.6 outer-ring IRET).
func (c *CPU) invalidateLowerPrivSegs(newCPL int) {
	for _, s := range []int{ES, DS, FS, GS} {
		if c.Seg[s].Valid && c.Seg[s].DPL() < newCPL {
			c.Seg[s] = SegCache{Valid: false}
		}
	}
}

// opSysenter/opSysexit implement the Intel fast system-call shortcut
// (§4.6): flat CS/SS synthesized from MSR_SYSENTER_CS, no stack switch
// bookkeeping beyond loading ESP from the MSR.
func opSysenter(c *CPU, inst *DecodedInst) error {
	csSel, _ := c.ReadMSR(MsrSysenterCS)
	esp, _ := c.ReadMSR(MsrSysenterESP)
	eip, _ := c.ReadMSR(MsrSysenterEIP)

	c.Seg[CS] = SegCache{Selector: uint16(csSel), Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.Seg[SS] = SegCache{Selector: uint16(csSel) + 8, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.Regs[ESP] = uint32(esp)
	c.CPL = 0
	c.Eflags &^= EflagsIF | EflagsVM
	return c.SetEIP(uint32(eip))
}

func opSysexit(c *CPU, inst *DecodedInst) error {
	csSel, _ := c.ReadMSR(MsrSysenterCS)
	sel := uint16(csSel)
	c.Seg[CS] = SegCache{Selector: sel + 16 | 3, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.Seg[SS] = SegCache{Selector: sel + 24 | 3, Base: 0, Limit: 0xFFFFFFFF, Valid: true, Big: true}
	c.CPL = 3
	c.Regs[ESP] = c.Regs[ECX]
	return c.SetEIP(c.Regs[EDX])
}
