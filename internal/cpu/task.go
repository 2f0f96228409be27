package cpu

// The 32-bit TSS layout (Intel SDM 7.2.1): link, ESP0/SS0, ESP1/SS1,
// ESP2/SS2, CR3, EIP, EFLAGS, EAX..EDI, ES/CS/SS/DS/FS/GS, LDTR, I/O map
// base, each field 4 bytes (2 for the selectors, padded). tssIOMapBase
// additionally carries the VME interrupt-redirection bitmap offset
// (bitmap base = I/O map base - 32, §4.6).
const (
	tssLink      = 0x00
	tssESP0      = 0x04
	tssSS0       = 0x08
	tssESP1      = 0x0C
	tssSS1       = 0x10
	tssESP2      = 0x14
	tssSS2       = 0x18
	tssCR3       = 0x1C
	tssEIP       = 0x20
	tssEFLAGS    = 0x24
	tssEAX       = 0x28
	tssES        = 0x48
	tssCS        = 0x4C
	tssSS        = 0x50
	tssDS        = 0x54
	tssFS        = 0x58
	tssGS        = 0x5C
	tssLDT       = 0x60
	tssIOMapBase = 0x66
)

// TaskSwitch implements the TSS-based context switch (§4.6): it saves the
// outgoing task's full register file, segment selectors, and CR3 into its
// TSS image, then loads the incoming one's, requesting the outer loop
// refetch since CR3/segmentation may have changed under it. The
// busy-bit/back-link bookkeeping a CALL/INT-initiated switch adds on top
// of a plain JMP/IRET switch is not implemented: every far-transfer path
// that can reach a task gate or TSS descriptor (opJmpFar, opCallFar,
// DeliverInterrupt) treats it as this same unconditional switch.
func (c *CPU) TaskSwitch(newTR uint16) error {
	oldBase := c.Seg[SegTR].Base
	if err := c.saveTSS(oldBase); err != nil {
		return err
	}
	if err := c.loadSegment(SegTR, newTR); err != nil {
		return err
	}
	if err := c.loadTSS(c.Seg[SegTR].Base); err != nil {
		return err
	}
	c.requestExit(ExitTaskSwitch)
	return nil
}

func (c *CPU) saveTSS(base uint32) error {
	write := func(off uint32, v uint32) error { return c.writeMem(base+off, 32, v) }
	if err := write(tssCR3, c.CR[3]); err != nil {
		return err
	}
	if err := write(tssEIP, c.VirtEIP()); err != nil {
		return err
	}
	if err := write(tssEFLAGS, c.GetEflags()); err != nil {
		return err
	}
	regs := []int{EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI}
	for i, r := range regs {
		if err := write(uint32(tssEAX+4*i), c.Regs[r]); err != nil {
			return err
		}
	}
	segs := []struct {
		off uint32
		idx int
	}{{tssES, ES}, {tssCS, CS}, {tssSS, SS}, {tssDS, DS}, {tssFS, FS}, {tssGS, GS}}
	for _, s := range segs {
		if err := write(s.off, uint32(c.Seg[s.idx].Selector)); err != nil {
			return err
		}
	}
	return write(tssLDT, uint32(c.Seg[SegLDTR].Selector))
}

func (c *CPU) loadTSS(base uint32) error {
	read := func(off uint32) (uint32, error) { return c.readMem(base+off, 32) }

	cr3, err := read(tssCR3)
	if err != nil {
		return err
	}
	c.CR[3] = cr3
	c.TLB.Flush()
	c.Trace.Flush()

	csSel, err := read(tssCS)
	if err != nil {
		return err
	}
	if err := c.loadSegment(CS, uint16(csSel)); err != nil {
		return err
	}
	c.CPL = c.Seg[CS].DPL()

	segs := []struct {
		off uint32
		idx int
	}{{tssES, ES}, {tssSS, SS}, {tssDS, DS}, {tssFS, FS}, {tssGS, GS}}
	for _, s := range segs {
		sel, err := read(s.off)
		if err != nil {
			return err
		}
		if err := c.loadSegment(s.idx, uint16(sel)); err != nil {
			return err
		}
	}

	ldt, err := read(tssLDT)
	if err != nil {
		return err
	}
	if err := c.loadSegment(SegLDTR, uint16(ldt)); err != nil {
		return err
	}

	regs := []int{EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI}
	for i, r := range regs {
		v, err := read(uint32(tssEAX + 4*i))
		if err != nil {
			return err
		}
		c.Regs[r] = v
	}

	flags, err := read(tssEFLAGS)
	if err != nil {
		return err
	}
	c.SetEflags(flags)

	eip, err := read(tssEIP)
	if err != nil {
		return err
	}
	return c.SetEIP(eip)
}
