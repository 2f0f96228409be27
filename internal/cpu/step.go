package cpu

import "github.com/rcornwell/ia32core/internal/mmu"

// VirtEIP returns the current virtual (segment-relative) instruction
// pointer, reconstructed from the physical/bias pair the trace cache
// indexes on (§3.1, §3.4).
func (c *CPU) VirtEIP() uint32 { return c.PhysEIP + c.EIPPhysBias }

// SetEIP translates a new virtual EIP through CS and updates the
// physical/bias pair, the same work cpu_get_trace does inline when
// phys_eip walks off the page it was last translated on.
func (c *CPU) SetEIP(virt uint32) error {
	lin := c.Seg[CS].Base + virt
	kind := mmu.FetchSuper
	if c.CPL == 3 {
		kind = mmu.FetchUser
	}
	phys, pf := c.TLB.Translate(lin, kind, c.CR[0], c.CR[3], c.CR[4])
	if pf != nil {
		return c.pageFault(pf)
	}
	c.PhysEIP = phys
	c.EIPPhysBias = virt - phys
	return nil
}

// Step decodes and executes exactly one instruction, consulting the
// trace cache first (§3.4) and falling through to a fresh decode on a
// miss. It returns a *Fault for a guest-visible exception, a *HostFatal
// for an internal bug, or nil on a normal retire.
func (c *CPU) Step() error {
	if c.HaltState {
		return nil
	}

	var inst *DecodedInst
	if cached, ok := c.Trace.Lookup(c.PhysEIP, c.StateHash); ok {
		di, ok := cached.(*DecodedInst)
		if !ok {
			return Fatalf("trace cache entry for phys %#x had unexpected type", c.PhysEIP)
		}
		inst = di
	} else {
		decoded, err := c.Decode(c.PhysEIP, c.Seg[CS].Big)
		if err != nil {
			return err
		}
		decoded.StartEIP = c.VirtEIP()
		c.Trace.Store(c.PhysEIP, c.StateHash, decoded, 1)
		c.Mem.SMC.SetCode(c.PhysEIP)
		inst = decoded
	}

	var handler Handler
	if inst.TwoByte {
		handler = c.table[256+int(inst.Opcode)]
	} else {
		handler = c.table[inst.Opcode]
	}

	fellThrough := c.PhysEIP
	virtBefore := c.VirtEIP()
	err := handler(c, inst)
	if err != nil {
		return err
	}

	// A control-flow handler already called SetEIP; detect that by
	// checking whether PhysEIP moved out from under us relative to the
	// sequential successor address.
	if c.PhysEIP == fellThrough {
		if err := c.SetEIP(virtBefore + uint32(inst.Length)); err != nil {
			return err
		}
	}

	c.drainSMC()
	return nil
}
