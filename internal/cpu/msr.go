package cpu

// Model-specific register addresses implemented by the core (§6.4, §8).
const (
	MsrTSC        uint32 = 0x010
	MsrAPICBase   uint32 = 0x01B
	MsrPAT        uint32 = 0x277
	MsrSysenterCS uint32 = 0x174
	MsrSysenterESP uint32 = 0x175
	MsrSysenterEIP uint32 = 0x176

	// Model-specific registers guests probe defensively. MsrBIOSSignID and
	// MsrMiscEnable are in readAsZeroMSRs (RDMSR returns zero, WRMSR is
	// discarded); the three MTRR addresses are not, so RDMSR of one raises
	// #GP(0) until a WRMSR has stored a value for it.
	MsrBIOSSignID  uint32 = 0x017
	MsrMTRRCap     uint32 = 0x0FE
	MsrMiscEnable  uint32 = 0x1A0
	MsrMTRRDefType uint32 = 0x2FF
	MsrMTRRPhys0   uint32 = 0x200
)

var readAsZeroMSRs = map[uint32]bool{
	0x017: true, 0x08B: true, 0x179: true, 0x17A: true, 0x17B: true,
	0x186: true, 0x187: true, 0x19A: true, 0x19B: true, 0x19C: true,
	0x19D: true, 0x19E: true, 0x19F: true, 0x1A0: true, 0x400: true,
}

// ReadMSR implements RDMSR. A present entry in c.MSR wins; otherwise a
// known read-as-zero register returns 0; anything else is a #GP(0), the
// architectural response to an unimplemented MSR.
func (c *CPU) ReadMSR(addr uint32) (uint64, error) {
	if v, ok := c.MSR[addr]; ok {
		return v, nil
	}
	if readAsZeroMSRs[addr] {
		return 0, nil
	}
	return 0, NewFaultCode(VecGP, 0)
}

// WriteMSR implements WRMSR. Read-as-zero registers silently discard the
// write; everything else is recorded verbatim.
func (c *CPU) WriteMSR(addr uint32, v uint64) error {
	if readAsZeroMSRs[addr] {
		return nil
	}
	c.MSR[addr] = v
	return nil
}
