package cpu

import "encoding/binary"

// CPUID implements the CPUID instruction for the small set of leaves
// named in §6.4: 0, 1, 2, and the extended 0x8000_0000..0x8000_0008
// range, reporting a synthetic "Halfix Virtual CPU" brand and
// Pentium-Pro-class feature bits. Feature bit 9 of leaf 1's EDX (APIC
// present) is gated on whether an APIC collaborator was wired in.
func (c *CPU) CPUID(eax, ecx uint32) (a, b, d, cx uint32) {
	switch {
	case eax == 0:
		return 2, strTo32("Genu"), strTo32("ineI"), strTo32("ntel")
	case eax == 1:
		edx := uint32(0x00000001 | // FPU
			1<<3 | // PSE
			1<<4 | // TSC
			1<<5 | // MSR
			1<<6 | // PAE
			1<<8 | // CX8
			1<<11 | // SEP (SYSENTER/SYSEXIT)
			1<<13 | // PGE
			1<<15 | // CMOV
			1<<23 | // MMX
			1<<24 | // FXSR
			1<<25) // SSE
		if c.APIC != nil {
			edx |= 1 << 9
		}
		return 0x000006A0, 0, edx, 0
	case eax == 2:
		return 0x01, 0, 0, 0
	case eax == 0x80000000:
		return 0x80000008, 0, 0, 0
	case eax >= 0x80000002 && eax <= 0x80000004:
		a, b, ecx, edx := brandWords(eax)
		return a, b, edx, ecx
	case eax == 0x80000008:
		return 0x00002020, 0, 0, 0
	default:
		return 0, 0, 0, 0
	}
}

func strTo32(s string) uint32 {
	var b [4]byte
	copy(b[:], s)
	return binary.LittleEndian.Uint32(b[:])
}

// brandWords returns the four little-endian dwords of the 48-byte brand
// string for one of the three 0x8000_0002..4 leaves, padded with spaces.
func brandWords(leaf uint32) (a, b, c, d uint32) {
	const brand = "Halfix Virtual CPU                             "
	idx := int(leaf-0x80000002) * 16
	chunk := brand[idx : idx+16]
	return binary.LittleEndian.Uint32([]byte(chunk[0:4])),
		binary.LittleEndian.Uint32([]byte(chunk[4:8])),
		binary.LittleEndian.Uint32([]byte(chunk[8:12])),
		binary.LittleEndian.Uint32([]byte(chunk[12:16]))
}
