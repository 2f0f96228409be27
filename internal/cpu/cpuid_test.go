package cpu

import "testing"

func TestCPUIDLeafZeroReportsVendorString(t *testing.T) {
	c := newTestCPU(t)
	maxLeaf, b, d, cx := c.CPUID(0, 0)
	if maxLeaf != 2 {
		t.Fatalf("expected max basic leaf 2, got %d", maxLeaf)
	}
	if b == 0 || d == 0 || cx == 0 {
		t.Fatalf("expected a nonzero vendor string in EBX/EDX/ECX")
	}
}

func TestCPUIDLeafOneReportsAPICBitWhenWired(t *testing.T) {
	c := newTestCPU(t)
	c.APIC = nil
	_, _, edx, _ := c.CPUID(1, 0)
	if edx&(1<<9) != 0 {
		t.Fatalf("did not expect the APIC feature bit with a nil APIC")
	}

	c.APIC = testNullIC{}
	_, _, edx, _ = c.CPUID(1, 0)
	if edx&(1<<9) == 0 {
		t.Fatalf("expected the APIC feature bit set once an APIC is wired")
	}
	if edx&(1<<24) == 0 {
		t.Fatalf("expected the FXSR feature bit always set")
	}
}

func TestCPUIDExtendedLeavesReportBrandString(t *testing.T) {
	c := newTestCPU(t)
	a, b, d, cx := c.CPUID(0x80000002, 0)
	if a == 0 && b == 0 && d == 0 && cx == 0 {
		t.Fatalf("expected a nonzero brand-string chunk")
	}
}

func TestCPUIDUnknownLeafReturnsZero(t *testing.T) {
	c := newTestCPU(t)
	a, b, d, cx := c.CPUID(0xFFFFFFFF, 0)
	if a != 0 || b != 0 || d != 0 || cx != 0 {
		t.Fatalf("expected all-zero result for an unrecognized leaf")
	}
}
