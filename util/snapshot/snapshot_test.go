package snapshot

import (
	"bytes"
	"testing"

	"github.com/rcornwell/ia32core/internal/apic"
	"github.com/rcornwell/ia32core/internal/cpu"
	"github.com/rcornwell/ia32core/internal/ioport"
	"github.com/rcornwell/ia32core/internal/memory"
	"github.com/rcornwell/ia32core/internal/mmu"
	"github.com/rcornwell/ia32core/internal/pic"
	"github.com/rcornwell/ia32core/internal/trace"
)

func newTestCPU(t *testing.T) *cpu.CPU {
	t.Helper()
	mem := memory.New(1 << 20)
	tlb := mmu.New(mem)
	tr := trace.NewCache(64)
	return cpu.New(mem, tlb, tr, ioport.NullBus{}, pic.New(), apic.New())
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	c := newTestCPU(t)
	c.Regs[0] = 0x1234
	c.Mem.WriteByte(0x100, 0x42)
	c.PhysEIP = 0x100

	s := Capture(c)

	buf, err := Bytes(s)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	restored, err := Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	c2 := newTestCPU(t)
	if err := Restore(c2, restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if c2.Regs[0] != 0x1234 {
		t.Fatalf("expected register to round-trip, got %#x", c2.Regs[0])
	}
	if c2.Mem.ReadByte(0x100) != 0x42 {
		t.Fatalf("expected RAM byte to round-trip")
	}
	if c2.PhysEIP != 0x100 {
		t.Fatalf("expected PhysEIP to round-trip, got %#x", c2.PhysEIP)
	}
}

func TestRestoreRejectsMismatchedRAMSize(t *testing.T) {
	c := newTestCPU(t)
	s := Capture(c)

	small := memory.New(1 << 10)
	tlb := mmu.New(small)
	tr := trace.NewCache(64)
	c2 := cpu.New(small, tlb, tr, ioport.NullBus{}, pic.New(), apic.New())

	if err := Restore(c2, s); err == nil {
		t.Fatalf("expected a RAM size mismatch error")
	}
}
