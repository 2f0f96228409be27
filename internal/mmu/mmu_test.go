package mmu

import (
	"testing"

	"github.com/rcornwell/ia32core/internal/memory"
)

func TestTranslateIdentityWhenPagingDisabled(t *testing.T) {
	mem := memory.New(1 << 20)
	tlb := New(mem)

	phys, pf := tlb.Translate(0x1234, ReadSuper, 0, 0, 0)
	if pf != nil {
		t.Fatalf("unexpected page fault: %+v", pf)
	}
	if phys != 0x1234 {
		t.Fatalf("expected identity mapping, got %#x", phys)
	}
}

func TestTranslateA20MaskWhenDisabled(t *testing.T) {
	mem := memory.New(2 << 20)
	tlb := New(mem)
	tlb.SetA20(false)

	phys, pf := tlb.Translate(0x10_1234, ReadSuper, 0, 0, 0)
	if pf != nil {
		t.Fatalf("unexpected page fault: %+v", pf)
	}
	if phys&(1<<20) != 0 {
		t.Fatalf("expected bit 20 to be masked off with A20 disabled, got %#x", phys)
	}
}

func TestTranslatePageFaultOnNotPresentPDE(t *testing.T) {
	mem := memory.New(1 << 20)
	tlb := New(mem)

	_, pf := tlb.Translate(0x400000, WriteUser, cr0PG, 0, 0)
	if pf == nil {
		t.Fatalf("expected a page fault for a zeroed, not-present page directory")
	}
	if pf.ErrorCode&1 != 0 {
		t.Fatalf("expected present bit clear in error code, got %#x", pf.ErrorCode)
	}
}

// buildPageTables writes a minimal one-PDE/one-PTE mapping for linear
// page 0 -> physical page physPage, with the given PDE/PTE permission
// bits (bit1=write, bit2=user, bit0=present).
func buildPageTables(mem *memory.RAM, cr3, physPage, pdeBits, pteBits uint32) {
	ptAddr := cr3 + 0x1000
	mem.WriteDword(cr3, ptAddr|pdeBits|1)
	mem.WriteDword(ptAddr, (physPage<<12)|pteBits|1)
}

func TestTranslateWalksTwoLevelPageTable(t *testing.T) {
	mem := memory.New(1 << 20)
	tlb := New(mem)

	const cr3 = 0x2000
	buildPageTables(mem, cr3, 5, 0x6, 0x6) // present+write+user at both levels

	phys, pf := tlb.Translate(0x0FF0, WriteUser, cr0PG, cr3, 0)
	if pf != nil {
		t.Fatalf("unexpected page fault: %+v", pf)
	}
	if phys != (5<<12)|0x0FF0 {
		t.Fatalf("expected phys %#x, got %#x", (5<<12)|0x0FF0, phys)
	}

	// Second translation should hit the cached TLB tag, not re-walk.
	phys2, pf2 := tlb.Translate(0x0FF1, WriteUser, cr0PG, cr3, 0)
	if pf2 != nil || phys2 != (5<<12)|0x0FF1 {
		t.Fatalf("expected cached hit to agree with the walked translation")
	}
}

func TestTranslateSupervisorOnlyPageFaultsUserAccess(t *testing.T) {
	mem := memory.New(1 << 20)
	tlb := New(mem)

	const cr3 = 0x3000
	buildPageTables(mem, cr3, 7, 0x2, 0x2) // present+write, no user bit

	_, pf := tlb.Translate(0x10, ReadUser, cr0PG, cr3, 0)
	if pf == nil {
		t.Fatalf("expected a page fault for user access to a supervisor-only page")
	}
}

func TestFlushAndInvalidate(t *testing.T) {
	mem := memory.New(1 << 20)
	tlb := New(mem)
	const cr3 = 0x4000
	buildPageTables(mem, cr3, 9, 0x6, 0x6)

	if _, pf := tlb.Translate(0x20, WriteUser, cr0PG, cr3, 0); pf != nil {
		t.Fatalf("unexpected fault priming the cache: %+v", pf)
	}
	if len(tlb.entries) != 1 {
		t.Fatalf("expected one cached entry, got %d", len(tlb.entries))
	}

	tlb.Invalidate(0x20)
	if len(tlb.entries) != 0 {
		t.Fatalf("expected Invalidate to drop the entry")
	}

	if _, pf := tlb.Translate(0x20, WriteUser, cr0PG, cr3, 0); pf != nil {
		t.Fatalf("unexpected fault re-priming the cache: %+v", pf)
	}
	tlb.Flush()
	if len(tlb.entries) != 0 {
		t.Fatalf("expected Flush to empty the TLB")
	}
}
