package core

import (
	"testing"

	"github.com/rcornwell/ia32core/internal/cpu"
)

// newTestMachine places a handful of NOPs followed by HLT at physical 0
// rather than at the reset vector (0xFFFFFFF0 wraps to the BIOS image
// base on real hardware); it zeroes the CS base Reset leaves at
// 0xFFFF0000 and forces EIP to 0 to keep the test independent of the
// CS:EIP reset shadowing.
func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m := New(Config{RAMSize: 1 << 20})
	img := []byte{0x90, 0x90, 0x90, 0xF4} // nop nop nop hlt
	m.LoadImage(0, img)
	m.CPU.Seg[cpu.CS].Base = 0
	if err := m.CPU.SetEIP(0); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}
	return m
}

func TestRunBudgetHaltsOnHLT(t *testing.T) {
	m := newTestMachine(t)
	ran, err := m.runBudget(100)
	if err != nil {
		t.Fatalf("runBudget: %v", err)
	}
	if ran != 4 {
		t.Fatalf("expected 4 instructions retired (3 nop + hlt), got %d", ran)
	}
	if !m.CPU.HaltState {
		t.Fatalf("expected CPU to be halted")
	}
}

func TestRunBudgetStopsAtBudget(t *testing.T) {
	m := New(Config{RAMSize: 1 << 20})
	img := make([]byte, 16)
	for i := range img {
		img[i] = 0x90
	}
	m.LoadImage(0, img)
	m.CPU.Seg[cpu.CS].Base = 0
	if err := m.CPU.SetEIP(0); err != nil {
		t.Fatalf("SetEIP: %v", err)
	}

	ran, err := m.runBudget(5)
	if err != nil {
		t.Fatalf("runBudget: %v", err)
	}
	if ran != 5 {
		t.Fatalf("expected exactly 5 instructions retired under budget, got %d", ran)
	}
	if m.CPU.HaltState {
		t.Fatalf("did not expect halt")
	}
}

func TestMachineStartStop(t *testing.T) {
	m := newTestMachine(t)
	m.Start()
	res := m.Run(100)
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.CyclesRun != 4 {
		t.Fatalf("expected 4 cycles run, got %d", res.CyclesRun)
	}
	m.Stop()
}
