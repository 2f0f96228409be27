package cpu

import (
	"github.com/rcornwell/ia32core/internal/memory"
	"github.com/rcornwell/ia32core/internal/mmu"
	"github.com/rcornwell/ia32core/internal/trace"
)

func newTestRAM(size uint32) *memory.RAM { return memory.New(size) }

func newTestTLB(mem *memory.RAM) *mmu.TLB { return mmu.New(mem) }

func newTestTrace() *trace.Cache { return trace.NewCache(4096) }

// testNullBus/testNullIC stand in for the port bus and the PIC/APIC
// interfaces cpu.New requires; flags/arith tests never touch I/O or
// interrupt delivery.
type testNullBus struct{}

func (testNullBus) InB(uint16) uint8    { return 0xFF }
func (testNullBus) InW(uint16) uint16   { return 0xFFFF }
func (testNullBus) InL(uint16) uint32   { return 0xFFFFFFFF }
func (testNullBus) OutB(uint16, uint8)  {}
func (testNullBus) OutW(uint16, uint16) {}
func (testNullBus) OutL(uint16, uint32) {}

type testNullIC struct{}

func (testNullIC) HasInterrupt() bool         { return false }
func (testNullIC) Acknowledge() uint8         { return 0 }
func (testNullIC) WriteRegister(uint32, uint32) {}
func (testNullIC) ReadRegister(uint32) uint32 { return 0 }
