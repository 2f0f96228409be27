/*
Core IA-32 emulator loop.

Copyright (c) 2024, Richard Cornwell

Permission is hereby granted, free of charge, to any person obtaining a
copy of this software and associated documentation files (the "Software"),
to deal in the Software without restriction, including without limitation
the rights to use, copy, modify, merge, publish, distribute, sublicense,
and/or sell copies of the Software, and to permit persons to whom the
Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/

package core

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rcornwell/ia32core/internal/apic"
	"github.com/rcornwell/ia32core/internal/cpu"
	"github.com/rcornwell/ia32core/internal/ioport"
	"github.com/rcornwell/ia32core/internal/memory"
	"github.com/rcornwell/ia32core/internal/mmu"
	"github.com/rcornwell/ia32core/internal/pic"
	"github.com/rcornwell/ia32core/internal/trace"
)

// command is a request delivered to the running core goroutine over its
// channel: the small set of things an outer host needs from a CPU core
// (run a quantum, stop, post an IRQ, toggle A20). cmdSnapshot is accepted
// but replies with an empty Result, and no Machine method sends it.
type command struct {
	kind   commandKind
	budget int
	irq    int
	on     bool
	reply  chan Result
}

type commandKind int

const (
	cmdRun commandKind = iota
	cmdStop
	cmdPostIRQ
	cmdSetA20
	cmdSnapshot
)

// Result is handed back on a command's reply channel.
type Result struct {
	CyclesRun int
	Err       error
	Snapshot  []byte
}

// Machine wires a CPU to its backing RAM, TLB, trace cache, and the
// minimal interrupt-controller stubs, and runs it on its own goroutine
// behind a command channel, keeping the run loop, its cycle-budget
// bookkeeping, and its shutdown handshake off the caller's goroutine.
type Machine struct {
	CPU   *cpu.CPU
	Mem   *memory.RAM
	TLB   *mmu.TLB
	Trace *trace.Cache
	PIC   *pic.PIC
	APIC  *apic.APIC

	wg      sync.WaitGroup
	cmd     chan command
	done    chan struct{}
	running bool

	// cyclesToRun and refillCounter implement the outer loop's cycle-budget
	// bookkeeping: a Run(budget) call hands the loop a quantum, which is
	// decremented one instruction at a time until it reaches zero or the
	// CPU requests an early exit (HLT, fault, trace invalidation).
	cyclesToRun   int
	refillCounter int
}

// Config bundles the construction-time parameters a Machine needs; it is
// narrowed to what an IA-32 core cares about: guest RAM size, the A20
// default, the trace-cache size, and the port-space collaborator.
type Config struct {
	RAMSize        uint32
	A20Enabled     bool
	TraceCacheSize int
	Ports          ioport.PortBus
}

// New builds a Machine: fresh RAM, TLB, trace cache, PIC/APIC stubs, and
// a CPU wired to all of them, then applies Reset semantics (§8.1) via
// cpu.New.
func New(cfg Config) *Machine {
	if cfg.TraceCacheSize <= 0 {
		cfg.TraceCacheSize = 4096
	}
	ports := cfg.Ports
	if ports == nil {
		ports = ioport.NullBus{}
	}

	mem := memory.New(cfg.RAMSize)
	tlb := mmu.New(mem)
	tr := trace.NewCache(cfg.TraceCacheSize)
	p := pic.New()
	a := apic.New()

	c := cpu.New(mem, tlb, tr, ports, p, a)
	c.A20Enabled = cfg.A20Enabled
	tlb.SetA20(cfg.A20Enabled)

	return &Machine{
		CPU:   c,
		Mem:   mem,
		TLB:   tlb,
		Trace: tr,
		PIC:   p,
		APIC:  a,
		cmd:   make(chan command),
		done:  make(chan struct{}),
	}
}

// LoadImage copies img into RAM at phys, for BIOS/boot-sector loading
// before Start.
func (m *Machine) LoadImage(phys uint32, img []byte) {
	copy(m.Mem.Bytes()[phys:], img)
}

// Start launches the core goroutine: a select loop over the done channel
// and the command channel, dispatching Run/Stop/PostIRQ/SetA20 requests
// (and answering a snapshot command with an empty Result).
func (m *Machine) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *Machine) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			slog.Info("ia32 core shutting down")
			return
		case c := <-m.cmd:
			m.dispatch(c)
		}
	}
}

func (m *Machine) dispatch(c command) {
	switch c.kind {
	case cmdRun:
		n, err := m.runBudget(c.budget)
		if c.reply != nil {
			c.reply <- Result{CyclesRun: n, Err: err}
		}
	case cmdStop:
		m.running = false
	case cmdPostIRQ:
		m.PIC.RaiseIRQ(c.irq)
	case cmdSetA20:
		m.CPU.A20Enabled = c.on
		m.TLB.SetA20(c.on)
	case cmdSnapshot:
		if c.reply != nil {
			c.reply <- Result{}
		}
	}
}

// runBudget steps the CPU until the budget is exhausted or it requests an
// early exit (HLT, fault, trace invalidation). One Step is treated as one
// cycle for accounting purposes; the trace-cache/SMC machinery already
// amortizes the real per-instruction decode cost, so a flat count is an
// adequate approximation for budget bookkeeping.
func (m *Machine) runBudget(budget int) (int, error) {
	m.cyclesToRun = budget
	ran := 0
	for m.cyclesToRun > 0 {
		if err := m.CPU.Step(); err != nil {
			return ran, err
		}
		ran++
		m.cyclesToRun--

		if m.CPU.ExitRequested {
			m.CPU.ExitRequested = false
			break
		}
	}
	m.refillCounter++
	m.updateTSC()
	return ran, nil
}

// updateTSC backs RDTSC with the host's monotonic clock rather than a
// per-instruction counter: cycle-exact timing is out of scope (§5), and a
// guest reading a free-running TSC across quanta is the more common case
// to get right than a guest comparing TSC deltas to instruction counts.
func (m *Machine) updateTSC() {
	ts, err := unix.ClockGettime(unix.CLOCK_MONOTONIC)
	if err != nil {
		return
	}
	m.CPU.MSR[cpu.MsrTSC] = uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}

// Run asks the core goroutine to execute up to budget instructions and
// blocks for the result. Safe to call only after Start.
func (m *Machine) Run(budget int) Result {
	reply := make(chan Result, 1)
	m.cmd <- command{kind: cmdRun, budget: budget, reply: reply}
	return <-reply
}

// PostIRQ raises irq (0-15) on the core's PIC from outside the core
// goroutine.
func (m *Machine) PostIRQ(irq int) {
	m.cmd <- command{kind: cmdPostIRQ, irq: irq}
}

// SetA20 toggles the A20 gate (§6.1).
func (m *Machine) SetA20(on bool) {
	m.cmd <- command{kind: cmdSetA20, on: on}
}

// Stop shuts the core goroutine down with a timeout-guarded wait.
func (m *Machine) Stop() {
	close(m.done)
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		slog.Warn("timed out waiting for ia32 core to stop")
	}
}
