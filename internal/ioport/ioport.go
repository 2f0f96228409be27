/*
ioport: external I/O space and interrupt controller interfaces.

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

// Package ioport defines the boundary between the CPU core and everything
// outside it: the 64KiB x86 I/O address space (IN/OUT/INS/OUTS) and the
// interrupt-controller contract the outer loop polls between instructions
// (§6.2). The core never imports a concrete device; it only ever holds
// these interfaces, keeping concrete devices out of the CPU package
// entirely.
package ioport

// PortBus is the 16-bit I/O address space IN/OUT instructions address.
// Each access width has its own method (InB/InW/InL, OutB/OutW/OutL);
// callers are responsible for decoding the instruction's operand size and
// picking the matching method.
type PortBus interface {
	InB(port uint16) uint8
	InW(port uint16) uint16
	InL(port uint16) uint32
	OutB(port uint16, v uint8)
	OutW(port uint16, v uint16)
	OutL(port uint16, v uint32)
}

// PIC is the legacy 8259-equivalent interrupt controller contract: the
// outer loop asks HasInterrupt before taking an interrupt-window exit,
// and Acknowledge when it delivers one to fetch its vector.
type PIC interface {
	HasInterrupt() bool
	Acknowledge() uint8
}

// APIC is the local-APIC contract for IPI delivery and the APIC timer. A
// nil APIC is valid: CPUs built without one simply never receive IPIs.
type APIC interface {
	HasInterrupt() bool
	Acknowledge() uint8
	WriteRegister(offset uint32, v uint32)
	ReadRegister(offset uint32) uint32
}

// NullBus is a PortBus that answers every IN with all-ones and discards
// every OUT, used by cmd/ia32run when no platform devices are attached
// and by tests that only exercise the core.
type NullBus struct{}

func (NullBus) InB(uint16) uint8    { return 0xFF }
func (NullBus) InW(uint16) uint16   { return 0xFFFF }
func (NullBus) InL(uint16) uint32   { return 0xFFFFFFFF }
func (NullBus) OutB(uint16, uint8)  {}
func (NullBus) OutW(uint16, uint16) {}
func (NullBus) OutL(uint16, uint32) {}
