/*
apic: minimal local APIC register file.

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

// Package apic implements a local-APIC stub: a single in-service IPI
// queue and the handful of MMIO registers internal/cpu's MSR layer
// reads (APIC_BASE enable bit, feature-bit-9 presence). It exists to
// give CPUID and the interrupt-window exit path (§6.2, §6.4) something
// concrete to call; it is not an IOAPIC, not a timer, and does not model
// the 0xFEE00000 MMIO window's full register set (SPEC_FULL.md §3.14).
package apic

import "sync"

const (
	regID  = 0x20
	regTPR = 0x80
	regEOI = 0xB0
	regSVR = 0xF0
	regICRLo = 0x300
	regICRHi = 0x310
)

// APIC is a single local APIC with one pending-IPI slot.
type APIC struct {
	mu      sync.Mutex
	enabled bool
	regs    map[uint32]uint32
	pending bool
	vector  uint8
}

// New returns a disabled local APIC; SetEnabled(true) turns it on the
// way the IA32_APIC_BASE MSR's bit 11 would.
func New() *APIC {
	return &APIC{regs: make(map[uint32]uint32)}
}

// SetEnabled toggles the controller the way a write to IA32_APIC_BASE
// would; HasInterrupt always reports false while disabled.
func (a *APIC) SetEnabled(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = v
}

func (a *APIC) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// DeliverIPI posts vector as the single pending interrupt, as if an
// ICR write had targeted this APIC.
func (a *APIC) DeliverIPI(vector uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = true
	a.vector = vector
}

// HasInterrupt implements ioport.APIC.
func (a *APIC) HasInterrupt() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled && a.pending
}

// Acknowledge implements ioport.APIC.
func (a *APIC) Acknowledge() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = false
	return a.vector
}

// WriteRegister implements ioport.APIC for the MMIO register window.
// ICR-low bits 0-7 carry the vector for a self/loopback IPI, which is
// all a single-CPU core can target.
func (a *APIC) WriteRegister(offset uint32, v uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regs[offset] = v
	switch offset {
	case regEOI:
		// level-triggered EOI has nothing further to clear: Acknowledge
		// already cleared pending.
	case regICRLo:
		a.pending = true
		a.vector = uint8(v & 0xFF)
	}
}

// ReadRegister implements ioport.APIC.
func (a *APIC) ReadRegister(offset uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if offset == regID {
		return 0
	}
	return a.regs[offset]
}
