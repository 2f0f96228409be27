/*
pic: minimal dual-8259-equivalent interrupt controller.

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

// Package pic implements just enough of a legacy dual-8259 interrupt
// controller to drive internal/cpu's interrupt-window exit and
// acknowledge-cycle paths (§6.2, §3.14 of SPEC_FULL.md). It is not a
// device model: no ICW/OCW programming sequence, no slave cascading
// byte, just a 16-line mask/request/priority core, sufficient for tests
// and for a host wrapper that wants IRQ0-IRQ15 semantics without a full
// chipset.
package pic

import "sync"

// PIC is a 16-line controller with a fixed priority order: the
// lowest-numbered pending line wins, so IRQ8-15 rank below all of
// IRQ0-7. The slave's cascade through IRQ2 is not modelled.
type PIC struct {
	mu      sync.Mutex
	request uint16
	mask    uint16
	vectorBase [2]uint8 // master base (IRQ0-7), slave base (IRQ8-15)
}

// New returns a PIC with the PC/AT-standard vector bases (0x08, 0x70).
func New() *PIC {
	return &PIC{vectorBase: [2]uint8{0x08, 0x70}}
}

// SetVectorBase reprograms the master/slave vector offsets, as the ICW2
// byte of a real 8259's initialization sequence would.
func (p *PIC) SetVectorBase(master, slave uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectorBase = [2]uint8{master, slave}
}

// RaiseIRQ marks irq (0-15) pending. Edge-triggered: callers wanting
// level semantics must call LowerIRQ themselves once the device
// deasserts.
func (p *PIC) RaiseIRQ(irq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.request |= 1 << uint(irq)
}

// LowerIRQ clears irq's pending bit.
func (p *PIC) LowerIRQ(irq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.request &^= 1 << uint(irq)
}

// SetMask replaces the full 16-bit IMR, one bit per IRQ line.
func (p *PIC) SetMask(mask uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mask = mask
}

// HasInterrupt implements ioport.PIC: true when any unmasked line is
// pending.
func (p *PIC) HasInterrupt() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.request&^p.mask != 0
}

// Acknowledge implements ioport.PIC: picks the lowest-numbered unmasked
// pending line, clears it, and returns its mapped vector. Called only
// after HasInterrupt reported true; returns the spurious IRQ7 vector if
// the request was withdrawn in the meantime.
func (p *PIC) Acknowledge() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := p.request &^ p.mask
	if pending == 0 {
		return p.vectorBase[0] + 7
	}
	for irq := 0; irq < 16; irq++ {
		if pending&(1<<uint(irq)) == 0 {
			continue
		}
		p.request &^= 1 << uint(irq)
		if irq < 8 {
			return p.vectorBase[0] + uint8(irq)
		}
		return p.vectorBase[1] + uint8(irq-8)
	}
	return p.vectorBase[0] + 7
}
