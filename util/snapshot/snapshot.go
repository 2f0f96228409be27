/*
snapshot: gob-encoded architectural state save/restore.

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

// Package snapshot implements architectural state save/restore: every
// register, cache, and control-word field plus the guest RAM image,
// gob-encoded rather than a bespoke binary format. The trace cache, TLB,
// and SMC bitmap are never serialized: they are derived caches, and a
// restore needs them to start empty rather than replaying stale
// physical-address translations against a RAM image that may have been
// edited out from under them.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/rcornwell/ia32core/internal/cpu"
)

// State is the serializable projection of a *cpu.CPU plus its RAM. It
// deliberately omits TLB/*mmu.TLB, *trace.Cache, and memory.Tracker: §6.3
// derives all three from CR0/CR3/CR4 and the RAM image on restore.
type State struct {
	Regs [10]uint32
	Seg  [10]cpu.SegCache

	CR [8]uint32
	DR [8]uint32

	Eflags uint32

	PhysEIP     uint32
	EIPPhysBias uint32
	CPL         int

	FPR      [8]cpu.Extended80
	FTop     uint8
	FPUSW    uint16
	FPUCW    uint16
	FPUTag   uint16
	FPUIP    uint32
	FPUCS    uint16
	FPUDP    uint32
	FPUDS    uint16
	FloatExc uint16

	XMM   [8][16]byte
	MXCSR uint32

	MSR map[uint32]uint64

	HaltState  bool
	A20Enabled bool

	RAM []byte
}

// Capture builds a State from the CPU's current architectural registers
// and its backing RAM image (§6.3). The lazy-flags scratch fields
// (Laux/Lop1/Lop2/Lr) are not captured: Capture first materializes
// EFLAGS via c.GetEflags so the snapshot's Eflags word is already fully
// resolved rather than serializing derived scratch state that Restore
// would have to reconstruct anyway.
func Capture(c *cpu.CPU) *State {
	s := &State{
		Regs:        c.Regs,
		CR:          c.CR,
		DR:          c.DR,
		Eflags:      c.GetEflags(),
		PhysEIP:     c.PhysEIP,
		EIPPhysBias: c.EIPPhysBias,
		CPL:         c.CPL,
		FTop:        c.FTop,
		FPUSW:       c.FPUSW,
		FPUCW:       c.FPUCW,
		FPUTag:      c.FPUTag,
		FPUIP:       c.FPUIP,
		FPUCS:       c.FPUCS,
		FPUDP:       c.FPUDP,
		FPUDS:       c.FPUDS,
		FloatExc:    c.FloatExc,
		XMM:         c.XMM,
		MXCSR:       c.MXCSR,
		MSR:         make(map[uint32]uint64, len(c.MSR)),
		HaltState:   c.HaltState,
		A20Enabled:  c.A20Enabled,
		RAM:         append([]byte(nil), c.Mem.Bytes()...),
	}
	copy(s.Seg[:], c.Seg[:])
	copy(s.FPR[:], c.FPR[:])
	for k, v := range c.MSR {
		s.MSR[k] = v
	}
	return s
}

// Restore writes a captured State back into c and its RAM, then empties
// the TLB/trace cache/SMC bitmap as §6.3 requires, re-applying the saved
// A20 state to the TLB via SetA20 before the flush.
func Restore(c *cpu.CPU, s *State) error {
	if len(s.RAM) != int(c.Mem.Size()) {
		return fmt.Errorf("snapshot: RAM size mismatch: snapshot has %d bytes, machine has %d", len(s.RAM), c.Mem.Size())
	}
	copy(c.Mem.Bytes(), s.RAM)

	c.Regs = s.Regs
	copy(c.Seg[:], s.Seg[:])
	c.CR = s.CR
	c.DR = s.DR
	c.SetEflags(s.Eflags)
	c.PhysEIP = s.PhysEIP
	c.EIPPhysBias = s.EIPPhysBias
	c.CPL = s.CPL
	c.FTop = s.FTop
	c.FPUSW = s.FPUSW
	c.FPUCW = s.FPUCW
	c.FPUTag = s.FPUTag
	c.FPUIP = s.FPUIP
	c.FPUCS = s.FPUCS
	c.FPUDP = s.FPUDP
	c.FPUDS = s.FPUDS
	c.FloatExc = s.FloatExc
	c.XMM = s.XMM
	c.MXCSR = s.MXCSR
	c.HaltState = s.HaltState
	c.A20Enabled = s.A20Enabled

	c.MSR = make(map[uint32]uint64, len(s.MSR))
	for k, v := range s.MSR {
		c.MSR[k] = v
	}
	copy(c.FPR[:], s.FPR[:])

	c.TLB.SetA20(s.A20Enabled)
	c.TLB.Flush()
	c.Trace.Flush()
	c.Mem.SMC.Reset()
	return nil
}

// Encode gob-encodes s to w.
func Encode(w io.Writer, s *State) error {
	return gob.NewEncoder(w).Encode(s)
}

// Decode gob-decodes a State previously written by Encode.
func Decode(r io.Reader) (*State, error) {
	var s State
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Bytes is a convenience wrapper for Encode into an in-memory buffer.
func Bytes(s *State) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
