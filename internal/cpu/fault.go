package cpu

import "fmt"

// Fault is a guest-visible x86 exception: a vector plus an optional error
// code (§1 AMBIENT STACK, Error handling). It is returned as a Go error
// from every fallible primitive (arithmetic, memory, descriptor loads)
// the same way a translation helper returning a
// nonzero IRC for the caller to propagate, rather than panicking.
type Fault struct {
	Vector    uint8
	HasError  bool
	ErrorCode uint32
}

func (f *Fault) Error() string {
	if f.HasError {
		return fmt.Sprintf("fault vector %#02x error %#x", f.Vector, f.ErrorCode)
	}
	return fmt.Sprintf("fault vector %#02x", f.Vector)
}

// NewFault builds a Fault with no error code (the majority of vectors).
func NewFault(vector uint8) *Fault { return &Fault{Vector: vector} }

// NewFaultCode builds a Fault carrying an architectural error code (#GP,
// #PF, #TS, #NP, #SS and a handful of others push one to the stack).
func NewFaultCode(vector uint8, code uint32) *Fault {
	return &Fault{Vector: vector, HasError: true, ErrorCode: code}
}

// Exception vectors for the architectural faults this core raises.
const (
	VecDE  uint8 = 0  // divide error
	VecDB  uint8 = 1  // debug
	VecNMI uint8 = 2  // non-maskable interrupt
	VecBP  uint8 = 3  // breakpoint (INT3)
	VecOF  uint8 = 4  // overflow (INTO)
	VecBR  uint8 = 5  // bound range exceeded
	VecUD  uint8 = 6  // invalid opcode
	VecNM  uint8 = 7  // device not available (no FPU / TS)
	VecDF  uint8 = 8  // double fault
	VecTS  uint8 = 10 // invalid TSS
	VecNP  uint8 = 11 // segment not present
	VecSS  uint8 = 12 // stack-segment fault
	VecGP  uint8 = 13 // general protection fault
	VecPF  uint8 = 14 // page fault
	VecMF  uint8 = 16 // x87 floating-point error
	VecAC  uint8 = 17 // alignment check
	VecMC  uint8 = 18 // machine check
	VecXM  uint8 = 19 // SIMD floating-point exception
)

// HostFatal marks a host-side invariant break: an un-emulated instruction
// form, a decoder bug, or architectural state the implementation never
// expected to see. internal/core logs it via slog and exits the process;
// it must never be mistaken for a guest-visible Fault.
type HostFatal struct {
	Msg string
}

func (e *HostFatal) Error() string { return "ia32core: fatal: " + e.Msg }

// Fatalf builds a HostFatal with a formatted message.
func Fatalf(format string, args ...any) *HostFatal {
	return &HostFatal{Msg: fmt.Sprintf(format, args...)}
}
