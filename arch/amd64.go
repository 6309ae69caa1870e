//go:build amd64
// +build amd64

package arch

// Regs is a general purpose register snapshot in the kernel's layout.
// The rest of the tracer treats it as opaque; only this package indexes it.
type Regs []uint64

// TrapInstruction contains the int3 trap instruction for x86-64 platform
var TrapInstruction = []byte{0xcc} // int3

// TrapSize is the length of the trap instruction in bytes
var TrapSize = uintptr(len(TrapInstruction))

// https://github.com/torvalds/linux/blob/master/arch/x86/include/uapi/asm/ptrace.h#L44
// Indexes to special purpose registers
const (
	PCRegNum = 16 // rip
	SPRegNum = 19 // rsp
	FPRegNum = 4  // rbp
)

// InstructionPointer extracts the program counter from a register snapshot
func InstructionPointer(regs Regs) uintptr {
	if len(regs) <= PCRegNum {
		return 0
	}

	return uintptr(regs[PCRegNum])
}

// SetInstructionPointer overwrites the program counter in a register snapshot
func SetInstructionPointer(regs Regs, pc uintptr) {
	if len(regs) <= PCRegNum {
		return
	}

	regs[PCRegNum] = uint64(pc)
}

// InstallTrap replaces the first instruction byte of a machine word with the
// trap opcode. The input must be the original word; the result of feeding a
// patched word back is unspecified, callers keep the original themselves.
func InstallTrap(word uint64) uint64 {
	return (word &^ 0xff) | uint64(TrapInstruction[0])
}
