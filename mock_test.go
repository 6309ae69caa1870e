package razdebug

import (
	"fmt"
	"syscall"

	"github.com/razzie/razdebug/arch"
)

// mockKernel scripts a tracee for the engine tests: per-thread register
// state, a flat word memory, queued wait statuses and a trace of the
// observed calls in order.
type mockKernel struct {
	regs    map[int]arch.Regs
	running map[int]bool
	mem     map[uintptr]uint64
	pending ThreadStatuses                 // queue popped by WaitAny, oldest first
	waits   map[int][]syscall.WaitStatus   // queues popped by Wait(tid)
	msgs    map[int]uint64                 // GETEVENTMSG payloads
	onStep  func(k *mockKernel, tid int)   // applied on every SingleStep
	calls   []string
}

func newMockKernel() *mockKernel {
	return &mockKernel{
		regs:    make(map[int]arch.Regs),
		running: make(map[int]bool),
		mem:     make(map[uintptr]uint64),
		waits:   make(map[int][]syscall.WaitStatus),
		msgs:    make(map[int]uint64),
	}
}

// addThread creates kernel-side register state for a stopped thread with the
// given instruction pointer
func (k *mockKernel) addThread(tid int, ip uintptr) {
	regs := make(arch.Regs, 27)
	arch.SetInstructionPointer(regs, ip)
	k.regs[tid] = regs
}

func (k *mockKernel) ip(tid int) uintptr {
	return arch.InstructionPointer(k.regs[tid])
}

func (k *mockKernel) setIP(tid int, ip uintptr) {
	arch.SetInstructionPointer(k.regs[tid], ip)
}

func (k *mockKernel) record(format string, args ...interface{}) {
	k.calls = append(k.calls, fmt.Sprintf(format, args...))
}

func (k *mockKernel) GetRegs(tid int) (arch.Regs, error) {
	k.record("getregs %d", tid)

	if k.running[tid] {
		return nil, &NotStopped{Tid: tid}
	}
	regs, found := k.regs[tid]
	if !found {
		return nil, &NotStopped{Tid: tid}
	}

	out := make(arch.Regs, len(regs))
	copy(out, regs)
	return out, nil
}

func (k *mockKernel) SetRegs(tid int, regs arch.Regs) error {
	k.record("setregs %d", tid)

	if k.running[tid] {
		return &NotStopped{Tid: tid}
	}
	if _, found := k.regs[tid]; !found {
		return &NotStopped{Tid: tid}
	}

	in := make(arch.Regs, len(regs))
	copy(in, regs)
	k.regs[tid] = in
	return nil
}

func (k *mockKernel) SingleStep(tid int) error {
	k.record("singlestep %d", tid)

	if k.onStep != nil {
		k.onStep(k, tid)
	}
	return nil
}

func (k *mockKernel) Cont(tid int) error {
	k.record("cont %d", tid)
	return nil
}

func (k *mockKernel) PeekWord(pid int, addr uintptr) (uint64, error) {
	k.record("peek %#x", addr)

	word, found := k.mem[addr]
	if !found {
		return 0, &BadAddress{Addr: addr}
	}
	return word, nil
}

func (k *mockKernel) PokeWord(pid int, addr uintptr, word uint64) error {
	k.record("poke %#x", addr)

	if _, found := k.mem[addr]; !found {
		return &BadAddress{Addr: addr}
	}
	k.mem[addr] = word
	return nil
}

func (k *mockKernel) Wait(tid int) (syscall.WaitStatus, error) {
	k.record("wait %d", tid)

	queue := k.waits[tid]
	if len(queue) == 0 {
		return stopStatus(syscall.SIGTRAP), nil
	}

	status := queue[0]
	k.waits[tid] = queue[1:]
	return status, nil
}

func (k *mockKernel) WaitAny(nohang bool) (int, syscall.WaitStatus, error) {
	k.record("waitany")

	if len(k.pending) == 0 {
		if nohang {
			return 0, 0, nil
		}
		return -1, 0, &KernelCallFailed{Verb: "wait4", Errno: syscall.ECHILD}
	}

	ts := k.pending[0]
	k.pending = k.pending[1:]
	return ts.Tid, ts.Status, nil
}

func (k *mockKernel) Tgkill(pid, tid int, sig syscall.Signal) error {
	k.record("tgkill %d %v", tid, sig)

	// a stopped signal brings the running thread into ptrace-stop
	if sig == syscall.SIGSTOP && k.running[tid] {
		k.running[tid] = false
		k.waits[tid] = append(k.waits[tid], stopStatus(syscall.SIGSTOP))
	}
	return nil
}

func (k *mockKernel) GetEventMsg(tid int) (uint64, error) {
	return k.msgs[tid], nil
}

// countCalls returns how many recorded calls start with the given prefix
func (k *mockKernel) countCalls(prefix string) int {
	count := 0
	for _, call := range k.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			count++
		}
	}
	return count
}

// callIndex returns the position of the first recorded call starting with
// the given prefix, or -1
func (k *mockKernel) callIndex(prefix string) int {
	for i, call := range k.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			return i
		}
	}
	return -1
}

// stopStatus builds a wait status for a thread stopped by the given signal
func stopStatus(sig syscall.Signal) syscall.WaitStatus {
	return syscall.WaitStatus(uint32(sig)<<8 | 0x7f)
}

// exitStatus builds a wait status for a thread that exited with the given code
func exitStatus(code int) syscall.WaitStatus {
	return syscall.WaitStatus(uint32(code) << 8)
}

// trapEventStatus builds a SIGTRAP stop carrying a ptrace event in the upper bits
func trapEventStatus(event int) syscall.WaitStatus {
	return syscall.WaitStatus(uint32(event)<<16 | uint32(syscall.SIGTRAP)<<8 | 0x7f)
}
