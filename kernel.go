package razdebug

import (
	"syscall"

	"github.com/razzie/razdebug/arch"
)

// Kernel is the subset of tracing verbs the run/stop engine and the tables
// drive. Process implements it against the live kernel; tests substitute a
// scripted fake.
type Kernel interface {
	GetRegs(tid int) (arch.Regs, error)
	SetRegs(tid int, regs arch.Regs) error
	SingleStep(tid int) error
	Cont(tid int) error
	PeekWord(pid int, addr uintptr) (uint64, error)
	PokeWord(pid int, addr uintptr, word uint64) error
	Wait(tid int) (syscall.WaitStatus, error)
	WaitAny(nohang bool) (int, syscall.WaitStatus, error)
	Tgkill(pid, tid int, sig syscall.Signal) error
	GetEventMsg(tid int) (uint64, error)
}

// sysKernel routes the verbs through the Process facade
type sysKernel struct{}

func (sysKernel) GetRegs(tid int) (arch.Regs, error) {
	return Process(tid).GetRegs()
}

func (sysKernel) SetRegs(tid int, regs arch.Regs) error {
	return Process(tid).SetRegs(regs)
}

func (sysKernel) SingleStep(tid int) error {
	return Process(tid).SingleStep()
}

func (sysKernel) Cont(tid int) error {
	return Process(tid).Cont()
}

func (sysKernel) PeekWord(pid int, addr uintptr) (uint64, error) {
	return Process(pid).PeekWord(addr)
}

func (sysKernel) PokeWord(pid int, addr uintptr, word uint64) error {
	return Process(pid).PokeWord(addr, word)
}

func (sysKernel) Wait(tid int) (syscall.WaitStatus, error) {
	var status syscall.WaitStatus
	err := Process(tid).Wait(&status)
	return status, err
}

func (sysKernel) WaitAny(nohang bool) (int, syscall.WaitStatus, error) {
	wpid, status, err := WaitAny(nohang)
	return int(wpid), status, err
}

func (sysKernel) Tgkill(pid, tid int, sig syscall.Signal) error {
	return Process(pid).Tgkill(Process(tid), sig)
}

func (sysKernel) GetEventMsg(tid int) (uint64, error) {
	return Process(tid).GetEventMsg()
}
