package razdebug

import (
	"fmt"
	"io/ioutil"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/razzie/razdebug/arch"
)

// TraceOptions is the set of ptrace events the tracer subscribes to on attach
const TraceOptions = syscall.PTRACE_O_TRACEFORK |
	syscall.PTRACE_O_TRACEVFORK |
	syscall.PTRACE_O_TRACECLONE |
	syscall.PTRACE_O_TRACEEXEC |
	syscall.PTRACE_O_TRACEEXIT

// Process is a wrapper around Linux's ptrace API.
// The same type identifies both processes and threads, matching the kernel's
// view of thread ids as task pids.
type Process int

// GetRunningProcesses returns the PIDs of running processes
func GetRunningProcesses() []Process {
	procdirs, _ := ioutil.ReadDir("/proc")
	processes := make([]Process, 0, len(procdirs))

	for _, dir := range procdirs {
		pid, err := strconv.Atoi(dir.Name())
		if err != nil {
			continue
		}

		processes = append(processes, Process(pid))
	}

	return processes
}

// GetProcessesByName returns the PIDs of processes with the provided name
func GetProcessesByName(name string) (results []Process) {
	for _, pid := range GetRunningProcesses() {
		procnameRaw, _ := ioutil.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
		procname := strings.TrimSuffix(string(procnameRaw), "\n")

		if procname == name {
			results = append(results, pid)
		}
	}
	return
}

// GetProcessByName returns the PID of the process with the provided name
// or returns an error if the name is ambiguous or not found
func GetProcessByName(name string) (Process, error) {
	processes := GetProcessesByName(name)
	switch len(processes) {
	case 0:
		return 0, Errorf("process not found: %s", name)

	case 1:
		return processes[0], nil

	default:
		return 0, Errorf("there are multiple processes named '%s'", name)
	}
}

// Name returns the comm name of the process
func (pid Process) Name() string {
	raw, _ := ioutil.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	return strings.TrimSuffix(string(raw), "\n")
}

// Threads returns the threads of the process
func (pid Process) Threads() ([]Process, error) {
	tasks, err := ioutil.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, Errorf("process not found: %d", pid)
	}

	threads := make([]Process, len(tasks))

	for i, task := range tasks {
		tid, _ := strconv.Atoi(task.Name())
		threads[i] = Process(tid)
	}

	return threads, nil
}

// TraceMe makes the calling process traceable by its parent
func TraceMe() error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_TRACEME, 0, 0, 0, 0, 0)
	if errno != 0 {
		return Error(&KernelCallFailed{Verb: "traceme", Errno: syscall.Errno(errno)})
	}

	return nil
}

// Attach starts tracing the thread
func (pid Process) Attach() error {
	return Error(callError("attach", syscall.PtraceAttach(int(pid))))
}

// Detach stops tracing the thread
func (pid Process) Detach() error {
	return Error(callError("detach", syscall.PtraceDetach(int(pid))))
}

// SetOptions subscribes to the given set of ptrace events
func (pid Process) SetOptions(options int) error {
	return Error(callError("setoptions", syscall.PtraceSetOptions(int(pid), options)))
}

// GetEventMsg returns the payload of the last ptrace event,
// e.g. the thread id of a newly cloned child
func (pid Process) GetEventMsg() (uint64, error) {
	msg, err := syscall.PtraceGetEventMsg(int(pid))
	if err != nil {
		return 0, Error(callError("geteventmsg", err))
	}

	return uint64(msg), nil
}

// GetRegs returns the general purpose registers of the thread.
// The snapshot layout is the kernel's; only the arch package interprets it.
func (pid Process) GetRegs() (arch.Regs, error) {
	var pregs syscall.PtraceRegs
	err := syscall.PtraceGetRegs(int(pid), &pregs)
	if err != nil {
		return nil, Error(regError(pid, err))
	}

	val := reflect.ValueOf(pregs)
	regs := make(arch.Regs, val.NumField())
	for i := 0; i < len(regs); i++ {
		regs[i] = val.Field(i).Uint()
	}

	return regs, nil
}

// SetRegs overwrites the general purpose registers of the thread
func (pid Process) SetRegs(regs arch.Regs) error {
	var pregs syscall.PtraceRegs

	val := reflect.ValueOf(&pregs).Elem()
	n := val.NumField()
	if len(regs) < n {
		n = len(regs)
	}
	for i := 0; i < n; i++ {
		val.Field(i).SetUint(regs[i])
	}

	return Error(regError(pid, syscall.PtraceSetRegs(int(pid), &pregs)))
}

// PeekData reads arbitrary length data from the process' memory
func (pid Process) PeekData(addr uintptr, out []byte) error {
	_, err := syscall.PtracePeekData(int(pid), addr, out)
	return Error(memError("peekdata", addr, err))
}

// PokeData writes arbitrary length data to the process' memory
func (pid Process) PokeData(addr uintptr, data []byte) error {
	_, err := syscall.PtracePokeData(int(pid), addr, data)
	return Error(memError("pokedata", addr, err))
}

// PeekWord reads a machine word from the process' memory
func (pid Process) PeekWord(addr uintptr) (uint64, error) {
	data := make([]byte, SizeofPtr)
	if err := pid.PeekData(addr, data); err != nil {
		return 0, err
	}

	return ReadWord(data), nil
}

// PokeWord writes a machine word to the process' memory
func (pid Process) PokeWord(addr uintptr, word uint64) error {
	data := make([]byte, SizeofPtr)
	PutWord(data, word)
	return pid.PokeData(addr, data)
}

// PeekUser reads a machine word from the thread's user area.
// The raw syscall stores the result through the data pointer, so unlike the
// libc wrapper there is no -1 return to disambiguate from errno.
func (pid Process) PeekUser(off uintptr) (uint64, error) {
	var word uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSR,
		uintptr(pid), off, uintptr(unsafe.Pointer(&word)), 0, 0)
	if errno != 0 {
		return 0, Error(memError("peekuser", off, syscall.Errno(errno)))
	}

	return word, nil
}

// PokeUser writes a machine word to the thread's user area
func (pid Process) PokeUser(off uintptr, word uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEUSR,
		uintptr(pid), off, uintptr(word), 0, 0)
	if errno != 0 {
		return Error(memError("pokeuser", off, syscall.Errno(errno)))
	}

	return nil
}

// SingleStep makes the thread execute a single instruction and stop again.
// The stop is not consumed here; the caller sequences the wait itself.
func (pid Process) SingleStep() error {
	return Error(callError("singlestep", syscall.PtraceSingleStep(int(pid))))
}

// Cont resumes the stopped thread
func (pid Process) Cont() error {
	return Error(callError("cont", syscall.PtraceCont(int(pid), 0)))
}

// ContWithSig resumes the stopped thread and delivers a signal
func (pid Process) ContWithSig(sig syscall.Signal) error {
	return Error(callError("cont", syscall.PtraceCont(int(pid), int(sig))))
}

// Wait blocks until the thread changes state and stores the raw wait status
func (pid Process) Wait(status *syscall.WaitStatus) error {
	_, err := syscall.Wait4(int(pid), status, syscall.WALL, nil)
	return Error(callError("wait4", err))
}

// WaitAny reaps one state change from any traced thread. With nohang it
// returns immediately; a zero tid means nothing was pending.
func WaitAny(nohang bool) (Process, syscall.WaitStatus, error) {
	flags := syscall.WALL
	if nohang {
		flags |= syscall.WNOHANG
	}

	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(-1, &status, flags, nil)
	if err != nil {
		return 0, status, Error(callError("wait4", err))
	}

	return Process(wpid), status, nil
}

// Tgkill delivers a signal to a single thread of the process
func (pid Process) Tgkill(tid Process, sig syscall.Signal) error {
	return Error(callError("tgkill", unix.Tgkill(int(pid), int(tid), unix.Signal(sig))))
}

// Interrupt stops the thread with a SIGSTOP
func (pid Process) Interrupt() error {
	return Error(callError("kill", syscall.Kill(int(pid), syscall.SIGSTOP)))
}

func callError(verb string, err error) error {
	if err == nil {
		return nil
	}

	if errno, ok := err.(syscall.Errno); ok {
		return &KernelCallFailed{Verb: verb, Errno: errno}
	}

	return err
}

func regError(pid Process, err error) error {
	if err == nil {
		return nil
	}

	if errno, ok := err.(syscall.Errno); ok && errno == syscall.ESRCH {
		return &NotStopped{Tid: int(pid)}
	}

	return callError("regs", err)
}

func memError(verb string, addr uintptr, err error) error {
	if err == nil {
		return nil
	}

	if errno, ok := err.(syscall.Errno); ok {
		switch errno {
		case syscall.EIO, syscall.EFAULT:
			return &BadAddress{Addr: addr}
		}
	}

	return callError(verb, err)
}
