package razdebug

import (
	"runtime"
	"syscall"
	"time"

	"github.com/razzie/razdebug/arch"
)

// ThreadStatus is one raw wait status observed for a thread
type ThreadStatus struct {
	Tid    int
	Status syscall.WaitStatus
}

// ThreadStatuses is an event list in newest-first order: the primary event
// of a stop cycle is the last element, later arrivals sit at the head.
type ThreadStatuses []ThreadStatus

// Chronological returns a copy of the list in oldest-first order
func (statuses ThreadStatuses) Chronological() ThreadStatuses {
	reversed := make(ThreadStatuses, len(statuses))
	for i, ts := range statuses {
		reversed[len(statuses)-1-i] = ts
	}
	return reversed
}

// Engine drives all threads of one tracee between the all-stopped and
// running states. While stopped the cached registers are authoritative and
// no enabled breakpoint's trap instruction is in tracee memory (a disabled
// breakpoint keeps the patched word Disable wrote); while running every
// enabled breakpoint is armed.
type Engine struct {
	pid         int
	kernel      Kernel
	threads     *ThreadTable
	breakpoints *BreakpointTable
}

// NewEngine returns an engine over the given tables
func NewEngine(pid int, kernel Kernel, threads *ThreadTable, breakpoints *BreakpointTable) *Engine {
	return &Engine{
		pid:         pid,
		kernel:      kernel,
		threads:     threads,
		breakpoints: breakpoints,
	}
}

// flushRegs writes every cached snapshot back to the kernel, so register
// edits made since the last stop take effect before the tracee moves
func (e *Engine) flushRegs() {
	for _, t := range e.threads.Threads() {
		if err := e.kernel.SetRegs(t.Tid, t.Regs); err != nil {
			log.WithError(err).WithField("tid", t.Tid).Warn("setregs failed")
		}
	}
}

// SingleStep flushes pending register edits and steps tid one instruction.
// The resulting stop is left for the caller to reap.
func (e *Engine) SingleStep(tid int) error {
	e.flushRegs()
	return Error(e.kernel.SingleStep(tid))
}

// StepUntil steps tid until its instruction pointer reaches target or
// maxSteps instructions have retired; maxSteps < 0 means no bound. A step
// that leaves the instruction pointer in place is attributed to a hardware
// breakpoint trap and does not count against maxSteps. Other threads are
// not driven. Running out of steps is not an error.
func (e *Engine) StepUntil(tid int, target uintptr, maxSteps int) error {
	t := e.threads.Get(tid)
	if t == nil {
		return Error(&NoSuchThread{Tid: tid})
	}

	e.flushRegs()

	for count := 0; maxSteps < 0 || count < maxSteps; {
		if err := e.kernel.SingleStep(tid); err != nil {
			return Error(err)
		}

		// the stop only sequences the step; its status carries no decision
		e.kernel.Wait(tid)

		prev := arch.InstructionPointer(t.Regs)

		regs, err := e.kernel.GetRegs(tid)
		if err != nil {
			return Error(err)
		}
		t.Regs = regs

		ip := arch.InstructionPointer(regs)
		if ip == target {
			return nil
		}
		if ip == prev {
			continue
		}

		count++
	}

	return nil
}

// ContinueAll moves the tracee from all-stopped to running. Register edits
// are flushed first, then every thread whose cached instruction pointer sits
// on a breakpoint address is stepped one instruction before any trap is armed
// (at an enabled breakpoint this executes the original instruction), then the
// enabled breakpoints are armed and all threads are continued. The returned
// status is the last one observed during step-off, a liveness hint only.
func (e *Engine) ContinueAll() (syscall.WaitStatus, error) {
	var last syscall.WaitStatus

	e.flushRegs()

	for _, t := range e.threads.Threads() {
		ip := arch.InstructionPointer(t.Regs)
		if e.breakpoints.Get(ip) == nil {
			continue
		}

		status, err := e.stepOff(t.Tid)
		if err != nil {
			return last, Error(err)
		}
		last = status
	}

	e.breakpoints.Arm()

	for _, t := range e.threads.Threads() {
		if err := e.kernel.Cont(t.Tid); err != nil {
			log.WithError(err).WithField("tid", t.Tid).Warn("cont failed")
		}
	}

	return last, nil
}

// stepOff executes one instruction on a thread parked at a breakpoint
// address. It runs before the arm pass, while an enabled breakpoint's
// original instruction is still in memory. A stop caused by a SIGSTOP racing in from the broadcast
// stop of other threads is stepped once more.
func (e *Engine) stepOff(tid int) (syscall.WaitStatus, error) {
	if err := e.kernel.SingleStep(tid); err != nil {
		return 0, err
	}

	status, err := e.kernel.Wait(tid)
	if err != nil {
		return 0, err
	}

	if status.Stopped() && status.StopSignal() == syscall.SIGSTOP {
		if err := e.kernel.SingleStep(tid); err != nil {
			return status, err
		}

		status, err = e.kernel.Wait(tid)
		if err != nil {
			return status, err
		}
	}

	return status, nil
}

// WaitAll moves the tracee from running to all-stopped: it blocks for the
// first event, stops every thread that is still running, drains the events
// that piled up meanwhile, refreshes every cached register snapshot and
// removes the enabled breakpoints' traps from tracee memory. The returned list is newest-first
// with the primary event as its last element; use Chronological to reverse.
func (e *Engine) WaitAll() (ThreadStatuses, error) {
	return e.waitAll(-1)
}

// WaitAllTimeout is WaitAll with a bounded primary wait. It returns
// (nil, nil) if no thread reports an event within the timeout; the tracee
// keeps running in that case.
func (e *Engine) WaitAllTimeout(timeout time.Duration) (ThreadStatuses, error) {
	return e.waitAll(timeout)
}

func (e *Engine) waitAll(timeout time.Duration) (ThreadStatuses, error) {
	primary, ok, err := e.primaryWait(timeout)
	if err != nil {
		return nil, Error(&WaitFailed{Err: err})
	}
	if !ok {
		return nil, nil
	}

	events := ThreadStatuses{primary}

	// every other thread is either already in ptrace-stop, in which case
	// reading its registers succeeds, or it is still running and gets a
	// targeted SIGSTOP
	for _, t := range e.threads.Threads() {
		if t.Tid == primary.Tid {
			continue
		}

		if regs, err := e.kernel.GetRegs(t.Tid); err == nil {
			t.Regs = regs
			continue
		}

		if err := e.kernel.Tgkill(e.pid, t.Tid, syscall.SIGSTOP); err != nil {
			log.WithError(err).WithField("tid", t.Tid).Warn("tgkill failed")
			continue
		}

		status, err := e.kernel.Wait(t.Tid)
		if err != nil {
			log.WithError(err).WithField("tid", t.Tid).Warn("wait failed")
			continue
		}

		events = append(ThreadStatuses{{Tid: t.Tid, Status: status}}, events...)
	}

	// collect whatever else stopped on its own in the meantime
	for {
		tid, status, err := e.kernel.WaitAny(true)
		if err != nil || tid <= 0 {
			break
		}

		events = append(ThreadStatuses{{Tid: tid, Status: status}}, events...)
	}

	// the kernel's view wins over the cache at every stop; threads that
	// exited meanwhile drop out when their exit event is processed
	for _, t := range e.threads.Threads() {
		regs, err := e.kernel.GetRegs(t.Tid)
		if err != nil {
			continue
		}
		t.Regs = regs
	}

	e.breakpoints.Disarm()

	return events, nil
}

// primaryWait reaps the event that opens a stop cycle. With a negative
// timeout it blocks; otherwise it polls until the timeout runs out.
func (e *Engine) primaryWait(timeout time.Duration) (ThreadStatus, bool, error) {
	if timeout < 0 {
		tid, status, err := e.kernel.WaitAny(false)
		if err != nil {
			return ThreadStatus{}, false, err
		}
		return ThreadStatus{Tid: tid, Status: status}, true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return ThreadStatus{}, false, nil

		default:
		}

		tid, status, err := e.kernel.WaitAny(true)
		if err != nil {
			return ThreadStatus{}, false, err
		}

		if tid <= 0 {
			runtime.Gosched()
			continue
		}

		return ThreadStatus{Tid: tid, Status: status}, true, nil
	}
}
