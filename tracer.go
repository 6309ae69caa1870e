package razdebug

import (
	"syscall"
	"time"

	"github.com/razzie/razdebug/arch"
)

// TraceEvent describes one observed stop of a tracee thread
type TraceEvent struct {
	Tid          int                `json:"tid"`
	Status       syscall.WaitStatus `json:"-"`
	Signal       syscall.Signal     `json:"signal"`
	PC           uintptr            `json:"pc"`
	IsBreakpoint bool               `json:"breakpoint"`
	NewChild     int                `json:"newchild,omitempty"`
	Exited       bool               `json:"exited,omitempty"`
}

// Tracer drives a single traced process and owns its thread and breakpoint
// tables. All calls must come from the OS thread that attached to the
// tracee; TraceManager provides that serialization.
type Tracer struct {
	progName    string
	pid         Process
	kernel      Kernel
	threads     *ThreadTable
	breakpoints *BreakpointTable
	engine      *Engine
}

// NewTracer returns a Tracer attached to every thread of the 'pid' process,
// leaving the tracee stopped
func NewTracer(pid int) (*Tracer, error) {
	t := newTracer(pid, sysKernel{})
	if err := t.attach(); err != nil {
		return nil, Error(err)
	}

	return t, nil
}

// NewTracerByName returns a Tracer attached to the process with the given
// comm name
func NewTracerByName(name string) (*Tracer, error) {
	pid, err := GetProcessByName(name)
	if err != nil {
		return nil, Error(err)
	}

	return NewTracer(int(pid))
}

func newTracer(pid int, kernel Kernel) *Tracer {
	threads := NewThreadTable(kernel)
	breakpoints := NewBreakpointTable(pid, kernel)

	return &Tracer{
		progName:    Process(pid).Name(),
		pid:         Process(pid),
		kernel:      kernel,
		threads:     threads,
		breakpoints: breakpoints,
		engine:      NewEngine(pid, kernel, threads, breakpoints),
	}
}

func (t *Tracer) attach() error {
	threads, err := t.pid.Threads()
	if err != nil {
		return Error(err)
	}

	for _, tid := range threads {
		if err := tid.Attach(); err != nil {
			return Error(err)
		}

		var status syscall.WaitStatus
		if err := tid.Wait(&status); err != nil {
			log.WithError(err).WithField("tid", tid).Warn("wait after attach failed")
		}

		// set the options even if the wait failed
		if err := tid.SetOptions(TraceOptions); err != nil {
			log.WithError(err).WithField("tid", tid).Warn("setoptions failed")
		}

		if _, err := t.threads.Register(int(tid)); err != nil {
			log.WithError(err).WithField("tid", tid).Warn("registering thread failed")
		}
	}

	return nil
}

// GetProgName returns the basename of the process being traced
func (t *Tracer) GetProgName() string {
	return t.progName
}

// Pid returns the process id of the tracee
func (t *Tracer) Pid() int {
	return int(t.pid)
}

// Detach stops tracing: the enabled breakpoints' original words are written
// back before the records are dropped (a disabled breakpoint's patched word
// stays in memory), both tables are cleared and every thread is detached
func (t *Tracer) Detach() error {
	t.breakpoints.Disarm()
	t.breakpoints.Clear()

	var errs []error
	for _, th := range t.threads.Threads() {
		if err := Process(th.Tid).Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	t.threads.Clear()

	return MergeErrors(errs)
}

// RegisterThread starts tracking a thread, typically after a clone event.
// Registering a known thread returns its existing record untouched.
func (t *Tracer) RegisterThread(tid int) (*Thread, error) {
	return t.threads.Register(tid)
}

// UnregisterThread stops tracking a thread, typically after its exit event
func (t *Tracer) UnregisterThread(tid int) {
	t.threads.Unregister(tid)
}

// ClearThreads drops all thread records
func (t *Tracer) ClearThreads() {
	t.threads.Clear()
}

// Threads returns the tracked threads in unspecified order
func (t *Tracer) Threads() []*Thread {
	return t.threads.Threads()
}

// SetBreakpoint installs a software breakpoint at the given address
func (t *Tracer) SetBreakpoint(addr uintptr) error {
	return t.breakpoints.Install(addr)
}

// RemoveBreakpoint forgets the breakpoint at the given address
func (t *Tracer) RemoveBreakpoint(addr uintptr) {
	t.breakpoints.Remove(addr)
}

// DisableBreakpoint disables the breakpoint at the given address
func (t *Tracer) DisableBreakpoint(addr uintptr) error {
	return t.breakpoints.Disable(addr)
}

// ClearBreakpoints drops all breakpoint records
func (t *Tracer) ClearBreakpoints() {
	t.breakpoints.Clear()
}

// Breakpoints returns the recorded breakpoints in unspecified order
func (t *Tracer) Breakpoints() []*Breakpoint {
	return t.breakpoints.Breakpoints()
}

// SingleStep flushes register edits and steps one thread one instruction
func (t *Tracer) SingleStep(tid int) error {
	return t.engine.SingleStep(tid)
}

// StepUntil steps one thread until its instruction pointer reaches target
// or maxSteps instructions have retired
func (t *Tracer) StepUntil(tid int, target uintptr, maxSteps int) error {
	return t.engine.StepUntil(tid, target, maxSteps)
}

// Continue resumes all threads with every enabled breakpoint armed
func (t *Tracer) Continue() (syscall.WaitStatus, error) {
	return t.engine.ContinueAll()
}

// WaitForEvents blocks until the tracee stops, brings every thread into
// ptrace-stop and returns the decoded events, newest first
func (t *Tracer) WaitForEvents() ([]*TraceEvent, error) {
	statuses, err := t.engine.WaitAll()
	if err != nil {
		return nil, Error(err)
	}

	return t.decodeEvents(statuses), nil
}

// WaitForEventsTimeout is WaitForEvents with a bounded wait; it returns
// (nil, nil) on timeout and the tracee keeps running
func (t *Tracer) WaitForEventsTimeout(timeout time.Duration) ([]*TraceEvent, error) {
	statuses, err := t.engine.WaitAllTimeout(timeout)
	if err != nil {
		return nil, Error(err)
	}
	if statuses == nil {
		return nil, nil
	}

	return t.decodeEvents(statuses), nil
}

// Interrupt stops every thread with a targeted SIGSTOP so that a pending
// WaitForEvents returns
func (t *Tracer) Interrupt() error {
	var errs []error
	for _, th := range t.threads.Threads() {
		if err := t.kernel.Tgkill(int(t.pid), th.Tid, syscall.SIGSTOP); err != nil {
			errs = append(errs, err)
		}
	}

	return MergeErrors(errs)
}

// PeekData reads the tracee's memory into the given buffer
func (t *Tracer) PeekData(addr uintptr, out []byte) error {
	return t.pid.PeekData(addr, out)
}

// PokeData writes the given buffer into the tracee's memory
func (t *Tracer) PokeData(addr uintptr, data []byte) error {
	return t.pid.PokeData(addr, data)
}

// PeekUser reads a word from a thread's user area
func (t *Tracer) PeekUser(off uintptr) (uint64, error) {
	return t.pid.PeekUser(off)
}

// PokeUser writes a word into a thread's user area
func (t *Tracer) PokeUser(off uintptr, word uint64) error {
	return t.pid.PokeUser(off, word)
}

// MemRegions returns the mapped memory regions of the tracee
func (t *Tracer) MemRegions() ([]MemRegion, error) {
	return t.pid.MemRegions()
}

func (t *Tracer) decodeEvents(statuses ThreadStatuses) []*TraceEvent {
	events := make([]*TraceEvent, 0, len(statuses))
	for _, ts := range statuses {
		events = append(events, t.decodeEvent(ts))
	}
	return events
}

// decodeEvent interprets one raw wait status. A SIGTRAP stop one trap length
// past a recorded breakpoint address is a breakpoint hit; the cached
// instruction pointer is rewound to the breakpoint address and the edit is
// flushed at the next run transition.
func (t *Tracer) decodeEvent(ts ThreadStatus) *TraceEvent {
	evt := &TraceEvent{Tid: ts.Tid, Status: ts.Status}

	switch {
	case ts.Status.Exited():
		evt.Exited = true
		return evt

	case ts.Status.Signaled():
		evt.Exited = true
		evt.Signal = ts.Status.Signal()
		return evt

	case ts.Status.Stopped():
		evt.Signal = ts.Status.StopSignal()
	}

	th := t.threads.Get(ts.Tid)
	if th == nil {
		return evt
	}

	evt.PC = arch.InstructionPointer(th.Regs)

	if evt.Signal != syscall.SIGTRAP {
		return evt
	}

	switch ts.Status.TrapCause() {
	case syscall.PTRACE_EVENT_CLONE, syscall.PTRACE_EVENT_FORK, syscall.PTRACE_EVENT_VFORK:
		if msg, err := t.kernel.GetEventMsg(ts.Tid); err == nil {
			evt.NewChild = int(msg)
		}

	case 0:
		if evt.PC < arch.TrapSize {
			break
		}

		bpAddr := evt.PC - arch.TrapSize
		if t.breakpoints.Get(bpAddr) != nil {
			evt.IsBreakpoint = true
			evt.PC = bpAddr
			arch.SetInstructionPointer(th.Regs, bpAddr)
		}
	}

	return evt
}
