package razdebug

import (
	"fmt"
	"runtime"
	"strings"
	"syscall"
)

// TracedError contains an error and the list of origin frames
type TracedError struct {
	Err    error
	Frames []runtime.Frame
}

// Error implements error interface
func (err *TracedError) Error() string {
	str := fmt.Sprint(err.Err)
	for _, frame := range err.Frames {
		str += fmt.Sprintf("\n[%s:%d]", frame.Function, frame.Line)
	}
	return str
}

// Unwrap returns the wrapped error
func (err *TracedError) Unwrap() error {
	return err.Err
}

// Error creates a new TracedError from 'e' or appends a new frame if 'e' is TracedError
func Error(e interface{}) error {
	if e == nil {
		return nil
	}

	frame := getLastFrame()

	switch err := e.(type) {
	case *TracedError:
		err.Frames = append(err.Frames, frame)
		return err

	case error:
		return &TracedError{
			Err:    err,
			Frames: []runtime.Frame{frame},
		}

	default:
		return &TracedError{
			Err:    fmt.Errorf("%v", e),
			Frames: []runtime.Frame{frame},
		}
	}
}

// Errorf creates a new TracedError using the provided format and args
func Errorf(format string, args ...interface{}) *TracedError {
	return &TracedError{
		Err:    fmt.Errorf(format, args...),
		Frames: []runtime.Frame{getLastFrame()},
	}
}

// MergeErrors merges multiple errors into a single TracedError
func MergeErrors(errors []error) error {
	if len(errors) == 0 {
		return nil
	}

	str := make([]string, 0, len(errors))
	for _, err := range errors {
		str = append(str, fmt.Sprint(err))
	}

	return &TracedError{
		Err:    fmt.Errorf("%s", strings.Join(str, "; ")),
		Frames: []runtime.Frame{getLastFrame()},
	}
}

func getLastFrame() runtime.Frame {
	pc := make([]uintptr, 1)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()

	return frame
}

// KernelCallFailed reports a tracing primitive that returned an error not
// covered by a more specific kind.
type KernelCallFailed struct {
	Verb  string
	Errno syscall.Errno
}

func (e *KernelCallFailed) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Verb, e.Errno)
}

// NotStopped reports a register access on a thread that is not in ptrace-stop.
type NotStopped struct {
	Tid int
}

func (e *NotStopped) Error() string {
	return fmt.Sprintf("thread %d is not stopped", e.Tid)
}

// BadAddress reports a peek or poke on unmapped tracee memory.
type BadAddress struct {
	Addr uintptr
}

func (e *BadAddress) Error() string {
	return fmt.Sprintf("bad tracee address %#x", e.Addr)
}

// NoSuchThread reports an operation on a thread id missing from the thread table.
type NoSuchThread struct {
	Tid int
}

func (e *NoSuchThread) Error() string {
	return fmt.Sprintf("thread %d is not registered", e.Tid)
}

// WaitFailed reports that the primary wait of a stop cycle failed.
type WaitFailed struct {
	Err error
}

func (e *WaitFailed) Error() string {
	return fmt.Sprintf("wait failed: %v", e.Err)
}

// Unwrap returns the wrapped error
func (e *WaitFailed) Unwrap() error {
	return e.Err
}
