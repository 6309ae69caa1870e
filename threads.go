package razdebug

import (
	"github.com/razzie/razdebug/arch"
)

// Thread caches the register state of a traced thread between stops.
// The cached snapshot is authoritative while the tracee is stopped; edits
// made to it are flushed to the kernel at the next run transition.
type Thread struct {
	Tid  int
	Regs arch.Regs
}

// ThreadTable maps thread ids to their cached register snapshots
type ThreadTable struct {
	kernel  Kernel
	threads map[int]*Thread
}

// NewThreadTable returns an empty thread table
func NewThreadTable(kernel Kernel) *ThreadTable {
	return &ThreadTable{
		kernel:  kernel,
		threads: make(map[int]*Thread),
	}
}

// Register returns the record of an already known thread untouched, or
// creates one from the kernel's current register state. The returned pointer
// stays valid until Unregister or Clear.
func (tt *ThreadTable) Register(tid int) (*Thread, error) {
	if t, found := tt.threads[tid]; found {
		return t, nil
	}

	regs, err := tt.kernel.GetRegs(tid)
	if err != nil {
		return nil, Error(err)
	}

	t := &Thread{Tid: tid, Regs: regs}
	tt.threads[tid] = t
	return t, nil
}

// Unregister removes the record of the thread if present
func (tt *ThreadTable) Unregister(tid int) {
	delete(tt.threads, tid)
}

// Get returns the record of the thread or nil
func (tt *ThreadTable) Get(tid int) *Thread {
	return tt.threads[tid]
}

// Threads returns all records in unspecified order
func (tt *ThreadTable) Threads() []*Thread {
	threads := make([]*Thread, 0, len(tt.threads))
	for _, t := range tt.threads {
		threads = append(threads, t)
	}
	return threads
}

// Len returns the number of registered threads
func (tt *ThreadTable) Len() int {
	return len(tt.threads)
}

// Clear drops all records
func (tt *ThreadTable) Clear() {
	tt.threads = make(map[int]*Thread)
}
