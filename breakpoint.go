package razdebug

import (
	"github.com/razzie/razdebug/arch"
)

// Breakpoint represents a software breakpoint. Original is the machine word
// that was at Addr before the first install; Patched is the same word with
// the trap instruction in place. Neither changes after install.
type Breakpoint struct {
	Addr     uintptr
	Original uint64
	Patched  uint64
	Enabled  bool
}

// BreakpointTable maps code addresses to the breakpoint records of one tracee
type BreakpointTable struct {
	pid    int
	kernel Kernel
	bps    map[uintptr]*Breakpoint
}

// NewBreakpointTable returns an empty breakpoint table for the tracee
func NewBreakpointTable(pid int, kernel Kernel) *BreakpointTable {
	return &BreakpointTable{
		pid:    pid,
		kernel: kernel,
		bps:    make(map[uintptr]*Breakpoint),
	}
}

// Install writes the trap instruction at addr and records the breakpoint.
// Installing at a known address only re-enables the record; its stored words
// stay untouched, since the word currently in memory may already carry the
// trap. The table is not mutated on failure.
func (bt *BreakpointTable) Install(addr uintptr) error {
	word, err := bt.kernel.PeekWord(bt.pid, addr)
	if err != nil {
		return Error(err)
	}

	patched := arch.InstallTrap(word)

	if err := bt.kernel.PokeWord(bt.pid, addr, patched); err != nil {
		return Error(err)
	}

	if bp, found := bt.bps[addr]; found {
		bp.Enabled = true
		return nil
	}

	bt.bps[addr] = &Breakpoint{
		Addr:     addr,
		Original: word,
		Patched:  patched,
		Enabled:  true,
	}

	return nil
}

// Remove deletes the record without touching tracee memory. While the tracee
// is stopped the word at an enabled breakpoint's addr is the original one, so
// deleting the record is enough to forget it; a disabled breakpoint's patched
// word stays in memory after removal.
func (bt *BreakpointTable) Remove(addr uintptr) {
	delete(bt.bps, addr)
}

// Disable clears the enabled flag and writes the patched word into tracee
// memory. The arm/disarm passes skip the record, so the trap stays resident;
// Remove does not restore the original word either. Only a later Install,
// which re-enables the record, followed by a disarm pass writes it back.
func (bt *BreakpointTable) Disable(addr uintptr) error {
	bp, found := bt.bps[addr]
	if !found {
		return nil
	}

	bp.Enabled = false
	return Error(bt.kernel.PokeWord(bt.pid, addr, bp.Patched))
}

// Get returns the record at addr or nil
func (bt *BreakpointTable) Get(addr uintptr) *Breakpoint {
	return bt.bps[addr]
}

// Breakpoints returns all records in unspecified order
func (bt *BreakpointTable) Breakpoints() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(bt.bps))
	for _, bp := range bt.bps {
		bps = append(bps, bp)
	}
	return bps
}

// Len returns the number of recorded breakpoints
func (bt *BreakpointTable) Len() int {
	return len(bt.bps)
}

// Clear drops all records without touching tracee memory
func (bt *BreakpointTable) Clear() {
	bt.bps = make(map[uintptr]*Breakpoint)
}

// Arm writes the patched word of every enabled breakpoint into tracee memory
func (bt *BreakpointTable) Arm() {
	for _, bp := range bt.bps {
		if !bp.Enabled {
			continue
		}

		if err := bt.kernel.PokeWord(bt.pid, bp.Addr, bp.Patched); err != nil {
			log.WithError(err).Warnf("arming breakpoint at %#x failed", bp.Addr)
		}
	}
}

// Disarm writes the original word of every enabled breakpoint into tracee memory
func (bt *BreakpointTable) Disarm() {
	for _, bp := range bt.bps {
		if !bp.Enabled {
			continue
		}

		if err := bt.kernel.PokeWord(bt.pid, bp.Addr, bp.Original); err != nil {
			log.WithError(err).Warnf("disarming breakpoint at %#x failed", bp.Addr)
		}
	}
}
