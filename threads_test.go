package razdebug

import (
	"testing"
)

func TestRegisterReadsKernelOnce(t *testing.T) {
	k := newMockKernel()
	k.addThread(1, 0x400100)
	tt := NewThreadTable(k)

	first, err := tt.Register(1)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	second, err := tt.Register(1)
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}

	if first != second {
		t.Error("re-registering returned a different record")
	}
	if got := k.countCalls("getregs"); got != 1 {
		t.Errorf("expected a single getregs, got %d", got)
	}
}

func TestRegisterKeepsEditedRegs(t *testing.T) {
	k := newMockKernel()
	k.addThread(1, 0x400100)
	tt := NewThreadTable(k)

	th, err := tt.Register(1)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	th.Regs[0] = 0xdead
	again, _ := tt.Register(1)

	if again.Regs[0] != 0xdead {
		t.Error("re-registering overwrote an edited snapshot")
	}
}

func TestRegisterUnknownThread(t *testing.T) {
	k := newMockKernel()
	tt := NewThreadTable(k)

	if _, err := tt.Register(42); err == nil {
		t.Error("expected an error for a thread the kernel does not know")
	}
	if tt.Get(42) != nil {
		t.Error("failed register left a record behind")
	}
}

func TestUnregisterAndClear(t *testing.T) {
	k := newMockKernel()
	k.addThread(1, 0x1000)
	k.addThread(2, 0x2000)
	tt := NewThreadTable(k)

	tt.Register(1)
	tt.Register(2)

	tt.Unregister(1)
	if tt.Get(1) != nil {
		t.Error("unregistered thread still present")
	}
	tt.Unregister(1) // no-op

	if tt.Len() != 1 {
		t.Errorf("expected 1 thread, got %d", tt.Len())
	}

	tt.Clear()
	if tt.Len() != 0 {
		t.Errorf("expected empty table, got %d", tt.Len())
	}
}
