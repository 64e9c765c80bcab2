// Package umodetask implements the per-CPU U-mode runnable companion (spec
// §4.G): three register banks (host, U-mode, trap), the Init/Activate/
// Dispatch/Deactivate lifecycle, and the reset routine private-region
// writeback runs through on every return to the host.
package umodetask

import (
	"sync"

	"golang.org/x/arch/riscv64/riscv64asm"

	"corevisor/hyp"
	"corevisor/hyp/hyplog"
	"corevisor/pkg/addr"
	"corevisor/pkg/csr"
	"corevisor/pkg/hypmap"
	"corevisor/pkg/physarena"
)

// a0..a7 in RISC-V's integer register numbering (x10..x17).
const (
	regA0 = 10
	regA7 = 17
)

// HostBank is the register state saved while U-mode runs: the callee-saved
// GPRs plus the supervisor CSRs the trampoline must restore on return.
type HostBank struct {
	GPRs    [32]uint64
	STVEC   uint64
	SSCRATCH uint64
	SSTATUS csr.SSTATUS
}

// UmodeBank is U-mode's full register state, restored just before sret and
// saved again on the next trap.
type UmodeBank struct {
	GPRs    [32]uint64
	SEPC    uint64
	SSTATUS csr.SSTATUS
}

// TrapBank holds the CSRs the trap handler reads before dispatch can
// interpret the cause.
type TrapBank struct {
	SCAUSE uint64
	STVAL  uint64
}

// ArchState is the full three-bank register file spec §4.G describes.
type ArchState struct {
	Host  HostBank
	Umode UmodeBank
	Trap  TrapBank
}

// Task is one CPU's UmodeTask: arch_state plus the fixed entry point taken
// from the ELF header. Single-owner: the running CPU (enforced by the
// active flag / Activate's exclusive-borrow check).
type Task struct {
	cpuID uint64
	entry addr.VirtAddr

	sharedBase addr.VirtAddr
	sharedSize addr.Size

	mu     sync.Mutex
	active bool
	arch   ArchState
}

// New returns a Task for the given CPU, not yet initialized.
func New(cpuID uint64) *Task { return &Task{cpuID: cpuID} }

// Init (re)zeroes arch_state and seeds the U-mode entry registers: sepc =
// entry, a0 = cpu_id, a1 = shared_region_base, a2 = shared_region_size
// (spec §4.G step 1). Called once at boot and again by Deactivate's reset.
func (t *Task) Init(entry addr.VirtAddr, sharedBase addr.VirtAddr, sharedSize addr.Size) {
	t.entry = entry
	t.sharedBase = sharedBase
	t.sharedSize = sharedSize

	t.arch = ArchState{}
	t.arch.Umode.SEPC = uint64(entry)
	t.arch.Umode.GPRs[regA0+0] = t.cpuID
	t.arch.Umode.GPRs[regA0+1] = uint64(sharedBase)
	t.arch.Umode.GPRs[regA0+2] = uint64(sharedSize)
}

// Activate takes the exclusive borrow of arch_state, failing KindTaskBusy if
// this CPU's task is already active (spec §4.G step 2).
func (t *Task) Activate() *hyp.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return hyp.New("umodetask", hyp.KindTaskBusy, "task is already active on this CPU")
	}
	t.active = true
	return nil
}

// Active reports whether this task currently holds the exclusive borrow.
func (t *Task) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// UmodeRegs returns the a0..a7 window of the U-mode GPR bank, the register
// convention umodeproto encodes requests into and decodes calls from.
func (t *Task) UmodeRegs() [8]uint64 {
	var regs [8]uint64
	copy(regs[:], t.arch.Umode.GPRs[regA0:regA7+1])
	return regs
}

// SetUmodeRegs writes an a0..a7 window (e.g. a freshly encoded UmodeRequest)
// back into the U-mode GPR bank before the next resume.
func (t *Task) SetUmodeRegs(regs [8]uint64) {
	copy(t.arch.Umode.GPRs[regA0:regA7+1], regs[:])
}

// SEPC returns the current U-mode program counter.
func (t *Task) SEPC() addr.VirtAddr { return addr.VirtAddr(t.arch.Umode.SEPC) }

// Exception classifies scause per the privileged spec's low bits (spec
// §4.G step 4 only distinguishes UserEnvCall from everything else).
func (t *Task) Exception() csr.Exception { return csr.Exception(t.arch.Trap.SCAUSE) }

// Dispatch records the trap CSRs from one U-mode exit and advances sepc past
// the ecall instruction when the trap is an expected UserEnvCall. Any other
// cause is fatal to this task instance: Dispatch logs a full state dump
// (including, when arena is non-nil, a disassembly of the 4 bytes arena
// holds at sepc taken as a physical address; sepc is not translated through
// the page table, so when that address lies outside arena the log records
// the read error instead) and returns KindUnexpectedTrap.
func (t *Task) Dispatch(scause, stval uint64, arena *physarena.Arena) *hyp.Error {
	t.arch.Trap.SCAUSE = scause
	t.arch.Trap.STVAL = stval

	if csr.Exception(scause) == csr.UserEnvCall {
		t.arch.Umode.SEPC += 4
		return nil
	}

	t.logUnexpectedTrap(arena)
	return hyp.New("umodetask", hyp.KindUnexpectedTrap, "unexpected trap in U-mode")
}

func (t *Task) logUnexpectedTrap(arena *physarena.Arena) {
	entry := hyplog.WithModule("umodetask").WithField("cpu", t.cpuID).
		WithField("scause", t.arch.Trap.SCAUSE).
		WithField("stval", t.arch.Trap.STVAL).
		WithField("sepc", t.arch.Umode.SEPC).
		WithField("gprs", t.arch.Umode.GPRs)

	if arena == nil {
		entry.Warn("unexpected trap in U-mode (no arena bound, skipping disassembly)")
		return
	}

	buf, err := arena.Slice(addr.PhysAddr(t.arch.Umode.SEPC), 4)
	if err != nil {
		entry.WithField("disasm_error", err.Error()).Warn("unexpected trap in U-mode (could not read faulting instruction)")
		return
	}
	inst, derr := riscv64asm.Decode(buf)
	if derr != nil {
		entry.WithField("disasm_error", derr.Error()).Warn("unexpected trap in U-mode (could not decode faulting instruction)")
		return
	}
	entry.WithField("faulting_instruction", inst.String()).Warn("unexpected trap in U-mode")
}

// Deactivate drops the exclusive borrow and runs the reset routine: every
// user-RW PrivateRegion is rewritten to its original contents and arch_state
// is re-initialized to step 1 (spec §4.G step 5).
func (t *Task) Deactivate(pt *hypmap.PageTable, regs *csr.File) *hyp.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false

	if err := pt.ResetPrivateRegions(regs); err != nil {
		return err
	}
	t.Init(t.entry, t.sharedBase, t.sharedSize)
	return nil
}
