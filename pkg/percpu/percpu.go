// Package percpu binds a PageTracker handle, a HypPageTable, and a
// UmodeTask onto one physical CPU (spec §4.I): the struct every CPU's TP
// register points at, constructed at boot for every hart and installed on
// the boot CPU immediately, with secondaries started through the platform's
// hart-start ABI and awaited via their published online flag.
package percpu

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/cenkalti/backoff"

	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/hypmap"
	"corevisor/pkg/pagetrack"
	"corevisor/pkg/umodetask"
)

// PerCpu is the per-hart struct located at the top of its dedicated stack
// page; the only true global this core has is the TP pointer an assembly
// trampoline stashes to reach it (spec §8 design note on global singletons).
type PerCpu struct {
	CPUID    uint64
	Tracker  pagetrack.Tracker
	Table    *hypmap.PageTable
	Task     *umodetask.Task
	StackTop addr.VirtAddr

	online atomic.Bool
}

// New constructs a PerCpu. online starts false; the boot CPU's caller
// installs it via TP and calls MarkOnline directly, while a secondary's
// MarkOnline call happens from its own early-boot code path after it has
// set its own TP.
func New(cpuID uint64, tracker pagetrack.Tracker, table *hypmap.PageTable, task *umodetask.Task, stackTop addr.VirtAddr) *PerCpu {
	return &PerCpu{CPUID: cpuID, Tracker: tracker, Table: table, Task: task, StackTop: stackTop}
}

// MarkOnline publishes this CPU's online flag. Per spec §5's ordering rule,
// this is the only channel through which another CPU may observe this one
// has completed its own startup.
func (c *PerCpu) MarkOnline() { c.online.Store(true) }

// IsOnline reports the published online flag.
func (c *PerCpu) IsOnline() bool { return c.online.Load() }

var errNotYetOnline = errors.New("percpu: cpu has not published its online flag")

// StartSecondaryCPUs starts every entry in cpus (skipping none — callers
// pass only the secondaries, not the boot CPU) via the platform-specific
// start callback, then waits on each one's online flag using unbounded
// jittered exponential backoff (spec §4.I/§5: "start_secondary_cpus has no
// timeout", a known gap this core preserves rather than silently adding one).
func StartSecondaryCPUs(cpus []*PerCpu, start func(cpu *PerCpu) error) *hyp.Error {
	for _, cpu := range cpus {
		if err := start(cpu); err != nil {
			return hyp.New("percpu", hyp.KindInvalidArgument, "starting cpu "+cpuLabel(cpu)+": "+err.Error())
		}

		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0

		operation := func() error {
			if cpu.IsOnline() {
				return nil
			}
			return errNotYetOnline
		}
		if err := backoff.Retry(operation, b); err != nil {
			return hyp.New("percpu", hyp.KindInvalidArgument, "waiting for cpu "+cpuLabel(cpu)+" to come online: "+err.Error())
		}
	}
	return nil
}

func cpuLabel(cpu *PerCpu) string {
	if cpu == nil {
		return "?"
	}
	return strconv.FormatUint(cpu.CPUID, 10)
}
