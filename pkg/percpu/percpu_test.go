package percpu

import (
	"errors"
	"testing"
	"time"

	"corevisor/pkg/pagetrack"
)

func noopTracker() pagetrack.Tracker { return pagetrack.New(pagetrack.PageMap{}) }

func TestStartSecondaryCPUsWaitsForOnline(t *testing.T) {
	cpus := []*PerCpu{New(1, noopTracker(), nil, nil, 0), New(2, noopTracker(), nil, nil, 0)}

	started := make([]uint64, 0, len(cpus))
	start := func(cpu *PerCpu) error {
		started = append(started, cpu.CPUID)
		go func(c *PerCpu) {
			time.Sleep(5 * time.Millisecond)
			c.MarkOnline()
		}(cpu)
		return nil
	}

	if err := StartSecondaryCPUs(cpus, start); err != nil {
		t.Fatalf("StartSecondaryCPUs: %v", err)
	}
	if len(started) != 2 || started[0] != 1 || started[1] != 2 {
		t.Fatalf("started = %v; want [1 2]", started)
	}
	for _, cpu := range cpus {
		if !cpu.IsOnline() {
			t.Fatalf("cpu %d should be online", cpu.CPUID)
		}
	}
}

func TestStartSecondaryCPUsPropagatesStartFailure(t *testing.T) {
	cpus := []*PerCpu{New(1, noopTracker(), nil, nil, 0)}
	wantErr := errors.New("platform hart-start failed")

	err := StartSecondaryCPUs(cpus, func(cpu *PerCpu) error { return wantErr })
	if err == nil {
		t.Fatal("expected an error when start() fails")
	}
}
