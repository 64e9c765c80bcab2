package bootalloc

import (
	"testing"

	"corevisor/pkg/addr"
	"corevisor/pkg/memmap"
	"corevisor/pkg/pagetrack"
)

func freshAllocator(t *testing.T) *Allocator {
	t.Helper()
	b := memmap.NewBuilder()
	if err := b.AddRegion(2*addr.MiB, 256*addr.MiB, memmap.Available); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	return New(pagetrack.BuildPageMap(b.Build()))
}

// TestAlignedTake implements spec §8 scenario 2.
func TestAlignedTake(t *testing.T) {
	a := freshAllocator(t)

	run := a.TakePagesWithAlignment(4, 16*addr.KiB)
	if uint64(run.Base)%uint64(16*addr.KiB) != 0 {
		t.Fatalf("run base 0x%x is not 16 KiB aligned", run.Base)
	}
	if run.Count != 4 {
		t.Fatalf("run count = %d; want 4", run.Count)
	}

	next := a.NextPage()
	if next != run.End() {
		t.Fatalf("NextPage() after aligned take = 0x%x; want 0x%x (immediately following)", next, run.End())
	}
}

func TestTakePagesContiguous(t *testing.T) {
	a := freshAllocator(t)

	run := a.TakePages(8)
	if run.Count != 8 {
		t.Fatalf("Count = %d; want 8", run.Count)
	}

	next := a.NextPage()
	if next != run.End() {
		t.Fatalf("NextPage() after TakePages(8) = 0x%x; want 0x%x", next, run.End())
	}
}

func TestDrainHandsRemainderToHost(t *testing.T) {
	a := freshAllocator(t)
	_ = a.TakePages(4)

	pages := a.Drain()
	tr := pagetrack.New(pages)

	// A page beyond the taken run should now belong to the host.
	probe := addr.PhysAddr(2*addr.MiB) + addr.PhysAddr(10*uint64(addr.Size4k.Bytes()))
	owner, ok := tr.Owner(probe)
	if !ok || owner != pagetrack.HostOwner {
		t.Fatalf("Owner(probe) after drain = %v, %v; want HostOwner, true", owner, ok)
	}
}

func TestPagesRemainingDecreases(t *testing.T) {
	a := freshAllocator(t)
	before := a.PagesRemaining()
	a.TakePages(16)
	after := a.PagesRemaining()
	if after != before-16 {
		t.Fatalf("PagesRemaining() after taking 16 = %d; want %d", after, before-16)
	}
}
