package pagetrack

import (
	"testing"

	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/memmap"
)

func buildMap(t *testing.T) memmap.MemoryMap {
	t.Helper()
	b := memmap.NewBuilder()
	if err := b.AddRegion(0, 256*addr.MiB, memmap.Available); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	return b.Build()
}

// TestLazyPruning implements spec §8 scenario 1.
func TestLazyPruning(t *testing.T) {
	pages := BuildPageMap(buildMap(t))
	tr := New(pages)

	guest, err := tr.AddActiveGuest()
	if err != nil || guest != 2 {
		t.Fatalf("AddActiveGuest() = %v, %v; want 2, nil", guest, err)
	}

	const offset = addr.PhysAddr(0x10000)
	// The page starts out owned by the host, as after boot.
	if err := tr.SetPageOwner(offset, HostOwner); err != nil {
		t.Fatalf("SetPageOwner(host at boot): %v", err)
	}
	if err := tr.SetPageOwner(offset, guest); err != nil {
		t.Fatalf("SetPageOwner(guest): %v", err)
	}

	tr.RmActiveGuest(guest)

	owner, ok := tr.Owner(offset)
	if !ok || owner != HostOwner {
		t.Fatalf("Owner() after guest exit = %v, %v; want HostOwner, true", owner, ok)
	}

	if err := tr.SetPageOwner(offset, HostOwner); err != nil {
		t.Fatalf("SetPageOwner(host) should succeed once stale owner is pruned: %v", err)
	}
}

func TestReservedPagesRejectMutation(t *testing.T) {
	b := memmap.NewBuilder()
	_ = b.AddRegion(0, 0x1000, memmap.FirmwareReserved)
	pages := BuildPageMap(b.Build())
	tr := New(pages)

	if err := tr.SetPageOwner(0, HostOwner); !hyp.Is(err, hyp.KindReservedPage) {
		t.Fatalf("SetPageOwner on reserved page = %v; want KindReservedPage", err)
	}
	if _, err := tr.PopOwner(0); !hyp.Is(err, hyp.KindReservedPage) {
		t.Fatalf("PopOwner on reserved page = %v; want KindReservedPage", err)
	}
}

func TestOwnerStackOverflow(t *testing.T) {
	pages := BuildPageMap(buildMap(t))
	tr := New(pages)

	for i := 0; i < ownerStackDepth; i++ {
		if err := tr.SetPageOwner(0, HostOwner); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := tr.SetPageOwner(0, HostOwner); !hyp.Is(err, hyp.KindOwnerOverflow) {
		t.Fatalf("expected OwnerOverflow on stack depth %d; got %v", ownerStackDepth, err)
	}
}

func TestPopUnownedPage(t *testing.T) {
	pages := BuildPageMap(buildMap(t))
	tr := New(pages)

	if _, err := tr.PopOwner(0); !hyp.Is(err, hyp.KindUnownedPage) {
		t.Fatalf("PopOwner on a free page = %v; want KindUnownedPage", err)
	}
}

func TestInvalidPage(t *testing.T) {
	pages := BuildPageMap(buildMap(t))
	tr := New(pages)

	if err := tr.SetPageOwner(1<<40, HostOwner); !hyp.Is(err, hyp.KindInvalidPage) {
		t.Fatalf("SetPageOwner outside the tracked range = %v; want KindInvalidPage", err)
	}
}

func TestIdOverflow(t *testing.T) {
	pages := BuildPageMap(buildMap(t))
	tr := New(pages)
	tr.state.nextOwnerID = 0

	if _, err := tr.AddActiveGuest(); !hyp.Is(err, hyp.KindIdOverflow) {
		t.Fatalf("AddActiveGuest at wraparound = %v; want KindIdOverflow", err)
	}
}
