package sv48

import (
	"testing"

	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/pagetrack"
	"corevisor/pkg/physarena"
)

func TestPTEFlags(t *testing.T) {
	var p pte
	if p.HasAnyFlag(FlagRead | FlagWrite) {
		t.Fatal("zero-value pte should have no flags")
	}
	p.SetFlags(FlagRead | FlagWrite)
	if !p.HasFlags(FlagRead | FlagWrite) {
		t.Fatal("expected HasFlags to report both bits set")
	}
	p.ClearFlags(FlagWrite)
	if p.HasFlags(FlagWrite) {
		t.Fatal("expected FlagWrite to be cleared")
	}
	if !p.HasAnyFlag(FlagRead) {
		t.Fatal("expected FlagRead to remain set")
	}
}

func TestPTEFrameRoundTrip(t *testing.T) {
	var p pte
	frame := addr.PhysAddr(0x1234000)
	p.SetFrame(frame)
	if got := p.Frame(); got != frame {
		t.Fatalf("Frame() = 0x%x; want 0x%x", got, frame)
	}
}

func TestMapUnmapTranslate(t *testing.T) {
	arena, err := physarena.New(0, 64*addr.Size4k.Bytes())
	if err != nil {
		t.Fatalf("physarena.New: %v", err)
	}
	defer arena.Close()

	root := addr.PhysAddr(0)
	if err := arena.Memset(root, 0, addr.Size4k.Bytes()); err != nil {
		t.Fatalf("Memset root: %v", err)
	}

	next := addr.PhysAddr(addr.Size4k.Bytes())
	table := New(root, pagetrack.HypervisorOwner, arena)

	mapper, mapErr := table.MapRange(0x1000_0000, addr.Size4k, 2, func() (addr.PhysAddr, *hyp.Error) {
		p := next
		next += addr.PhysAddr(addr.Size4k.Bytes())
		if err := arena.Memset(p, 0, addr.Size4k.Bytes()); err != nil {
			t.Fatalf("Memset pte page: %v", err)
		}
		return p, nil
	})
	if mapErr != nil {
		t.Fatalf("MapRange: %v", mapErr)
	}

	phys0 := addr.PhysAddr(0x2000_0000)
	phys1 := addr.PhysAddr(0x2000_1000)
	mapper.MapAddr(0x1000_0000, phys0, SupervisorRW)
	mapper.MapAddr(0x1000_1000, phys1, SupervisorR)

	if got, ok := table.Translate(0x1000_0000); !ok || got != phys0 {
		t.Fatalf("Translate(page0) = 0x%x, %v; want 0x%x, true", got, ok, phys0)
	}
	if got, ok := table.Translate(0x1000_1800); !ok || got != phys1+0x800 {
		t.Fatalf("Translate(page1+0x800) = 0x%x, %v; want 0x%x, true", got, ok, phys1+0x800)
	}

	var unmapped []addr.PhysAddr
	for p := range table.UnmapRange(0x1000_0000, addr.Size4k, 2) {
		unmapped = append(unmapped, p)
	}
	if len(unmapped) != 2 || unmapped[0] != phys0 || unmapped[1] != phys1 {
		t.Fatalf("UnmapRange yielded %v; want [%v %v]", unmapped, phys0, phys1)
	}

	if _, ok := table.Translate(0x1000_0000); ok {
		t.Fatal("expected Translate to fail after unmap")
	}
}

func TestSATPEncodesSv48(t *testing.T) {
	arena, err := physarena.New(0, addr.Size4k.Bytes())
	if err != nil {
		t.Fatalf("physarena.New: %v", err)
	}
	defer arena.Close()

	table := New(0x3000, pagetrack.HypervisorOwner, arena)
	satp := table.SATP()
	if satp>>60 != 9 {
		t.Fatalf("SATP mode field = %d; want 9 (Sv48)", satp>>60)
	}
}
