package memmap

import (
	"testing"

	"corevisor/hyp"
	"corevisor/pkg/addr"
)

func TestBuilderRejectsOverlap(t *testing.T) {
	b := NewBuilder()
	if err := b.AddRegion(0x1000, 0x2000, Available); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if err := b.AddRegion(0x3000, 0x2000, HypervisorImage); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if err := b.AddRegion(0x2000, 0x1000, Mmio); !hyp.Is(err, hyp.KindInvalidArgument) {
		t.Fatalf("expected overlap to be rejected with KindInvalidArgument; got %v", err)
	}
}

func TestBuilderRejectsMisalignment(t *testing.T) {
	b := NewBuilder()
	if err := b.AddRegion(0x1234, 0x1000, Available); err == nil {
		t.Fatal("expected misaligned base to be rejected")
	}
}

func TestBuildSortsAndIndexes(t *testing.T) {
	b := NewBuilder()
	_ = b.AddRegion(0x4000, 0x1000, Mmio)
	_ = b.AddRegion(0x1000, 0x2000, Available)
	_ = b.AddRegion(0x3000, 0x1000, HypervisorImage)

	m := b.Build()
	regions := m.Regions()
	if len(regions) != 3 {
		t.Fatalf("expected 3 regions; got %d", len(regions))
	}
	for i := 1; i < len(regions); i++ {
		if regions[i-1].Base >= regions[i].Base {
			t.Fatalf("regions not sorted by base: %+v", regions)
		}
	}

	r, ok := m.RegionAt(0x1800)
	if !ok || r.Type != Available {
		t.Fatalf("RegionAt(0x1800) = %+v, %v; want Available region", r, ok)
	}

	if _, ok := m.RegionAt(0x10000); ok {
		t.Fatal("RegionAt outside any region should return ok=false")
	}

	if got, want := m.TotalAvailable(), addr.Size(0x2000); got != want {
		t.Fatalf("TotalAvailable() = %d; want %d", got, want)
	}
}
