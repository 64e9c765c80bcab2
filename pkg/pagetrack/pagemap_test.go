package pagetrack

import (
	"testing"

	"corevisor/pkg/addr"
	"corevisor/pkg/memmap"
)

func TestBuildPageMapClassifiesFrames(t *testing.T) {
	b := memmap.NewBuilder()
	_ = b.AddRegion(0, 0x1000, memmap.FirmwareReserved)
	_ = b.AddRegion(0x1000, 0x1000, memmap.Available)
	_ = b.AddRegion(0x2000, 0x1000, memmap.Mmio)

	pm := BuildPageMap(b.Build())
	if pm.Len() != 3 {
		t.Fatalf("Len() = %d; want 3", pm.Len())
	}

	cases := []struct {
		phys addr.PhysAddr
		want MemType
	}{
		{0, Reserved},
		{0x1000, Ram},
		{0x2000, Mmio},
	}
	for _, c := range cases {
		info := pm.get(c.phys)
		if info == nil {
			t.Fatalf("get(0x%x) = nil", c.phys)
		}
		if got := info.MemType(); got != c.want {
			t.Fatalf("get(0x%x).MemType() = %v; want %v", c.phys, got, c.want)
		}
	}
}
