package pagetrack

import (
	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/memmap"
)

// PageMap is the array of PageInfo records indexed by physical frame number,
// created once from a finalized MemoryMap and never grown (spec §3).
type PageMap struct {
	baseFrame uint64
	frames    []PageInfo
}

// BuildPageMap allocates one PageInfo per 4 KiB frame spanning the entire
// memory map (from the first region's base through the last region's end),
// classifying each frame by whichever region covers it. Gaps between
// regions — addresses the firmware did not describe at all — are treated as
// Reserved, the same fail-safe default FirmwareReserved regions get.
func BuildPageMap(m memmap.MemoryMap) PageMap {
	regions := m.Regions()
	if len(regions) == 0 {
		return PageMap{}
	}

	base := regions[0].Base
	end := regions[0].End()
	for _, r := range regions[1:] {
		if r.End() > end {
			end = r.End()
		}
	}

	frameCount := (uint64(end) - uint64(base)) >> 12
	frames := make([]PageInfo, frameCount)
	for i := range frames {
		frames[i] = newPageInfo(Reserved)
	}

	for _, r := range regions {
		t := regionMemType(r.Type)
		startFrame := (uint64(r.Base) - uint64(base)) >> 12
		pageCount := uint64(r.Size) >> 12
		for i := uint64(0); i < pageCount; i++ {
			frames[startFrame+i] = newPageInfo(t)
		}
	}

	return PageMap{baseFrame: uint64(base) >> 12, frames: frames}
}

func regionMemType(t memmap.RegionType) MemType {
	switch t {
	case memmap.Mmio:
		return Mmio
	case memmap.FirmwareReserved:
		return Reserved
	default:
		return Ram
	}
}

// Len returns the number of tracked frames.
func (pm *PageMap) Len() int { return len(pm.frames) }

// frameIndex converts a physical address into an index into pm.frames, or
// reports false if the address falls outside the tracked range.
func (pm *PageMap) frameIndex(phys addr.PhysAddr) (int, bool) {
	frame := uint64(phys) >> 12
	if frame < pm.baseFrame {
		return 0, false
	}
	idx := frame - pm.baseFrame
	if idx >= uint64(len(pm.frames)) {
		return 0, false
	}
	return int(idx), true
}

// get returns a pointer to the PageInfo backing phys, or nil if phys is not
// tracked.
func (pm *PageMap) get(phys addr.PhysAddr) *PageInfo {
	idx, ok := pm.frameIndex(phys)
	if !ok {
		return nil
	}
	return &pm.frames[idx]
}

// The methods below are exported for bootalloc, which must mutate frame
// ownership directly during single-threaded boot, before any PageMap is
// wrapped in a Tracker (and its mutex and active-guest lazy pruning). They
// have no Tracker-level guard because bootalloc's own single-producer
// discipline is the only synchronization boot time has or needs.

// FrameAddr returns the physical address of the i'th tracked frame, in
// ascending order. Used by bootalloc to scan for free pages.
func (pm *PageMap) FrameAddr(i int) addr.PhysAddr {
	return addr.PhysAddr((pm.baseFrame + uint64(i)) << 12)
}

// IsFreeRAM reports whether the frame at phys is untracked-empty Ram (state
// Free, no owners).
func (pm *PageMap) IsFreeRAM(phys addr.PhysAddr) bool {
	info := pm.get(phys)
	return info != nil && info.memType == Ram && info.state == Free
}

// AssignOwner pushes owner directly onto the frame at phys without
// consulting any active-guest set. Used only by bootalloc during the
// single-threaded boot allocation pass.
func (pm *PageMap) AssignOwner(phys addr.PhysAddr, owner OwnerId) *hyp.Error {
	info := pm.get(phys)
	if info == nil {
		return hyp.New("pagetrack", hyp.KindInvalidPage, "address is not a tracked physical page")
	}
	return info.pushOwner(owner)
}
