// Package memmap holds the typed inventory of firmware-provided physical
// memory regions (spec §4.A). It is the root of the boot data-flow: a
// MemoryMap feeds bootalloc.Allocator, which feeds pagetrack.Tracker and
// hypmap.New.
package memmap

import (
	"sort"

	"github.com/google/btree"

	"corevisor/hyp"
	"corevisor/pkg/addr"
)

// RegionType classifies a MemoryRegion. Spec §4.A.
type RegionType uint8

const (
	Available RegionType = iota
	HypervisorImage
	HostKernel
	HostInitramfs
	PageMapRegion
	HypervisorHeap
	PerCpuRegion
	FirmwareReserved
	Mmio
)

// String implements fmt.Stringer for log messages.
func (t RegionType) String() string {
	switch t {
	case Available:
		return "Available"
	case HypervisorImage:
		return "HypervisorImage"
	case HostKernel:
		return "HostKernel"
	case HostInitramfs:
		return "HostInitramfs"
	case PageMapRegion:
		return "PageMap"
	case HypervisorHeap:
		return "HypervisorHeap"
	case PerCpuRegion:
		return "PerCpu"
	case FirmwareReserved:
		return "FirmwareReserved"
	case Mmio:
		return "Mmio"
	default:
		return "Unknown"
	}
}

// Region is one entry of the firmware-provided memory map: {base, size,
// type}. Invariant (enforced by Builder): regions are non-overlapping and
// sorted by base.
type Region struct {
	Base addr.PhysAddr
	Size addr.Size
	Type RegionType
}

// End returns the first address past the region.
func (r Region) End() addr.PhysAddr { return r.Base + addr.PhysAddr(r.Size) }

// btreeItem adapts Region for ordering by base address inside the index
// tree (component §4.P — region lookup grounded on the ordered-tree pattern
// gvisor's platform/segment code uses for guest physical address ranges).
type btreeItem Region

func (a btreeItem) Less(than btree.Item) bool {
	return a.Base < than.(btreeItem).Base
}

// MemoryMap is a finalized, immutable, iterable inventory of physical
// regions.
type MemoryMap struct {
	regions []Region
	index   *btree.BTree
}

// Builder accumulates regions and validates them before producing an
// immutable MemoryMap.
type Builder struct {
	regions []Region
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// AddRegion validates 4 KiB alignment and non-overlap with previously added
// regions and appends the region.
func (b *Builder) AddRegion(base addr.PhysAddr, size addr.Size, typ RegionType) *hyp.Error {
	if !addr.Size4k.IsAligned(uint64(base)) || !addr.Size4k.IsAligned(uint64(size)) {
		return hyp.New("memmap", hyp.KindInvalidArgument, "region is not 4 KiB aligned")
	}
	if size == 0 {
		return hyp.New("memmap", hyp.KindInvalidArgument, "region size must be non-zero")
	}

	r := Region{Base: base, Size: size, Type: typ}
	for _, existing := range b.regions {
		if r.Base < existing.End() && existing.Base < r.End() {
			return hyp.New("memmap", hyp.KindInvalidArgument, "region overlaps an existing region")
		}
	}

	b.regions = append(b.regions, r)
	return nil
}

// Build sorts the accumulated regions by base address and returns an
// immutable, iterable MemoryMap.
func (b *Builder) Build() MemoryMap {
	regions := append([]Region(nil), b.regions...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })

	idx := btree.New(32)
	for _, r := range regions {
		idx.ReplaceOrInsert(btreeItem(r))
	}

	return MemoryMap{regions: regions, index: idx}
}

// Regions returns the finalized, sorted region slice. The slice must not be
// mutated by callers.
func (m MemoryMap) Regions() []Region { return m.regions }

// RegionAt returns the region containing phys, if any, via an O(log n)
// descent through the ordered index instead of a linear scan.
func (m MemoryMap) RegionAt(phys addr.PhysAddr) (Region, bool) {
	var found Region
	var ok bool

	m.index.DescendLessOrEqual(btreeItem{Base: phys}, func(item btree.Item) bool {
		r := Region(item.(btreeItem))
		if phys < r.End() {
			found, ok = r, true
		}
		return false
	})

	return found, ok
}

// TotalAvailable returns the sum of the sizes of all Available regions.
func (m MemoryMap) TotalAvailable() addr.Size {
	var total addr.Size
	for _, r := range m.regions {
		if r.Type == Available {
			total += r.Size
		}
	}
	return total
}
