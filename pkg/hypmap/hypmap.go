package hypmap

import (
	"iter"

	"corevisor/hyp"
	"corevisor/pkg/abiver"
	"corevisor/pkg/addr"
	"corevisor/pkg/memmap"
	"corevisor/pkg/sv48"
	"corevisor/pkg/umodeelf"
)

// SharedRegion is an identity (VA == PA) mapping derived directly from one
// memmap.Region (spec §4.E's region-to-permission table).
type SharedRegion struct {
	Base  addr.PhysAddr
	Size  addr.Size
	Perms sv48.PTEFlags
}

// PrivateRegion is one validated U-mode ELF segment, not yet backed by
// physical frames — NewPageTable allocates and populates those per table.
type PrivateRegion struct {
	VAddr addr.VirtAddr
	Size  addr.Size
	Perms sv48.PTEFlags
	Data  []byte
}

// Writable reports whether this region's leaf perms include FlagWrite (used
// by the private-writable-reset routine, spec §4.F).
func (r PrivateRegion) Writable() bool { return r.Perms.HasFlags(sv48.FlagWrite) }

// HypMap is the immutable, once-per-boot product of New: the shared
// identity-mapped regions and the private U-mode segments every per-CPU
// HypPageTable is built from.
type HypMap struct {
	Shared  []SharedRegion
	Private []PrivateRegion
}

// sharedPerms implements spec §4.E's region-to-permission table verbatim.
func sharedPerms(t memmap.RegionType) (sv48.PTEFlags, bool) {
	switch t {
	case memmap.FirmwareReserved:
		return 0, false
	case memmap.HypervisorImage:
		return sv48.SupervisorRWX, true
	case memmap.HostKernel, memmap.HostInitramfs:
		return sv48.SupervisorR, true
	case memmap.Available, memmap.HypervisorHeap, memmap.PerCpuRegion, memmap.PageMapRegion, memmap.Mmio:
		return sv48.SupervisorRW, true
	default:
		return 0, false
	}
}

func privatePerms(p umodeelf.Perm) sv48.PTEFlags {
	switch p {
	case umodeelf.PermR:
		return sv48.UserR
	case umodeelf.PermRW:
		return sv48.UserRW
	case umodeelf.PermRX:
		return sv48.UserRX
	default:
		return sv48.UserR
	}
}

// New validates the U-mode ABI note, then builds the SharedRegion[] from mm
// and the PrivateRegion[] from segs (spec §4.E). Each private segment must
// be 4 KiB-aligned (KindElfUnalignedSegment) and lie entirely within the
// U-mode VA window (KindElfInvalidAddress).
func New(mm memmap.MemoryMap, segs iter.Seq[umodeelf.UmodeSegment], abiNote string) (*HypMap, *hyp.Error) {
	if err := abiver.Check(abiNote); err != nil {
		return nil, err
	}

	var shared []SharedRegion
	for _, r := range mm.Regions() {
		perms, ok := sharedPerms(r.Type)
		if !ok {
			continue
		}
		if len(shared) == maxRegions {
			return nil, hyp.New("hypmap", hyp.KindInvalidArgument, "memory map produces more than 32 shared regions")
		}
		shared = append(shared, SharedRegion{Base: r.Base, Size: r.Size, Perms: perms})
	}

	var private []PrivateRegion
	for s := range segs {
		if !addr.Size4k.IsAligned(uint64(s.VAddr)) {
			return nil, hyp.New("hypmap", hyp.KindElfUnalignedSegment, "U-mode segment is not 4 KiB aligned")
		}
		if !IsValidUmodeRange(s.VAddr, s.Size) {
			return nil, hyp.New("hypmap", hyp.KindElfInvalidAddress, "U-mode segment falls outside the private VA window")
		}
		if len(private) == maxRegions {
			return nil, hyp.New("hypmap", hyp.KindInvalidArgument, "ELF declares more than 32 private regions")
		}
		private = append(private, PrivateRegion{VAddr: s.VAddr, Size: s.Size, Perms: privatePerms(s.Perm), Data: s.Data})
	}
	if len(private) == 0 {
		return nil, hyp.New("hypmap", hyp.KindElfInvalidAddress, "U-mode ELF has no usable segments")
	}

	return &HypMap{Shared: shared, Private: private}, nil
}
