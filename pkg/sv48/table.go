package sv48

import (
	"iter"

	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/pagetrack"
	"corevisor/pkg/physarena"
)

// entriesPerTable is 512 for Sv48's 9-bit VPN fields.
const entriesPerTable = 512

// levelPageSize maps a walk depth (0 = root, matching VPN[3]) to the
// PageSize a leaf at that depth would represent.
var levelPageSize = [4]addr.PageSize{addr.Size512g, addr.Size1g, addr.Size2m, addr.Size4k}

func levelForPageSize(ps addr.PageSize) int {
	for lvl, s := range levelPageSize {
		if s == ps {
			return lvl
		}
	}
	return -1
}

// vpn returns the 9-bit virtual page number for vaddr at walk depth lvl.
func vpn(vaddr addr.VirtAddr, lvl int) uint64 {
	shift := 12 + 9*(3-lvl)
	return (uint64(vaddr) >> shift) & 0x1FF
}

// GetPTEPageFn allocates and zeroes one physical frame to back a new,
// currently-empty page table level. Supplied by the caller (bootalloc
// during boot, the per-table PTE pool for dynamic slots) so map_range
// itself stays allocator-agnostic.
type GetPTEPageFn func() (addr.PhysAddr, *hyp.Error)

// PageTable is a first-stage Sv48 page table rooted at one 4 KiB frame,
// owned by a single OwnerId (spec §3's invariant: every leaf PTE points to a
// frame whose PageInfo.owners.top == owner of the table).
type PageTable struct {
	root  addr.PhysAddr
	owner pagetrack.OwnerId
	arena *physarena.Arena
}

// New wraps an already-allocated, zeroed root frame as an empty Sv48
// PageTable.
func New(root addr.PhysAddr, owner pagetrack.OwnerId, arena *physarena.Arena) *PageTable {
	return &PageTable{root: root, owner: owner, arena: arena}
}

// Root returns the table's root physical frame.
func (t *PageTable) Root() addr.PhysAddr { return t.root }

// SATP encodes this table's root in the Sv48 SATP CSR format (spec §4.D).
func (t *PageTable) SATP() uint64 {
	return encodeSATP(uint64(t.root))
}

func (t *PageTable) tableEntry(tableFrame addr.PhysAddr, index uint64) (*pte, error) {
	buf, err := t.arena.Slice(tableFrame, addr.Size4k.Bytes())
	if err != nil {
		return nil, err
	}
	return &asPTESlice(buf)[index], nil
}

// Mapper is the linear capability returned by MapRange: exclusive right to
// fill leaf entries within [vaddr, vaddr+count*pageSize). Spec §4.D/§9:
// creating the Mapper is fallible (it may run out of PTE pages while
// pre-walking intermediate levels); subsequent MapAddr calls are infallible
// as long as they stay inside the declared range.
type Mapper struct {
	table     *PageTable
	vaddrBase addr.VirtAddr
	pageSize  addr.PageSize
	count     uint64
	leafLevel int
}

// MapRange pre-walks intermediate levels down to pageSize's level, using
// getPTEPage to obtain zeroed frames for any missing non-leaf PTE, and
// returns a Mapper bound to the declared range.
func (t *PageTable) MapRange(vaddr addr.VirtAddr, pageSize addr.PageSize, count uint64, getPTEPage GetPTEPageFn) (*Mapper, *hyp.Error) {
	leafLevel := levelForPageSize(pageSize)
	if leafLevel < 0 {
		return nil, hyp.New("sv48", hyp.KindInvalidArgument, "unsupported page size")
	}

	step := uint64(pageSize.Bytes())
	for i := uint64(0); i < count; i++ {
		v := vaddr + addr.VirtAddr(i*step)
		if err := t.ensurePath(v, leafLevel, getPTEPage); err != nil {
			return nil, err
		}
	}

	return &Mapper{table: t, vaddrBase: vaddr, pageSize: pageSize, count: count, leafLevel: leafLevel}, nil
}

// ensurePath walks from the root to leafLevel-1, allocating and zeroing any
// missing intermediate table.
func (t *PageTable) ensurePath(vaddr addr.VirtAddr, leafLevel int, getPTEPage GetPTEPageFn) *hyp.Error {
	tableFrame := t.root
	for lvl := 0; lvl < leafLevel; lvl++ {
		entry, err := t.tableEntry(tableFrame, vpn(vaddr, lvl))
		if err != nil {
			return hyp.New("sv48", hyp.KindOutOfPTEPages, err.Error())
		}

		if entry.HasFlags(FlagValid) {
			if entry.IsLeaf() {
				return hyp.New("sv48", hyp.KindInvalidArgument, "huge page already mapped where a table was expected")
			}
			tableFrame = entry.Frame()
			continue
		}

		next, perr := getPTEPage()
		if perr != nil {
			return perr
		}
		if err := t.arena.Memset(next, 0, addr.Size4k.Bytes()); err != nil {
			return hyp.New("sv48", hyp.KindOutOfPTEPages, err.Error())
		}
		*entry = 0
		entry.SetFrame(next)
		entry.SetFlags(FlagValid)
		tableFrame = next
	}
	return nil
}

// MapAddr installs or replaces one leaf entry within the Mapper's declared
// range. Infallible: the structural allocation already happened in
// MapRange. Panics (a programming error, not a runtime fault) if vaddr
// falls outside the declared range.
func (m *Mapper) MapAddr(vaddr addr.VirtAddr, paddr addr.PhysAddr, flags PTEFlags) {
	step := uint64(m.pageSize.Bytes())
	off := uint64(vaddr - m.vaddrBase)
	if off%step != 0 || off/step >= m.count {
		hyp.Panic(hyp.New("sv48", hyp.KindInvalidArgument, "MapAddr called outside the Mapper's declared range"))
	}

	tableFrame := m.walkToLeafTable(vaddr)
	entry, err := m.table.tableEntry(tableFrame, vpn(vaddr, m.leafLevel))
	if err != nil {
		hyp.Panic(hyp.New("sv48", hyp.KindInvalidArgument, err.Error()))
	}

	*entry = 0
	entry.SetFrame(paddr)
	entry.SetFlags(flags | FlagValid)
}

// walkToLeafTable re-descends from the root to the table one level above
// leafLevel. It never allocates — MapRange already guaranteed every
// intermediate table along every page in the declared range exists.
func (m *Mapper) walkToLeafTable(vaddr addr.VirtAddr) addr.PhysAddr {
	tableFrame := m.table.root
	for lvl := 0; lvl < m.leafLevel; lvl++ {
		entry, err := m.table.tableEntry(tableFrame, vpn(vaddr, lvl))
		if err != nil {
			hyp.Panic(hyp.New("sv48", hyp.KindInvalidArgument, err.Error()))
		}
		tableFrame = entry.Frame()
	}
	return tableFrame
}

// UnmapRange clears count leaf entries starting at vaddr and yields the
// physical pages that were mapped, so the caller can run a TLB shootdown
// and hand ownership back (spec §4.D).
func (t *PageTable) UnmapRange(vaddr addr.VirtAddr, pageSize addr.PageSize, count uint64) iter.Seq[addr.PhysAddr] {
	leafLevel := levelForPageSize(pageSize)
	step := uint64(pageSize.Bytes())

	return func(yield func(addr.PhysAddr) bool) {
		for i := uint64(0); i < count; i++ {
			v := vaddr + addr.VirtAddr(i*step)

			tableFrame, ok := t.findLeafTable(v, leafLevel)
			if !ok {
				continue
			}
			entry, err := t.tableEntry(tableFrame, vpn(v, leafLevel))
			if err != nil || !entry.HasFlags(FlagValid) {
				continue
			}

			phys := entry.Frame()
			entry.ClearFlags(FlagValid)
			if !yield(phys) {
				return
			}
		}
	}
}

// findLeafTable descends from the root looking for the table that would
// hold vaddr's leaf entry, returning ok=false if any intermediate level is
// not present.
func (t *PageTable) findLeafTable(vaddr addr.VirtAddr, leafLevel int) (addr.PhysAddr, bool) {
	tableFrame := t.root
	for lvl := 0; lvl < leafLevel; lvl++ {
		entry, err := t.tableEntry(tableFrame, vpn(vaddr, lvl))
		if err != nil || !entry.HasFlags(FlagValid) || entry.IsLeaf() {
			return 0, false
		}
		tableFrame = entry.Frame()
	}
	return tableFrame, true
}

// Translate returns the physical address vaddr currently maps to, if any,
// walking all four levels (mirrors kernel/mem/vmm/translate.go).
func (t *PageTable) Translate(vaddr addr.VirtAddr) (addr.PhysAddr, bool) {
	tableFrame := t.root
	for lvl := 0; lvl < 4; lvl++ {
		entry, err := t.tableEntry(tableFrame, vpn(vaddr, lvl))
		if err != nil || !entry.HasFlags(FlagValid) {
			return 0, false
		}
		if entry.IsLeaf() {
			pageSize := levelPageSize[lvl]
			off := uint64(vaddr) & (uint64(pageSize.Bytes()) - 1)
			return entry.Frame() + addr.PhysAddr(off), true
		}
		tableFrame = entry.Frame()
	}
	return 0, false
}
