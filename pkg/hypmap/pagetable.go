package hypmap

import (
	"sync"

	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/bootalloc"
	"corevisor/pkg/csr"
	"corevisor/pkg/pagetrack"
	"corevisor/pkg/physarena"
	"corevisor/pkg/sv48"
)

// privateInstance ties a validated PrivateRegion to the physical frames
// NewPageTable allocated to back it, so the reset routine (spec §4.F "private
// writable reset") knows what to rewrite.
type privateInstance struct {
	region   PrivateRegion
	physBase addr.PhysAddr
	pages    uint64
}

// PageTable is one CPU's HypPageTable (spec §4.E's new_page_table product):
// an Sv48 table with the shared and private regions already mapped, plus the
// reserved PTE-page pool later dynamic UmodeSlot mappings draw from.
type PageTable struct {
	table   *sv48.PageTable
	arena   *physarena.Arena
	tracker pagetrack.Tracker

	private []privateInstance

	poolMu   sync.Mutex
	ptePool  []addr.PhysAddr
	poolNext int
}

// maxPTEPages bounds, conservatively, how many non-leaf table frames a
// worst-case (arbitrarily misaligned) mapping of n contiguous 4 KiB leaves
// could require across Sv48's three levels of non-leaf tables: one
// level-2 table per 512 leaves, one level-1 table per 512 level-2 tables,
// plus a small constant for boundary-straddling tables.
func maxPTEPages(n uint64) uint64 {
	return (n+511)/512 + (n+512*512-1)/(512*512) + 3
}

// NewPageTable consumes pages from alloc to build a complete per-CPU
// HypPageTable: the root, every SharedRegion (identity mapped, zero data
// copy), every PrivateRegion (freshly allocated and populated), and a pool
// of PTE pages reserved for later UmodeSlot mappings (spec §4.E/§4.F).
func (hm *HypMap) NewPageTable(alloc *bootalloc.Allocator, tracker pagetrack.Tracker, arena *physarena.Arena) (*PageTable, *hyp.Error) {
	root := alloc.TakePages(1).Base
	if err := arena.Memset(root, 0, addr.Size4k.Bytes()); err != nil {
		return nil, hyp.New("hypmap", hyp.KindMapperCreationFailed, err.Error())
	}

	pt := &PageTable{
		table:   sv48.New(root, pagetrack.HypervisorOwner, arena),
		arena:   arena,
		tracker: tracker,
	}

	bumpPTEPage := func() (addr.PhysAddr, *hyp.Error) {
		p := alloc.TakePages(1).Base
		if err := arena.Memset(p, 0, addr.Size4k.Bytes()); err != nil {
			return 0, hyp.New("hypmap", hyp.KindMapperCreationFailed, err.Error())
		}
		return p, nil
	}

	for _, sr := range hm.Shared {
		if err := pt.mapShared(sr, bumpPTEPage); err != nil {
			return nil, err
		}
	}

	for _, pr := range hm.Private {
		if err := pt.mapPrivate(alloc, pr, bumpPTEPage); err != nil {
			return nil, err
		}
	}

	totalSlotPages := uint64(UmodeMappingSlots) * uint64(UmodeMappingSlotSize/addr.Size4k.Bytes())
	poolSize := maxPTEPages(totalSlotPages)
	pt.ptePool = make([]addr.PhysAddr, poolSize)
	for i := range pt.ptePool {
		p := alloc.TakePages(1).Base
		if err := arena.Memset(p, 0, addr.Size4k.Bytes()); err != nil {
			return nil, hyp.New("hypmap", hyp.KindMapperCreationFailed, err.Error())
		}
		pt.ptePool[i] = p
	}

	return pt, nil
}

// pagePlan is one (page size, count) run produced by planPages.
type pagePlan struct {
	size  addr.PageSize
	base  addr.PhysAddr
	count uint64
}

// planPages greedily covers [base, base+size) with the largest aligned page
// size available at each step, so shared identity mappings exercise Sv48's
// larger leaf sizes rather than always falling back to 4 KiB (spec §3 notes
// "larger sizes may appear in shared identity mappings").
func planPages(base addr.PhysAddr, size addr.Size) []pagePlan {
	sizes := []addr.PageSize{addr.Size1g, addr.Size2m, addr.Size4k}
	var plans []pagePlan
	remaining := uint64(size)
	cur := base

	for remaining > 0 {
		placed := false
		for _, ps := range sizes {
			step := uint64(ps.Bytes())
			if remaining < step || !ps.IsAligned(uint64(cur)) {
				continue
			}
			count := remaining / step
			plans = append(plans, pagePlan{size: ps, base: cur, count: count})
			cur += addr.PhysAddr(count * step)
			remaining -= count * step
			placed = true
			break
		}
		if !placed {
			// Fell through every size; this only happens for a trailing
			// sub-4K remainder, which AddRegion's alignment check already
			// rejects at the MemoryMap layer.
			break
		}
	}
	return plans
}

func (pt *PageTable) mapShared(sr SharedRegion, getPTEPage sv48.GetPTEPageFn) *hyp.Error {
	for _, plan := range planPages(sr.Base, sr.Size) {
		vaddr := addr.VirtAddr(plan.base)
		mapper, err := pt.table.MapRange(vaddr, plan.size, plan.count, getPTEPage)
		if err != nil {
			return err
		}
		step := uint64(plan.size.Bytes())
		for i := uint64(0); i < plan.count; i++ {
			va := vaddr + addr.VirtAddr(i*step)
			pa := plan.base + addr.PhysAddr(i*step)
			mapper.MapAddr(va, pa, sr.Perms)
			pt.tracker.MarkMapped(pa)
		}
	}
	return nil
}

func (pt *PageTable) mapPrivate(alloc *bootalloc.Allocator, pr PrivateRegion, getPTEPage sv48.GetPTEPageFn) *hyp.Error {
	pages := (uint64(pr.Size) + uint64(addr.Size4k.Bytes()) - 1) / uint64(addr.Size4k.Bytes())
	run := alloc.TakePages(pages)

	if err := pt.arena.Memset(run.Base, 0, addr.Size(pages*uint64(addr.Size4k.Bytes()))); err != nil {
		return hyp.New("hypmap", hyp.KindMapperCreationFailed, err.Error())
	}
	n := uint64(len(pr.Data))
	if uint64(pr.Size) < n {
		n = uint64(pr.Size)
	}
	if n > 0 {
		if err := pt.arena.WriteAt(run.Base, pr.Data[:n]); err != nil {
			return hyp.New("hypmap", hyp.KindMapperCreationFailed, err.Error())
		}
	}

	mapper, err := pt.table.MapRange(pr.VAddr, addr.Size4k, pages, getPTEPage)
	if err != nil {
		return err
	}
	step := uint64(addr.Size4k.Bytes())
	for i := uint64(0); i < pages; i++ {
		va := pr.VAddr + addr.VirtAddr(i*step)
		pa := run.Base + addr.PhysAddr(i*step)
		mapper.MapAddr(va, pa, pr.Perms)
		pt.tracker.MarkMapped(pa)
		if serr := pt.tracker.SetPageOwner(pa, pagetrack.HypervisorOwner); serr != nil {
			return serr
		}
	}

	pt.private = append(pt.private, privateInstance{region: pr, physBase: run.Base, pages: pages})
	return nil
}

// NextPTEPage pops the next zeroed frame from this table's reserved PTE
// pool. Satisfies sv48.GetPTEPageFn so UmodeSlot can pass it straight to
// MapRange; fails KindMapperCreationFailed once the pool is exhausted
// (spec §4.F).
func (pt *PageTable) NextPTEPage() (addr.PhysAddr, *hyp.Error) {
	pt.poolMu.Lock()
	defer pt.poolMu.Unlock()

	if pt.poolNext >= len(pt.ptePool) {
		return 0, hyp.New("hypmap", hyp.KindMapperCreationFailed, "PTE page pool exhausted")
	}
	p := pt.ptePool[pt.poolNext]
	pt.poolNext++
	return p, nil
}

// Sv48 returns the underlying Sv48 page table (used by UmodeSlot to map and
// unmap dynamic slot windows, and by SATP()).
func (pt *PageTable) Sv48() *sv48.PageTable { return pt.table }

// SATP encodes this table's root for the SATP CSR.
func (pt *PageTable) SATP() uint64 { return pt.table.SATP() }

// Arena returns the physical arena backing this table's frames.
func (pt *PageTable) Arena() *physarena.Arena { return pt.arena }

// ResetPrivateRegions re-copies (or zeroes, past the segment's file data) the
// original contents of every writable PrivateRegion, through a CSR-bracketed
// SUM-enabled write exactly as spec §4.F requires: "writes are done through
// supervisor aliasing with the SUM bit of SSTATUS temporarily set."
func (pt *PageTable) ResetPrivateRegions(regs *csr.File) *hyp.Error {
	saved := regs.SSTATUS
	regs.SSTATUS = regs.SSTATUS.SetSUM(true)
	defer func() { regs.SSTATUS = saved }()

	for _, inst := range pt.private {
		if !inst.region.Writable() {
			continue
		}
		n := uint64(len(inst.region.Data))
		if uint64(inst.region.Size) < n {
			n = uint64(inst.region.Size)
		}
		if n > 0 {
			if err := pt.arena.WriteAt(inst.physBase, inst.region.Data[:n]); err != nil {
				return hyp.New("hypmap", hyp.KindUnmapFailed, err.Error())
			}
		}
		tail := inst.pages*uint64(addr.Size4k.Bytes()) - n
		if tail > 0 {
			if err := pt.arena.Memset(inst.physBase+addr.PhysAddr(n), 0, addr.Size(tail)); err != nil {
				return hyp.New("hypmap", hyp.KindUnmapFailed, err.Error())
			}
		}
	}
	return nil
}
