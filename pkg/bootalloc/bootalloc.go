// Package bootalloc implements the single-producer bump allocator over free
// RAM pages that bootstraps the hypervisor before PageTracker exists (spec
// §4.C). Grounded on kernel/mem/pfn/bootmem_allocator.go: that allocator
// scans multiboot memory regions in ascending order and hands out one frame
// at a time via a monotonically increasing index; this one does the same
// thing over a pagetrack.PageMap instead of multiboot.MemoryMapEntry, and
// additionally supports alignment-constrained multi-page takes and a final
// drain to the host VM (spec §4.C/§8 scenario 2).
package bootalloc

import (
	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/pagetrack"
)

// SequentialPages describes a contiguous, 4 KiB-aligned run of pages handed
// out by TakePages/TakePagesWithAlignment.
type SequentialPages struct {
	Base  addr.PhysAddr
	Count uint64
}

// End returns the first address past the run.
func (s SequentialPages) End() addr.PhysAddr {
	return s.Base + addr.PhysAddr(s.Count*uint64(addr.Size4k.Bytes()))
}

// Allocator is the bump allocator described in spec §4.C. It is not safe
// for concurrent use — by design there is exactly one allocator, used
// single-threaded during boot, and its state is invalidated by Drain.
type Allocator struct {
	pages    pagetrack.PageMap
	nextIdx  int
	drained  bool
}

// New wraps a freshly built PageMap for bootstrap allocation. All frames are
// initially unowned; ownership is assigned to the hypervisor (or, after
// Drain, to the host) as pages are taken.
func New(pages pagetrack.PageMap) *Allocator {
	return &Allocator{pages: pages}
}

func (a *Allocator) assign(phys addr.PhysAddr, owner pagetrack.OwnerId) {
	// Boot-time invariant: every frame assigned here must be trackable Ram
	// starting from Free. A failure here means the memory map or the
	// scanning logic is corrupt — both are unrecoverable at this point in
	// boot.
	if err := a.pages.AssignOwner(phys, owner); err != nil {
		hyp.Panic(err)
	}
}

// NextPage returns one 4 KiB page, assigns it to the hypervisor, and
// advances past it. Panics (fatal, per spec §7) if no free page remains.
func (a *Allocator) NextPage() addr.PhysAddr {
	if a.drained {
		hyp.Panic(hyp.New("bootalloc", hyp.KindInvalidArgument, "allocator used after drain"))
	}

	for a.nextIdx < a.pages.Len() {
		phys := a.pages.FrameAddr(a.nextIdx)
		a.nextIdx++
		if a.pages.IsFreeRAM(phys) {
			a.assign(phys, pagetrack.HypervisorOwner)
			return phys
		}
	}

	hyp.Panic(hyp.New("bootalloc", hyp.KindInvalidArgument, "physical memory exhausted"))
	panic("unreachable")
}

// TakePages returns n physically contiguous 4 KiB pages. It is
// TakePagesWithAlignment at 4 KiB alignment, so free pages passed over while
// looking for a contiguous run are assigned to the hypervisor as well.
func (a *Allocator) TakePages(n uint64) SequentialPages {
	if n == 0 {
		return SequentialPages{}
	}
	return a.TakePagesWithAlignment(n, addr.Size4k.Bytes())
}

// TakePagesWithAlignment scans for the first run of n Free pages whose base
// is align-aligned, assigning every page it skips over (and every page in
// the run) to the hypervisor. align must be a power of two multiple of the
// page size.
func (a *Allocator) TakePagesWithAlignment(n uint64, align addr.Size) SequentialPages {
	if a.drained {
		hyp.Panic(hyp.New("bootalloc", hyp.KindInvalidArgument, "allocator used after drain"))
	}

	for {
		phys := a.NextPage()
		if uint64(phys)%uint64(align) != 0 {
			continue
		}

		// phys is aligned; take n-1 more pages immediately following it.
		// If any of those isn't free/contiguous the allocator's scan
		// would have already assigned intervening non-free pages to
		// itself via NextPage, so we instead verify strict physical
		// contiguity by requiring each subsequent NextPage() call to
		// return exactly the expected address.
		run := SequentialPages{Base: phys, Count: 1}
		ok := true
		for i := uint64(1); i < n; i++ {
			want := phys + addr.PhysAddr(i*uint64(addr.Size4k.Bytes()))
			got := a.NextPage()
			if got != want {
				ok = false
				break
			}
		}
		if ok {
			run.Count = n
			return run
		}
		// The alignment candidate did not yield a contiguous run;
		// continue scanning from where NextPage() left off.
	}
}

// PagesRemaining returns a lower bound on the number of pages still
// assignable by this allocator.
func (a *Allocator) PagesRemaining() uint64 {
	var free uint64
	for i := a.nextIdx; i < a.pages.Len(); i++ {
		if a.pages.IsFreeRAM(a.pages.FrameAddr(i)) {
			free++
		}
	}
	return free
}

// Drain assigns every remaining free run to the host VM and returns the
// finalized PageMap. After Drain, no hypervisor code may allocate from this
// allocator again (enforced by the drained flag above).
func (a *Allocator) Drain() pagetrack.PageMap {
	for a.nextIdx < a.pages.Len() {
		phys := a.pages.FrameAddr(a.nextIdx)
		a.nextIdx++
		if a.pages.IsFreeRAM(phys) {
			a.assign(phys, pagetrack.HostOwner)
		}
	}
	a.drained = true
	return a.pages
}
