package pagetrack

import "corevisor/hyp"

// OwnerId identifies a page owner. Reserved values: 0 = host VM, 1 =
// hypervisor; 2..N are assigned sequentially to guest TVMs (spec §3).
type OwnerId uint64

const (
	// HostOwner is the single non-confidential guest present from boot.
	HostOwner OwnerId = 0
	// HypervisorOwner is implicit and never appears in ActiveGuests.
	HypervisorOwner OwnerId = 1
	firstGuestOwner OwnerId = 2
)

// MemType classifies the physical memory a page belongs to.
type MemType uint8

const (
	Ram MemType = iota
	Mmio
	Reserved
)

// PageState is the lifecycle state of a physical 4 KiB frame (spec §3).
// Free -> Clean on push; Clean -> Mapped on page-table insertion;
// Mapped -> Dirty on unmap. Transitions past Free->Clean are driven by the
// page-table layer (sv48/hypmap/umodeslot), not by pagetrack itself, which
// only owns the Free<->Clean edge tied to the owner stack.
type PageState uint8

const (
	Free PageState = iota
	Clean
	Dirty
	Mapped
)

// ownerStackDepth is the minimum bounded owner-stack depth spec §3 requires.
const ownerStackDepth = 4

// PageInfo is the per-physical-4KiB-frame record: memory type, a bounded
// stack of owners (top = current owner; empty = free, Ram only), and a
// lifecycle state.
type PageInfo struct {
	memType MemType
	state   PageState
	owners  [ownerStackDepth]OwnerId
	depth   uint8
}

func newPageInfo(t MemType) PageInfo {
	return PageInfo{memType: t, state: Free}
}

// MemType returns the page's memory type.
func (pi *PageInfo) MemType() MemType { return pi.memType }

// State returns the page's current lifecycle state.
func (pi *PageInfo) State() PageState { return pi.state }

// top returns the current owner, if any.
func (pi *PageInfo) top() (OwnerId, bool) {
	if pi.depth == 0 {
		return 0, false
	}
	return pi.owners[pi.depth-1], true
}

// pushOwner pushes a new owner onto the stack, transitioning Free->Clean.
// Reserved pages always reject this with ReservedPage.
func (pi *PageInfo) pushOwner(id OwnerId) *hyp.Error {
	if pi.memType == Reserved {
		return hyp.New("pagetrack", hyp.KindReservedPage, "page is reserved")
	}
	if int(pi.depth) == ownerStackDepth {
		return hyp.New("pagetrack", hyp.KindOwnerOverflow, "owner stack is full")
	}
	pi.owners[pi.depth] = id
	pi.depth++
	if pi.state == Free {
		pi.state = Clean
	}
	return nil
}

// popOwner pops and returns the current owner. Reserved pages always reject
// this with ReservedPage; an empty stack fails with UnownedPage.
func (pi *PageInfo) popOwner() (OwnerId, *hyp.Error) {
	if pi.memType == Reserved {
		return 0, hyp.New("pagetrack", hyp.KindReservedPage, "page is reserved")
	}
	if pi.depth == 0 {
		return 0, hyp.New("pagetrack", hyp.KindUnownedPage, "page has no owner to pop")
	}
	pi.depth--
	id := pi.owners[pi.depth]
	if pi.depth == 0 {
		pi.state = Free
	}
	return id, nil
}

// popOwnersWhile pops owners off the top of the stack for as long as pred
// returns true for the current top, used by the lazy-pruning pass in
// Tracker.setPageOwner.
func (pi *PageInfo) popOwnersWhile(pred func(OwnerId) bool) {
	for pi.depth > 0 && pred(pi.owners[pi.depth-1]) {
		pi.depth--
	}
	if pi.depth == 0 && pi.memType != Reserved {
		pi.state = Free
	}
}

// findOwner returns the topmost owner for which keep returns true, skipping
// stale owners below it without mutating the stack.
func (pi *PageInfo) findOwner(keep func(OwnerId) bool) (OwnerId, bool) {
	for i := int(pi.depth) - 1; i >= 0; i-- {
		if keep(pi.owners[i]) {
			return pi.owners[i], true
		}
	}
	return 0, false
}
