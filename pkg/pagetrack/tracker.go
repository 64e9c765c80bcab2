package pagetrack

import (
	"sync"

	"corevisor/hyp"
	"corevisor/pkg/addr"
)

// trackerState is the data guarded by Tracker's mutex: the owned PageMap
// plus the set of currently live guest owners. No example repo in this pack
// ships a lock replacing sync.Mutex for a critical section this short
// (insert/pop on a small fixed array); per SPEC_FULL.md this is the one
// justified stdlib-only concern in the package.
type trackerState struct {
	mu            sync.Mutex
	pages         PageMap
	activeGuests  map[OwnerId]struct{}
	nextOwnerID   OwnerId
}

// Tracker is a cheap, cloneable handle sharing one mutex-guarded
// trackerState — the design note in spec §9 ("Ownership of per-page
// state"). Passing a Tracker by value is intentional: every copy observes
// and mutates the same underlying state.
type Tracker struct {
	state *trackerState
}

// New builds a Tracker over pages with the host VM already registered as
// active (active_guests always contains the host; the hypervisor owner is
// implicit and never added).
func New(pages PageMap) Tracker {
	return Tracker{state: &trackerState{
		pages:        pages,
		activeGuests: map[OwnerId]struct{}{HostOwner: {}},
		nextOwnerID:  firstGuestOwner,
	}}
}

// AddActiveGuest allocates the next sequential OwnerId and registers it as
// active. Fails IdOverflow if OwnerId space is exhausted.
func (t Tracker) AddActiveGuest() (OwnerId, *hyp.Error) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextOwnerID
	if id == 0 {
		return 0, hyp.New("pagetrack", hyp.KindIdOverflow, "owner id space exhausted")
	}
	s.nextOwnerID++
	s.activeGuests[id] = struct{}{}
	return id, nil
}

// RmActiveGuest removes id from the active-guest set. It does not eagerly
// walk pages — reclamation is amortized over subsequent set_page_owner
// calls on each page (lazy pruning, spec §4.B).
func (t Tracker) RmActiveGuest(id OwnerId) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeGuests, id)
}

func (s *trackerState) isActive(id OwnerId) bool {
	if id == HostOwner || id == HypervisorOwner {
		return true
	}
	_, ok := s.activeGuests[id]
	return ok
}

// SetPageOwner pushes owner onto the page's owner stack at addr, first
// popping any owners that are no longer active (the lazy-pruning design
// decision: guest teardown is O(1), reclamation cost is amortized here).
func (t Tracker) SetPageOwner(phys addr.PhysAddr, owner OwnerId) *hyp.Error {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.pages.get(phys)
	if info == nil {
		return hyp.New("pagetrack", hyp.KindInvalidPage, "address is not a tracked physical page")
	}

	info.popOwnersWhile(func(id OwnerId) bool { return !s.isActive(id) })

	return info.pushOwner(owner)
}

// PopOwner removes and returns the current owner of the page at addr.
func (t Tracker) PopOwner(phys addr.PhysAddr) (OwnerId, *hyp.Error) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.pages.get(phys)
	if info == nil {
		return 0, hyp.New("pagetrack", hyp.KindInvalidPage, "address is not a tracked physical page")
	}
	return info.popOwner()
}

// Owner returns the topmost owner still in the active-guest set, skipping
// any intervening stale owners without mutating the stack.
func (t Tracker) Owner(phys addr.PhysAddr) (OwnerId, bool) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.pages.get(phys)
	if info == nil {
		return 0, false
	}
	return info.findOwner(s.isActive)
}

// MemType returns the memory type of the page at addr, if tracked.
func (t Tracker) MemType(phys addr.PhysAddr) (MemType, bool) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.pages.get(phys)
	if info == nil {
		return 0, false
	}
	return info.MemType(), true
}

// MarkMapped transitions the page at addr from Clean to Mapped, called by
// the page-table layer when a leaf PTE is installed for it.
func (t Tracker) MarkMapped(phys addr.PhysAddr) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if info := s.pages.get(phys); info != nil && info.state == Clean {
		info.state = Mapped
	}
}

// MarkUnmapped transitions the page at addr from Mapped to Dirty. No caller
// in this module invokes it: sv48.UnmapRange and umodeslot.UnmapSlot leave
// the state of the pages they unmap unchanged.
func (t Tracker) MarkUnmapped(phys addr.PhysAddr) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if info := s.pages.get(phys); info != nil && info.state == Mapped {
		info.state = Dirty
	}
}
