// Package umodeslot implements the bounded set of dynamic mapping windows
// every HypPageTable carries (spec §4.F): fixed K=2 windows of S=4 MiB each,
// used to bulk-map guest-shared pages into U-mode's private region for the
// duration of one hypcall exchange, then bulk-unmap them before the next
// guest request is serviced.
package umodeslot

import (
	"iter"
	"sync"

	"corevisor/hyp"
	"corevisor/pkg/addr"
	"corevisor/pkg/hypmap"
	"corevisor/pkg/sv48"
)

type slotState uint8

const (
	stateFree slotState = iota
	stateMapped
)

type slot struct {
	state    slotState
	numPages uint64
}

// slotCapacity is UMODE_MAPPING_SLOT_SIZE / 4K, the maximum numPages a
// single slot can hold.
const slotCapacity = uint64(hypmap.UmodeMappingSlotSize / addr.Size4k.Bytes())

// Manager owns the fixed slot array for one HypPageTable.
type Manager struct {
	pt *hypmap.PageTable

	mu    sync.Mutex
	slots [hypmap.UmodeMappingSlots]slot
}

// NewManager returns a Manager over pt's reserved PTE pool, with every slot
// initially Free.
func NewManager(pt *hypmap.PageTable) *Manager {
	return &Manager{pt: pt}
}

// SlotVA returns the fixed virtual base of the given slot (spec §4.F).
func SlotVA(slotIdx int) (addr.VirtAddr, *hyp.Error) {
	if slotIdx < 0 || slotIdx >= hypmap.UmodeMappingSlots {
		return 0, hyp.New("umodeslot", hyp.KindInvalidSlot, "slot index out of range")
	}
	return hypmap.UmodeMappingsStart + addr.VirtAddr(slotIdx)*addr.VirtAddr(hypmap.UmodeMappingSlotSize), nil
}

// SlotMapper is the capability returned by Manager.SlotMapper: exclusive
// right to fill numPages leaf entries in the slot's window with guest pages
// the caller guarantees are explicitly shared with the hypervisor.
type SlotMapper struct {
	mapper *sv48.Mapper
	perms  sv48.PTEFlags
}

// MapAddr installs one leaf entry within the slot's declared range.
func (m *SlotMapper) MapAddr(vaddr addr.VirtAddr, paddr addr.PhysAddr) {
	m.mapper.MapAddr(vaddr, paddr, m.perms)
}

// SlotMapper builds a mapper over slotIdx's window for numPages guest pages,
// user-RW if writable, user-R otherwise. Fails KindOutOfMap if numPages
// exceeds the slot's capacity, KindInvalidSlot if the slot is already
// Mapped, or whatever the underlying MapRange pre-walk returns (typically
// KindMapperCreationFailed once the PTE pool is exhausted).
func (m *Manager) SlotMapper(slotIdx int, numPages uint64, writable bool) (*SlotMapper, *hyp.Error) {
	va, err := SlotVA(slotIdx)
	if err != nil {
		return nil, err
	}
	if numPages == 0 || numPages > slotCapacity {
		return nil, hyp.New("umodeslot", hyp.KindOutOfMap, "numPages exceeds slot capacity")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.slots[slotIdx].state == stateMapped {
		return nil, hyp.New("umodeslot", hyp.KindInvalidSlot, "slot is already mapped")
	}

	perms := sv48.UserR
	if writable {
		perms = sv48.UserRW
	}

	mapper, merr := m.pt.Sv48().MapRange(va, addr.Size4k, numPages, m.pt.NextPTEPage)
	if merr != nil {
		return nil, merr
	}

	m.slots[slotIdx] = slot{state: stateMapped, numPages: numPages}
	return &SlotMapper{mapper: mapper, perms: perms}, nil
}

// UnmapSlot marks slotIdx Free and returns a sequence of the physical pages
// that were mapped, so the caller can run a local TLB fence before handing
// them back to their guest owner (spec §4.F/§5). The leaf entries are
// cleared as the sequence is iterated; entries the caller does not iterate
// over stay mapped. Fails KindUnmapFailed if the slot is not currently
// Mapped.
func (m *Manager) UnmapSlot(slotIdx int) (iter.Seq[addr.PhysAddr], *hyp.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slotIdx < 0 || slotIdx >= hypmap.UmodeMappingSlots {
		return nil, hyp.New("umodeslot", hyp.KindInvalidSlot, "slot index out of range")
	}
	if m.slots[slotIdx].state != stateMapped {
		return nil, hyp.New("umodeslot", hyp.KindUnmapFailed, "slot is not mapped")
	}

	va, _ := SlotVA(slotIdx)
	numPages := m.slots[slotIdx].numPages
	m.slots[slotIdx] = slot{state: stateFree}

	return m.pt.Sv48().UnmapRange(va, addr.Size4k, numPages), nil
}
