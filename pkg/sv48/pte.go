// Package sv48 implements four-level RISC-V Sv48 first-stage page tables
// (spec §4.D): map_range returning a Mapper, map_addr, unmap_range, and satp
// encoding. Grounded on kernel/mem/vmm's pdt.go/map.go/page.go/pte_test.go
// API shape (pageTableEntry.HasFlags/SetFlags/ClearFlags/Frame/SetFrame, a
// walk-based Map/Unmap, a Mapper-like capability), generalized from the
// teacher's fixed single-page-size x86 4-level paging to Sv48's four
// PageSize levels and backed by physarena instead of raw pointers so the
// whole table can be walked under go test.
package sv48

import (
	"corevisor/pkg/addr"
)

// PTEFlags is a bitmask of leaf permission bits, matching spec §3's PteFields:
// {R, W, X, U} plus validity.
type PTEFlags uint64

const (
	FlagValid PTEFlags = 1 << 0
	FlagRead  PTEFlags = 1 << 1
	FlagWrite PTEFlags = 1 << 2
	FlagExec  PTEFlags = 1 << 3
	FlagUser  PTEFlags = 1 << 4
	FlagGlobal PTEFlags = 1 << 5
	FlagAccessed PTEFlags = 1 << 6
	FlagDirty  PTEFlags = 1 << 7
)

// The permission composites spec §4.A/§4.E require an implementer to
// reproduce verbatim.
const (
	SupervisorRW  = FlagValid | FlagRead | FlagWrite
	SupervisorRWX = FlagValid | FlagRead | FlagWrite | FlagExec
	SupervisorR   = FlagValid | FlagRead
	UserR         = FlagValid | FlagRead | FlagUser
	UserRW        = FlagValid | FlagRead | FlagWrite | FlagUser
	UserRX        = FlagValid | FlagRead | FlagExec | FlagUser
)

const (
	ppnShift = 10
	ppnMask  = (uint64(1) << 44) - 1
)

// pte is the raw on-disk (in-arena) representation of one page-table entry.
type pte uint64

func (p pte) HasFlags(f PTEFlags) bool    { return uint64(p)&uint64(f) == uint64(f) }
func (p pte) HasAnyFlag(f PTEFlags) bool  { return uint64(p)&uint64(f) != 0 }
func (p *pte) SetFlags(f PTEFlags)        { *p |= pte(f) }
func (p *pte) ClearFlags(f PTEFlags)      { *p &^= pte(f) }
func (p pte) IsLeaf() bool                { return p.HasFlags(FlagValid) && p.HasAnyFlag(FlagRead|FlagWrite|FlagExec) }
func (p pte) IsPointer() bool             { return p.HasFlags(FlagValid) && !p.HasAnyFlag(FlagRead|FlagWrite|FlagExec) }

// Frame returns the physical frame this entry's PPN field encodes.
func (p pte) Frame() addr.PhysAddr {
	return addr.PhysAddr(((uint64(p) >> ppnShift) & ppnMask) << 12)
}

// SetFrame overwrites the PPN field to point at frame, leaving flag bits
// untouched.
func (p *pte) SetFrame(frame addr.PhysAddr) {
	ppn := (uint64(frame) >> 12) & ppnMask
	*p = pte((uint64(*p) &^ (ppnMask << ppnShift)) | (ppn << ppnShift))
}

