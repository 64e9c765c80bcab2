// Package hypmap produces, once per CPU at boot, the per-CPU Sv48 page
// table carrying the shared supervisor identity region and the private
// U-mode region (spec §4.E). It owns the fixed U-mode virtual address
// layout and the region-to-permission table every implementer must
// reproduce verbatim.
package hypmap

import "corevisor/pkg/addr"

// Fixed, bit-exact U-mode VA layout (spec §3).
const (
	UmodeVAStart addr.VirtAddr = 0xFFFFFFFF_00000000
	UmodeVASize  addr.Size     = 128 * addr.MiB
	UmodeVAEnd                 = UmodeVAStart + addr.VirtAddr(UmodeVASize)

	UmodeMappingsStart    = UmodeVAEnd + addr.VirtAddr(4*addr.MiB)
	UmodeMappingSlotSize  addr.Size = 4 * addr.MiB
	UmodeMappingSlots     int       = 2
)

// IsValidUmodeRange reports whether [vaddr, vaddr+size) lies entirely
// within the private U-mode VA window.
func IsValidUmodeRange(vaddr addr.VirtAddr, size addr.Size) bool {
	if size == 0 {
		return false
	}
	end := vaddr + addr.VirtAddr(size)
	return vaddr >= UmodeVAStart && end <= UmodeVAEnd && end > vaddr
}

// maxRegions bounds SharedRegion[] and PrivateRegion[] independently, per
// spec §4.E.
const maxRegions = 32
