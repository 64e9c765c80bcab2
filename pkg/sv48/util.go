package sv48

import (
	"unsafe"

	"corevisor/pkg/csr"
)

// asPTESlice overlays a table-sized byte slice as 512 page table entries.
// Every table frame physarena hands back is exactly one 4 KiB page, so this
// always yields entriesPerTable entries; out-of-bounds indices are a
// programming error the caller (vpn's 9-bit mask) cannot produce.
func asPTESlice(buf []byte) []pte {
	return unsafe.Slice((*pte)(unsafe.Pointer(&buf[0])), entriesPerTable)
}

// encodeSATP packs root (a frame-aligned physical address) into the Sv48
// SATP encoding with ASID 0 (this core does not use ASIDs — every PageTable
// is swapped via a full SFENCE.VMA rather than ASID-tagged retention).
func encodeSATP(root uint64) uint64 {
	return csr.EncodeSATP(csr.Sv48, 0, root>>12)
}
