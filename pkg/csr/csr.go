// Package csr models the RISC-V control-and-status registers the core
// touches: satp, sstatus, sepc, scause, stval, stvec, sscratch and sie (see
// spec §6). It is pure bit manipulation — no privileged instructions are
// issued from Go — so it can be exercised directly by go test the same way
// the teacher's pageTableEntry flag helpers are (kernel/mem/vmm/pte_test.go).
package csr

// SatpMode selects the first-stage address translation mode encoded in the
// top 4 bits of satp.
type SatpMode uint64

// Sv48 is the only mode this core encodes; spec §1 fixes Sv48 paging.
const Sv48 SatpMode = 9

const (
	satpModeShift = 60
	satpAsidShift = 44
	satpAsidMask  = 0xFFFF
	satpPPNMask   = (uint64(1) << 44) - 1
)

// EncodeSATP packs a page-table root physical frame number, an ASID, and the
// Sv48 mode tag into the SATP CSR encoding (RISC-V privileged spec §4.4).
func EncodeSATP(mode SatpMode, asid uint16, rootPPN uint64) uint64 {
	return (uint64(mode) << satpModeShift) |
		((uint64(asid) & satpAsidMask) << satpAsidShift) |
		(rootPPN & satpPPNMask)
}

// DecodeSATP splits an encoded SATP value back into its fields. Used by
// tests to assert the round trip and by diagnostics code.
func DecodeSATP(satp uint64) (mode SatpMode, asid uint16, rootPPN uint64) {
	mode = SatpMode(satp >> satpModeShift)
	asid = uint16((satp >> satpAsidShift) & satpAsidMask)
	rootPPN = satp & satpPPNMask
	return
}

// SSTATUS bit positions the core cares about. Only a handful of bits in the
// full CSR are modeled; the rest pass through untouched.
const (
	sstatusSIEBit  = 1 << 1
	sstatusSPIEBit = 1 << 5
	sstatusSPPBit  = 1 << 8
	sstatusSUMBit  = 1 << 18
)

// SSTATUS is a thin bitfield view over the sstatus CSR value.
type SSTATUS uint64

// SIE reports the supervisor interrupt-enable bit.
func (s SSTATUS) SIE() bool { return s&sstatusSIEBit != 0 }

// SetSIE sets or clears the supervisor interrupt-enable bit.
func (s SSTATUS) SetSIE(v bool) SSTATUS { return setBit(s, sstatusSIEBit, v) }

// SPIE reports the supervisor previous interrupt-enable bit.
func (s SSTATUS) SPIE() bool { return s&sstatusSPIEBit != 0 }

// SetSPIE sets or clears the supervisor previous interrupt-enable bit.
func (s SSTATUS) SetSPIE(v bool) SSTATUS { return setBit(s, sstatusSPIEBit, v) }

// SPP reports the supervisor previous privilege bit. SPP=0 means the
// previous (and, after sret, the resumed) privilege level is U-mode — the
// ABI contract spec §6 requires for U-mode's first entry.
func (s SSTATUS) SPP() bool { return s&sstatusSPPBit != 0 }

// SetSPP sets or clears the supervisor previous privilege bit.
func (s SSTATUS) SetSPP(v bool) SSTATUS { return setBit(s, sstatusSPPBit, v) }

// SUM reports the supervisor-user-memory-access bit. When true, supervisor
// loads/stores may target user-permission pages. Per spec §5/§9 the reset
// routine is the only hypervisor code allowed to set this bit.
func (s SSTATUS) SUM() bool { return s&sstatusSUMBit != 0 }

// SetSUM sets or clears the SUM bit.
func (s SSTATUS) SetSUM(v bool) SSTATUS { return setBit(s, sstatusSUMBit, v) }

func setBit(s SSTATUS, bit uint64, v bool) SSTATUS {
	if v {
		return SSTATUS(uint64(s) | bit)
	}
	return SSTATUS(uint64(s) &^ bit)
}

// Exception is the low bits of scause for synchronous traps (scause's MSB,
// the interrupt bit, is assumed clear for all exceptions this core handles).
type Exception uint64

// UserEnvCall is the only exception the core's U-mode dispatch loop expects
// to see in steady state (spec §4.G step 4); anything else is fatal to the
// task instance.
const UserEnvCall Exception = 8

// File is the per-CPU register file the core reads and writes across the
// U-mode privilege transition. It stands in for the real CSRs; sv48,
// umodetask and percpu all operate through a *File rather than asm
// instructions so the whole dispatch loop is host-testable.
type File struct {
	SATP    uint64
	SSTATUS SSTATUS
	SEPC    uint64
	SCAUSE  uint64
	STVAL   uint64
	STVEC   uint64
	SSCRATCH uint64
	SIE     uint64
}
