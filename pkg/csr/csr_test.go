package csr

import "testing"

func TestSATPRoundTrip(t *testing.T) {
	specs := []struct {
		mode    SatpMode
		asid    uint16
		rootPPN uint64
	}{
		{Sv48, 0, 0},
		{Sv48, 7, 0x1234},
		{Sv48, 0xFFFF, (uint64(1) << 44) - 1},
	}

	for _, spec := range specs {
		encoded := EncodeSATP(spec.mode, spec.asid, spec.rootPPN)
		mode, asid, ppn := DecodeSATP(encoded)
		if mode != spec.mode || asid != spec.asid || ppn != spec.rootPPN {
			t.Fatalf("round trip mismatch: got (%v,%v,%v); want (%v,%v,%v)",
				mode, asid, ppn, spec.mode, spec.asid, spec.rootPPN)
		}
	}
}

func TestSSTATUSBits(t *testing.T) {
	var s SSTATUS

	if s.SUM() || s.SPP() || s.SIE() || s.SPIE() {
		t.Fatalf("zero-value SSTATUS should have no bits set")
	}

	s = s.SetSUM(true)
	if !s.SUM() {
		t.Fatalf("expected SUM to be set")
	}

	s = s.SetSPP(false)
	if s.SPP() {
		t.Fatalf("expected SPP to be clear")
	}
	if !s.SUM() {
		t.Fatalf("SetSPP should not disturb SUM")
	}

	s = s.SetSUM(false)
	if s.SUM() {
		t.Fatalf("expected SUM to be clear after SetSUM(false)")
	}
}
