package umodeproto

import "testing"

func TestRequestRoundTrip(t *testing.T) {
	cases := []UmodeRequest{
		{Op: OpNop},
		{Op: OpPrintString, Len: 42},
		{Op: OpMemCopy, OutAddr: 0x1000, InAddr: 0x3000, CopyLen: 0x1000},
		{Op: OpGetEvidence, CsrAddr: 1, CsrLen: 2, CertOutAddr: 3, CertOutLen: 4},
	}
	for _, want := range cases {
		got, err := DecodeRequest(EncodeRequest(want))
		if err != nil {
			t.Fatalf("DecodeRequest(Encode(%+v)): %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip = %+v; want %+v", got, want)
		}
	}
}

func TestDecodeRequestRejectsUnknownOp(t *testing.T) {
	if _, err := DecodeRequest(Regs{99}); err == nil {
		t.Fatal("expected error for unknown op tag")
	}
}

func TestHypCallRoundTrip(t *testing.T) {
	cases := []HypCall{
		{Tag: CallPanic},
		{Tag: CallPutChar, Byte: 'A'},
		{Tag: CallNextOp, Result: ErrNone, Payload: 7},
		{Tag: CallNextOp, Result: ErrInvalidArgument},
	}
	for _, want := range cases {
		got, err := DecodeHypCall(EncodeHypCall(want))
		if err != nil {
			t.Fatalf("DecodeHypCall(Encode(%+v)): %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip = %+v; want %+v", got, want)
		}
	}
}

// TestMemCopyOverlapRejection reproduces spec §8 scenario 5.
func TestMemCopyOverlapRejection(t *testing.T) {
	if _, ok := NewMemCopy(0x1000, 0x1800, 0x1000); ok {
		t.Fatal("overlapping memcopy should be rejected")
	}
	req, ok := NewMemCopy(0x1000, 0x3000, 0x1000)
	if !ok {
		t.Fatal("non-overlapping memcopy should be accepted")
	}
	if req.OutAddr != 0x1000 || req.InAddr != 0x3000 || req.CopyLen != 0x1000 {
		t.Fatalf("unexpected request: %+v", req)
	}
}
