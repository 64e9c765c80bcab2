// Package umodeproto implements the register-packed codec for the two
// message families that cross the U-mode privilege boundary (spec §4.H):
// UmodeRequest (hypervisor → U-mode, a0..a7) and HypCall (U-mode →
// hypervisor, a0..a7 with the tag in a7). Both are plain fixed-width
// encodings over an 8-register window — no framing, no length prefix — the
// same register-passing convention the RISC-V SBI ecall ABI uses.
package umodeproto

import "corevisor/hyp"

// Regs is the raw 8-register a0..a7 window shared by both message
// directions.
type Regs [8]uint64

// RequestOp is the hypervisor-to-U-mode request op tag (a0).
type RequestOp uint64

const (
	OpNop RequestOp = iota + 1
	OpPrintString
	OpMemCopy
	OpGetEvidence
)

// UmodeRequest is a decoded hypervisor → U-mode request. Only the fields
// relevant to Op are meaningful; EncodeRequest writes zero into the rest.
type UmodeRequest struct {
	Op RequestOp

	// PrintString
	Len uint64

	// MemCopy
	OutAddr, InAddr, CopyLen uint64

	// GetEvidence
	CsrAddr, CsrLen, CertOutAddr, CertOutLen uint64
}

// EncodeRequest packs r into the a0..a7 register window.
func EncodeRequest(r UmodeRequest) Regs {
	var regs Regs
	regs[0] = uint64(r.Op)
	switch r.Op {
	case OpPrintString:
		regs[1] = r.Len
	case OpMemCopy:
		regs[1], regs[2], regs[3] = r.OutAddr, r.InAddr, r.CopyLen
	case OpGetEvidence:
		regs[1], regs[2], regs[3], regs[4] = r.CsrAddr, r.CsrLen, r.CertOutAddr, r.CertOutLen
	}
	return regs
}

// DecodeRequest unpacks an a0..a7 register window into a UmodeRequest,
// failing KindInvalidArgument on an unrecognized op tag.
func DecodeRequest(regs Regs) (UmodeRequest, *hyp.Error) {
	switch RequestOp(regs[0]) {
	case OpNop:
		return UmodeRequest{Op: OpNop}, nil
	case OpPrintString:
		return UmodeRequest{Op: OpPrintString, Len: regs[1]}, nil
	case OpMemCopy:
		return UmodeRequest{Op: OpMemCopy, OutAddr: regs[1], InAddr: regs[2], CopyLen: regs[3]}, nil
	case OpGetEvidence:
		return UmodeRequest{Op: OpGetEvidence, CsrAddr: regs[1], CsrLen: regs[2], CertOutAddr: regs[3], CertOutLen: regs[4]}, nil
	default:
		return UmodeRequest{}, hyp.New("umodeproto", hyp.KindInvalidArgument, "unknown UmodeRequest op tag")
	}
}

// NewMemCopy builds an OpMemCopy request, rejecting it (returning ok=false)
// if the source and destination ranges overlap (spec §4.H/§8 scenario 5).
func NewMemCopy(out, in, length uint64) (UmodeRequest, bool) {
	if rangesOverlap(out, in, length) {
		return UmodeRequest{}, false
	}
	return UmodeRequest{Op: OpMemCopy, OutAddr: out, InAddr: in, CopyLen: length}, true
}

func rangesOverlap(a, b, length uint64) bool {
	if length == 0 {
		return false
	}
	aEnd, bEnd := a+length, b+length
	return a < bEnd && b < aEnd
}

// HypCallTag is the U-mode-to-hypervisor call tag (a7).
type HypCallTag uint64

const (
	CallPanic HypCallTag = iota
	CallPutChar
	CallNextOp
)

// ErrorCode is the NextOp result code returned in a0 (0 = success).
type ErrorCode uint64

const (
	ErrNone ErrorCode = iota
	ErrFailed
	ErrInvalidArgument
	ErrEcallNotSupported
	ErrRequestNotSupported
)

// HypCall is a decoded U-mode → hypervisor call.
type HypCall struct {
	Tag HypCallTag

	// PutChar
	Byte byte

	// NextOp
	Result  ErrorCode
	Payload uint64
}

// EncodeHypCall packs c into the a0..a7 register window, with the tag in a7
// per spec §4.H.
func EncodeHypCall(c HypCall) Regs {
	var regs Regs
	regs[7] = uint64(c.Tag)
	switch c.Tag {
	case CallPutChar:
		regs[0] = uint64(c.Byte)
	case CallNextOp:
		regs[0] = uint64(c.Result)
		regs[1] = c.Payload
	}
	return regs
}

// DecodeHypCall unpacks an a0..a7 register window into a HypCall, failing
// KindInvalidArgument on an unrecognized tag.
func DecodeHypCall(regs Regs) (HypCall, *hyp.Error) {
	switch HypCallTag(regs[7]) {
	case CallPanic:
		return HypCall{Tag: CallPanic}, nil
	case CallPutChar:
		return HypCall{Tag: CallPutChar, Byte: byte(regs[0])}, nil
	case CallNextOp:
		return HypCall{Tag: CallNextOp, Result: ErrorCode(regs[0]), Payload: regs[1]}, nil
	default:
		return HypCall{}, hyp.New("umodeproto", hyp.KindInvalidArgument, "unknown HypCall tag")
	}
}
