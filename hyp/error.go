// Package hyp holds types shared by every layer of the hypervisor core: the
// error representation returned by fallible operations and the panic path
// used for boot-time invariant violations.
package hyp

// Kind classifies an Error so that callers can branch on failure mode
// without string matching.
type Kind uint8

const (
	// KindUnknown is the zero value and should never be observed outside
	// of a zero-valued Error.
	KindUnknown Kind = iota
	KindIdOverflow
	KindGuestOverflow
	KindInvalidPage
	KindOwnerOverflow
	KindOwnerUnderflow
	KindUnownedPage
	KindReservedPage
	KindOutOfPTEPages
	KindInvalidMapping
	KindElfUnalignedSegment
	KindElfInvalidAddress
	KindUnsupportedSegmentFlags
	KindInvalidSlot
	KindOutOfMap
	KindMapperCreationFailed
	KindUnmapFailed
	KindTaskBusy
	KindUnexpectedTrap
	KindPanic
	KindABIIncompatible
	KindInvalidArgument
)

// Error is the hypervisor core's error type. All fallible core APIs return
// *Error (never the bare error interface) so that callers can inspect Kind
// without a type assertion. Modeled on the teacher's kernel.Error: a small,
// allocation-free value that does not require wrapping or unwrapping chains.
type Error struct {
	// Module names the component that raised the error, e.g. "pagetrack".
	Module string
	// Kind is the machine-checkable failure classification.
	Kind Kind
	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Module + ": " + e.Message
}

// New constructs an *Error. Helper used by every component instead of
// ad-hoc fmt.Errorf so errors stay comparable by Kind.
func New(module string, kind Kind, message string) *Error {
	return &Error{Module: module, Kind: kind, Message: message}
}

// Is reports whether err is a *Error of the given Kind. Intentionally not
// named Is(error) bool on Error itself: callers compare Kind directly, the
// way the source components check returned error variants.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e != nil && e.Kind == kind
}
