package hyp

import (
	"os"

	"corevisor/hyp/hyplog"
)

var (
	// haltFn is invoked after a panic has been logged. The default exits the
	// process; tests substitute a function that returns so that a call to
	// Panic does not tear down the process.
	haltFn = defaultHalt

	errRuntimePanic = &Error{Module: "rt", Kind: KindPanic, Message: "unknown cause"}
)

func defaultHalt() { os.Exit(1) }

// SetHaltFunc overrides the function invoked once a fatal error has been
// logged; nil restores the default, which exits the process. It exists so
// that Panic never has to know whether it is running under go test or on
// real hardware.
func SetHaltFunc(fn func()) {
	if fn == nil {
		fn = defaultHalt
	}
	haltFn = fn
}

// Panic logs the supplied error (if any) and halts. Calls to Panic are
// reserved for boot-time invariants whose violation implies a corrupt build
// or firmware handoff — see spec §7. With the default halt function Panic
// never returns; it returns only if a substituted halt function does.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	case nil:
	default:
		errRuntimePanic.Message = "unrecognized panic value"
		err = errRuntimePanic
	}

	hyplog.Log.Error("-----------------------------------")
	if err != nil {
		hyplog.Log.Errorf("[%s] unrecoverable error: %s", err.Module, err.Message)
	}
	hyplog.Log.Error("*** hypervisor panic: system halted ***")
	hyplog.Log.Error("-----------------------------------")

	haltFn()
}
