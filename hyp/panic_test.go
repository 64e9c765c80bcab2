package hyp

import (
	"bytes"
	"strings"
	"testing"

	"corevisor/hyp/hyplog"
)

func TestPanic(t *testing.T) {
	defer SetHaltFunc(nil)
	defer hyplog.Log.SetOutput(hyplog.Log.Out)

	var buf bytes.Buffer
	hyplog.Log.SetOutput(&buf)

	var haltCalled bool
	SetHaltFunc(func() { haltCalled = true })

	Panic(New("test", KindUnexpectedTrap, "panic test"))

	if !haltCalled {
		t.Fatal("expected halt function to be called by Panic")
	}
	if got := buf.String(); !strings.Contains(got, "panic test") {
		t.Fatalf("expected panic log to mention the error message; got %q", got)
	}
}

func TestPanicWithoutError(t *testing.T) {
	defer SetHaltFunc(nil)

	var haltCalled bool
	SetHaltFunc(func() { haltCalled = true })

	Panic(nil)

	if !haltCalled {
		t.Fatal("expected halt function to be called by Panic")
	}
}
