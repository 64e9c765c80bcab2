// Package hyplog provides the hypervisor core's structured logging sink.
//
// The teacher kernel (gopher-os) needed a hand-rolled, allocation-free
// Printf (kernel/kfmt/early) because it ran before the Go runtime's
// allocator was available. This module is built and tested as an ordinary
// hosted Go module — there is no pre-allocator boot stage to protect
// against — so the equivalent concern (structured, leveled boot/runtime
// logging) is carried by logrus instead of a bespoke formatter.
package hyplog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the hypervisor-wide logger. Components log through it rather than
// the package-level logrus functions so that a single SetOutput, SetLevel or
// SetFormatter call on Log retargets every subsystem at once (tests redirect
// it to a buffer).
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetLevel(logrus.InfoLevel)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   false,
		DisableColors:   false,
		DisableSorting:  true,
		TimestampFormat: "15:04:05.000",
	})
}

// WithModule returns an entry pre-tagged with the emitting component's name,
// mirroring the "[module] message" prefix style of the teacher's early.Printf
// call sites.
func WithModule(module string) *logrus.Entry {
	return Log.WithField("module", module)
}
