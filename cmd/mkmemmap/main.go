// Command mkmemmap reads a TOML memory-map fixture, validates it through
// memmap.Builder, and prints the finalized region list. Dev tooling used to
// sanity-check fixtures used by the test suite and by anyone wiring a new
// board's memory map — this repo's equivalent of the teacher's
// tools/makelogo and tools/redirects.
package main

import (
	"fmt"
	"os"

	"corevisor/hyp/hyplog"
	"corevisor/internal/config"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <memmap.toml>\n", os.Args[0])
		os.Exit(2)
	}

	mm, err := config.Load(os.Args[1])
	if err != nil {
		hyplog.WithModule("mkmemmap").WithField("path", os.Args[1]).Fatal(err)
	}

	for _, r := range mm.Regions() {
		fmt.Printf("%#018x  %#012x  %s\n", r.Base, r.Size, r.Type)
	}
	fmt.Printf("total available: %#x bytes\n", mm.TotalAvailable())
}
