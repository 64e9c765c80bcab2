package config

import (
	"os"
	"testing"

	"corevisor/pkg/addr"
	"corevisor/pkg/memmap"
)

func TestLoadDecodesFixture(t *testing.T) {
	mm, err := Load("testdata/memmap.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	regions := mm.Regions()
	if len(regions) != 3 {
		t.Fatalf("got %d regions, want 3", len(regions))
	}
	if regions[0].Base != 0x80000000 || regions[0].Type != memmap.HypervisorImage {
		t.Fatalf("region 0 = %+v; want HypervisorImage @ 0x80000000", regions[0])
	}
	if got, want := mm.TotalAvailable(), addr.Size(0x4000000); got != want {
		t.Fatalf("TotalAvailable() = %d; want %d", got, want)
	}
}

func TestLoadRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.toml"
	if err := os.WriteFile(path, []byte("[[region]]\nbase = 0\nsize = 0x1000\ntype = \"bogus\"\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown region type")
	}
}
