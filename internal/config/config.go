// Package config loads TOML memory-map fixtures used by the test suite and
// by cmd/mkmemmap, the way the teacher's tools read small data files rather
// than hand-writing Go literals for every board layout.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"corevisor/pkg/addr"
	"corevisor/pkg/memmap"
)

// RegionFixture is one TOML-decodable {base, size, type} entry.
type RegionFixture struct {
	Base uint64 `toml:"base"`
	Size uint64 `toml:"size"`
	Type string `toml:"type"`
}

// MemMap is a TOML-decodable memory-map fixture: an ordered list of region
// fixtures.
type MemMap struct {
	Regions []RegionFixture `toml:"region"`
}

var regionTypes = map[string]memmap.RegionType{
	"available":         memmap.Available,
	"hypervisor_image":  memmap.HypervisorImage,
	"host_kernel":       memmap.HostKernel,
	"host_initramfs":    memmap.HostInitramfs,
	"page_map":          memmap.PageMapRegion,
	"hypervisor_heap":   memmap.HypervisorHeap,
	"per_cpu":           memmap.PerCpuRegion,
	"firmware_reserved": memmap.FirmwareReserved,
	"mmio":              memmap.Mmio,
}

// Load decodes the TOML fixture at path and builds it into a finalized
// memmap.MemoryMap through memmap.Builder, so a malformed fixture is caught
// by the same validation (alignment, overlap) real boot regions are.
func Load(path string) (memmap.MemoryMap, error) {
	var fixture MemMap
	if _, err := toml.DecodeFile(path, &fixture); err != nil {
		return memmap.MemoryMap{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	b := memmap.NewBuilder()
	for i, r := range fixture.Regions {
		typ, ok := regionTypes[r.Type]
		if !ok {
			return memmap.MemoryMap{}, fmt.Errorf("config: region %d: unknown type %q", i, r.Type)
		}
		if err := b.AddRegion(addr.PhysAddr(r.Base), addr.Size(r.Size), typ); err != nil {
			return memmap.MemoryMap{}, fmt.Errorf("config: region %d: %w", i, err)
		}
	}

	return b.Build(), nil
}
