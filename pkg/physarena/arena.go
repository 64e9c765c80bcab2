// Package physarena simulates the hypervisor's physical address space so
// that the rest of the core can run under `go test` instead of on bare
// RISC-V hardware. Every page-table read and leaf write, every write into a
// frame hypmap takes from the bootstrap allocator, and every U-mode reset in
// this module goes through an *Arena instead of a raw pointer. The PageMap
// itself is an ordinary Go slice and does not live in an Arena.
//
// Grounded on kernel/mem/memset.go's API shape (Memset/Memcopy operate on
// page-sized regions) and on the common pattern (gvisor's platform layer,
// among others in the pack) of backing guest/simulated physical memory with
// a single large anonymous mmap region.
package physarena

import (
	"fmt"

	"golang.org/x/sys/unix"

	"corevisor/pkg/addr"
)

// Arena is a page-aligned, mmap-backed byte range standing in for the
// machine's physical RAM.
type Arena struct {
	base addr.PhysAddr
	mem  []byte
}

// New reserves a page-aligned anonymous mapping of the given size and
// returns an Arena addressed starting at base. base is purely a labeling
// convention — the backing store is always host memory — so tests can
// construct arenas that start at an arbitrary "physical" base matching a
// MemoryMap fixture.
func New(base addr.PhysAddr, size addr.Size) (*Arena, error) {
	if size == 0 || uint64(size)%uint64(addr.Size4k.Bytes()) != 0 {
		return nil, fmt.Errorf("physarena: size %d is not a non-zero multiple of the page size", size)
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("physarena: mmap %d bytes: %w", size, err)
	}

	return &Arena{base: base, mem: mem}, nil
}

// Close unmaps the backing memory. Safe to call once; the arena must not be
// used afterwards.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Base returns the physical address the arena begins at.
func (a *Arena) Base() addr.PhysAddr { return a.base }

// Size returns the arena's total byte size.
func (a *Arena) Size() addr.Size { return addr.Size(len(a.mem)) }

// Contains reports whether [phys, phys+n) lies entirely within the arena.
func (a *Arena) Contains(phys addr.PhysAddr, n addr.Size) bool {
	if phys < a.base {
		return false
	}
	off := uint64(phys - a.base)
	return off+uint64(n) <= uint64(len(a.mem))
}

// Slice returns a byte slice viewing [phys, phys+n) of simulated physical
// memory. The returned slice aliases the arena; callers must not retain it
// past the arena's lifetime.
func (a *Arena) Slice(phys addr.PhysAddr, n addr.Size) ([]byte, error) {
	if !a.Contains(phys, n) {
		return nil, fmt.Errorf("physarena: [0x%x, 0x%x) out of range", phys, uint64(phys)+uint64(n))
	}
	off := uint64(phys - a.base)
	return a.mem[off : off+uint64(n)], nil
}

// Memset fills n bytes starting at phys with value, mirroring
// kernel/mem/memset.go's signature (adapted to a bounds-checked slice
// instead of an unsafe.Pointer overlay, since physarena always has a real
// Go slice backing it).
func (a *Arena) Memset(phys addr.PhysAddr, value byte, n addr.Size) error {
	dst, err := a.Slice(phys, n)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = value
	}
	return nil
}

// Memcopy copies n bytes from src to dst within the arena. The caller is
// responsible for ensuring the ranges do not overlap (see
// umodeproto.NewMemCopy's overlap precondition).
func (a *Arena) Memcopy(dst, src addr.PhysAddr, n addr.Size) error {
	dstSlice, err := a.Slice(dst, n)
	if err != nil {
		return err
	}
	srcSlice, err := a.Slice(src, n)
	if err != nil {
		return err
	}
	copy(dstSlice, srcSlice)
	return nil
}

// WriteAt copies data into the arena starting at phys, up to len(data)
// bytes, used when materializing ELF segment contents into freshly
// allocated private-region frames (spec §4.E).
func (a *Arena) WriteAt(phys addr.PhysAddr, data []byte) error {
	dst, err := a.Slice(phys, addr.Size(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}
