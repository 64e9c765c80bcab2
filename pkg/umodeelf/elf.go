// Package umodeelf adapts a RISC-V 64 U-mode ELF binary into the
// UmodeSegment iterator hypmap.New consumes (spec §4.E/§6). ELF parsing
// itself is an explicit non-goal of the core, so this is a thin validating
// wrapper over the standard library's debug/elf rather than a hand-rolled
// parser — the one package in this module where reaching for stdlib instead
// of a pack dependency is the correct call, since no example repo in the
// pack ships a RISC-V ELF loader and debug/elf already does the job.
package umodeelf

import (
	"debug/elf"
	"io"
	"iter"

	"corevisor/hyp"
	"corevisor/pkg/addr"
)

// Perm is the ELF-segment permission triple spec §4.E maps PT_LOAD flags to.
type Perm uint8

const (
	PermR Perm = iota
	PermRW
	PermRX
)

// String implements fmt.Stringer for log messages.
func (p Perm) String() string {
	switch p {
	case PermR:
		return "R"
	case PermRW:
		return "RW"
	case PermRX:
		return "RX"
	default:
		return "?"
	}
}

// UmodeSegment is one validated PT_LOAD segment: its target virtual address,
// declared size (which may exceed len(Data) — the remainder is BSS, zeroed
// by hypmap when the segment is materialized), and permission.
type UmodeSegment struct {
	VAddr addr.VirtAddr
	Size  addr.Size
	Perm  Perm
	Data  []byte
}

// maxSegments bounds how many PT_LOAD headers a single U-mode binary may
// declare (spec §8 scenario 3's fixtures use two; spec.md's PrivateRegion[]
// is bounded at 32, but a well-formed U-mode image needs far fewer).
const maxSegments = 8

// Segments validates the ELF header (64-bit, little-endian, version 1,
// EM_RISCV) and returns an iterator over its PT_LOAD segments, converted to
// UmodeSegment with PF_R/PF_R|PF_W/PF_R|PF_X mapped to {R, RW, RX}. Any
// other PT_LOAD flag combination fails KindUnsupportedSegmentFlags.
func Segments(r io.ReaderAt) (iter.Seq[UmodeSegment], error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}

	if f.Class != elf.ELFCLASS64 {
		return nil, hyp.New("umodeelf", hyp.KindElfInvalidAddress, "U-mode ELF must be 64-bit")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, hyp.New("umodeelf", hyp.KindElfInvalidAddress, "U-mode ELF must be little-endian")
	}
	if f.Version != elf.EV_CURRENT {
		return nil, hyp.New("umodeelf", hyp.KindElfInvalidAddress, "unsupported ELF version")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, hyp.New("umodeelf", hyp.KindElfInvalidAddress, "U-mode ELF must target EM_RISCV")
	}

	var loads []*elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	if len(loads) == 0 {
		return nil, hyp.New("umodeelf", hyp.KindElfInvalidAddress, "U-mode ELF has no PT_LOAD segments")
	}
	if len(loads) > maxSegments {
		return nil, hyp.New("umodeelf", hyp.KindElfInvalidAddress, "U-mode ELF declares too many PT_LOAD segments")
	}

	segs := make([]UmodeSegment, 0, len(loads))
	for _, p := range loads {
		perm, err := permFor(p.Flags)
		if err != nil {
			return nil, err
		}

		data := make([]byte, p.Filesz)
		if p.Filesz > 0 {
			if _, err := p.ReadAt(data, 0); err != nil && err != io.EOF {
				return nil, hyp.New("umodeelf", hyp.KindElfInvalidAddress, "failed reading segment contents: "+err.Error())
			}
		}

		segs = append(segs, UmodeSegment{
			VAddr: addr.VirtAddr(p.Vaddr),
			Size:  addr.Size(p.Memsz),
			Perm:  perm,
			Data:  data,
		})
	}

	return func(yield func(UmodeSegment) bool) {
		for _, s := range segs {
			if !yield(s) {
				return
			}
		}
	}, nil
}

func permFor(flags elf.ProgFlag) (Perm, *hyp.Error) {
	switch flags & (elf.PF_R | elf.PF_W | elf.PF_X) {
	case elf.PF_R:
		return PermR, nil
	case elf.PF_R | elf.PF_W:
		return PermRW, nil
	case elf.PF_R | elf.PF_X:
		return PermRX, nil
	default:
		return 0, hyp.New("umodeelf", hyp.KindUnsupportedSegmentFlags, "PT_LOAD segment has an unsupported flag combination")
	}
}
