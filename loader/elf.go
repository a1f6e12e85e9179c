// Package loader reads statically linked RV64 ELF executables for the
// functional emulator.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/bebop/emu"
)

// ErrNotRISCV is returned for an ELF built for another machine.
var ErrNotRISCV = errors.New("not a RISC-V ELF file")

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is where the stack starts when the caller does not pick
// one. It sits well above any address a small test program links to.
const DefaultStackTop = 0x7ffffffff000

// Segment is one PT_LOAD segment.
type Segment struct {
	VirtAddr uint64
	Data     []byte

	// MemSize may exceed len(Data); the rest is zero-filled.
	MemSize uint64
	Flags   SegmentFlags
}

// Program is a parsed executable.
type Program struct {
	EntryPoint uint64
	Segments   []Segment
	InitialSP  uint64
}

// Load opens and parses the ELF file at path.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse reads a 64-bit RISC-V ELF image from r.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file (class: %v)", f.Class)
	}

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w (machine type: %v)", ErrNotRISCV, f.Machine)
	}

	prog := &Program{
		EntryPoint: f.Entry,
		InitialSP:  DefaultStackTop,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		seg, err := readSegment(phdr)
		if err != nil {
			return nil, err
		}

		prog.Segments = append(prog.Segments, seg)
	}

	return prog, nil
}

func readSegment(phdr *elf.Prog) (Segment, error) {
	if phdr.Memsz < phdr.Filesz {
		return Segment{}, fmt.Errorf(
			"segment at 0x%x has memsz 0x%x smaller than filesz 0x%x",
			phdr.Vaddr, phdr.Memsz, phdr.Filesz)
	}

	data := make([]byte, phdr.Filesz)
	if phdr.Filesz > 0 {
		n, err := phdr.ReadAt(data, 0)
		if err != nil && err != io.EOF {
			return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
		}
		if uint64(n) != phdr.Filesz {
			return Segment{}, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
				phdr.Vaddr, n, phdr.Filesz)
		}
	}

	var flags SegmentFlags
	if phdr.Flags&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if phdr.Flags&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if phdr.Flags&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}

	return Segment{
		VirtAddr: phdr.Vaddr,
		Data:     data,
		MemSize:  phdr.Memsz,
		Flags:    flags,
	}, nil
}

// LoadInto copies every segment into m, zero-filling the part of each
// segment that is not backed by the file.
func (p *Program) LoadInto(m *emu.Memory) {
	for _, seg := range p.Segments {
		m.LoadProgram(seg.VirtAddr, seg.Data)

		filled := uint64(len(seg.Data))
		if seg.MemSize > filled {
			m.LoadProgram(seg.VirtAddr+filled, make([]byte, seg.MemSize-filled))
		}
	}
}

// NewEmulator loads p into m and returns an emulator on m ready to run it
// from the entry point.
func (p *Program) NewEmulator(m *emu.Memory, opts ...emu.EmulatorOption) *emu.Emulator {
	p.LoadInto(m)

	opts = append([]emu.EmulatorOption{
		emu.WithMemory(m),
		emu.WithStackPointer(p.InitialSP),
	}, opts...)

	e := emu.NewEmulator(opts...)
	e.RegFile().PC = p.EntryPoint

	return e
}
