package mem

import (
	"vesper/kernel/sync"
)

// Info describes the memory model of the MMU this kernel is running on. It
// is probed by the architecture bring-up code and published exactly once
// before any address is constructed.
type Info struct {
	// VirtualAddressBits is the number of implemented virtual address
	// bits; all higher bits must be sign extensions of the highest
	// implemented bit.
	VirtualAddressBits uint64

	// PhysicalAddressBits is the number of implemented physical address
	// bits; all higher bits must be zero.
	PhysicalAddressBits uint64

	// EntryAddressMask extracts the child address from a page-table entry.
	EntryAddressMask uint64

	// HighestTableLevel is the depth of the page-table tree (4 or 5).
	HighestTableLevel uint8
}

var infoCell sync.Cell[Info]

// SetInfo publishes the probed memory-model parameters. It must be called
// exactly once, before any other function in this module; a second call or
// structurally impossible parameters indicate a corrupted boot handoff and
// panic.
func SetInfo(info Info) {
	if info.VirtualAddressBits != 48 && info.VirtualAddressBits != 57 {
		panic("mem: unsupported virtual address width")
	}

	if info.HighestTableLevel != 4 && info.HighestTableLevel != 5 {
		panic("mem: unsupported page table depth")
	}

	if info.PhysicalAddressBits == 0 || info.PhysicalAddressBits > 52 || info.EntryAddressMask == 0 {
		panic("mem: malformed physical memory parameters")
	}

	if !infoCell.Set(info) {
		panic("mem: memory info published twice")
	}
}

// GetInfo returns the published memory-model parameters. Calling it before
// SetInfo is a precondition violation.
func GetInfo() Info {
	info, ok := infoCell.Get()
	if !ok {
		panic("mem: memory info read before boot published it")
	}

	return info
}

// InfoPublished reports whether the memory-model parameters are available.
func InfoPublished() bool {
	return infoCell.IsSet()
}
