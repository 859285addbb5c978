package vmm

import (
	"vesper/kernel/mem"
)

// Flags is the architecture-specific control bit set of a page-table entry.
// The concrete bit assignments live in the per-architecture flags files; the
// composites used by this package (TableFlags, PageFlags, HugePageFlags
// and the installing bit) are defined alongside them.
type Flags uint64

// Contains returns true if every bit of mask is set.
func (f Flags) Contains(mask Flags) bool { return f&mask == mask }

// Intersects returns true if any bit of mask is set.
func (f Flags) Intersects(mask Flags) bool { return f&mask != 0 }

// Translation classifies what a page-table entry points at.
type Translation uint8

const (
	// TranslationNone marks an entry that maps nothing.
	TranslationNone Translation = iota

	// TranslationTable marks an entry pointing to the next-level table.
	TranslationTable

	// TranslationPage marks an entry that terminates the walk, mapping a
	// block of memory directly.
	TranslationPage
)

// Entry is one page-table entry: the 4KiB-aligned physical address of the
// next table or mapped block, OR'd with the architecture's control flags.
// The zero entry is unused and ignored by the MMU on every architecture.
type Entry uint64

// NewEntry packs a physical address and flags into an entry. The address
// must be 4KiB aligned; the low bits hold the flags.
func NewEntry(addr mem.PhysAddr, flags Flags) Entry {
	if !addr.IsAligned(mem.Size4KiB.Bytes()) {
		panic("vmm: page table entry address is not page aligned")
	}

	return Entry(uint64(addr) | uint64(flags))
}

// IsUnused returns true for the zero entry.
func (e Entry) IsUnused() bool { return e == 0 }

// Flags returns the entry's control bits.
func (e Entry) Flags() Flags { return Flags(e) & flagsMask }

// Addr returns the physical address stored in the entry, extracted with the
// mask published by the architecture probe.
func (e Entry) Addr() mem.PhysAddr {
	return mem.UnsafePhysAddr(uint64(e) & mem.GetInfo().EntryAddressMask)
}

// Translate classifies the entry and returns the address it points at. The
// address is meaningful for TranslationTable and TranslationPage only.
func (e Entry) Translate() (mem.PhysAddr, Translation) {
	flags := e.Flags()
	if !flags.Contains(FlagValid) {
		return 0, TranslationNone
	}

	if e.isLeaf() {
		return e.Addr(), TranslationPage
	}

	return e.Addr(), TranslationTable
}
