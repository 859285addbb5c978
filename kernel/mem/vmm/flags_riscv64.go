//go:build riscv64

package vmm

// Page-table entry control bits for the RISC-V Sv48/Sv57 format. READ, WRITE
// and EXECUTE double as the leaf marker: an entry with none of them set
// points to the next-level table, any of them terminates the walk. WRITE
// without READ is reserved.
const (
	// FlagValid must be set for the MMU to honor the entry.
	FlagValid Flags = 1 << 0

	// FlagRead allows reads from the mapped region.
	FlagRead Flags = 1 << 1

	// FlagWrite allows writes to the mapped region.
	FlagWrite Flags = 1 << 2

	// FlagExecute allows instruction fetches from the mapped region.
	FlagExecute Flags = 1 << 3

	// FlagUser allows access from user mode.
	FlagUser Flags = 1 << 4

	// FlagGlobal keeps the mapping cached across address-space switches.
	FlagGlobal Flags = 1 << 5

	// FlagAccessed is set by the processor on a read through the entry.
	FlagAccessed Flags = 1 << 6

	// FlagDirty is set by the processor on a write through the entry.
	FlagDirty Flags = 1 << 7
)

// flagInstalling is the ignored bit used by LockedEntry to mark an entry
// whose real value is about to be stored. Bits 8 and 9 are the
// software-available RSW field.
const flagInstalling Flags = 1 << 9

// flagsMask selects the bits of an entry that carry flags rather than the
// child address.
const flagsMask Flags = 0x3ff

// Flag composites used when building kernel mappings.
const (
	// TableFlags decorates entries pointing to an intermediate table.
	TableFlags = FlagValid

	// PageFlags decorates 4KiB leaf entries.
	PageFlags = FlagValid | FlagRead | FlagWrite

	// HugePageFlags decorates the larger leaf entries.
	HugePageFlags = FlagValid | FlagRead | FlagWrite
)

// isLeaf returns true if a valid entry terminates the walk instead of
// pointing to the next-level table.
func (e Entry) isLeaf() bool {
	return e.Flags().Intersects(FlagRead | FlagWrite | FlagExecute)
}
