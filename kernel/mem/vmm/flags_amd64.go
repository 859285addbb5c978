//go:build amd64

package vmm

// Page-table entry control bits for the x86_64 long-mode format.
const (
	// FlagValid must be set for the MMU to honor the entry.
	FlagValid Flags = 1 << 0

	// FlagWritable allows writes through this entry. Higher levels take
	// precedence over lower levels.
	FlagWritable Flags = 1 << 1

	// FlagUser allows access from rings above 0.
	FlagUser Flags = 1 << 2

	// FlagWriteThrough selects write-through caching for the region.
	FlagWriteThrough Flags = 1 << 3

	// FlagNoCache disables caching for the region.
	FlagNoCache Flags = 1 << 4

	// FlagAccessed is set by the processor on a read through the entry.
	FlagAccessed Flags = 1 << 5

	// FlagDirty is set by the processor on a write through the entry.
	FlagDirty Flags = 1 << 6

	// FlagHugePage marks the entry as mapping a block of memory directly
	// instead of pointing to the next-level table.
	FlagHugePage Flags = 1 << 7

	// FlagGlobal keeps the mapping cached across address-space switches.
	FlagGlobal Flags = 1 << 8

	// FlagNoExecute forbids instruction fetches from the region.
	FlagNoExecute Flags = 1 << 63
)

// flagInstalling is the ignored bit used by LockedEntry to mark an entry
// whose real value is about to be stored. Bits 9-11 are software-available
// in the long-mode format.
const flagInstalling Flags = 1 << 10

// flagsMask selects the bits of an entry that carry flags rather than the
// child address: the low 12 bits plus the high bits above the 52-bit
// physical address ceiling.
const flagsMask Flags = 0xfff | (0xfff << 52)

// Flag composites used when building kernel mappings.
const (
	// TableFlags decorates entries pointing to an intermediate table.
	TableFlags = FlagValid | FlagWritable

	// PageFlags decorates 4KiB leaf entries.
	PageFlags = FlagValid | FlagWritable

	// HugePageFlags decorates 2MiB and 1GiB leaf entries.
	HugePageFlags = FlagValid | FlagWritable | FlagHugePage
)

// isLeaf returns true if a valid entry terminates the walk instead of
// pointing to the next-level table.
func (e Entry) isLeaf() bool {
	return e.Flags().Contains(FlagHugePage)
}
