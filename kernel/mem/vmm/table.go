package vmm

import (
	"sync/atomic"

	"vesper/kernel/cpu"
	"vesper/kernel/mem"
)

// tableEntryCount is the number of entries in a page table on every
// supported architecture; one table fills exactly one 4KiB page.
const tableEntryCount = 512

// TableLevel identifies one level of the page-table tree, 1 being the level
// whose entries map 4KiB pages and the architecture's highest level being
// the root.
type TableLevel uint8

// HighestTableLevel returns the root level of the running architecture.
func HighestTableLevel() TableLevel {
	return TableLevel(mem.GetInfo().HighestTableLevel)
}

// IsLast returns true for the level whose entries map 4KiB pages.
func (l TableLevel) IsLast() bool { return l == 1 }

// NextLower returns the level below this one, or ok=false at the bottom.
func (l TableLevel) NextLower() (TableLevel, bool) {
	if l <= 1 {
		return 0, false
	}

	return l - 1, true
}

// AddressSpaceMask selects the bits of a virtual address that are still
// untranslated when the walk stops at this level: the page offset plus the
// indexes of all lower levels.
func (l TableLevel) AddressSpaceMask() uint64 {
	return 1<<((uint(l)-1)*9+12) - 1
}

// TableMask selects the bits of a virtual address covered by one entry of
// the table above this level.
func (l TableLevel) TableMask() uint64 {
	return 1<<(uint(l)*9+12) - 1
}

// TableIndex returns the address's 9-bit index into a table at the given
// level.
func TableIndex(addr mem.VirtAddr, level TableLevel) int {
	return int(uint64(addr) >> mem.PageShift >> ((uint(level) - 1) * 9) & (tableEntryCount - 1))
}

// PageTable is a page table accessed without synchronization. It is only
// safe to use before the MMU has been switched to a tree containing it,
// while a single core owns the whole tree.
type PageTable [tableEntryCount]Entry

// Zero marks every entry unused.
func (t *PageTable) Zero() {
	for i := range t {
		t[i] = 0
	}
}

// LockedEntry is a page-table entry that may be read and initialized
// concurrently, used for the tables of the live kernel address space.
// Entries transition from unused to occupied exactly once and never back
// (apart from SetUnused on 4KiB leaves); the installing bit marks an entry
// whose final value is about to be stored, so readers can tell "empty" from
// "someone is filling this in right now".
type LockedEntry struct {
	value atomic.Uint64
}

// Get returns the entry's value once it is initialized, or ok=false if it
// is unused. A load observing the installing bit spins until the writer's
// store is visible.
func (e *LockedEntry) Get() (Entry, bool) {
	current := Entry(e.value.Load())
	if current.Flags().Contains(FlagValid) {
		return current, true
	}

	for current.Flags().Contains(flagInstalling) {
		cpu.Pause()
		current = Entry(e.value.Load())
	}

	if current.Flags().Contains(FlagValid) {
		return current, true
	}

	return 0, false
}

// Set initializes the entry to the given value. It returns false if the
// entry was already occupied or in the middle of being initialized by
// another core.
func (e *LockedEntry) Set(value Entry) bool {
	guard := cpu.MaskInterrupts()
	defer guard.Unmask()

	if !e.value.CompareAndSwap(0, uint64(flagInstalling)) {
		return false
	}

	e.value.Store(uint64(value))
	return true
}

// GetOrInit returns the entry's value, initializing it with init if it is
// unused. Exactly one caller runs init even under concurrent use; the
// others spin until the winner's value is published and return that.
func (e *LockedEntry) GetOrInit(init func() Entry) Entry {
	guard := cpu.MaskInterrupts()

	if e.value.CompareAndSwap(0, uint64(flagInstalling)) {
		value := init()
		e.value.Store(uint64(value))
		guard.Unmask()
		return value
	}

	// The loser may be about to spin, so it must not hold off interrupts.
	guard.Unmask()

	current := Entry(e.value.Load())
	for current.Flags().Contains(flagInstalling) {
		cpu.Pause()
		current = Entry(e.value.Load())
	}

	return current
}

// SetUnused atomically clears the entry, returning its prior value.
func (e *LockedEntry) SetUnused() Entry {
	return Entry(e.value.Swap(0))
}

// LockedPageTable is a page table whose entries follow the fill-once
// protocol, safe for concurrent use on the live kernel address space.
type LockedPageTable [tableEntryCount]LockedEntry
