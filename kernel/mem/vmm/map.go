package vmm

import (
	"vesper/kernel"
	"vesper/kernel/mem"
	"vesper/kernel/mem/pmm"
	"vesper/kernel/sync"
)

// kernelTable holds the physical address of the level-3 table covering the
// kernel's 512GiB region. The whole kernel dynamic heap window lives under
// this one table, so mapping walks start here instead of at the root.
var kernelTable sync.Cell[mem.PhysAddr]

// frameAllocFn supplies the physical frames backing freshly materialized
// intermediate tables. Tests replace it with slice-backed allocators.
var frameAllocFn = pmm.Allocate

// SetKernelTable publishes the kernel level-3 table. The boot code calls
// this exactly once while building the kernel address space.
func SetKernelTable(addr mem.PhysAddr) {
	if !kernelTable.Set(addr) {
		panic("vmm: kernel page table published twice")
	}
}

// MapPage maps the given frame at the given page, which must lie inside the
// kernel dynamic heap window. Missing intermediate tables are materialized
// on the way down: freshly allocated from the physical memory manager and
// zero-filled through the direct map before being linked in, so a concurrent
// walker only ever observes unused entries in them. Mapping a page that is
// already mapped is a programmer error and panics.
func MapPage(frame pmm.Frame, page Page) {
	assertInHeapWindow(page.start)

	table, level, ok := kernelTableRoot()
	if !ok {
		return
	}

	for !level.IsLast() {
		entry := table[TableIndex(page.start, level)].GetOrInit(newTableEntry)
		table = lockedTableAt(entry.Addr())
		level--
	}

	if !table[TableIndex(page.start, level)].Set(NewEntry(frame.StartAddress(), PageFlags)) {
		panic(&kernel.Error{Module: "vmm", Message: "page at target address is already mapped"})
	}
}

// UnmapPage removes the mapping at the given page, returning the frame it
// was mapped to so the caller can hand it back to the physical memory
// manager. It returns ok=false if the page was never mapped. The
// intermediate tables on the path are left in place.
func UnmapPage(page Page) (pmm.Frame, bool) {
	assertInHeapWindow(page.start)

	table, level, ok := kernelTableRoot()
	if !ok {
		return pmm.Frame{}, false
	}

	for !level.IsLast() {
		entry, ok := table[TableIndex(page.start, level)].Get()
		if !ok {
			return pmm.Frame{}, false
		}

		table = lockedTableAt(entry.Addr())
		level--
	}

	old := table[TableIndex(page.start, level)].SetUnused()
	if old.IsUnused() {
		return pmm.Frame{}, false
	}

	return pmm.FrameContaining(old.Addr(), mem.Size4KiB), true
}

// newTableEntry allocates and zeroes one page table, returning the entry
// linking it in. Running out of physical memory while extending the kernel
// page tables is unrecoverable.
func newTableEntry() Entry {
	frame := frameAllocFn()
	if frame.IsNull() {
		panic(&kernel.Error{Module: "vmm", Message: "out of physical memory while extending kernel page tables"})
	}

	kernel.Memset(uintptr(physPtrFn(frame.StartAddress())), 0, uintptr(mem.Size4KiB))
	return NewEntry(frame.StartAddress(), TableFlags)
}

// kernelTableRoot returns the published kernel level-3 table, or ok=false
// if the boot code has not built the kernel address space yet.
func kernelTableRoot() (*LockedPageTable, TableLevel, bool) {
	addr, ok := kernelTable.Get()
	if !ok {
		return nil, 0, false
	}

	return lockedTableAt(addr), 3, true
}

func assertInHeapWindow(addr mem.VirtAddr) {
	if addr < mem.KernelDynamicStart || addr >= mem.KernelDynamicEnd {
		panic(&kernel.Error{Module: "vmm", Message: "page outside the kernel dynamic heap window"})
	}
}
