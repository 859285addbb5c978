package pmm

import (
	"sync/atomic"

	"vesper/kernel/cpu"
	"vesper/kernel/klog"
	"vesper/kernel/mem"
	"vesper/kernel/sync"
)

var log = klog.Component("pmm")

// FreeListEntry describes one contiguous run of free physical memory as the
// half-open byte range [Start, End). Both bounds are page-aligned.
type FreeListEntry struct {
	Start uint64
	End   uint64
}

// The allocator state. The entry slice is backing storage handed over by the
// boot code; it lives in the first usable page of physical memory and its
// capacity bounds how fragmented the free list may become.
var (
	entriesLock sync.Spinlock
	entries     []FreeListEntry
	entriesUsed int
	initialized atomic.Bool
)

// Init hands the allocator its backing storage together with the number of
// leading entries already populated by the boot code. It panics if called a
// second time; physical memory has exactly one owner.
func Init(backing []FreeListEntry, used int) {
	if initialized.Load() {
		panic("pmm: allocator initialized twice")
	}

	if used < 0 || used > len(backing) {
		panic("pmm: used entry count exceeds backing capacity")
	}

	entries = backing
	entriesUsed = used
	initialized.Store(true)
}

// IsInitialized returns true once Init has handed the allocator its backing
// storage.
func IsInitialized() bool { return initialized.Load() }

// acquire locks the allocator state. Interrupts are masked first so an
// interrupt handler entering the allocator cannot deadlock against its own
// core.
func acquire() cpu.IrqGuard {
	guard := cpu.MaskInterrupts()
	entriesLock.Acquire()
	return guard
}

func release(guard cpu.IrqGuard) {
	entriesLock.Release()
	guard.Unmask()
}

// Allocate reserves one 4KiB frame and returns it. It returns the null frame
// if no free memory remains or the allocator has not been initialized yet.
func Allocate() Frame {
	addr := AllocateBlock(1)
	if addr.IsNull() {
		return Frame{}
	}

	return FrameContaining(addr, mem.Size4KiB)
}

// AllocateBlock reserves a contiguous run of 4KiB frames, returning the
// physical address of the first one. It returns the null address if no
// single free region is large enough.
func AllocateBlock(frames int) mem.PhysAddr {
	if frames <= 0 || !initialized.Load() {
		return 0
	}

	size := uint64(frames) << mem.PageShift

	guard := acquire()
	defer release(guard)

	for i := 0; i < entriesUsed; i++ {
		if entries[i].End-entries[i].Start < size {
			continue
		}

		addr := entries[i].Start
		entries[i].Start += size
		if entries[i].Start == entries[i].End {
			compact(i)
		}

		return mem.TruncatePhysAddr(addr)
	}

	return 0
}

// Free returns a previously allocated frame to the allocator.
func Free(frame Frame) {
	if frame.IsNull() {
		return
	}

	FreeBlock(frame.StartAddress(), int(uint64(frame.Size())>>mem.PageShift))
}

// FreeBlock returns a contiguous run of 4KiB frames to the allocator. The
// freed region is merged with an adjacent free entry when one exists;
// otherwise it is recorded as a new entry. If the backing storage is already
// full the region is leaked with a logged error rather than corrupting the
// list.
func FreeBlock(addr mem.PhysAddr, frames int) {
	if frames <= 0 || !initialized.Load() {
		return
	}

	start := uint64(addr)
	end := start + uint64(frames)<<mem.PageShift

	guard := acquire()
	defer release(guard)

	for i := 0; i < entriesUsed; i++ {
		switch {
		case entries[i].Start == end:
			entries[i].Start = start
			return
		case entries[i].End == start:
			entries[i].End = end
			return
		}
	}

	if entriesUsed == len(entries) {
		log.Errorf("free list full; leaking region [%#x, %#x)", start, end)
		return
	}

	entries[entriesUsed] = FreeListEntry{Start: start, End: end}
	entriesUsed++
}

// TotalFree returns the number of free bytes currently tracked by the
// allocator.
func TotalFree() mem.Size {
	if !initialized.Load() {
		return 0
	}

	guard := acquire()
	defer release(guard)

	var total uint64
	for i := 0; i < entriesUsed; i++ {
		total += entries[i].End - entries[i].Start
	}

	return mem.Size(total)
}

// compact removes the exhausted entry at index i, keeping the used prefix of
// the backing storage dense.
func compact(i int) {
	copy(entries[i:entriesUsed-1], entries[i+1:entriesUsed])
	entriesUsed--
}
