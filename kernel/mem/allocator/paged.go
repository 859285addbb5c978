package allocator

import (
	"sync/atomic"

	"vesper/kernel"
	"vesper/kernel/mem"
	"vesper/kernel/mem/pmm"
	"vesper/kernel/mem/vmm"
)

// The page-granular allocator: a monotonic bump pointer through the kernel
// dynamic heap window. Virtual space is handed out once and never reused;
// freeing returns the physical frames but leaves the virtual range burned.
var (
	heapPointer atomic.Uint64
	heapEnd     uint64
)

func init() {
	heapPointer.Store(uint64(mem.KernelDynamicStart))
	heapEnd = uint64(mem.KernelDynamicEnd)
}

// Hooks into the layers below, swapped out by tests.
var (
	mapPageFn    = vmm.MapPage
	unmapPageFn  = vmm.UnmapPage
	frameAllocFn = pmm.Allocate
	frameFreeFn  = pmm.Free
)

// SetHeapLimit caps the dynamic heap window at size bytes. The boot code
// applies the configured heap budget through this before the allocator sees
// its first request.
func SetHeapLimit(size uint64) {
	end := uint64(mem.KernelDynamicStart) + size
	if size == 0 || end > uint64(mem.KernelDynamicEnd) {
		end = uint64(mem.KernelDynamicEnd)
	}

	heapEnd = end
}

// AllocatePages reserves a run of pages virtual space and maps a fresh
// physical frame behind each one. Exhausting the heap window or physical
// memory is fatal; the global allocator contract has no out-of-memory
// signal.
func AllocatePages(pages int) uintptr {
	size := uint64(pages) << pageShift
	start := heapPointer.Add(size) - size

	if start+size >= heapEnd {
		panic(&kernel.Error{Module: "allocator", Message: "kernel dynamic heap area exhausted"})
	}

	r := pageRangeAt(start, size)
	for {
		page, ok := r.Next()
		if !ok {
			break
		}

		frame := frameAllocFn()
		if frame.IsNull() {
			panic(&kernel.Error{Module: "allocator", Message: "out of physical memory"})
		}

		mapPageFn(frame, page)
	}

	return uintptr(start)
}

// FreePages releases a run of pages previously returned by AllocatePages,
// unmapping them highest first and returning their frames to the physical
// memory manager. The virtual range is not reclaimed.
func FreePages(ptr uintptr, pages int) {
	r := pageRangeAt(uint64(ptr), uint64(pages)<<pageShift)
	for {
		page, ok := r.Prev()
		if !ok {
			break
		}

		if frame, ok := unmapPageFn(page); ok {
			frameFreeFn(frame)
		}
	}
}

func pageRangeAt(start, size uint64) vmm.PageRange {
	return vmm.PageRange{
		Start: vmm.PageContaining(mem.UnsafeVirtAddr(start), mem.Size4KiB),
		End:   vmm.PageContaining(mem.UnsafeVirtAddr(start+size), mem.Size4KiB),
	}
}
