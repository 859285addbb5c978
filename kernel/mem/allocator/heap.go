// Package allocator implements the kernel's global heap: requests are
// dispatched by size class either to one of four fixed-block slab chains or
// to a page-granular allocator carving virtual space out of the kernel
// dynamic heap window. The entry points below are what the kernel's runtime
// glue calls for every dynamic allocation, so exhaustion here is fatal;
// there is no caller prepared to handle a nil heap pointer.
package allocator

import (
	"vesper/kernel"
	"vesper/kernel/klog"
)

var log = klog.Component("allocator")

// ZeroSizeAddress is handed out for zero-byte allocations. It is never
// backed by memory; the mnemonic value makes a dereference of a zero-size
// allocation easy to diagnose in a fault report.
const ZeroSizeAddress uintptr = 0xFFFF_FFFF_DEAD_BEEF

// sizeClass buckets an allocation size.
type sizeClass uint8

const (
	classZero sizeClass = iota
	class64
	class128
	class256
	class512
	classPaged
)

func classFor(size uintptr) sizeClass {
	switch {
	case size == 0:
		return classZero
	case size <= 64:
		return class64
	case size <= 128:
		return class128
	case size <= 256:
		return class256
	case size <= 512:
		return class512
	default:
		return classPaged
	}
}

// Allocate reserves size bytes of kernel heap memory and returns its
// address. Callers are expected to pass sizes already padded to their
// alignment requirement.
func Allocate(size uintptr) uintptr {
	switch classFor(size) {
	case classZero:
		return ZeroSizeAddress
	case class64:
		return fixed64.allocate()
	case class128:
		return fixed128.allocate()
	case class256:
		return fixed256.allocate()
	case class512:
		return fixed512.allocate()
	default:
		return AllocatePages(pageCount(size))
	}
}

// Free returns an allocation to the heap. The size must be the one the
// block was allocated with; it selects the size class that owns the block.
func Free(ptr, size uintptr) {
	switch classFor(size) {
	case classZero:
		// nothing backs the sentinel
	case class64:
		fixed64.free(ptr)
	case class128:
		fixed128.free(ptr)
	case class256:
		fixed256.free(ptr)
	case class512:
		fixed512.free(ptr)
	default:
		FreePages(ptr, pageCount(size))
	}
}

// Reallocate grows or shrinks an allocation to newSize bytes. If the block
// the old size lives in already fits the new size the block is returned
// unchanged; otherwise a block from the new class is allocated, the
// surviving prefix copied over and the old block freed.
func Reallocate(ptr, oldSize, newSize uintptr) uintptr {
	oldClass, newClass := classFor(oldSize), classFor(newSize)
	if oldClass == newClass && (oldClass != classPaged || pageCount(oldSize) == pageCount(newSize)) {
		return ptr
	}

	next := Allocate(newSize)

	keep := oldSize
	if newSize < keep {
		keep = newSize
	}
	kernel.Memcopy(ptr, next, keep)

	Free(ptr, oldSize)
	return next
}

// pageCount returns the number of whole pages needed to hold size bytes.
func pageCount(size uintptr) int {
	return int((size + pageBytes - 1) >> pageShift)
}
