package allocator

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"vesper/kernel/cpu"
	"vesper/kernel/mem"
)

const (
	pageShift = mem.PageShift
	pageBytes = uintptr(1) << pageShift
)

// fixedAllocator is the bookkeeping record for one 4KiB page of same-size
// blocks. Free blocks are tracked in one atomic bitmap word (bit i = block i
// in use); when the page fills up a new page is chained on through the next
// pointer. The 64-byte class stores this record inside block 0 of each
// chained page, so the whole chain costs no memory beyond its pages; the
// other classes allocate their records from the heap itself.
type fixedAllocator struct {
	page      uintptr
	blockSize uintptr
	bitmap    atomic.Uint64
	next      atomic.Pointer[fixedAllocator]
}

// updatingNode marks a next pointer whose page is mid-allocation, so racing
// readers know to spin rather than treat the chain as ended.
var updatingNode fixedAllocator

// The head of each size class chain, backed by static pages. Initialization
// happens in init rather than composite literals because the page addresses
// are not constants.
var (
	block64  [pageBytes]byte
	block128 [pageBytes]byte
	block256 [pageBytes]byte
	block512 [pageBytes]byte

	fixed64  fixedAllocator
	fixed128 fixedAllocator
	fixed256 fixedAllocator
	fixed512 fixedAllocator
)

func init() {
	fixed64.page = uintptr(unsafe.Pointer(&block64[0]))
	fixed64.blockSize = 64
	fixed128.page = uintptr(unsafe.Pointer(&block128[0]))
	fixed128.blockSize = 128
	fixed256.page = uintptr(unsafe.Pointer(&block256[0]))
	fixed256.blockSize = 256
	fixed512.page = uintptr(unsafe.Pointer(&block512[0]))
	fixed512.blockSize = 512
}

// allocPageFn supplies fresh virtual pages for chain growth. It is a hook
// var so slab tests can run without the paged allocator underneath.
var allocPageFn = func() uintptr { return AllocatePages(1) }

// blocks returns how many blocks fit the page; at most 64, so the bitmap
// always fits one word.
func (f *fixedAllocator) blocks() uint {
	return uint(pageBytes / f.blockSize)
}

// allocate returns a free block from this page, or from further down the
// chain if it is full, growing the chain at the end. The fetch-or publishes
// the claim; a caller that loses the bit to a racer simply rescans.
func (f *fixedAllocator) allocate() uintptr {
	current := f.bitmap.Load()

	for {
		offset := uint(bits.TrailingZeros64(^current))
		if offset >= f.blocks() {
			return f.getOrCreateNext().allocate()
		}

		bit := uint64(1) << offset
		current = f.bitmap.Or(bit)
		if current&bit == 0 {
			return f.page + uintptr(offset)*f.blockSize
		}
	}
}

// free releases the block at ptr back to the page that owns it, forwarding
// along the chain until the owner is found. A pointer no page owns is logged
// and dropped; clearing a foreign bitmap bit would corrupt a live block.
func (f *fixedAllocator) free(ptr uintptr) {
	if ptr < f.page || ptr >= f.page+pageBytes {
		if next := f.tryGetNext(); next != nil {
			next.free(ptr)
			return
		}

		log.Warnf("pointer %#x was not allocated by this size class", ptr)
		return
	}

	offset := (ptr - f.page) / f.blockSize
	f.bitmap.And(^(uint64(1) << offset))
}

// tryGetNext returns the next record in the chain, waiting out an in-flight
// link, or nil at the end of the chain.
func (f *fixedAllocator) tryGetNext() *fixedAllocator {
	next := f.next.Load()
	if next == nil {
		return nil
	}

	for next == &updatingNode {
		cpu.Pause()
		next = f.next.Load()
	}

	return next
}

// getOrCreateNext returns the next record in the chain, allocating a fresh
// page for it if the chain ends here. The CAS to the updating sentinel
// elects the core that performs the allocation; interrupts stay masked for
// the winner because the loser's spin would deadlock against an interrupt
// handler that won the race on the same core.
func (f *fixedAllocator) getOrCreateNext() *fixedAllocator {
	guard := cpu.MaskInterrupts()

	if f.next.CompareAndSwap(nil, &updatingNode) {
		page := allocPageFn()

		var node *fixedAllocator
		if f.blockSize == 64 {
			// block 0 of the new page becomes its own bookkeeping;
			// the bitmap starts with that block claimed.
			node = (*fixedAllocator)(unsafe.Pointer(page))
			node.page = page
			node.blockSize = f.blockSize
			node.bitmap.Store(1)
			node.next.Store(nil)
		} else {
			node = &fixedAllocator{page: page, blockSize: f.blockSize}
		}

		f.next.Store(node)
		guard.Unmask()
		return node
	}

	guard.Unmask()

	next := f.next.Load()
	for next == &updatingNode {
		cpu.Pause()
		next = f.next.Load()
	}

	return next
}
