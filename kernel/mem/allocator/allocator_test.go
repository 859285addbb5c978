package allocator

import (
	"fmt"
	stdsync "sync"
	"testing"
	"unsafe"

	"vesper/kernel/mem"
	"vesper/kernel/mem/pmm"
	"vesper/kernel/mem/vmm"
)

func TestSizeClassRouting(t *testing.T) {
	specs := []struct {
		size     uintptr
		expClass sizeClass
	}{
		{0, classZero},
		{1, class64},
		{64, class64},
		{65, class128},
		{128, class128},
		{256, class256},
		{257, class512},
		{512, class512},
		{513, classPaged},
		{4096, classPaged},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if got := classFor(spec.size); got != spec.expClass {
				t.Errorf("expected size %d to route to class %d; got %d", spec.size, spec.expClass, got)
			}
		})
	}
}

func TestZeroSizeAllocations(t *testing.T) {
	if got := Allocate(0); got != ZeroSizeAddress {
		t.Fatalf("expected the zero-size sentinel %#x; got %#x", ZeroSizeAddress, got)
	}

	// nothing backs the sentinel, so this must be a no-op
	Free(ZeroSizeAddress, 0)
}

func TestSlabAllocateFree(t *testing.T) {
	backing := make([]uint64, pageBytes/8)
	slab := fixedAllocator{page: uintptr(unsafe.Pointer(&backing[0])), blockSize: 256}

	seen := make(map[uintptr]bool)
	for i := 0; i < int(slab.blocks()); i++ {
		ptr := slab.allocate()
		if ptr < slab.page || ptr >= slab.page+pageBytes {
			t.Fatalf("block %d at %#x lies outside the slab page", i, ptr)
		}
		if (ptr-slab.page)%256 != 0 {
			t.Fatalf("block %d at %#x is not on a block boundary", i, ptr)
		}
		if seen[ptr] {
			t.Fatalf("block %#x handed out twice", ptr)
		}
		seen[ptr] = true
	}

	// freeing the lowest block makes it the next one handed out
	slab.free(slab.page + 256)
	if got := slab.allocate(); got != slab.page+256 {
		t.Fatalf("expected the freed block %#x; got %#x", slab.page+256, got)
	}

	// a pointer this class never produced is logged and dropped
	slab.free(0xdead0000)
	if slab.bitmap.Load() != 1<<slab.blocks()-1 {
		t.Fatal("expected the foreign free to leave the bitmap untouched")
	}
}

func TestSlabChainGrowth(t *testing.T) {
	pages := installFakePages(t)

	backing := make([]uint64, pageBytes/8)
	slab := fixedAllocator{page: uintptr(unsafe.Pointer(&backing[0])), blockSize: 64}

	for i := 0; i < 64; i++ {
		slab.allocate()
	}

	// the head is full: the next allocation grows the chain, and for the
	// 64-byte class block 0 of the new page holds its own bookkeeping
	ptr := slab.allocate()
	if len(pages.pages) != 1 {
		t.Fatalf("expected the chain to grow by one page; grew by %d", len(pages.pages))
	}

	chainPage := pages.base(0)
	if ptr != chainPage+64 {
		t.Fatalf("expected block 1 of the chained page at %#x; got %#x", chainPage+64, ptr)
	}

	// freeing a head block must not travel down the chain
	slab.free(slab.page)
	if got := slab.allocate(); got != slab.page {
		t.Fatalf("expected the freed head block %#x; got %#x", slab.page, got)
	}

	// freeing a chain block forwards past the full head
	slab.free(ptr)
	if got := slab.allocate(); got != ptr {
		t.Fatalf("expected the freed chain block %#x; got %#x", ptr, got)
	}
}

func TestSlabExclusivity(t *testing.T) {
	pages := installFakePages(t)
	_ = pages

	backing := make([]uint64, pageBytes/8)
	slab := fixedAllocator{page: uintptr(unsafe.Pointer(&backing[0])), blockSize: 64}

	const (
		workers   = 8
		perWorker = 40
	)

	var (
		start   stdsync.WaitGroup
		done    stdsync.WaitGroup
		results [workers][perWorker]uintptr
	)

	start.Add(1)
	done.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer done.Done()
			start.Wait()
			for i := 0; i < perWorker; i++ {
				results[w][i] = slab.allocate()
			}
		}(w)
	}
	start.Done()
	done.Wait()

	seen := make(map[uintptr]bool, workers*perWorker)
	for w := range results {
		for _, ptr := range results[w] {
			if seen[ptr] {
				t.Fatalf("block %#x handed out to two callers", ptr)
			}
			seen[ptr] = true
		}
	}
}

func TestGlobalSlabRouting(t *testing.T) {
	specs := []struct {
		size uintptr
		head *fixedAllocator
	}{
		{64, &fixed64},
		{100, &fixed128},
		{256, &fixed256},
		{500, &fixed512},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			ptr := Allocate(spec.size)
			if ptr < spec.head.page || ptr >= spec.head.page+pageBytes {
				t.Fatalf("expected size %d inside the %d-byte class page; got %#x", spec.size, spec.head.blockSize, ptr)
			}
			Free(ptr, spec.size)
		})
	}
}

func TestReallocate(t *testing.T) {
	ptr := Allocate(64)
	for i, b := range []byte("vesper") {
		*(*byte)(unsafe.Pointer(ptr + uintptr(i))) = b
	}

	// same class: the block already fits
	if got := Reallocate(ptr, 60, 64); got != ptr {
		t.Fatalf("expected the same block for a same-class Reallocate; got %#x", got)
	}

	// crossing classes copies the surviving prefix
	next := Reallocate(ptr, 64, 128)
	if next == ptr {
		t.Fatal("expected a cross-class Reallocate to move the block")
	}
	got := unsafe.Slice((*byte)(unsafe.Pointer(next)), 6)
	if string(got) != "vesper" {
		t.Fatalf("expected the block contents to survive the move; got %q", got)
	}

	Free(next, 128)
}

func TestAllocatePagesMapsSequentially(t *testing.T) {
	rec := installFakePaging(t)

	base := AllocatePages(3)
	if got := uint64(base); got != uint64(mem.KernelDynamicStart) {
		t.Fatalf("expected the heap to start at %#x; got %#x", uint64(mem.KernelDynamicStart), got)
	}

	if len(rec.mapped) != 3 {
		t.Fatalf("expected 3 pages mapped; got %d", len(rec.mapped))
	}
	for i, m := range rec.mapped {
		expVirt := uint64(base) + uint64(i)<<pageShift
		if uint64(m.page.StartAddress()) != expVirt {
			t.Errorf("page %d mapped at %#x; expected %#x", i, uint64(m.page.StartAddress()), expVirt)
		}
	}

	// a second allocation continues where the first ended
	next := AllocatePages(1)
	if uintptr(next) != base+3*pageBytes {
		t.Fatalf("expected the bump pointer at %#x; got %#x", base+3*pageBytes, next)
	}

	FreePages(base, 3)
	if len(rec.unmapped) != 3 {
		t.Fatalf("expected 3 pages unmapped; got %d", len(rec.unmapped))
	}
	for i, page := range rec.unmapped {
		expVirt := uint64(base) + uint64(2-i)<<pageShift
		if uint64(page.StartAddress()) != expVirt {
			t.Errorf("unmap %d hit %#x; expected descending order %#x", i, uint64(page.StartAddress()), expVirt)
		}
	}
	if len(rec.freed) != 3 {
		t.Fatalf("expected 3 frames returned to the PMM; got %d", len(rec.freed))
	}
}

func TestHeapWindowExhaustionPanics(t *testing.T) {
	installFakePaging(t)
	SetHeapLimit(2 << pageShift)

	defer func() {
		if recover() == nil {
			t.Fatal("expected exhausting the heap window to panic")
		}
	}()
	AllocatePages(3)
}

func TestSetHeapLimitClamps(t *testing.T) {
	defer SetHeapLimit(0)

	SetHeapLimit(1 << 62)
	if heapEnd != uint64(mem.KernelDynamicEnd) {
		t.Fatalf("expected an oversized limit to clamp to %#x; got %#x", uint64(mem.KernelDynamicEnd), heapEnd)
	}

	SetHeapLimit(0)
	if heapEnd != uint64(mem.KernelDynamicEnd) {
		t.Fatalf("expected a zero limit to select the whole window; got %#x", heapEnd)
	}
}

// fakePages backs slab chain growth with freshly allocated host pages, kept
// referenced so they stay alive for the whole test.
type fakePages struct {
	pages []*[512]uint64
}

func (p *fakePages) alloc() uintptr {
	page := new([512]uint64)
	p.pages = append(p.pages, page)
	return uintptr(unsafe.Pointer(&page[0]))
}

func (p *fakePages) base(i int) uintptr {
	return uintptr(unsafe.Pointer(&p.pages[i][0]))
}

func installFakePages(t *testing.T) *fakePages {
	t.Helper()
	ensureMemInfo()

	pages := &fakePages{}
	prev := allocPageFn
	allocPageFn = pages.alloc
	t.Cleanup(func() { allocPageFn = prev })
	return pages
}

// pagingRecorder captures the paged allocator's traffic to the vmm and pmm.
type pagingRecorder struct {
	mapped    []mappedPage
	unmapped  []vmm.Page
	freed     []pmm.Frame
	nextFrame uint64
}

type mappedPage struct {
	frame pmm.Frame
	page  vmm.Page
}

func installFakePaging(t *testing.T) *pagingRecorder {
	t.Helper()
	ensureMemInfo()

	rec := &pagingRecorder{nextFrame: 1 << pageShift}

	prevMap, prevUnmap := mapPageFn, unmapPageFn
	prevAlloc, prevFree := frameAllocFn, frameFreeFn

	mapPageFn = func(frame pmm.Frame, page vmm.Page) {
		rec.mapped = append(rec.mapped, mappedPage{frame: frame, page: page})
	}
	unmapPageFn = func(page vmm.Page) (pmm.Frame, bool) {
		rec.unmapped = append(rec.unmapped, page)
		for _, m := range rec.mapped {
			if m.page == page {
				return m.frame, true
			}
		}
		return pmm.Frame{}, false
	}
	frameAllocFn = func() pmm.Frame {
		frame := pmm.FrameContaining(mem.PhysAddr(rec.nextFrame), mem.Size4KiB)
		rec.nextFrame += 1 << pageShift
		return frame
	}
	frameFreeFn = func(frame pmm.Frame) {
		rec.freed = append(rec.freed, frame)
	}

	heapPointer.Store(uint64(mem.KernelDynamicStart))
	SetHeapLimit(0)

	t.Cleanup(func() {
		mapPageFn, unmapPageFn = prevMap, prevUnmap
		frameAllocFn, frameFreeFn = prevAlloc, prevFree
		heapPointer.Store(uint64(mem.KernelDynamicStart))
		SetHeapLimit(0)
	})

	return rec
}

func ensureMemInfo() {
	if !mem.InfoPublished() {
		mem.SetInfo(mem.Info{
			VirtualAddressBits:  48,
			PhysicalAddressBits: 52,
			EntryAddressMask:    0x000f_ffff_ffff_f000,
			HighestTableLevel:   4,
		})
	}
}
