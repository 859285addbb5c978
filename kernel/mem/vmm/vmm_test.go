package vmm

import (
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"vesper/kernel/mem"
	"vesper/kernel/mem/pmm"
	"vesper/kernel/sync"
)

func TestTableLevelMasks(t *testing.T) {
	ensureMemInfo()

	specs := []struct {
		level        TableLevel
		expSpaceMask uint64
		expTableMask uint64
	}{
		{1, 0xfff, 0x1f_ffff},
		{2, 0x1f_ffff, 0x3fff_ffff},
		{3, 0x3fff_ffff, 0x7f_ffff_ffff},
		{4, 0x7f_ffff_ffff, 0xffff_ffff_ffff},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if got := spec.level.AddressSpaceMask(); got != spec.expSpaceMask {
				t.Errorf("expected address space mask %#x; got %#x", spec.expSpaceMask, got)
			}
			if got := spec.level.TableMask(); got != spec.expTableMask {
				t.Errorf("expected table mask %#x; got %#x", spec.expTableMask, got)
			}
		})
	}
}

func TestTableIndex(t *testing.T) {
	ensureMemInfo()

	// index i at level l selects bits [12+9(l-1), 12+9l) of the address
	addr := mem.UnsafeVirtAddr(0xFFFF_FF80_0040_3000)
	specs := []struct {
		level    TableLevel
		expIndex int
	}{
		{1, 3},
		{2, 2},
		{3, 0},
		{4, 511},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if got := TableIndex(addr, spec.level); got != spec.expIndex {
				t.Errorf("expected index %d; got %d", spec.expIndex, got)
			}
		})
	}
}

func TestLockedEntryProtocol(t *testing.T) {
	ensureMemInfo()

	var entry LockedEntry

	if _, ok := entry.Get(); ok {
		t.Fatal("expected Get on an unused entry to report ok=false")
	}

	value := NewEntry(0x1000, PageFlags)
	if !entry.Set(value) {
		t.Fatal("expected Set on an unused entry to succeed")
	}

	if entry.Set(NewEntry(0x2000, PageFlags)) {
		t.Fatal("expected Set on an occupied entry to fail")
	}

	if got, ok := entry.Get(); !ok || got != value {
		t.Fatalf("expected Get to return %#x; got %#x (ok=%t)", uint64(value), uint64(got), ok)
	}

	if old := entry.SetUnused(); old != value {
		t.Fatalf("expected SetUnused to return %#x; got %#x", uint64(value), uint64(old))
	}

	if _, ok := entry.Get(); ok {
		t.Fatal("expected Get after SetUnused to report ok=false")
	}
}

func TestLockedEntryGetOrInitRunsInitializerOnce(t *testing.T) {
	ensureMemInfo()

	const workers = 16

	var (
		entry    LockedEntry
		initRuns atomic.Uint32
		start    stdsync.WaitGroup
		done     stdsync.WaitGroup
		results  [workers]Entry
	)

	start.Add(1)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer done.Done()
			start.Wait()
			results[slot] = entry.GetOrInit(func() Entry {
				initRuns.Add(1)
				return NewEntry(mem.PhysAddr(0x1000*uint64(slot+1)), TableFlags)
			})
		}(i)
	}
	start.Done()
	done.Wait()

	if got := initRuns.Load(); got != 1 {
		t.Fatalf("expected the initializer to run exactly once; ran %d times", got)
	}

	winner, ok := entry.Get()
	if !ok {
		t.Fatal("expected the entry to be initialized")
	}
	for i, got := range results {
		if got != winner {
			t.Errorf("worker %d observed %#x; winner stored %#x", i, uint64(got), uint64(winner))
		}
	}
}

func TestMapTranslateUnmapRoundTrip(t *testing.T) {
	ensureMemInfo()
	phys := installFakePhys(t, 64)

	page := mustPage(t, mem.KernelDynamicStart.Add(0x200000))
	frame := phys.allocFrame()

	MapPage(frame, page)

	if got, ok := TranslateAddress(page.StartAddress()); !ok || got != frame.StartAddress() {
		t.Fatalf("expected translation to %#x; got %#x (ok=%t)", uint64(frame.StartAddress()), uint64(got), ok)
	}

	// the 12-bit page offset passes through untranslated
	if got, ok := TranslateAddress(page.StartAddress().Add(0x123)); !ok || got != frame.StartAddress().Add(0x123) {
		t.Fatalf("expected offset translation to %#x; got %#x (ok=%t)", uint64(frame.StartAddress().Add(0x123)), uint64(got), ok)
	}

	got, ok := UnmapPage(page)
	if !ok || got != frame {
		t.Fatalf("expected UnmapPage to return the mapped frame; got %#x (ok=%t)", uint64(got.StartAddress()), ok)
	}

	if _, ok := TranslateAddress(page.StartAddress()); ok {
		t.Fatal("expected translation to fail after unmapping")
	}

	if _, ok := UnmapPage(page); ok {
		t.Fatal("expected a second UnmapPage to report the page unmapped")
	}
}

func TestMapPageDoubleMapPanics(t *testing.T) {
	ensureMemInfo()
	phys := installFakePhys(t, 64)

	page := mustPage(t, mem.KernelDynamicStart)
	MapPage(phys.allocFrame(), page)

	defer func() {
		if recover() == nil {
			t.Fatal("expected mapping an already mapped page to panic")
		}
	}()
	MapPage(phys.allocFrame(), page)
}

func TestMapPageOutsideHeapWindowPanics(t *testing.T) {
	ensureMemInfo()
	phys := installFakePhys(t, 64)

	defer func() {
		if recover() == nil {
			t.Fatal("expected mapping outside the heap window to panic")
		}
	}()
	MapPage(phys.allocFrame(), mustPage(t, mem.DirectMapStart))
}

func TestMapPagePhysicalExhaustionPanics(t *testing.T) {
	ensureMemInfo()
	phys := installFakePhys(t, 3) // root + one frame, nothing left for tables

	frame := phys.allocFrame()
	defer func() {
		if recover() == nil {
			t.Fatal("expected running out of table frames to panic")
		}
	}()
	MapPage(frame, mustPage(t, mem.KernelDynamicStart))
}

func TestTranslateHugePage(t *testing.T) {
	ensureMemInfo()
	phys := installFakePhys(t, 64)

	// Install a huge leaf directly at level 3, covering 1GiB.
	virt := mem.KernelDynamicStart.Add(2 << 30)
	base := mem.PhysAddr(0x4000_0000)
	root := lockedTableAt(phys.root)
	if !root[TableIndex(virt, 3)].Set(NewEntry(base, HugePageFlags)) {
		t.Fatal("expected the huge leaf install to succeed")
	}

	offset := uint64(0x1234_5678) & TableLevel(3).AddressSpaceMask()
	got, ok := TranslateAddress(virt.Add(offset))
	if !ok || got != base.Add(offset) {
		t.Fatalf("expected huge page translation to %#x; got %#x (ok=%t)", uint64(base)+offset, uint64(got), ok)
	}
}

func TestDirectMapRoundTrip(t *testing.T) {
	ensureMemInfo()
	resetVMM()

	SetDirectMapSize(1 << 30)
	SetInitialized()

	specs := []uint64{0, 0x1000, 0x1234_5678, 1<<30 - 1}
	for specIndex, phys := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			virt := PhysToVirt(mem.UnsafePhysAddr(phys))
			got, ok := VirtToPhys(virt)
			if !ok || uint64(got) != phys {
				t.Fatalf("expected round trip to %#x; got %#x (ok=%t)", phys, uint64(got), ok)
			}
		})
	}

	if _, ok := VirtToPhys(mem.DirectMapStart.Add(1 << 30)); ok {
		t.Fatal("expected translation beyond the window to fail")
	}
}

func TestDirectMapGuards(t *testing.T) {
	ensureMemInfo()
	resetVMM()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected PhysToVirt before initialization to panic")
			}
		}()
		PhysToVirt(0x1000)
	}()

	SetDirectMapSize(1 << 20)
	SetInitialized()

	defer func() {
		if recover() == nil {
			t.Error("expected PhysToVirt beyond the window to panic")
		}
	}()
	PhysToVirt(1 << 20)
}

func TestPageRanges(t *testing.T) {
	ensureMemInfo()

	start := mustPage(t, mem.KernelDynamicStart)
	end := mustPage(t, mem.KernelDynamicStart.Add(4<<mem.PageShift))

	r := PageRange{Start: start, End: end}
	if r.Len() != 4 {
		t.Fatalf("expected range length 4; got %d", r.Len())
	}

	// walk backwards, the order freeing paths use
	var visited int
	for expAddr := uint64(mem.KernelDynamicStart) + 3<<mem.PageShift; ; expAddr -= 1 << mem.PageShift {
		page, ok := r.Prev()
		if !ok {
			break
		}
		visited++
		if got := uint64(page.StartAddress()); got != expAddr {
			t.Errorf("expected page %d at %#x; got %#x", visited, expAddr, got)
		}
	}
	if visited != 4 {
		t.Fatalf("expected to visit 4 pages; got %d", visited)
	}

	ri := PageRangeInclusive{Start: start, End: mustPage(t, mem.KernelDynamicStart.Add(3<<mem.PageShift))}
	if ri.Len() != 4 {
		t.Fatalf("expected inclusive range length 4; got %d", ri.Len())
	}
}

// fakePhys backs "physical memory" with a slice and hands out its pages as
// frames from a bump pointer. Page zero stays reserved so the null frame is
// never handed out.
type fakePhys struct {
	backing []uint64
	root    mem.PhysAddr
	next    uint64
}

// installFakePhys points the vmm hook vars at a fake physical memory of the
// given number of pages, allocates a zeroed kernel level-3 table inside it
// and publishes it. The hooks are restored when the test finishes.
func installFakePhys(t *testing.T, pages int) *fakePhys {
	t.Helper()
	resetVMM()

	phys := &fakePhys{
		backing: make([]uint64, pages<<mem.PageShift>>3),
		next:    1 << mem.PageShift,
	}

	prevPtr, prevAlloc := physPtrFn, frameAllocFn
	physPtrFn = func(addr mem.PhysAddr) unsafe.Pointer {
		if uint64(addr)>>3 >= uint64(len(phys.backing)) {
			t.Fatalf("access beyond fake physical memory: %#x", uint64(addr))
		}
		return unsafe.Pointer(&phys.backing[uint64(addr)>>3])
	}
	frameAllocFn = phys.allocFrame
	t.Cleanup(func() {
		physPtrFn, frameAllocFn = prevPtr, prevAlloc
		resetVMM()
	})

	phys.root = mem.PhysAddr(phys.next)
	phys.next += 1 << mem.PageShift
	SetKernelTable(phys.root)

	return phys
}

func (p *fakePhys) allocFrame() pmm.Frame {
	if p.next+1<<mem.PageShift > uint64(len(p.backing))<<3 {
		return pmm.Frame{}
	}

	frame := pmm.FrameContaining(mem.PhysAddr(p.next), mem.Size4KiB)
	p.next += 1 << mem.PageShift
	return frame
}

func mustPage(t *testing.T, addr mem.VirtAddr) Page {
	t.Helper()
	page, err := PageAt(addr, mem.Size4KiB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return page
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

func resetVMM() {
	kernelTable = sync.Cell[mem.PhysAddr]{}
	directMapBytes = 0
	initialized.Store(false)
}
