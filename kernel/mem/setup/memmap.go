package setup

import (
	"unsafe"

	"vesper/kernel"
	"vesper/kernel/config"
	"vesper/kernel/hal/bootinfo"
	"vesper/kernel/mem"
	"vesper/kernel/mem/pmm"
)

// reservedArea is the low physical memory the kernel never allocates from:
// the first megabyte holds legacy firmware structures and the real-mode
// trampoline area.
const reservedArea = 1 << 20

// bookkeepingCap is how many free-list entries fit the single page carved
// out of the first usable region for the PMM's backing storage.
const bookkeepingCap = int(uint64(mem.Size4KiB) / uint64(unsafe.Sizeof(pmm.FreeListEntry{})))

// readMemoryMap decodes the boot memory map, seeds the physical memory
// manager with every usable region and returns the highest physical address
// backed by RAM. The first usable page becomes the free list's own
// bookkeeping array and is never handed out.
func readMemoryMap(m bootinfo.MemoryMap, cfg config.Config) uint64 {
	var (
		backing []pmm.FreeListEntry
		used    int
		max     uint64
	)

	err := bootinfo.VisitRegions(m, func(r bootinfo.Region) {
		if cfg.TraceMemoryMap {
			log.Infof("memory map entry: [%#x, %#x) %s", r.Start, r.End, r.Class)
		}

		if r.Class != bootinfo.RegionReserved && r.End > max {
			max = r.End
		}

		if r.End <= reservedArea {
			return
		}

		switch r.Class {
		case bootinfo.RegionUsable, bootinfo.RegionBootloaderReclaimable:
			start := r.Start
			if start < reservedArea {
				start = reservedArea
			}

			if r.End-start < uint64(mem.Size4KiB) {
				log.Warnf("region at %#x too small to use (%d bytes)", start, r.End-start)
				return
			}

			if backing == nil {
				kernel.Memset(uintptr(identPtrFn(mem.UnsafePhysAddr(start))), 0, uintptr(mem.Size4KiB))
				backing = unsafe.Slice((*pmm.FreeListEntry)(identPtrFn(mem.UnsafePhysAddr(start))), bookkeepingCap)

				if r.End-start >= 2*uint64(mem.Size4KiB) {
					backing[0] = pmm.FreeListEntry{Start: start + uint64(mem.Size4KiB), End: r.End}
					used++
				}

				return
			}

			if used == len(backing) {
				log.Errorf("free list bookkeeping full; leaking region [%#x, %#x)", start, r.End)
				return
			}

			backing[used] = pmm.FreeListEntry{Start: start, End: r.End}
			used++
		case bootinfo.RegionBadMemory:
			log.Errorf("bad memory reported at [%#x, %#x)", r.Start, r.End)
		default:
			// Reserved, kernel image, framebuffer, ACPI. Do not touch.
		}
	})
	if err != nil {
		panic(err)
	}

	if backing == nil {
		panic(&kernel.Error{Module: "setup", Message: "no usable memory in the boot memory map"})
	}

	pmm.Init(backing, used)
	log.Debugf("highest physical address: %#x", max)

	return max
}
