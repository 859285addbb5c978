package setup

import (
	"vesper/kernel/mem"
	"vesper/kernel/mem/vmm"
)

// buildDirectMap maps the first min(highest, window) bytes of physical
// memory at mem.DirectMapStart, using the largest page size that still fits
// at each step: whole GiBs first, then 2MiB blocks, then 4KiB pages for the
// tail. It returns the number of bytes actually covered by the window.
func buildDirectMap(highest, window uint64, root *vmm.PageTable) uint64 {
	size := highest
	if size > window {
		log.Warnf("physical memory (%#x bytes) exceeds the direct map window (%#x bytes)", size, window)
		size = window
	}

	if size == 0 {
		return 0
	}

	table := root
	level := vmm.HighestTableLevel()
	for level != kernelTableLevel {
		table = readEntry(&table[vmm.TableIndex(mem.DirectMapStart, level)], vmm.TableFlags)
		level, _ = level.NextLower()
	}

	mapped := size
	virt := mem.DirectMapStart
	phys := mem.PhysAddr(0)

	for size >= uint64(mem.Size1GiB) {
		table[vmm.TableIndex(virt, level)] = vmm.NewEntry(phys, vmm.HugePageFlags)
		virt = virt.Add(uint64(mem.Size1GiB))
		phys = phys.Add(uint64(mem.Size1GiB))
		size -= uint64(mem.Size1GiB)
	}

	if size == 0 {
		return mapped
	}

	table = readEntry(&table[vmm.TableIndex(virt, level)], vmm.TableFlags)
	level, _ = level.NextLower()

	for size >= uint64(mem.Size2MiB) {
		table[vmm.TableIndex(virt, level)] = vmm.NewEntry(phys, vmm.HugePageFlags)
		virt = virt.Add(uint64(mem.Size2MiB))
		phys = phys.Add(uint64(mem.Size2MiB))
		size -= uint64(mem.Size2MiB)
	}

	if size == 0 {
		return mapped
	}

	table = readEntry(&table[vmm.TableIndex(virt, level)], vmm.TableFlags)
	level, _ = level.NextLower()

	for size >= uint64(mem.Size4KiB) {
		table[vmm.TableIndex(virt, level)] = vmm.NewEntry(phys, vmm.PageFlags)
		virt = virt.Add(uint64(mem.Size4KiB))
		phys = phys.Add(uint64(mem.Size4KiB))
		size -= uint64(mem.Size4KiB)
	}

	return mapped
}
