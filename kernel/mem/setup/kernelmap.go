package setup

import (
	"vesper/kernel/cpu"
	"vesper/kernel/mem"
	"vesper/kernel/mem/vmm"
)

// copyKernelEntries carries the loader's kernel load area mapping over into
// the new root. The load area is the top 4GiB of the address space, level-3
// indexes 508 through 511: huge-page leaves are shared with the loader tree,
// intermediate tables are cloned so the new tree does not alias structures
// the loader may reclaim. The level-3 table the walk ends on doubles as the
// kernel-space table and is published to the VMM.
func copyKernelEntries(root *vmm.PageTable) {
	fromAddr := mem.UnsafePhysAddr(cpu.ReadPageTableRoot() & mem.GetInfo().EntryAddressMask)
	from := tableAt(fromAddr)

	level := vmm.HighestTableLevel()
	for level != kernelTableLevel {
		entry := from[vmm.TableIndex(mem.KernelLoadStart, level)]
		if entry.IsUnused() {
			// The loader mapped no kernel load area. Nothing to carry
			// over, and no kernel-space table to publish.
			return
		}

		from = tableAt(entry.Addr())
		level, _ = level.NextLower()
	}

	to := root
	var toAddr mem.PhysAddr
	level = vmm.HighestTableLevel()
	for level != kernelTableLevel {
		entry := &to[vmm.TableIndex(mem.KernelLoadStart, level)]
		to = readEntry(entry, vmm.TableFlags)
		toAddr = entry.Addr()
		level, _ = level.NextLower()
	}

	vmm.SetKernelTable(toAddr)

	for i := 508; i < 512; i++ {
		fromEntry := from[i]
		if fromEntry.IsUnused() {
			continue
		}

		if !to[i].IsUnused() {
			log.Warnf("kernel load entry %d already mapped to %#x; overwriting", i, to[i].Addr())
		}

		addr, kind := fromEntry.Translate()
		if kind == vmm.TranslationTable {
			next, _ := level.NextLower()
			to[i] = vmm.NewEntry(cloneTable(tableAt(addr), next), fromEntry.Flags())
		} else {
			to[i] = fromEntry
		}
	}
}

// cloneTable deep-copies one loader page table into freshly allocated
// frames. Leaf entries of every size keep pointing at the loader's physical
// blocks; only the table structure is duplicated.
func cloneTable(from *vmm.PageTable, level vmm.TableLevel) mem.PhysAddr {
	addr := allocTableFn()
	to := tableAt(addr)

	for i, entry := range from {
		if entry.IsUnused() {
			continue
		}

		childAddr, kind := entry.Translate()
		next, ok := level.NextLower()
		if kind == vmm.TranslationTable && ok {
			to[i] = vmm.NewEntry(cloneTable(tableAt(childAddr), next), entry.Flags())
		} else {
			to[i] = entry
		}
	}

	return addr
}
