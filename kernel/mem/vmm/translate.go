package vmm

import (
	"vesper/kernel"
	"vesper/kernel/mem"
)

// TranslateAddress resolves a virtual address in the kernel region to the
// physical address it maps to, walking the kernel page tables without
// mutating them. The walk stops early at a huge-page leaf, adding the
// still-untranslated low bits of the address to the leaf's base. It returns
// ok=false if the address is unmapped.
func TranslateAddress(virt mem.VirtAddr) (mem.PhysAddr, bool) {
	if virt < mem.KernelDynamicStart {
		panic(&kernel.Error{Module: "vmm", Message: "translation requested outside the kernel region"})
	}

	table, level, ok := kernelTableRoot()
	if !ok {
		return 0, false
	}

	for !level.IsLast() {
		entry, ok := table[TableIndex(virt, level)].Get()
		if !ok {
			return 0, false
		}

		addr, kind := entry.Translate()
		if kind == TranslationPage {
			return addr.Add(uint64(virt) & level.AddressSpaceMask()), true
		}

		table = lockedTableAt(addr)
		level--
	}

	entry, ok := table[TableIndex(virt, level)].Get()
	if !ok {
		return 0, false
	}

	return entry.Addr().Add(virt.PageOffset()), true
}
