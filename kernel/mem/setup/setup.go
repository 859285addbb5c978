// Package setup runs the one-shot memory subsystem bring-up: it publishes
// the probed memory model, seeds the physical allocator from the boot memory
// map, builds the kernel's permanent page-table tree and switches the MMU
// over to it. Everything here executes on a single core before any other
// part of the kernel touches memory.
package setup

import (
	"unsafe"

	"vesper/kernel"
	"vesper/kernel/config"
	"vesper/kernel/cpu"
	"vesper/kernel/hal/bootinfo"
	"vesper/kernel/klog"
	"vesper/kernel/mem"
	"vesper/kernel/mem/allocator"
	"vesper/kernel/mem/pmm"
	"vesper/kernel/mem/vmm"
)

var log = klog.Component("setup")

// kernelTableLevel is the level of the two tables the bring-up publishes:
// the kernel-space table and the direct-map table each cover one 512GiB
// level-3 slot.
const kernelTableLevel vmm.TableLevel = 3

// identPtrFn converts a physical address into a dereferenceable pointer
// through the loader's identity mapping, which is still live while the
// bring-up runs. Tests point it at fixture memory.
var identPtrFn = func(addr mem.PhysAddr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}

// allocTableFn hands out one zeroed physical page for a page table. Tests
// swap it to carve tables out of fixture memory without a live PMM.
var allocTableFn = func() mem.PhysAddr {
	frame := pmm.Allocate()
	if frame.IsNull() {
		panic(&kernel.Error{Module: "setup", Message: "out of physical memory during bring-up"})
	}

	addr := frame.StartAddress()
	kernel.Memset(uintptr(identPtrFn(addr)), 0, uintptr(mem.Size4KiB))
	return addr
}

// Init brings up the memory subsystem from the boot interface. It must run
// exactly once; a second call is reported and ignored.
func Init(iface *bootinfo.Interface) {
	if vmm.IsInitialized() {
		log.Warn("memory subsystem already initialized")
		return
	}

	publishMemInfo(iface.Memory)
	cfg := config.Parse(iface.Config)
	highest := readMemoryMap(iface.Map, cfg)
	initMapping(highest, cfg)
}

func publishMemInfo(info mem.Info) {
	log.Debugf("memory model: %d virtual bits, %d physical bits, %d table levels",
		info.VirtualAddressBits, info.PhysicalAddressBits, info.HighestTableLevel)

	mem.SetInfo(info)
}

// initMapping builds the kernel page-table tree and makes it live: a fresh
// root, the loader's kernel-load mapping carried over, the direct map window
// sized to min(physical memory, configured window), and finally the root
// register switch.
func initMapping(highest uint64, cfg config.Config) {
	rootAddr := allocTableFn()
	log.Debugf("root page table at %#x", rootAddr)
	root := tableAt(rootAddr)

	log.Info("copying kernel load area entries")
	copyKernelEntries(root)

	log.Info("building the direct map window")
	vmm.SetDirectMapSize(buildDirectMap(highest, cfg.DirectMapBytes, root))

	allocator.SetHeapLimit(cfg.HeapBytes)

	log.Info("switching to the kernel page table")
	cpu.SetPageTableRoot(uint64(rootAddr))
	vmm.SetInitialized()
}

// tableAt overlays a PageTable on the physical page at addr. Unsynchronized
// access is safe here: the tree is not live yet and a single core owns it.
func tableAt(addr mem.PhysAddr) *vmm.PageTable {
	return (*vmm.PageTable)(identPtrFn(addr))
}

// readEntry returns the table the entry points at, installing a fresh
// zeroed one with the given flags if the entry is unused.
func readEntry(entry *vmm.Entry, flags vmm.Flags) *vmm.PageTable {
	if entry.IsUnused() {
		*entry = vmm.NewEntry(allocTableFn(), flags)
	}

	return tableAt(entry.Addr())
}
