package vmm

import (
	"sync/atomic"
	"unsafe"

	"vesper/kernel/klog"
	"vesper/kernel/mem"
)

var log = klog.Component("vmm")

// The direct map window state. The size is fixed by the boot code while it
// builds the window; the initialized flag flips once the MMU has switched to
// the tree containing it. Both accessors below are invalid before that flip:
// the window describes mappings that do not exist yet.
var (
	directMapBytes uint64
	initialized    atomic.Bool
)

// SetDirectMapSize records how many bytes of physical memory the boot code
// mapped into the direct map window.
func SetDirectMapSize(size uint64) {
	if initialized.Load() {
		panic("vmm: direct map resized after initialization")
	}

	directMapBytes = size
}

// SetInitialized marks the direct map as live. The boot code calls this
// exactly once, immediately after switching the page-table root register.
func SetInitialized() {
	initialized.Store(true)
}

// IsInitialized returns true once the kernel address space is live.
func IsInitialized() bool {
	return initialized.Load()
}

// PhysToVirt returns the virtual address at which the given physical address
// is visible through the direct map window. Physical memory beyond the
// window is not directly mappable; asking for it is a programmer error.
func PhysToVirt(phys mem.PhysAddr) mem.VirtAddr {
	if !initialized.Load() {
		panic("vmm: direct map used before the kernel address space is live")
	}

	if uint64(phys) >= directMapBytes {
		panic("vmm: physical address outside the direct map window")
	}

	return mem.DirectMapStart.Add(uint64(phys))
}

// VirtToPhys translates a kernel virtual address to the physical address it
// maps to. Addresses inside the direct map window translate by constant
// offset; anything else is resolved by walking the kernel page tables.
func VirtToPhys(virt mem.VirtAddr) (mem.PhysAddr, bool) {
	if virt >= mem.DirectMapStart && virt < mem.KernelSpaceStart {
		offset := virt.Diff(mem.DirectMapStart)
		if offset >= directMapBytes {
			return 0, false
		}

		return mem.UnsafePhysAddr(offset), true
	}

	return TranslateAddress(virt)
}

// physPtrFn converts a physical address into a pointer the kernel can
// dereference, normally through the direct map. Tests replace it to back
// physical memory with plain slices.
var physPtrFn = func(phys mem.PhysAddr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(PhysToVirt(phys)))
}

// lockedTableAt overlays a LockedPageTable on the physical page at addr.
func lockedTableAt(addr mem.PhysAddr) *LockedPageTable {
	return (*LockedPageTable)(physPtrFn(addr))
}
