package mem

// The kernel's permanent address-space layout. All regions live in the top
// of the canonical upper half so they are valid for both 48- and 57-bit
// virtual address widths; the constants below are spelled out sign-extended
// for the 48-bit lowest common denominator.
const (
	// DirectMapStart is the base of the direct-mapped physical memory
	// window (level-4 index 510). Physical address p is visible at
	// DirectMapStart+p once the window has been built.
	DirectMapStart VirtAddr = 0xFFFF_FF00_0000_0000

	// KernelSpaceStart is the base of the kernel's own 512GiB region
	// (level-4 index 511), covered by a single level-3 table.
	KernelSpaceStart VirtAddr = 0xFFFF_FF80_0000_0000

	// KernelDynamicStart and KernelDynamicEnd bound the kernel dynamic
	// heap window: the only region the VMM will map pages into.
	KernelDynamicStart VirtAddr = KernelSpaceStart
	KernelDynamicEnd   VirtAddr = KernelLoadStart

	// KernelLoadStart is the base of the area the bootloader loaded the
	// kernel image into: the top 4GiB of the address space, level-3
	// indexes 508 through 511.
	KernelLoadStart VirtAddr = 0xFFFF_FFFF_0000_0000
)
