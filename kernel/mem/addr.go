package mem

import (
	"vesper/kernel"
)

// Errors returned by the address constructors.
var (
	// ErrNotCanonical is returned when a virtual address carries data in
	// the bits above the implemented width.
	ErrNotCanonical = &kernel.Error{Module: "mem", Message: "virtual address is not in canonical form"}

	// ErrPhysOutOfRange is returned when a physical address carries data
	// in the bits above the implemented width.
	ErrPhysOutOfRange = &kernel.Error{Module: "mem", Message: "physical address exceeds the implemented width"}

	// ErrAlignOverflow is returned when aligning an address up would wrap
	// around the end of the address space.
	ErrAlignOverflow = &kernel.Error{Module: "mem", Message: "aligning address up overflows"}
)

// VirtAddr is a virtual memory address. A virtual address is segmented into
// 9-bit page-table indexes above a 12-bit page offset; every bit above the
// implemented index bits must be a copy of the highest implemented bit
// (canonical form). The zero VirtAddr is canonical on every architecture.
type VirtAddr uint64

// NewVirtAddr returns the address if it is canonical for the published
// memory model and ErrNotCanonical otherwise.
func NewVirtAddr(addr uint64) (VirtAddr, *kernel.Error) {
	shift := 64 - GetInfo().VirtualAddressBits
	if uint64(int64(addr<<shift)>>shift) != addr {
		return 0, ErrNotCanonical
	}

	return VirtAddr(addr), nil
}

// TruncateVirtAddr canonicalizes the address by sign-extending from the
// implemented width, discarding whatever was stored above it.
func TruncateVirtAddr(addr uint64) VirtAddr {
	shift := 64 - GetInfo().VirtualAddressBits
	return VirtAddr(uint64(int64(addr<<shift) >> shift))
}

// UnsafeVirtAddr wraps a value that is already known to be canonical,
// skipping validation. Layout constants and addresses read back from page
// tables take this path.
func UnsafeVirtAddr(addr uint64) VirtAddr {
	return VirtAddr(addr)
}

// mustVirtAddr re-validates an address produced by arithmetic. Crossing the
// canonical gap indicates a corrupted address computation, which is never
// recoverable.
func mustVirtAddr(addr uint64) VirtAddr {
	v, err := NewVirtAddr(addr)
	if err != nil {
		panic(err)
	}

	return v
}

// IsNull returns true if the address is zero.
func (a VirtAddr) IsNull() bool { return a == 0 }

// Add returns the address advanced by n bytes, re-validated through the
// canonical form check.
func (a VirtAddr) Add(n uint64) VirtAddr {
	return mustVirtAddr(uint64(a) + n)
}

// Sub returns the address moved back by n bytes, re-validated through the
// canonical form check.
func (a VirtAddr) Sub(n uint64) VirtAddr {
	return mustVirtAddr(uint64(a) - n)
}

// Diff returns the distance in bytes from other up to a.
func (a VirtAddr) Diff(other VirtAddr) uint64 {
	return uint64(a) - uint64(other)
}

// AlignDown aligns the address down to a multiple of align.
func (a VirtAddr) AlignDown(align Size) VirtAddr {
	return TruncateVirtAddr(alignDown(uint64(a), uint64(align)))
}

// AlignUp aligns the address up to a multiple of align, or fails if the
// aligned value would wrap.
func (a VirtAddr) AlignUp(align Size) (VirtAddr, *kernel.Error) {
	aligned, ok := alignUp(uint64(a), uint64(align))
	if !ok {
		return 0, ErrAlignOverflow
	}

	return TruncateVirtAddr(aligned), nil
}

// IsAligned returns true if the address is a multiple of align.
func (a VirtAddr) IsAligned(align Size) bool {
	return a.AlignDown(align) == a
}

// PageOffset returns the low 12 bits of the address, the part that is mapped
// through to the physical address unchanged.
func (a VirtAddr) PageOffset() uint64 {
	return uint64(a) & (uint64(Size4KiB) - 1)
}

// PhysAddr is a physical memory address: the address actually emitted on the
// memory bus after translation. Bits above the implemented physical width
// must be zero.
type PhysAddr uint64

// NewPhysAddr returns the address if it fits the published physical width
// and ErrPhysOutOfRange otherwise.
func NewPhysAddr(addr uint64) (PhysAddr, *kernel.Error) {
	if addr>>GetInfo().PhysicalAddressBits != 0 {
		return 0, ErrPhysOutOfRange
	}

	return PhysAddr(addr), nil
}

// TruncatePhysAddr reduces the address modulo 2^width.
func TruncatePhysAddr(addr uint64) PhysAddr {
	return PhysAddr(addr & (1<<GetInfo().PhysicalAddressBits - 1))
}

// UnsafePhysAddr wraps a value that is already known to be in range,
// skipping validation.
func UnsafePhysAddr(addr uint64) PhysAddr {
	return PhysAddr(addr)
}

// mustPhysAddr re-validates an address produced by arithmetic.
func mustPhysAddr(addr uint64) PhysAddr {
	p, err := NewPhysAddr(addr)
	if err != nil {
		panic(err)
	}

	return p
}

// IsNull returns true if the address is zero.
func (a PhysAddr) IsNull() bool { return a == 0 }

// Add returns the address advanced by n bytes, re-validated against the
// physical width.
func (a PhysAddr) Add(n uint64) PhysAddr {
	return mustPhysAddr(uint64(a) + n)
}

// Diff returns the distance in bytes from other up to a.
func (a PhysAddr) Diff(other PhysAddr) uint64 {
	return uint64(a) - uint64(other)
}

// AlignDown aligns the address down to a multiple of align.
func (a PhysAddr) AlignDown(align Size) PhysAddr {
	return TruncatePhysAddr(alignDown(uint64(a), uint64(align)))
}

// AlignUp aligns the address up to a multiple of align, or fails if the
// aligned value would wrap.
func (a PhysAddr) AlignUp(align Size) (PhysAddr, *kernel.Error) {
	aligned, ok := alignUp(uint64(a), uint64(align))
	if !ok {
		return 0, ErrAlignOverflow
	}

	return TruncatePhysAddr(aligned), nil
}

// IsAligned returns true if the address is a multiple of align.
func (a PhysAddr) IsAligned(align Size) bool {
	return a.AlignDown(align) == a
}

func alignDown(addr, align uint64) uint64 {
	if align&(align-1) != 0 {
		panic("mem: alignment must be a power of two")
	}

	return addr &^ (align - 1)
}

func alignUp(addr, align uint64) (uint64, bool) {
	if align&(align-1) != 0 {
		panic("mem: alignment must be a power of two")
	}

	mask := align - 1
	if addr&mask == 0 {
		return addr, true
	}

	aligned := (addr | mask) + 1
	return aligned, aligned != 0
}
