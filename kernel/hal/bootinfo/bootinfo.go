// Package bootinfo defines the contract between the platform bring-up code
// and the memory subsystem: the memory map, the architecture memory-model
// probe, the early stack locations and the raw configuration payload, all
// handed over exactly once at boot.
package bootinfo

import (
	"unsafe"

	"vesper/kernel"
	"vesper/kernel/mem"
)

// Errors returned while decoding the boot memory map.
var (
	// ErrUnknownMapFormat is returned for a format tag this kernel does
	// not know how to decode.
	ErrUnknownMapFormat = &kernel.Error{Module: "bootinfo", Message: "unknown memory map format"}

	// ErrEmptyMap is returned when the memory map contains no entries;
	// a machine with no memory cannot have gotten this far.
	ErrEmptyMap = &kernel.Error{Module: "bootinfo", Message: "boot memory map is empty"}
)

// Format tags the wire layout of the boot memory map.
type Format uint8

const (
	// FormatLimine is an array of pointers to {base, length, type} records
	// as handed over by limine-protocol bootloaders.
	FormatLimine Format = iota

	// FormatFlat is a packed array of {start, end, kind} records used by
	// the flat handover path.
	FormatFlat
)

// RegionClass classifies one region of the boot memory map.
type RegionClass uint8

const (
	// RegionUsable memory is free for the kernel to allocate.
	RegionUsable RegionClass = iota

	// RegionBootloaderReclaimable memory holds bootloader structures the
	// kernel has already consumed; it is treated as usable.
	RegionBootloaderReclaimable

	// RegionReserved memory must never be touched. Unrecognized
	// vendor-specific region kinds decode to this class.
	RegionReserved

	// RegionKernelAndModules memory holds the loaded kernel image.
	RegionKernelAndModules

	// RegionFramebuffer memory is the display framebuffer.
	RegionFramebuffer

	// RegionAcpiReclaimable memory holds ACPI tables, reclaimable after
	// they have been parsed.
	RegionAcpiReclaimable

	// RegionAcpiNvs memory is ACPI non-volatile storage.
	RegionAcpiNvs

	// RegionBadMemory failed the bootloader's memory test.
	RegionBadMemory
)

// String implements fmt.Stringer.
func (c RegionClass) String() string {
	switch c {
	case RegionUsable:
		return "usable"
	case RegionBootloaderReclaimable:
		return "bootloader-reclaimable"
	case RegionReserved:
		return "reserved"
	case RegionKernelAndModules:
		return "kernel-and-modules"
	case RegionFramebuffer:
		return "framebuffer"
	case RegionAcpiReclaimable:
		return "acpi-reclaimable"
	case RegionAcpiNvs:
		return "acpi-nvs"
	case RegionBadMemory:
		return "bad-memory"
	default:
		return "unknown"
	}
}

// Region is one decoded memory map entry covering the half-open physical
// byte range [Start, End).
type Region struct {
	Start uint64
	End   uint64
	Class RegionClass
}

// MemoryMap locates the bootloader's raw memory map.
type MemoryMap struct {
	Addr   uintptr
	Count  int
	Format Format
}

// StackInfo carries the early boot stack locations. The memory subsystem
// does not consume these; they ride along for the interrupt bring-up code.
type StackInfo struct {
	Primary   uint64
	Secondary uint64
}

// Interface is everything the platform hands the kernel at boot.
type Interface struct {
	Stacks StackInfo
	Map    MemoryMap
	Memory mem.Info
	Config []byte
}

// limineEntry is the raw limine memmap record. The map itself is an array
// of pointers to these.
type limineEntry struct {
	Base   uint64
	Length uint64
	Type   uint64
}

// Limine memmap type codes.
const (
	limineUsable                = 0
	limineReserved              = 1
	limineAcpiReclaimable       = 2
	limineAcpiNvs               = 3
	limineBadMemory             = 4
	limineBootloaderReclaimable = 5
	limineKernelAndModules      = 6
	limineFramebuffer           = 7
)

// flatEntry is the raw flat-format record.
type flatEntry struct {
	Start uint64
	End   uint64
	Kind  uint64
}

// entryPtrFn converts a raw map address into a dereferenceable pointer.
// Tests point it at fixture buffers.
var entryPtrFn = func(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

// VisitRegions decodes the raw memory map, invoking visit for each entry in
// map order. Unrecognized region kinds are defensively reported as reserved.
func VisitRegions(m MemoryMap, visit func(Region)) *kernel.Error {
	if m.Count == 0 {
		return ErrEmptyMap
	}

	switch m.Format {
	case FormatLimine:
		visitLimine(m, visit)
	case FormatFlat:
		visitFlat(m, visit)
	default:
		return ErrUnknownMapFormat
	}

	return nil
}

func visitLimine(m MemoryMap, visit func(Region)) {
	entries := unsafe.Slice((**limineEntry)(entryPtrFn(m.Addr)), m.Count)
	for _, entry := range entries {
		visit(Region{
			Start: entry.Base,
			End:   entry.Base + entry.Length,
			Class: limineClass(entry.Type),
		})
	}
}

func visitFlat(m MemoryMap, visit func(Region)) {
	entries := unsafe.Slice((*flatEntry)(entryPtrFn(m.Addr)), m.Count)
	for _, entry := range entries {
		class := RegionClass(entry.Kind)
		if class > RegionBadMemory {
			class = RegionReserved
		}

		visit(Region{Start: entry.Start, End: entry.End, Class: class})
	}
}

func limineClass(code uint64) RegionClass {
	switch code {
	case limineUsable:
		return RegionUsable
	case limineReserved:
		return RegionReserved
	case limineAcpiReclaimable:
		return RegionAcpiReclaimable
	case limineAcpiNvs:
		return RegionAcpiNvs
	case limineBadMemory:
		return RegionBadMemory
	case limineBootloaderReclaimable:
		return RegionBootloaderReclaimable
	case limineKernelAndModules:
		return RegionKernelAndModules
	case limineFramebuffer:
		return RegionFramebuffer
	default:
		return RegionReserved
	}
}
