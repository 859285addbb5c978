// Package mem provides the address and size primitives shared by the
// physical and virtual memory managers: canonical virtual addresses, bounded
// physical addresses, the mappable page sizes and the memory-model parameters
// probed at boot.
package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	KiB       = 1024 * Byte
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
)

const (
	// PageShift is equal to log2(Size4KiB). This constant is used when we
	// need to convert an address to a page number (shift right by
	// PageShift) and vice-versa.
	PageShift = 12
)

// PageSize is one of the block sizes the MMU can map in a single page-table
// entry. Pages and frames are always aligned to their size.
type PageSize Size

// The mappable page sizes.
const (
	Size4KiB   PageSize = 4 * PageSize(KiB)
	Size2MiB   PageSize = 2 * PageSize(MiB)
	Size1GiB   PageSize = 1 * PageSize(GiB)
	Size512GiB PageSize = 512 * PageSize(GiB)
)

// Bytes returns the page size in bytes.
func (s PageSize) Bytes() Size { return Size(s) }

// String implements fmt.Stringer.
func (s PageSize) String() string {
	switch s {
	case Size4KiB:
		return "4KiB"
	case Size2MiB:
		return "2MiB"
	case Size1GiB:
		return "1GiB"
	case Size512GiB:
		return "512GiB"
	default:
		return "invalid page size"
	}
}
