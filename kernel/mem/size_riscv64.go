//go:build riscv64

package mem

// Supported returns whether the MMU of this system can map pages of this
// size. 512GiB leaves require Sv48 or Sv57 translation, which the boot-time
// probe reports as a page-table depth of at least four.
func (s PageSize) Supported() bool {
	switch s {
	case Size4KiB, Size2MiB, Size1GiB:
		return true
	case Size512GiB:
		return GetInfo().HighestTableLevel >= 4
	default:
		return false
	}
}
