//go:build amd64

package mem

// Supported returns whether the MMU of this system can map pages of this
// size. 4KiB, 2MiB and 1GiB pages exist on every supported x86_64 part;
// 512GiB leaves do not exist even with 5-level paging enabled.
func (s PageSize) Supported() bool {
	switch s {
	case Size4KiB, Size2MiB, Size1GiB:
		return true
	default:
		return false
	}
}
