// Package pmm tracks the system's physical memory: the Frame type describing
// an aligned block of physical memory and the free-list allocator handing
// frames out to the rest of the kernel.
package pmm

import (
	"vesper/kernel"
	"vesper/kernel/mem"
)

// ErrFrameNotAligned is returned when a frame is constructed from an address
// that is not aligned to the frame's size.
var ErrFrameNotAligned = &kernel.Error{Module: "pmm", Message: "address is not aligned to the frame size"}

// Frame is a block of physical memory of one of the mappable page sizes,
// aligned to that size. The zero Frame is the null frame returned by failed
// allocations; it is never dereferenceable.
type Frame struct {
	start mem.PhysAddr
	size  mem.PageSize
}

// FrameAt returns the frame starting at the given address, which must be
// aligned to the frame size.
func FrameAt(addr mem.PhysAddr, size mem.PageSize) (Frame, *kernel.Error) {
	if !addr.IsAligned(size.Bytes()) {
		return Frame{}, ErrFrameNotAligned
	}

	return Frame{start: addr, size: size}, nil
}

// FrameContaining returns the frame that contains the given address,
// rounding down on misalignment.
func FrameContaining(addr mem.PhysAddr, size mem.PageSize) Frame {
	return Frame{start: addr.AlignDown(size.Bytes()), size: size}
}

// StartAddress returns the first physical address inside the frame.
func (f Frame) StartAddress() mem.PhysAddr { return f.start }

// Size returns the frame's page size.
func (f Frame) Size() mem.PageSize { return f.size }

// IsNull returns true for the null frame produced by failed allocations.
func (f Frame) IsNull() bool { return f.start.IsNull() }

// Next returns the frame immediately after this one.
func (f Frame) Next() Frame {
	return Frame{start: f.start.Add(uint64(f.size)), size: f.size}
}

// FrameRange is the half-open run of equally sized frames [Start, End).
type FrameRange struct {
	Start Frame
	End   Frame
}

// IsEmpty returns true if the range contains no frames.
func (r FrameRange) IsEmpty() bool {
	return r.Start.start >= r.End.start
}

// Len returns the number of frames in the range.
func (r FrameRange) Len() int {
	if r.IsEmpty() {
		return 0
	}

	return int(r.End.start.Diff(r.Start.start) / uint64(r.Start.size))
}

// Next pops the lowest frame off the range, returning ok=false once the
// range is exhausted.
func (r *FrameRange) Next() (Frame, bool) {
	if r.IsEmpty() {
		return Frame{}, false
	}

	frame := r.Start
	r.Start = r.Start.Next()
	return frame, true
}

// FrameRangeInclusive is the closed run of equally sized frames
// [Start, End].
type FrameRangeInclusive struct {
	Start Frame
	End   Frame
}

// IsEmpty returns true if the range contains no frames.
func (r FrameRangeInclusive) IsEmpty() bool {
	return r.Start.start > r.End.start
}

// Len returns the number of frames in the range.
func (r FrameRangeInclusive) Len() int {
	if r.IsEmpty() {
		return 0
	}

	return int(r.End.start.Diff(r.Start.start)/uint64(r.Start.size)) + 1
}

// Next pops the lowest frame off the range, returning ok=false once the
// range is exhausted. The start frame is advanced without revalidation so
// that a range ending at the last frame of the physical address space
// terminates instead of panicking on the one-past-the-end address; the
// advanced start is only ever compared against End, never dereferenced.
func (r *FrameRangeInclusive) Next() (Frame, bool) {
	if r.IsEmpty() {
		return Frame{}, false
	}

	frame := r.Start
	r.Start = Frame{start: r.Start.start + mem.PhysAddr(uint64(r.Start.size)), size: r.Start.size}
	return frame, true
}
