// Package vmm implements the kernel's virtual memory manager: the page and
// page-table abstractions, the concurrent fill-once page-table entry used on
// the live kernel tables, mapping and translation of pages inside the kernel
// dynamic heap window and the constant-offset direct map over physical
// memory.
package vmm

import (
	"vesper/kernel"
	"vesper/kernel/mem"
)

// ErrPageNotAligned is returned when a page is constructed from an address
// that is not aligned to the page's size.
var ErrPageNotAligned = &kernel.Error{Module: "vmm", Message: "address is not aligned to the page size"}

// Page is a block of virtual memory of one of the mappable page sizes,
// aligned to that size. A page is either mapped to exactly one physical
// frame of the same size or unmapped.
type Page struct {
	start mem.VirtAddr
	size  mem.PageSize
}

// PageAt returns the page starting at the given address, which must be
// aligned to the page size.
func PageAt(addr mem.VirtAddr, size mem.PageSize) (Page, *kernel.Error) {
	if !addr.IsAligned(size.Bytes()) {
		return Page{}, ErrPageNotAligned
	}

	return Page{start: addr, size: size}, nil
}

// PageContaining returns the page that contains the given address, rounding
// down on misalignment.
func PageContaining(addr mem.VirtAddr, size mem.PageSize) Page {
	return Page{start: addr.AlignDown(size.Bytes()), size: size}
}

// StartAddress returns the first virtual address inside the page.
func (p Page) StartAddress() mem.VirtAddr { return p.start }

// Size returns the page's size.
func (p Page) Size() mem.PageSize { return p.size }

// Next returns the page immediately after this one.
func (p Page) Next() Page {
	return Page{start: p.start.Add(uint64(p.size)), size: p.size}
}

// PageRange is the half-open run of equally sized pages [Start, End).
type PageRange struct {
	Start Page
	End   Page
}

// IsEmpty returns true if the range contains no pages.
func (r PageRange) IsEmpty() bool {
	return r.Start.start >= r.End.start
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	if r.IsEmpty() {
		return 0
	}

	return int(r.End.start.Diff(r.Start.start) / uint64(r.Start.size))
}

// Next pops the lowest page off the range, returning ok=false once the range
// is exhausted.
func (r *PageRange) Next() (Page, bool) {
	if r.IsEmpty() {
		return Page{}, false
	}

	page := r.Start
	r.Start = r.Start.Next()
	return page, true
}

// Prev pops the highest page off the range, returning ok=false once the
// range is exhausted. Freeing paths walk ranges backwards to release the
// most recently mapped pages first.
func (r *PageRange) Prev() (Page, bool) {
	if r.IsEmpty() {
		return Page{}, false
	}

	r.End = Page{start: r.End.start.Sub(uint64(r.End.size)), size: r.End.size}
	return r.End, true
}

// PageRangeInclusive is the closed run of equally sized pages [Start, End].
type PageRangeInclusive struct {
	Start Page
	End   Page
}

// IsEmpty returns true if the range contains no pages.
func (r PageRangeInclusive) IsEmpty() bool {
	return r.Start.start > r.End.start
}

// Len returns the number of pages in the range.
func (r PageRangeInclusive) Len() int {
	if r.IsEmpty() {
		return 0
	}

	return int(r.End.start.Diff(r.Start.start)/uint64(r.Start.size)) + 1
}

// Next pops the lowest page off the range, returning ok=false once the range
// is exhausted. When the start page is the last one representable in the
// address space the end is walked down instead, so a range touching the top
// of memory terminates instead of wrapping.
func (r *PageRangeInclusive) Next() (Page, bool) {
	if r.IsEmpty() {
		return Page{}, false
	}

	page := r.Start
	if uint64(r.Start.start)+uint64(r.Start.size) == 0 {
		r.End = Page{start: r.End.start - mem.VirtAddr(uint64(r.End.size)), size: r.End.size}
	} else {
		r.Start = r.Start.Next()
	}

	return page, true
}
