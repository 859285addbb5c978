// Package cpu provides access to the small set of processor intrinsics the
// memory subsystem depends on: interrupt masking, the spin-wait hint and the
// page-table base register. The kernel links the real, architecture-specific
// implementations in via InstallDriver at early boot; the default driver is a
// pure Go stand-in so the packages in this module can be exercised on a
// regular host.
package cpu

import (
	"runtime"
	"sync/atomic"
)

// Driver bundles the architecture hooks consumed by this package.
type Driver struct {
	// InterruptsEnabled reports whether external interrupts are currently
	// being delivered to this core.
	InterruptsEnabled func() bool

	// DisableInterrupts masks external interrupt delivery on this core.
	DisableInterrupts func()

	// EnableInterrupts unmasks external interrupt delivery on this core.
	EnableInterrupts func()

	// Pause hints to the core that the caller is in a busy-wait loop.
	Pause func()

	// ReadPageTableRoot returns the physical address currently loaded in
	// the page-table base register (CR3 on x86_64, satp on riscv64).
	ReadPageTableRoot func() uint64

	// SetPageTableRoot loads the page-table base register, atomically
	// switching this core to the address space rooted at the given
	// physical address.
	SetPageTableRoot func(root uint64)
}

var activeDriver = defaultDriver()

// InstallDriver replaces the active driver. It is called exactly once by the
// architecture bring-up code before any other package in this module runs;
// tests use it to observe register writes.
func InstallDriver(d Driver) Driver {
	prev := activeDriver
	activeDriver = d
	return prev
}

// defaultDriver emulates a single core with interrupts masked and an empty
// address space. runtime.Gosched stands in for the PAUSE/WFE hint so that
// spin loops cannot livelock a single-threaded host scheduler.
func defaultDriver() Driver {
	var root atomic.Uint64

	return Driver{
		InterruptsEnabled: func() bool { return false },
		DisableInterrupts: func() {},
		EnableInterrupts:  func() {},
		Pause:             runtime.Gosched,
		ReadPageTableRoot: root.Load,
		SetPageTableRoot:  root.Store,
	}
}

// Pause emits the architecture's busy-wait hint.
func Pause() { activeDriver.Pause() }

// ReadPageTableRoot returns the active root table's physical address.
func ReadPageTableRoot() uint64 { return activeDriver.ReadPageTableRoot() }

// SetPageTableRoot switches the core to the given root table.
func SetPageTableRoot(root uint64) { activeDriver.SetPageTableRoot(root) }

// IrqGuard tracks whether MaskInterrupts actually disabled interrupt
// delivery, so that nested critical sections do not re-enable interrupts
// that an outer section still needs masked.
type IrqGuard struct {
	reenable bool
}

// MaskInterrupts disables external interrupt delivery for the duration of a
// critical section. Allocation paths run under this mask rather than a mutex
// because they may themselves be invoked from interrupt context; a mutex held
// by the interrupted code would deadlock the core.
func MaskInterrupts() IrqGuard {
	if activeDriver.InterruptsEnabled() {
		activeDriver.DisableInterrupts()
		return IrqGuard{reenable: true}
	}

	return IrqGuard{}
}

// Unmask ends the critical section, restoring interrupt delivery if this
// guard was the one that disabled it.
func (g IrqGuard) Unmask() {
	if g.reenable {
		activeDriver.EnableInterrupts()
	}
}
