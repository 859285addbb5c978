package sync

import (
	"sync/atomic"

	"vesper/kernel/cpu"
)

// Cell states. A cell moves uninitialized -> initializing -> initialized
// exactly once and never back.
const (
	cellUninitialized uint32 = iota
	cellInitializing
	cellInitialized
)

// Cell is a value that can be set once and read many times. Readers that
// observe a concurrent Set in progress spin until the writer publishes the
// value, so a successful Get never returns a partially written value.
type Cell[T any] struct {
	state uint32
	value T
}

// Get returns the stored value, or ok=false if the cell has not been set.
func (c *Cell[T]) Get() (value T, ok bool) {
	if atomic.LoadUint32(&c.state) != cellInitialized {
		for atomic.LoadUint32(&c.state) == cellInitializing {
			cpu.Pause()
		}

		if atomic.LoadUint32(&c.state) != cellInitialized {
			return value, false
		}
	}

	return c.value, true
}

// Set stores the value if the cell is still empty and returns true, or
// returns false if another caller set it first. Cells transition from empty
// to occupied exactly once.
func (c *Cell[T]) Set(value T) bool {
	guard := cpu.MaskInterrupts()
	defer guard.Unmask()

	if !atomic.CompareAndSwapUint32(&c.state, cellUninitialized, cellInitializing) {
		return false
	}

	c.value = value
	atomic.StoreUint32(&c.state, cellInitialized)
	return true
}

// IsSet reports whether the cell holds a value.
func (c *Cell[T]) IsSet() bool {
	return atomic.LoadUint32(&c.state) == cellInitialized
}
