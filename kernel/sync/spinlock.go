// Package sync provides the synchronization primitives used by the memory
// subsystem: a busy-waiting spinlock and a set-once cell.
package sync

import (
	"sync/atomic"

	"vesper/kernel/cpu"
)

// Spinlock implements a lock where each core trying to acquire it busy-waits
// till the lock becomes available. Any attempt to re-acquire a lock already
// held by the current core will deadlock; callers that may run in interrupt
// context must mask interrupts before acquiring.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the calling core.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
		cpu.Pause()
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other cores to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
