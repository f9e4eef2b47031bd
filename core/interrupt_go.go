//go:build !tinygo

package core

import (
	"sync"
	"sync/atomic"
)

// State is the saved interrupt state on regular Go.
type State uintptr

// Under regular Go there is no interrupt controller; a mutex stands in for
// the global interrupt flag so a goroutine playing the ISR is kept out of
// critical sections.
var (
	irqMu     sync.Mutex
	irqMasked atomic.Bool
)

// disableInterrupts enters a critical section. Sections must not nest.
func disableInterrupts() State {
	irqMu.Lock()
	irqMasked.Store(true)
	return 1
}

// restoreInterrupts leaves the critical section entered by disableInterrupts.
func restoreInterrupts(state State) {
	if state == 0 {
		return
	}
	irqMasked.Store(false)
	irqMu.Unlock()
}

// interruptsMasked reports whether a critical section is active.
func interruptsMasked() bool {
	return irqMasked.Load()
}
