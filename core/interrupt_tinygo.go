//go:build tinygo

package core

import "runtime/interrupt"

// State is the saved interrupt state.
type State = interrupt.State

// disableInterrupts disables interrupts and returns the previous state
func disableInterrupts() State {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state
func restoreInterrupts(state State) {
	interrupt.Restore(state)
}

// interruptsMasked is only meaningful under regular Go.
func interruptsMasked() bool {
	return false
}
