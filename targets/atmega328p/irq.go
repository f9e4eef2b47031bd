//go:build atmega328p

package main

import (
	"device/avr"
	"runtime/interrupt"

	"anacomp/core"
)

// enableComparatorVector binds ANALOG_COMP_vect to the controller. ACIE in
// ACSR still gates delivery.
func enableComparatorVector() {
	intr := interrupt.New(avr.IRQ_ANALOG_COMP, func(interrupt.Interrupt) {
		core.DispatchInterrupt()
	})
	intr.Enable()
}
