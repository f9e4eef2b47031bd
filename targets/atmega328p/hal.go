//go:build atmega328p

package main

import (
	"device/avr"

	"anacomp/core"
)

// Register bits, named as in the ATmega328P datasheet.
const (
	acsrACIS0 = 1 << 0
	acsrACIS1 = 1 << 1
	acsrACIC  = 1 << 2
	acsrACIE  = 1 << 3
	acsrACI   = 1 << 4
	acsrACO   = 1 << 5
	acsrACBG  = 1 << 6
	acsrACD   = 1 << 7

	adcsraADEN = 1 << 7
	adcsrbACME = 1 << 6

	admuxMuxMask = 0x0F

	didr1AIN0D = 1 << 0
	didr1AIN1D = 1 << 1
)

// AVRComparator implements core.ComparatorDriver on ACSR, ADCSRA, ADCSRB,
// ADMUX and DIDR1.
type AVRComparator struct{}

func (AVRComparator) SetInterruptEnabled(on bool) {
	if on {
		// Clear a stale flag so arming does not fire immediately
		avr.ACSR.SetBits(acsrACI | acsrACIE)
		return
	}
	avr.ACSR.ClearBits(acsrACIE)
}

// SetPowered writes ACD, which is active high: set means off.
func (AVRComparator) SetPowered(on bool) {
	if on {
		avr.ACSR.ClearBits(acsrACD)
	} else {
		avr.ACSR.SetBits(acsrACD)
	}
}

func (AVRComparator) SelectBandgap(on bool) {
	if on {
		avr.ACSR.SetBits(acsrACBG)
	} else {
		avr.ACSR.ClearBits(acsrACBG)
	}
}

func (AVRComparator) SetCaptureRedirect(on bool) {
	if on {
		avr.ACSR.SetBits(acsrACIC)
	} else {
		avr.ACSR.ClearBits(acsrACIC)
	}
}

func (AVRComparator) SetSenseBits(bits core.SenseBits) {
	v := avr.ACSR.Get() &^ (acsrACIS1 | acsrACIS0)
	avr.ACSR.Set(v | uint8(bits))
}

func (AVRComparator) Output() bool {
	return avr.ACSR.HasBits(acsrACO)
}

// Channels ADC0..ADC7 can be routed to the negative input.
func (AVRComparator) NumAnalogInputs() uint8 { return 8 }

func (AVRComparator) HasNegativePin() bool { return true }

func (AVRComparator) SetMultiplexer(on bool) {
	if on {
		avr.ADCSRB.SetBits(adcsrbACME)
	} else {
		avr.ADCSRB.ClearBits(adcsrbACME)
	}
}

func (AVRComparator) SelectChannel(ch uint8) {
	v := avr.ADMUX.Get() &^ admuxMuxMask
	avr.ADMUX.Set(v | (ch & admuxMuxMask))
}

func (AVRComparator) ConverterControl() uint8 {
	return avr.ADCSRA.Get()
}

func (AVRComparator) SetConverterControl(v uint8) {
	avr.ADCSRA.Set(v)
}

func (AVRComparator) DisableConverter() {
	avr.ADCSRA.ClearBits(adcsraADEN)
}

func (AVRComparator) SetDigitalInputBuffers(enabled bool) {
	if enabled {
		avr.DIDR1.ClearBits(didr1AIN0D | didr1AIN1D)
	} else {
		avr.DIDR1.SetBits(didr1AIN0D | didr1AIN1D)
	}
}
