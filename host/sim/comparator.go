// Package sim runs the comparator firmware in-process against a register
// model, so the host tool and its tests work without a board.
package sim

import (
	"sync"

	"anacomp/core"
)

// Comparator models the ATmega328P comparator and converter registers.
// It implements core.ComparatorDriver.
type Comparator struct {
	mu sync.Mutex

	numInputs uint8
	hasAIN1   bool

	irqEnabled bool
	powered    bool
	bandgap    bool
	redirect   bool
	sense      core.SenseBits
	mux        bool
	channel    uint8
	adcControl uint8
	digitalIn  bool

	output bool
}

// ADCSRA value with the converter enabled and prescaler 128.
const defaultConverterControl = 0x87

const converterEnable = 1 << 7

// NewComparator returns a powered-down comparator on a part with
// numInputs converter channels and, if hasAIN1, a dedicated negative pin.
func NewComparator(numInputs uint8, hasAIN1 bool) *Comparator {
	return &Comparator{
		numInputs:  numInputs,
		hasAIN1:    hasAIN1,
		adcControl: defaultConverterControl,
		digitalIn:  true,
	}
}

func (c *Comparator) SetInterruptEnabled(on bool) {
	c.mu.Lock()
	c.irqEnabled = on
	c.mu.Unlock()
}

func (c *Comparator) SetPowered(on bool) {
	c.mu.Lock()
	c.powered = on
	c.mu.Unlock()
}

func (c *Comparator) SelectBandgap(on bool) {
	c.mu.Lock()
	c.bandgap = on
	c.mu.Unlock()
}

func (c *Comparator) SetCaptureRedirect(on bool) {
	c.mu.Lock()
	c.redirect = on
	c.mu.Unlock()
}

func (c *Comparator) SetSenseBits(bits core.SenseBits) {
	c.mu.Lock()
	c.sense = bits
	c.mu.Unlock()
}

// Output reads ACO. A powered-down comparator reads low.
func (c *Comparator) Output() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powered && c.output
}

func (c *Comparator) NumAnalogInputs() uint8 { return c.numInputs }

func (c *Comparator) HasNegativePin() bool { return c.hasAIN1 }

func (c *Comparator) SetMultiplexer(on bool) {
	c.mu.Lock()
	c.mux = on
	c.mu.Unlock()
}

func (c *Comparator) SelectChannel(ch uint8) {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
}

func (c *Comparator) ConverterControl() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adcControl
}

func (c *Comparator) SetConverterControl(v uint8) {
	c.mu.Lock()
	c.adcControl = v
	c.mu.Unlock()
}

func (c *Comparator) DisableConverter() {
	c.mu.Lock()
	c.adcControl &^= converterEnable
	c.mu.Unlock()
}

func (c *Comparator) SetDigitalInputBuffers(enabled bool) {
	c.mu.Lock()
	c.digitalIn = enabled
	c.mu.Unlock()
}

// SetLevel drives the comparator output, as if the positive input crossed
// the negative one. A transition that matches the programmed sense bits
// while the interrupt is enabled runs the interrupt vector.
func (c *Comparator) SetLevel(high bool) {
	c.mu.Lock()
	prev := c.output
	c.output = high
	fire := c.powered && c.irqEnabled && prev != high && senseMatches(c.sense, high)
	c.mu.Unlock()

	if fire {
		core.DispatchInterrupt()
	}
}

func senseMatches(bits core.SenseBits, rising bool) bool {
	switch bits {
	case core.SenseRising:
		return rising
	case core.SenseFalling:
		return !rising
	case core.SenseToggle:
		return true
	}
	return false
}

// Registers is a snapshot of the modelled register state.
type Registers struct {
	InterruptEnabled bool
	Powered          bool
	Bandgap          bool
	CaptureRedirect  bool
	Sense            core.SenseBits
	Multiplexer      bool
	Channel          uint8
	ConverterControl uint8
	DigitalInputs    bool
}

// Registers returns the current register state.
func (c *Comparator) Registers() Registers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Registers{
		InterruptEnabled: c.irqEnabled,
		Powered:          c.powered,
		Bandgap:          c.bandgap,
		CaptureRedirect:  c.redirect,
		Sense:            c.sense,
		Multiplexer:      c.mux,
		Channel:          c.channel,
		ConverterControl: c.adcControl,
		DigitalInputs:    c.digitalIn,
	}
}
