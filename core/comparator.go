// Analog comparator controller
// Arbitrates the single on-chip comparator between polled waits and
// interrupt delivery, borrowing an ADC channel as the negative input when asked.
package core

import "errors"

// PeripheralState is the comparator lifecycle state.
type PeripheralState uint8

const (
	StateUninitialized PeripheralState = iota
	StateConfigured
	StateConfiguredWithInterrupt
)

func (s PeripheralState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateConfiguredWithInterrupt:
		return "configured_irq"
	default:
		return "unknown"
	}
}

// PositiveInput selects the non-inverting input source.
type PositiveInput uint8

const (
	PositivePin       PositiveInput = 0 // AIN0
	InternalReference PositiveInput = 1 // bandgap reference
)

// NegativeInput selects the inverting input source: either the dedicated
// AIN1 pin or one of the converter's multiplexed channels.
type NegativeInput uint8

// NegativePin selects the dedicated AIN1 pin.
const NegativePin NegativeInput = 0xFF

// Channel selects converter channel n as the negative input.
func Channel(n uint8) NegativeInput { return NegativeInput(n) }

// EdgeMode selects which output transitions raise an interrupt.
// Values match the Arduino CHANGE/FALLING/RISING constants.
type EdgeMode uint8

const (
	EdgeToggle  EdgeMode = 1
	EdgeFalling EdgeMode = 2
	EdgeRising  EdgeMode = 3
)

// normalize maps unrecognized values, including the zero value, to EdgeRising.
func (m EdgeMode) normalize() EdgeMode {
	switch m {
	case EdgeToggle, EdgeFalling:
		return m
	default:
		return EdgeRising
	}
}

func (m EdgeMode) senseBits() SenseBits {
	switch m {
	case EdgeToggle:
		return SenseToggle
	case EdgeFalling:
		return SenseFalling
	default:
		return SenseRising
	}
}

func (m EdgeMode) String() string {
	switch m.normalize() {
	case EdgeToggle:
		return "toggle"
	case EdgeFalling:
		return "falling"
	default:
		return "rising"
	}
}

// DefaultWaitTimeout is used by WaitForEvent when called with 0.
const DefaultWaitTimeout = 5000 // ms

// ErrAlreadyConfigured is returned by Configure unless the comparator is
// uninitialized. Call Shutdown first to reconfigure.
var ErrAlreadyConfigured = errors.New("analog comparator already configured")

// ComparatorStatus is a read-only view of the controller for reporting.
type ComparatorStatus struct {
	State    PeripheralState
	Positive PositiveInput
	Negative NegativeInput
	Edge     EdgeMode
	Redirect bool
	Saved    bool // converter state is currently borrowed
}

type comparator struct {
	drv   ComparatorDriver // nil: resolve through MustComparator
	ticks TickSource

	state    PeripheralState
	positive PositiveInput
	negative NegativeInput
	edge     EdgeMode
	redirect bool

	savedADC uint8
	hasSaved bool

	// callback is written in a critical section and read by dispatch.
	callback func()
}

// The comparator is a single hardware block; this is its only controller.
var analogComp = &comparator{ticks: SystemClock{}}

func newComparator(drv ComparatorDriver, ticks TickSource) *comparator {
	return &comparator{drv: drv, ticks: ticks}
}

func (c *comparator) driver() ComparatorDriver {
	if c.drv != nil {
		return c.drv
	}
	return MustComparator()
}

func (c *comparator) configure(pos PositiveInput, neg NegativeInput, redirectToTimer bool) error {
	if c.state != StateUninitialized {
		RecordEvent(EvtConfigureBusy, c.ticks.Millis(), c.state, 0)
		return ErrAlreadyConfigured
	}
	drv := c.driver()

	// Parts without AIN1 can only take the negative input from the mux.
	if neg == NegativePin && !drv.HasNegativePin() {
		neg = Channel(0)
	}

	state := disableInterrupts()
	drv.SetInterruptEnabled(false)
	drv.SetPowered(true)
	drv.SelectBandgap(pos == InternalReference)

	if n := drv.NumAnalogInputs(); n > 0 && uint8(neg) < n {
		c.savedADC = drv.ConverterControl()
		c.hasSaved = true
		drv.DisableConverter()
		drv.SelectChannel(uint8(neg))
		drv.SetMultiplexer(true)
	} else {
		neg = NegativePin
		c.hasSaved = false
		drv.SetMultiplexer(false)
	}

	drv.SetDigitalInputBuffers(false)

	c.redirect = redirectToTimer
	if redirectToTimer {
		drv.SetCaptureRedirect(true)
	}

	c.positive = pos
	c.negative = neg
	c.state = StateConfigured
	restoreInterrupts(state)

	RecordEvent(EvtConfigure, c.ticks.Millis(), c.state, uint32(neg))
	DebugPrintln("[ACOMP] configured neg=" + utoa(uint32(neg)))
	return nil
}

func (c *comparator) enableInterrupt(callback func(), edge EdgeMode) {
	drv := c.driver()

	if c.state == StateConfiguredWithInterrupt {
		state := disableInterrupts()
		drv.SetInterruptEnabled(false)
		restoreInterrupts(state)
	}

	if c.state == StateUninitialized {
		_ = c.configure(PositivePin, NegativePin, false)
	}

	edge = edge.normalize()

	state := disableInterrupts()
	c.callback = callback
	c.edge = edge
	drv.SetSenseBits(edge.senseBits())
	drv.SetInterruptEnabled(true)
	c.state = StateConfiguredWithInterrupt
	restoreInterrupts(state)

	RecordEvent(EvtEnableIRQ, c.ticks.Millis(), c.state, uint32(edge))
}

func (c *comparator) disableInterrupt() {
	if c.state != StateConfiguredWithInterrupt {
		return
	}
	c.driver().SetInterruptEnabled(false)
	c.state = StateConfigured
	RecordEvent(EvtDisableIRQ, c.ticks.Millis(), c.state, 0)
}

func (c *comparator) waitForEvent(timeoutMillis uint32) bool {
	if c.state == StateConfiguredWithInterrupt {
		RecordEvent(EvtWaitRejected, c.ticks.Millis(), c.state, 0)
		return false
	}
	if timeoutMillis == 0 {
		timeoutMillis = DefaultWaitTimeout
	}

	autoConfigured := false
	if c.state == StateUninitialized {
		_ = c.configure(PositivePin, NegativePin, false)
		autoConfigured = true
	}

	drv := c.driver()
	start := c.ticks.Millis()
	deadline := start + timeoutMillis
	for {
		if drv.Output() {
			now := c.ticks.Millis()
			if autoConfigured {
				c.shutdown()
			}
			RecordEvent(EvtWaitHit, now, c.state, now-start)
			return true
		}
		if !timerIsBefore(c.ticks.Millis(), deadline) {
			break
		}
	}

	// The timeout path always tears down, including a peripheral the caller
	// configured explicitly. See DESIGN.md, open question on waitComp.
	c.shutdown()
	RecordEvent(EvtWaitTimeout, c.ticks.Millis(), c.state, timeoutMillis)
	return false
}

func (c *comparator) shutdown() {
	if c.state == StateUninitialized {
		return
	}
	drv := c.driver()

	if c.state == StateConfiguredWithInterrupt {
		drv.SetInterruptEnabled(false)
	}
	drv.SetPowered(false)

	if c.redirect {
		drv.SetCaptureRedirect(false)
		c.redirect = false
	}

	drv.SetDigitalInputBuffers(true)

	restored := uint32(0)
	if c.hasSaved {
		drv.SetConverterControl(c.savedADC)
		drv.SetMultiplexer(false)
		c.hasSaved = false
		c.savedADC = 0
		restored = 1
	}

	c.state = StateUninitialized
	RecordEvent(EvtShutdown, c.ticks.Millis(), c.state, restored)
	DebugPrintln("[ACOMP] shutdown")
}

// dispatch runs in interrupt context: read the handler, call it, nothing else.
func (c *comparator) dispatch() {
	state := disableInterrupts()
	cb := c.callback
	restoreInterrupts(state)
	if cb != nil {
		cb()
	}
}

func (c *comparator) status() ComparatorStatus {
	return ComparatorStatus{
		State:    c.state,
		Positive: c.positive,
		Negative: c.negative,
		Edge:     c.edge,
		Redirect: c.redirect,
		Saved:    c.hasSaved,
	}
}

// Configure powers up the comparator with the given inputs. It fails with
// ErrAlreadyConfigured, without touching any register, unless the comparator
// is uninitialized. With redirectToTimer set the output also drives the
// Timer/Counter1 input capture.
func Configure(positive PositiveInput, negative NegativeInput, redirectToTimer bool) error {
	return analogComp.configure(positive, negative, redirectToTimer)
}

// EnableInterrupt registers callback for comparator events and enables the
// comparator interrupt. An uninitialized comparator is configured first with
// both dedicated pins and stays configured afterwards. The callback replaces
// any previous one. Unrecognized edge values select EdgeRising.
func EnableInterrupt(callback func(), edge EdgeMode) {
	analogComp.enableInterrupt(callback, edge)
}

// DisableInterrupt stops interrupt delivery. No-op when not in interrupt mode.
func DisableInterrupt() {
	analogComp.disableInterrupt()
}

// WaitForEvent polls the comparator output for up to timeoutMillis
// (0 selects DefaultWaitTimeout) and reports whether it went high. It
// returns false at once while interrupt mode is active. An uninitialized
// comparator is configured with both dedicated pins for the duration of
// the call and shut down again before returning.
func WaitForEvent(timeoutMillis uint32) bool {
	return analogComp.waitForEvent(timeoutMillis)
}

// Shutdown powers the comparator down and restores any converter state
// borrowed by Configure. No-op when already uninitialized.
func Shutdown() {
	analogComp.shutdown()
}

// DispatchInterrupt is the comparator interrupt entry point. Board targets
// bind it to the comparator vector.
func DispatchInterrupt() {
	analogComp.dispatch()
}

// ComparatorState returns the current lifecycle state.
func ComparatorState() PeripheralState {
	return analogComp.state
}

// Status returns the current controller configuration.
func Status() ComparatorStatus {
	return analogComp.status()
}

// SetTickSource replaces the millisecond tick source (tests, board targets
// with a dedicated timer).
func SetTickSource(t TickSource) {
	if t == nil {
		t = SystemClock{}
	}
	analogComp.ticks = t
}
