package core

// SenseBits is the two-bit interrupt sense pattern (ACIS1:ACIS0 on AVR).
type SenseBits uint8

const (
	SenseToggle  SenseBits = 0b00 // any output change
	SenseFalling SenseBits = 0b10
	SenseRising  SenseBits = 0b11
)

// ComparatorDriver is the register-access layer the comparator controller
// is written against. Board targets resolve each method to their chip
// family's register and bit names.
type ComparatorDriver interface {
	// SetInterruptEnabled sets or clears the comparator interrupt enable bit.
	SetInterruptEnabled(on bool)

	// SetPowered powers the comparator block up (true) or down (false).
	SetPowered(on bool)

	// SelectBandgap routes the internal reference to the positive input
	// (true) or the dedicated AIN0 pin (false).
	SelectBandgap(on bool)

	// SetCaptureRedirect routes the comparator output to the
	// Timer/Counter1 input capture unit.
	SetCaptureRedirect(on bool)

	// SetSenseBits programs which output transitions raise an interrupt.
	SetSenseBits(bits SenseBits)

	// Output samples the comparator output bit.
	Output() bool

	// NumAnalogInputs is the number of converter channels that can be
	// multiplexed onto the negative input. Zero means no converter.
	NumAnalogInputs() uint8

	// HasNegativePin reports whether the part has a dedicated AIN1 pin.
	HasNegativePin() bool

	// SetMultiplexer selects the converter multiplexer (true) or the
	// dedicated pin (false) as the negative input.
	SetMultiplexer(on bool)

	// SelectChannel programs the converter channel-select bits.
	SelectChannel(ch uint8)

	// ConverterControl reads the converter enable/control register.
	ConverterControl() uint8

	// SetConverterControl writes the converter enable/control register verbatim.
	SetConverterControl(v uint8)

	// DisableConverter clears the converter enable bit.
	DisableConverter()

	// SetDigitalInputBuffers enables or disables the digital input buffers
	// on the comparator's analog pins.
	SetDigitalInputBuffers(enabled bool)
}

// Global singleton used by core code.
var comparatorDriver ComparatorDriver

// SetComparatorDriver is called by target-specific code to register its driver.
func SetComparatorDriver(d ComparatorDriver) {
	comparatorDriver = d
}

// MustComparator returns the configured driver or panics if missing.
func MustComparator() ComparatorDriver {
	if comparatorDriver == nil {
		panic("comparator driver not configured")
	}
	return comparatorDriver
}
