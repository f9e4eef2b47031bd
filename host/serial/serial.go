// Package serial opens the link to the comparator firmware.
package serial

import (
	"fmt"
	"io"
	"time"
)

// Port is the byte stream the host transport runs over. Native serial and
// in-process simulators both satisfy it.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate. The ATmega firmware runs its UART at 250000.
	Baud int

	// ReadTimeout bounds a single read (0 = blocking). The host transport
	// treats an expired read as idle, not as end of stream.
	ReadTimeout time.Duration
}

// Defaults applied by DefaultConfig.
const (
	DefaultBaud        = 250000
	DefaultReadTimeout = 100 * time.Millisecond
)

// DefaultConfig returns the firmware's default line settings for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Validate checks cfg before a port is opened.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Device == "" {
		return fmt.Errorf("serial device is empty")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid read timeout %s", c.ReadTimeout)
	}
	return nil
}
