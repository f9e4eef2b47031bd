package core

import "time"

// ClockFreq is the rate of the tick counter reported to the host (1 kHz).
const ClockFreq = 1000

// TickSource supplies milliseconds since an arbitrary epoch. The counter is
// monotonic but wraps at 2^32, so comparisons must use timerIsBefore.
type TickSource interface {
	Millis() uint32
}

var bootTime = time.Now()

// SystemClock is the default TickSource, counting from firmware start.
type SystemClock struct{}

// Millis implements TickSource.
func (SystemClock) Millis() uint32 { return GetTime() }

// GetTime returns the current system time in milliseconds. The value wraps
// after roughly 49.7 days.
func GetTime() uint32 {
	return uint32(time.Since(bootTime) / time.Millisecond)
}

// timerIsBefore reports whether tick a comes before tick b. Valid as long as
// the two are less than 2^31 ticks apart, which holds across a wrap.
func timerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
