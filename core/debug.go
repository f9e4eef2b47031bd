package core

import "anacomp/protocol"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures one comparator lifecycle step for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	Clock     uint32 // Millisecond tick at event
	State     uint8  // PeripheralState after the step
	Value     uint32 // Context-dependent value
}

// Event type codes
const (
	EvtConfigure     = 1 // Value: negative input
	EvtConfigureBusy = 2 // configure rejected, already configured
	EvtEnableIRQ     = 3 // Value: edge mode
	EvtDisableIRQ    = 4
	EvtWaitHit       = 5 // Value: elapsed ms
	EvtWaitTimeout   = 6 // Value: timeout ms
	EvtWaitRejected  = 7 // wait while interrupt mode active
	EvtShutdown      = 8 // Value: 1 if converter state was restored
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem

	debugQueueSize = 8

	// DebugLineMax fits a debug_output line in one frame: up to two bytes
	// of message ID and one of length.
	DebugLineMax = protocol.MessagePayloadMax - 3
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Trace ring buffer, written from main context only
	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
	traceEnabled  bool = true

	// Scheduled trace dump, walked by DebugTask
	traceDump struct {
		pending bool
		started bool
		index   uint8
		left    uint8
	}

	// Lines waiting for DebugTask
	debugQueue struct {
		lines   [debugQueueSize]string
		head    uint8
		count   uint8
		dropped uint32
	}
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetTraceEnabled turns lifecycle event capture on or off
func SetTraceEnabled(enabled bool) {
	traceEnabled = enabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordEvent captures a lifecycle event in the ring buffer.
func RecordEvent(eventType uint8, clock uint32, state PeripheralState, value uint32) {
	if !traceEnabled {
		return
	}
	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		EventType: eventType,
		Clock:     clock,
		State:     uint8(state),
		Value:     value,
	}
	traceRingHead = (idx + 1) % TraceRingSize
}

// TraceEvents returns the captured events, oldest first.
func TraceEvents() []TraceEvent {
	out := make([]TraceEvent, 0, TraceRingSize)
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(start+i)%TraceRingSize]
		if evt.EventType == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func traceEventName(eventType uint8) string {
	switch eventType {
	case EvtConfigure:
		return "CONFIGURE"
	case EvtConfigureBusy:
		return "CONFIGURE_BUSY"
	case EvtEnableIRQ:
		return "ENABLE_IRQ"
	case EvtDisableIRQ:
		return "DISABLE_IRQ"
	case EvtWaitHit:
		return "WAIT_HIT"
	case EvtWaitTimeout:
		return "WAIT_TIMEOUT"
	case EvtWaitRejected:
		return "WAIT_REJECTED"
	case EvtShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// DumpEventRing schedules the trace ring for output through the debug
// writer. DebugTask emits it one line per call.
func DumpEventRing() {
	traceDump.pending = true
	traceDump.started = false
	traceDump.index = traceRingHead
	traceDump.left = TraceRingSize
}

// dumpNextLine writes the next line of a scheduled dump.
func dumpNextLine() {
	if !traceDump.started {
		traceDump.started = true
		debugPrintln("[ACOMP] === Event Ring Dump ===")
		return
	}
	for traceDump.left > 0 {
		evt := traceRing[traceDump.index]
		traceDump.index = (traceDump.index + 1) % TraceRingSize
		traceDump.left--
		if evt.EventType != 0 {
			debugPrintln("[ACOMP] " + traceEventName(evt.EventType) +
				" clock=" + utoa(evt.Clock) +
				" state=" + PeripheralState(evt.State).String() +
				" v=" + utoa(evt.Value))
			return
		}
	}
	debugPrintln("[ACOMP] === End Dump ===")
	traceDump.pending = false
}

// QueueDebugOutput is a DebugWriter for firmware with a host link. Lines
// wait in a small queue until DebugTask sends them as debug_output
// responses; lines arriving while the queue is full are dropped. Lines are
// cut to fit one frame. Not for interrupt context.
func QueueDebugOutput(msg string) {
	if len(msg) > DebugLineMax {
		msg = msg[:DebugLineMax]
	}
	if debugQueue.count == debugQueueSize {
		debugQueue.dropped++
		return
	}
	tail := (debugQueue.head + debugQueue.count) % debugQueueSize
	debugQueue.lines[tail] = msg
	debugQueue.count++
}

// ClearDebugQueue discards queued lines and any scheduled trace dump.
func ClearDebugQueue() {
	for i := range debugQueue.lines {
		debugQueue.lines[i] = ""
	}
	debugQueue.head, debugQueue.count, debugQueue.dropped = 0, 0, 0
	traceDump.pending = false
}

// DebugDropped returns how many queued debug lines were lost to a full queue.
func DebugDropped() uint32 {
	return debugQueue.dropped
}

// DebugTask sends at most one debug line to the host. Call from the main
// loop; a scheduled trace dump advances only once the queue has drained.
func DebugTask() {
	if traceDump.pending && debugQueue.count == 0 {
		dumpNextLine()
	}
	if debugQueue.count == 0 {
		return
	}
	msg := debugQueue.lines[debugQueue.head]
	debugQueue.lines[debugQueue.head] = ""
	debugQueue.head = (debugQueue.head + 1) % debugQueueSize
	debugQueue.count--

	SendResponse("debug_output", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, msg)
	})
}

// ClearEventRing clears the trace buffer
func ClearEventRing() {
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
}
