package core

import "anacomp/protocol"

// Events raised by the comparator interrupt, handed to AnalogCompTask.
// Written in interrupt context, read under the interrupt mask.
var compEvents struct {
	count   uint32
	clock   uint32
	pending bool
}

// Wire values of the edge and state enumerations, indexed by value.
var (
	edgeNames  = []string{"", "toggle", "falling", "rising"}
	stateNames = []string{"uninitialized", "configured", "configured_irq"}
)

// InitComparatorCommands registers the analog comparator commands, their
// responses and dictionary constants. The comparator driver must be set.
func InitComparatorCommands() {
	RegisterCommand("analog_comp_configure", "positive=%c negative=%c redirect=%c", handleCompConfigure)
	RegisterCommand("analog_comp_enable_irq", "edge=%c", handleCompEnableIRQ)
	RegisterCommand("analog_comp_disable_irq", "", handleCompDisableIRQ)
	RegisterCommand("analog_comp_wait", "timeout=%u", handleCompWait)
	RegisterCommand("analog_comp_shutdown", "", handleCompShutdown)
	RegisterCommand("analog_comp_query", "", handleCompQuery)

	RegisterResponse("analog_comp_configured", "result=%c")
	RegisterResponse("analog_comp_wait_result", "triggered=%c clock=%u")
	RegisterResponse("analog_comp_state",
		"state=%c edge=%c positive=%c negative=%c redirect=%c saved=%c count=%u")
	RegisterResponse("analog_comp_event", "clock=%u count=%u")

	drv := MustComparator()
	RegisterConstant("ANALOG_COMP_NUM_INPUTS", drv.NumAnalogInputs())
	RegisterConstant("ANALOG_COMP_HAS_NEGATIVE_PIN", drv.HasNegativePin())
	RegisterConstant("ANALOG_COMP_DEFAULT_TIMEOUT", uint32(DefaultWaitTimeout))
	RegisterConstant("ANALOG_COMP_NEGATIVE_PIN", uint8(NegativePin))
	RegisterConstant("ANALOG_COMP_INTERNAL_REFERENCE", uint8(InternalReference))
	RegisterEnumeration("analog_comp_edge", edgeNames)
	RegisterEnumeration("analog_comp_state", stateNames)
}

// compInterrupt is the callback installed by analog_comp_enable_irq. It runs
// in interrupt context.
func compInterrupt() {
	now := analogComp.ticks.Millis()
	state := disableInterrupts()
	compEvents.count++
	compEvents.clock = now
	compEvents.pending = true
	restoreInterrupts(state)
}

// AnalogCompTask reports pending comparator events to the host. Call from
// the main loop. Events raised between two runs are coalesced; count is the
// running total.
func AnalogCompTask() {
	state := disableInterrupts()
	if !compEvents.pending {
		restoreInterrupts(state)
		return
	}
	compEvents.pending = false
	clock := compEvents.clock
	count := compEvents.count
	restoreInterrupts(state)

	SendResponse("analog_comp_event", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
		protocol.EncodeVLQUint(output, count)
	})
}

// EventCount returns the number of comparator interrupts seen since boot.
func EventCount() uint32 {
	state := disableInterrupts()
	n := compEvents.count
	restoreInterrupts(state)
	return n
}

func decodeArgs(data *[]byte, args ...*uint32) error {
	for _, a := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*a = v
	}
	return nil
}

func handleCompConfigure(data *[]byte) error {
	var pos, neg, redirect uint32
	if err := decodeArgs(data, &pos, &neg, &redirect); err != nil {
		return err
	}

	positive := PositivePin
	if pos == uint32(InternalReference) {
		positive = InternalReference
	}

	// Values past a byte would wrap onto a real channel.
	negative := NegativePin
	if neg <= 0xFF {
		negative = NegativeInput(neg)
	}

	result := uint32(0)
	if err := Configure(positive, negative, redirect != 0); err != nil {
		result = 1
	}
	SendResponse("analog_comp_configured", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, result)
	})
	return nil
}

func handleCompEnableIRQ(data *[]byte) error {
	var edge uint32
	if err := decodeArgs(data, &edge); err != nil {
		return err
	}
	EnableInterrupt(compInterrupt, EdgeMode(edge))
	return nil
}

func handleCompDisableIRQ(data *[]byte) error {
	DisableInterrupt()
	return nil
}

// handleCompWait blocks the command loop for up to timeout ms. The host
// must allow for that before expecting the ACK.
func handleCompWait(data *[]byte) error {
	var timeout uint32
	if err := decodeArgs(data, &timeout); err != nil {
		return err
	}
	triggered := WaitForEvent(timeout)
	clock := analogComp.ticks.Millis()
	SendResponse("analog_comp_wait_result", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(triggered))
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleCompShutdown(data *[]byte) error {
	Shutdown()
	return nil
}

func handleCompQuery(data *[]byte) error {
	st := Status()
	count := EventCount()
	SendResponse("analog_comp_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(st.State))
		protocol.EncodeVLQUint(output, uint32(st.Edge))
		protocol.EncodeVLQUint(output, uint32(st.Positive))
		protocol.EncodeVLQUint(output, uint32(st.Negative))
		protocol.EncodeVLQUint(output, boolArg(st.Redirect))
		protocol.EncodeVLQUint(output, boolArg(st.Saved))
		protocol.EncodeVLQUint(output, count)
	})
	return nil
}
