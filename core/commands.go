package core

import (
	"sync/atomic"

	"anacomp/protocol"
)

// ResponseSender frames a message for the host. *protocol.Transport
// implements it.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  atomic.Uint32
	isShutdown atomic.Bool
}

var globalState = &FirmwareState{}

// moveCount is reported to the host as the command queue depth
const moveCount = 8

// InitCoreCommands registers the protocol bootstrap and housekeeping
// commands. identify_response and identify must get IDs 0 and 1: the host
// uses them before it has a dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")       // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
	RegisterResponse("debug_output", "msg=%*s")

	RegisterConstant("CLOCK_FREQ", uint32(ClockFreq))
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetClock(data *[]byte) error {
	clock := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	crc := globalState.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolArg(globalState.isShutdown.Load()))
		protocol.EncodeVLQUint(output, moveCount)
	})
	return nil
}

func handleConfigReset(data *[]byte) error {
	globalState.configCRC.Store(0)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

// handleEmergencyStop powers the comparator down and latches shutdown.
func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable != 0)
	return nil
}

// TryShutdown releases the comparator and marks the firmware shut down.
func TryShutdown(reason string) {
	globalState.isShutdown.Store(true)
	Shutdown()
	DebugPrintln("[CORE] shutdown: " + reason)
	DumpEventRing()
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ResetFirmwareState clears config and shutdown state after a host reconnect.
func ResetFirmwareState() {
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// SendResponse frames a registered response through the global transport.
// Sending before a transport is set is a no-op.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		// Every response is registered at init
		panic("Response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

var globalTransport ResponseSender

// SetGlobalTransport sets the transport responses are sent through
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

// Global reset handler (set by target-specific code)
var globalResetHandler func()

// resetPending defers the reset until the ACK for the reset command is out
var resetPending atomic.Bool

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

func handleReset(_ *[]byte) error {
	resetPending.Store(true)
	return nil
}

// CheckPendingReset runs the reset handler once per reset request. Call
// from the main loop after output has been flushed.
func CheckPendingReset() {
	if globalResetHandler != nil && resetPending.CompareAndSwap(true, false) {
		globalResetHandler()
	}
}
