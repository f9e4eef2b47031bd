//go:build atmega328p

package main

import (
	"device/avr"
	"machine"
	"runtime/interrupt"

	"anacomp/core"
	"anacomp/protocol"
)

const baudRate = 250000

var (
	uart = machine.UART0

	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgerrors uint32
)

func main() {
	uart.Configure(machine.UARTConfig{BaudRate: baudRate})

	core.SetComparatorDriver(AVRComparator{})
	core.Shutdown()

	core.InitCoreCommands()
	core.InitComparatorCommands()
	core.RegisterConstant("MCU", "atmega328p")
	core.RegisterConstant("SERIAL_BAUD", uint32(baudRate))
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(128)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, handleCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// ACK must leave before the response it precedes
	transport.SetFlushCallback(writeUART)
	core.SetGlobalTransport(transport)
	core.SetDebugWriter(core.QueueDebugOutput)
	core.SetResetHandler(watchdogReset)

	enableComparatorVector()
	pixel := newStatusPixel()

	for {
		readUART()

		if inputBuffer.Available() > 0 {
			data := inputBuffer.Data()
			originalLen := len(data)
			inputBuf := protocol.NewSliceInputBuffer(data)
			transport.Receive(inputBuf)
			if consumed := originalLen - inputBuf.Available(); consumed > 0 {
				inputBuffer.Pop(consumed)
			}
		}

		core.AnalogCompTask()
		core.DebugTask()
		writeUART()
		core.CheckPendingReset()

		pixel.update(core.EventCount())
	}
}

// readUART drains the driver's receive ring into inputBuffer.
func readUART() {
	for uart.Buffered() > 0 {
		b, err := uart.ReadByte()
		if err != nil {
			msgerrors++
			return
		}
		if inputBuffer.Write([]byte{b}) == 0 {
			msgerrors++
			return
		}
	}
}

func writeUART() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}
	if _, err := uart.Write(result); err != nil {
		msgerrors++
	}
	outputBuffer.Reset()
}

func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// WDTCSR bits.
const (
	wdtcsrWDE  = 1 << 3
	wdtcsrWDCE = 1 << 4
)

// watchdogReset arms the watchdog at its shortest period and spins until
// the chip resets. WDE must be written within four cycles of WDCE.
func watchdogReset() {
	interrupt.Disable()
	avr.WDTCSR.Set(wdtcsrWDCE | wdtcsrWDE)
	avr.WDTCSR.Set(wdtcsrWDE)
	for {
	}
}
