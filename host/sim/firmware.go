package sim

import (
	"io"
	"net"
	"sync"
	"time"

	"anacomp/core"
	"anacomp/protocol"
)

// Firmware runs the firmware main loop on a goroutine, speaking the wire
// protocol over an in-memory pipe. The firmware core is a process-wide
// singleton, so only one Firmware may run at a time.
type Firmware struct {
	Comparator *Comparator

	host net.Conn
	mcu  net.Conn

	input     *protocol.FifoBuffer
	output    *protocol.ScratchOutput
	transport *protocol.Transport
	received  chan []byte

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Start installs cmp as the comparator driver, registers the firmware's
// commands and starts its main loop.
func Start(cmp *Comparator) *Firmware {
	core.SetComparatorDriver(cmp)
	core.Shutdown()
	core.ResetFirmwareState()

	core.InitCoreCommands()
	core.InitComparatorCommands()
	core.RegisterConstant("MCU", "sim")
	core.GetGlobalDictionary().BuildDictionary()

	hostEnd, mcuEnd := net.Pipe()
	f := &Firmware{
		Comparator: cmp,
		host:       hostEnd,
		mcu:        mcuEnd,
		input:      protocol.NewFifoBuffer(256),
		output:     protocol.NewScratchOutput(),
		received:   make(chan []byte, 16),
		done:       make(chan struct{}),
	}
	f.transport = protocol.NewTransport(f.output, core.DispatchCommand)
	f.transport.SetResetCallback(func() {
		f.input.Reset()
		core.ResetFirmwareState()
	})
	f.transport.SetFlushCallback(f.flush)
	core.SetGlobalTransport(f.transport)
	core.SetDebugWriter(core.QueueDebugOutput)
	core.SetDebugEnabled(false)
	core.ClearDebugQueue()
	core.SetResetHandler(f.reboot)

	f.wg.Add(2)
	go f.readLoop()
	go f.mainLoop()
	return f
}

// Port returns the host end of the link.
func (f *Firmware) Port() io.ReadWriteCloser {
	return f.host
}

// Close stops the main loop and powers the comparator down.
func (f *Firmware) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.mcu.Close()
		f.wg.Wait()
		core.SetGlobalTransport(nil)
		core.SetDebugWriter(func(string) {})
		core.SetDebugEnabled(false)
		core.SetResetHandler(nil)
		core.Shutdown()
	})
	return err
}

func (f *Firmware) readLoop() {
	defer f.wg.Done()
	buf := make([]byte, 64)
	for {
		n, err := f.mcu.Read(buf)
		if n > 0 {
			select {
			case f.received <- append([]byte(nil), buf[:n]...):
			case <-f.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (f *Firmware) mainLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case data := <-f.received:
			if w := f.input.Write(data); w < len(data) {
				core.DebugPrintln("[SIM] input overflow")
			}
			f.transport.Receive(f.input)
		case <-ticker.C:
		}

		core.AnalogCompTask()
		core.DebugTask()
		f.flush()
		core.CheckPendingReset()
	}
}

// flush writes queued output. Runs on the main loop only.
func (f *Firmware) flush() {
	if f.output.CurPosition() == 0 {
		return
	}
	if _, err := f.mcu.Write(f.output.Result()); err != nil {
		core.DebugPrintln("[SIM] write: " + err.Error())
	}
	f.output.Reset()
}

// reboot stands in for the watchdog reset of a real board.
func (f *Firmware) reboot() {
	core.Shutdown()
	core.ResetFirmwareState()
	f.input.Reset()
	f.output.Reset()
	f.transport.Reset()
}
