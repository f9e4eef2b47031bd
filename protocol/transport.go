package protocol

import "sync/atomic"

// CommandHandler decodes and runs one command. data is positioned at the
// command's first argument and must be advanced past its last one.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the link: it validates incoming blocks,
// dispatches their commands, ACKs them and frames outgoing responses.
type Transport struct {
	synchronized atomic.Bool
	// nextSequence is the sequence expected from the host, and the one
	// stamped on ACKs and responses.
	nextSequence atomic.Uint32

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
	errorCallback func(cmdID uint16, err error)
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		output:  output,
		handler: handler,
	}
	t.synchronized.Store(true)
	t.nextSequence.Store(MessageDest)
	return t
}

// Receive consumes complete blocks from input. Partial blocks stay buffered.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synchronized.Load() {
			var found bool
			data, found = skipToSync(data)
			if found {
				t.synchronized.Store(true)
				t.encodeAckNak()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, status := scanFrame(data)
		if status == frameIncomplete {
			break
		}
		if status == frameInvalid {
			t.synchronized.Store(false)
			continue
		}

		seq := data[MessagePositionSeq]
		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		expected := uint8(t.nextSequence.Load())
		if seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			t.nextSequence.Store(MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expected {
			t.nextSequence.Store(uint32(nextSeq(seq)))
			t.parseFrame(frame)
		}
		// A mismatched sequence is answered with the expected one (NAK)
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame runs every command in a block. A handler panic desynchronizes
// the link instead of taking the firmware down.
func (t *Transport) parseFrame(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.synchronized.Store(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.synchronized.Store(false)
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// Arguments of the failed command cannot be skipped reliably
			if t.errorCallback != nil {
				t.errorCallback(uint16(cmdID), err)
			}
			return
		}
	}
}

func (t *Transport) encodeAckNak() {
	ns := uint8(t.nextSequence.Load())
	crc := CRC16([]byte{MessageLengthMin, ns})
	t.output.Output([]byte{MessageLengthMin, ns, uint8(crc >> 8), uint8(crc), MessageValueSync})

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame frames whatever frameData writes as one block.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.nextSequence.Load())})

	frameData(t.output)

	t.output.Update(cursor, uint8(len(t.output.DataSince(cursor))+MessageTrailerSize))
	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand frames a single message: its ID followed by its arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state.
func (t *Transport) Reset() {
	t.synchronized.Store(true)
	t.nextSequence.Store(MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// Synchronized reports whether the receiver is aligned on block boundaries.
func (t *Transport) Synchronized() bool {
	return t.synchronized.Load()
}

// SetResetCallback sets a function run when the host restarts its sequence.
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a function run right after each ACK/NAK is queued,
// so the ACK does not wait for the main loop.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorCallback sets a function run when a command handler fails.
func (t *Transport) SetErrorCallback(callback func(cmdID uint16, err error)) {
	t.errorCallback = callback
}
