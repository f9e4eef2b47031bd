package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// block builds a host->MCU block carrying one command.
func block(t *testing.T, seq uint8, cmdID uint32, args ...uint32) []byte {
	t.Helper()
	payload := NewSliceOutput(16)
	EncodeVLQUint(payload, cmdID)
	for _, a := range args {
		EncodeVLQUint(payload, a)
	}
	frame, err := AppendFrame(nil, seq, payload.Bytes())
	if err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}
	return frame
}

type recordedCommand struct {
	id   uint16
	args []uint32
}

func newRecordingTransport(nargs int) (*Transport, *ScratchOutput, *[]recordedCommand) {
	out := NewScratchOutput()
	var got []recordedCommand
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		cmd := recordedCommand{id: cmdID}
		for i := 0; i < nargs; i++ {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			cmd.args = append(cmd.args, v)
		}
		got = append(got, cmd)
		return nil
	})
	return tr, out, &got
}

// acks returns the sequence bytes of all bare ACK blocks in out.
func acks(out []byte) []uint8 {
	var seqs []uint8
	for len(out) > 0 {
		n, status := scanFrame(out)
		if status != frameValid {
			break
		}
		if n == MessageLengthMin {
			seqs = append(seqs, out[MessagePositionSeq])
		}
		out = out[n:]
	}
	return seqs
}

func TestTransportDispatchAndAck(t *testing.T) {
	tr, out, got := newRecordingTransport(1)

	tr.Receive(NewSliceInputBuffer(block(t, 0x10, 4, 5000)))

	if len(*got) != 1 || (*got)[0].id != 4 || (*got)[0].args[0] != 5000 {
		t.Fatalf("Expected command 4 with arg 5000, got %+v", *got)
	}
	if seqs := acks(out.Result()); len(seqs) != 1 || seqs[0] != 0x11 {
		t.Errorf("Expected one ACK for 0x11, got %v", seqs)
	}
}

func TestTransportSequenceWraps(t *testing.T) {
	tr, out, got := newRecordingTransport(0)

	seq := uint8(MessageDest)
	for i := 0; i < 20; i++ {
		tr.Receive(NewSliceInputBuffer(block(t, seq, 2)))
		seq = nextSeq(seq)
	}

	if len(*got) != 20 {
		t.Errorf("Expected 20 commands, got %d", len(*got))
	}
	seqs := acks(out.Result())
	if last := seqs[len(seqs)-1]; last != 0x14 {
		t.Errorf("Expected last ACK 0x14 after 20 blocks, got 0x%02x", last)
	}
}

func TestTransportNakOnWrongSequence(t *testing.T) {
	tr, out, got := newRecordingTransport(0)
	tr.Receive(NewSliceInputBuffer(block(t, 0x10, 2)))
	out.Reset()

	tr.Receive(NewSliceInputBuffer(block(t, 0x15, 3)))

	if len(*got) != 1 {
		t.Errorf("Expected out-of-sequence block to be ignored, got %+v", *got)
	}
	if seqs := acks(out.Result()); len(seqs) != 1 || seqs[0] != 0x11 {
		t.Errorf("Expected NAK carrying 0x11, got %v", seqs)
	}
}

func TestTransportHostReset(t *testing.T) {
	tr, _, _ := newRecordingTransport(0)
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(block(t, 0x10, 2)))
	tr.Receive(NewSliceInputBuffer(block(t, 0x10, 2)))

	if resets != 1 {
		t.Errorf("Expected 1 reset, got %d", resets)
	}
}

func TestTransportPartialBlock(t *testing.T) {
	tr, _, got := newRecordingTransport(1)
	full := block(t, 0x10, 7, 42)

	fifo := NewFifoBuffer(128)
	fifo.Write(full[:4])
	tr.Receive(fifo)
	if len(*got) != 0 {
		t.Fatal("Expected no dispatch for partial block")
	}
	if fifo.Available() != 4 {
		t.Errorf("Expected partial block kept buffered, got %d bytes", fifo.Available())
	}

	fifo.Write(full[4:])
	tr.Receive(fifo)
	if len(*got) != 1 || (*got)[0].args[0] != 42 {
		t.Errorf("Expected command dispatched once complete, got %+v", *got)
	}
	if !fifo.IsEmpty() {
		t.Errorf("Expected buffer drained, %d bytes left", fifo.Available())
	}
}

func TestTransportResyncAfterGarbage(t *testing.T) {
	tr, _, got := newRecordingTransport(0)

	var stream []byte
	stream = append(stream, 0x03, 0x99, 0x42) // bad length, desyncs
	stream = append(stream, MessageValueSync)
	stream = append(stream, block(t, 0x10, 9)...)

	tr.Receive(NewSliceInputBuffer(stream))

	if len(*got) != 1 || (*got)[0].id != 9 {
		t.Errorf("Expected recovery to dispatch command 9, got %+v", *got)
	}
	if !tr.Synchronized() {
		t.Error("Expected transport synchronized after recovery")
	}
}

func TestTransportHandlerError(t *testing.T) {
	out := NewScratchOutput()
	var failed []uint16
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return errors.New("boom")
	})
	tr.SetErrorCallback(func(cmdID uint16, err error) { failed = append(failed, cmdID) })

	tr.Receive(NewSliceInputBuffer(block(t, 0x10, 6)))

	if len(failed) != 1 || failed[0] != 6 {
		t.Errorf("Expected error callback for command 6, got %v", failed)
	}
	if !tr.Synchronized() {
		t.Error("Handler errors must not desynchronize the link")
	}
}

func TestTransportHandlerPanic(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		panic("handler bug")
	})

	tr.Receive(NewSliceInputBuffer(block(t, 0x10, 1)))

	if tr.Synchronized() {
		t.Error("Expected panic to desynchronize the link")
	}
}

func TestTransportSendCommand(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)

	tr.SendCommand(3, func(o OutputBuffer) {
		EncodeVLQUint(o, 1)
		EncodeVLQUint(o, 1234)
	})

	frame := out.Result()
	n, status := scanFrame(frame)
	if status != frameValid || n != len(frame) {
		t.Fatalf("Expected one valid block, got n=%d status=%d len=%d", n, status, len(frame))
	}
	payload := frame[MessageHeaderSize : n-MessageTrailerSize]
	want := NewSliceOutput(8)
	EncodeVLQUint(want, 3)
	EncodeVLQUint(want, 1)
	EncodeVLQUint(want, 1234)
	if !bytes.Equal(payload, want.Bytes()) {
		t.Errorf("Expected payload %v, got %v", want.Bytes(), payload)
	}
	if frame[MessagePositionSeq] != MessageDest {
		t.Errorf("Expected sequence 0x10, got 0x%02x", frame[MessagePositionSeq])
	}
}

func TestAppendFrameTooLong(t *testing.T) {
	if _, err := AppendFrame(nil, MessageDest, make([]byte, MessagePayloadMax+1)); !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
}
