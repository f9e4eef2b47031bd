package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})

	if buf.Available() != 5 {
		t.Errorf("Expected 5 bytes available, got %d", buf.Available())
	}

	buf.Pop(2)
	if buf.Available() != 3 || buf.Data()[0] != 3 {
		t.Errorf("After popping 2, expected [3 4 5], got %v", buf.Data())
	}

	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Expected empty buffer after over-pop, got %d", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output([]byte{1, 2, 3})
	scratch.Output([]byte{4, 5})

	if scratch.CurPosition() != 5 {
		t.Errorf("Expected position 5, got %d", scratch.CurPosition())
	}

	scratch.Update(0, 99)
	if scratch.Result()[0] != 99 {
		t.Errorf("Expected first byte 99, got %d", scratch.Result()[0])
	}

	if since := scratch.DataSince(2); !bytes.Equal(since, []byte{3, 4, 5}) {
		t.Errorf("DataSince(2): expected [3 4 5], got %v", since)
	}

	scratch.Reset()
	if scratch.CurPosition() != 0 || scratch.Free() != OutputMax {
		t.Errorf("After reset, expected empty buffer, got pos=%d free=%d", scratch.CurPosition(), scratch.Free())
	}
}

func TestScratchOutputOverflow(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output(make([]byte, OutputMax-1))
	scratch.Output([]byte{1, 2, 3})

	if scratch.CurPosition() != OutputMax {
		t.Errorf("Expected position clamped at %d, got %d", OutputMax, scratch.CurPosition())
	}
}

func TestSliceOutput(t *testing.T) {
	out := NewSliceOutput(2)
	out.Output([]byte{1, 2, 3, 4})
	out.Update(1, 7)

	if !bytes.Equal(out.Bytes(), []byte{1, 7, 3, 4}) {
		t.Errorf("Expected [1 7 3 4], got %v", out.Bytes())
	}
	if since := out.DataSince(3); !bytes.Equal(since, []byte{4}) {
		t.Errorf("DataSince(3): expected [4], got %v", since)
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(10)

	if !fifo.IsEmpty() {
		t.Error("New FIFO should be empty")
	}

	if n := fifo.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Errorf("Expected to write 5 bytes, wrote %d", n)
	}

	readBuf := make([]byte, 3)
	if n := fifo.Read(readBuf); n != 3 || !bytes.Equal(readBuf, []byte{1, 2, 3}) {
		t.Errorf("Expected to read [1 2 3], got %v (%d)", readBuf, n)
	}

	fifo.Pop(1)
	if fifo.Available() != 1 {
		t.Errorf("After popping 1, expected 1 available, got %d", fifo.Available())
	}

	fifo.Reset()
	if n := fifo.Write(make([]byte, 12)); n != 9 {
		t.Errorf("Expected to write 9 bytes to size-10 FIFO, wrote %d", n)
	}
	if fifo.Free() != 0 {
		t.Errorf("Expected full FIFO, free=%d", fifo.Free())
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	fifo := NewFifoBuffer(5)
	fifo.Write([]byte{1, 2, 3, 4})
	fifo.Read(make([]byte, 2))

	if n := fifo.Write([]byte{5, 6}); n != 2 {
		t.Errorf("Expected to write 2 bytes, wrote %d", n)
	}

	if data := fifo.Data(); !bytes.Equal(data, []byte{3, 4, 5, 6}) {
		t.Errorf("Expected contiguous [3 4 5 6], got %v", data)
	}

	fifo.Pop(3)
	if data := fifo.Data(); !bytes.Equal(data, []byte{6}) {
		t.Errorf("Expected [6] after pop, got %v", data)
	}
}
