//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeMCU runs an MCU-side Transport on one end of a pipe. Command 1 echoes
// its argument back as message 0; command 2 is accepted silently.
type fakeMCU struct {
	conn net.Conn
	mu   sync.Mutex
	seen []uint16
	mute bool // swallow input without answering
}

func startFakeMCU(t *testing.T, conn net.Conn) *fakeMCU {
	t.Helper()
	m := &fakeMCU{conn: conn}
	out := NewScratchOutput()

	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		m.mu.Lock()
		m.seen = append(m.seen, cmdID)
		m.mu.Unlock()
		if cmdID != 1 {
			return nil
		}
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		tr.SendCommand(0, func(o OutputBuffer) { EncodeVLQUint(o, v) })
		return nil
	})

	go func() {
		in := NewFifoBuffer(256)
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			m.mu.Lock()
			mute := m.mute
			m.mu.Unlock()
			if mute {
				continue
			}
			in.Write(buf[:n])
			tr.Receive(in)
			if out.CurPosition() > 0 {
				if _, err := conn.Write(out.Result()); err != nil {
					return
				}
				out.Reset()
			}
		}
	}()
	return m
}

func newHostPair(t *testing.T) (*HostTransport, *fakeMCU) {
	t.Helper()
	hostEnd, mcuEnd := net.Pipe()
	mcu := startFakeMCU(t, mcuEnd)
	host := NewHostTransport(hostEnd, WithAckTimeout(500*time.Millisecond))
	t.Cleanup(func() {
		host.Close()
		mcuEnd.Close()
	})
	return host, mcu
}

func TestHostTransportRequestResponse(t *testing.T) {
	host, _ := newHostPair(t)
	ctx := context.Background()

	for _, want := range []uint32{7, 300, 70000} {
		err := host.Send(ctx, 1, func(o OutputBuffer) { EncodeVLQUint(o, want) })
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}

		rctx, cancel := context.WithTimeout(ctx, time.Second)
		msg, err := host.Receive(rctx)
		cancel()
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}

		payload := msg.Payload
		id, _ := DecodeVLQUint(&payload)
		got, _ := DecodeVLQUint(&payload)
		if id != 0 || got != want {
			t.Errorf("Expected echo (0, %d), got (%d, %d)", want, id, got)
		}
	}

	if seq := host.Sequence(); seq != 0x13 {
		t.Errorf("Expected sequence 0x13 after 3 ACKed blocks, got 0x%02x", seq)
	}
}

func TestHostTransportResponseHandler(t *testing.T) {
	host, _ := newHostPair(t)

	got := make(chan uint32, 1)
	host.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		got <- v
		return nil
	})

	if err := host.Send(context.Background(), 1, func(o OutputBuffer) { EncodeVLQUint(o, 55) }); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case v := <-got:
		if v != 55 {
			t.Errorf("Expected 55 in handler, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Handler not called")
	}
}

func TestHostTransportAckTimeout(t *testing.T) {
	host, mcu := newHostPair(t)
	mcu.mu.Lock()
	mcu.mute = true
	mcu.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := host.Send(ctx, 2, nil)
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("Expected ErrAckTimeout, got %v", err)
	}
}

func TestHostTransportResponseTimeout(t *testing.T) {
	host, _ := newHostPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := host.Receive(ctx); !errors.Is(err, ErrResponseTimeout) {
		t.Errorf("Expected ErrResponseTimeout, got %v", err)
	}
}

func TestHostTransportClose(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()
	go io.Copy(io.Discard, mcuEnd)

	host := NewHostTransport(hostEnd)
	if err := host.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := host.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if _, err := host.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestHostTransportSendTooLong(t *testing.T) {
	host, _ := newHostPair(t)

	err := host.Send(context.Background(), 1, func(o OutputBuffer) {
		EncodeVLQBytes(o, make([]byte, MessagePayloadMax))
	})
	if !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
}
