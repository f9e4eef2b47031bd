//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout bounds Send when the context carries no deadline.
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler is called from the read loop for every non-ACK block.
// data is positioned after the message ID.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is one received block.
type Message struct {
	Sequence uint8
	Payload  []byte // between header and trailer
}

// HostTransport is the host side of the link. Sends are serialized: each
// block must be ACKed before the next one goes out.
type HostTransport struct {
	port io.ReadWriteCloser
	log  *slog.Logger

	sendMu     sync.Mutex
	seq        atomic.Uint32
	ackTimeout time.Duration
	retries    int

	handlerMu sync.RWMutex
	handler   ResponseHandler

	acks      chan uint8
	responses chan *Message

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// HostOption configures a HostTransport.
type HostOption func(*HostTransport)

// WithLogger routes transport diagnostics to l.
func WithLogger(l *slog.Logger) HostOption {
	return func(t *HostTransport) { t.log = l }
}

// WithAckTimeout replaces DefaultAckTimeout.
func WithAckTimeout(d time.Duration) HostOption {
	return func(t *HostTransport) { t.ackTimeout = d }
}

// WithRetries sets how many times a NAKed block is retransmitted.
func WithRetries(n int) HostOption {
	return func(t *HostTransport) { t.retries = n }
}

// NewHostTransport starts reading from port in the background.
func NewHostTransport(port io.ReadWriteCloser, opts ...HostOption) *HostTransport {
	t := &HostTransport{
		port:       port,
		log:        slog.Default(),
		ackTimeout: DefaultAckTimeout,
		retries:    2,
		acks:       make(chan uint8, 4),
		responses:  make(chan *Message, 16),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.seq.Store(MessageDest)

	go t.readLoop()
	return t
}

// Send transmits one command and waits for its ACK. A NAK makes the
// transport adopt the MCU's expected sequence and retransmit.
func (t *HostTransport) Send(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	payload := NewSliceOutput(MessagePayloadMax)
	EncodeVLQUint(payload, uint32(cmdID))
	if args != nil {
		args(payload)
	}
	if len(payload.Bytes()) > MessagePayloadMax {
		return fmt.Errorf("command %d: %w", cmdID, ErrFrameTooLong)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.ackTimeout)
		defer cancel()
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	for attempt := 0; attempt <= t.retries; attempt++ {
		seq := uint8(t.seq.Load())
		block, err := AppendFrame(nil, seq, payload.Bytes())
		if err != nil {
			return err
		}

		t.drainAcks()
		if err := t.write(block); err != nil {
			return fmt.Errorf("write command %d: %w", cmdID, err)
		}

		ack, err := t.waitAck(ctx)
		if err != nil {
			return fmt.Errorf("command %d: %w", cmdID, err)
		}
		if ack == nextSeq(seq) {
			t.seq.Store(uint32(ack))
			return nil
		}

		t.log.Debug("nak", "sent", seq, "expected", ack, "attempt", attempt)
		t.seq.Store(uint32(ack))
	}
	return fmt.Errorf("command %d: %w", cmdID, ErrNak)
}

func (t *HostTransport) write(block []byte) error {
	n, err := t.port.Write(block)
	if err != nil {
		return err
	}
	if n != len(block) {
		return fmt.Errorf("short write: %d/%d bytes", n, len(block))
	}
	return nil
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

func (t *HostTransport) waitAck(ctx context.Context) (uint8, error) {
	select {
	case ack := <-t.acks:
		return ack, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ErrAckTimeout
		}
		return 0, ctx.Err()
	case <-t.closed:
		return 0, ErrClosed
	}
}

// Receive returns the next non-ACK block.
func (t *HostTransport) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-t.responses:
		return msg, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrResponseTimeout
		}
		return nil, ctx.Err()
	case <-t.closed:
		return nil, ErrClosed
	}
}

// SetResponseHandler installs a callback run for every received response.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

// Sequence returns the sequence the next block will carry.
func (t *HostTransport) Sequence() uint8 {
	return uint8(t.seq.Load())
}

// Close stops the read loop and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.port.Close()
		<-t.done
	})
	return err
}

func (t *HostTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	input := NewFifoBuffer(4 * MessageLengthMax * 2)
	buf := make([]byte, 256)
	synchronized := true

	for {
		n, err := t.port.Read(buf)
		if t.isClosed() {
			return
		}
		if n > 0 {
			if w := input.Write(buf[:n]); w < n {
				t.log.Warn("input overflow", "dropped", n-w)
			}
			synchronized = t.processInput(input, synchronized)
		}
		if err != nil {
			// Serial read timeouts surface as io.EOF
			if !errors.Is(err, io.EOF) {
				t.log.Debug("read", "err", err)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) processInput(input *FifoBuffer, synchronized bool) bool {
	data := input.Data()

	for len(data) > 0 {
		if !synchronized {
			data, synchronized = skipToSync(data)
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
			t.log.Debug("invalid block, resyncing")
			synchronized = false
			continue
		}

		msg := &Message{
			Sequence: data[MessagePositionSeq],
			Payload:  append([]byte(nil), data[MessageHeaderSize:msgLen-MessageTrailerSize]...),
		}
		data = data[msgLen:]
		t.dispatch(msg)
	}

	input.Pop(input.Available() - len(data))
	return synchronized
}

func (t *HostTransport) dispatch(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.acks <- msg.Sequence:
		default:
			t.log.Debug("ack dropped", "seq", msg.Sequence)
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		payload := msg.Payload
		if cmdID, err := DecodeVLQUint(&payload); err == nil {
			if err := handler(uint16(cmdID), &payload); err != nil {
				t.log.Debug("response handler", "id", cmdID, "err", err)
			}
		}
	}

	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		// Full: drop the oldest
		select {
		case <-t.responses:
		default:
		}
	}
}
