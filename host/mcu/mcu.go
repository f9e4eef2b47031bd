// Package mcu talks to the comparator firmware by message name, using the
// data dictionary the firmware serves to encode commands and decode
// responses.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"anacomp/host/serial"
	"anacomp/protocol"
)

// ErrNoDictionary is returned by calls that need the dictionary before
// Identify has run.
var ErrNoDictionary = errors.New("dictionary not loaded")

// Response is one decoded message from the firmware.
type Response struct {
	ID       int
	Name     string
	Params   Params
	Received time.Time
}

// MCU is a connection to the comparator firmware.
type MCU struct {
	transport *protocol.HostTransport
	log       *slog.Logger

	chunkSize  uint8
	ackTimeout time.Duration

	mu   sync.RWMutex
	dict *Dictionary
	raw  []byte // dictionary as served, possibly compressed

	subMu  sync.Mutex
	subs   map[string][]*subscription
	nextID int
}

type subscription struct {
	id int
	ch chan Response
}

// Option configures an MCU.
type Option func(*MCU)

// WithLogger sets the logger for the connection and its transport.
func WithLogger(l *slog.Logger) Option {
	return func(m *MCU) { m.log = l }
}

// WithChunkSize sets how many dictionary bytes identify asks for at once.
func WithChunkSize(n uint8) Option {
	return func(m *MCU) { m.chunkSize = n }
}

// WithAckTimeout bounds how long a command waits for its ACK when the
// caller's context has no deadline.
func WithAckTimeout(d time.Duration) Option {
	return func(m *MCU) { m.ackTimeout = d }
}

// New wraps an already open port.
func New(port io.ReadWriteCloser, opts ...Option) *MCU {
	m := &MCU{
		log:        slog.Default(),
		chunkSize:  40,
		ackTimeout: protocol.DefaultAckTimeout,
		dict:       bootstrapDictionary(),
		subs:       make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.transport = protocol.NewHostTransport(port,
		protocol.WithLogger(m.log),
		protocol.WithAckTimeout(m.ackTimeout))
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Dial opens the serial port described by cfg.
func Dial(cfg *serial.Config, opts ...Option) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush %s: %w", cfg.Device, err)
	}
	return New(port, opts...), nil
}

// Close closes the connection.
func (m *MCU) Close() error {
	return m.transport.Close()
}

// Identify fetches, inflates and parses the firmware's dictionary.
func (m *MCU) Identify(ctx context.Context) error {
	var buf bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := m.identifyChunk(ctx, offset)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < int(m.chunkSize) {
			break
		}
	}

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.dict = dict
	m.raw = buf.Bytes()
	m.mu.Unlock()

	m.log.Info("dictionary loaded", "version", dict.Version, "bytes", buf.Len(),
		"commands", len(dict.Commands), "responses", len(dict.Responses))
	return nil
}

func (m *MCU) identifyChunk(ctx context.Context, offset uint32) ([]byte, error) {
	resp, err := m.Request(ctx, "identify", Args{"offset": offset, "count": m.chunkSize}, "identify_response")
	if err != nil {
		return nil, err
	}
	if got := resp.Params.Uint("offset"); got != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, got)
	}
	return resp.Params.Bytes("data"), nil
}

// Dictionary returns the loaded dictionary, or ErrNoDictionary.
func (m *MCU) Dictionary() (*Dictionary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.raw == nil {
		return nil, ErrNoDictionary
	}
	return m.dict, nil
}

// RawDictionary returns the dictionary bytes as served by the firmware.
func (m *MCU) RawDictionary() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.raw
}

// Send encodes and transmits a command by name and waits for its ACK.
func (m *MCU) Send(ctx context.Context, name string, args Args) error {
	m.mu.RLock()
	format, ok := m.dict.Command(name)
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	payload := protocol.NewSliceOutput(protocol.MessagePayloadMax)
	if err := format.Encode(payload, args); err != nil {
		return err
	}
	m.log.Debug("send", "command", name, "args", args)
	return m.transport.Send(ctx, uint16(format.ID), func(out protocol.OutputBuffer) {
		out.Output(payload.Bytes())
	})
}

// Request sends a command and waits for the named response. The firmware
// sends the response before the ACK, so the subscription is in place
// before the command goes out.
func (m *MCU) Request(ctx context.Context, name string, args Args, response string) (*Response, error) {
	ch, cancel := m.Subscribe(response, 1)
	defer cancel()

	if err := m.Send(ctx, name, args); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return &resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", response, protocol.ErrResponseTimeout)
		}
		return nil, ctx.Err()
	}
}

// Subscribe delivers every response with the given name on the returned
// channel until cancel is called. A full channel drops the response.
func (m *MCU) Subscribe(name string, buffer int) (<-chan Response, func()) {
	if buffer < 1 {
		buffer = 1
	}
	m.subMu.Lock()
	m.nextID++
	sub := &subscription{id: m.nextID, ch: make(chan Response, buffer)}
	m.subs[name] = append(m.subs[name], sub)
	m.subMu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			list := m.subs[name]
			for i, s := range list {
				if s.id == sub.id {
					m.subs[name] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(m.subs[name]) == 0 {
				delete(m.subs, name)
			}
		})
	}
}

// SetDebug turns the firmware's debug_output messages on or off.
func (m *MCU) SetDebug(ctx context.Context, on bool) error {
	return m.Send(ctx, "set_debug", Args{"enable": on})
}

// handleResponse runs on the transport's read loop.
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.RLock()
	format, ok := m.dict.Response(int(cmdID))
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown response id %d", cmdID)
	}

	params, err := format.Decode(data)
	if err != nil {
		return err
	}
	resp := Response{ID: format.ID, Name: format.Name, Params: params, Received: time.Now()}
	m.log.Debug("response", "name", resp.Name, "params", params)
	if resp.Name == "debug_output" {
		m.log.Info("firmware", "msg", string(params.Bytes("msg")))
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs[format.Name] {
		select {
		case sub.ch <- resp:
		default:
			m.log.Warn("subscriber full, response dropped", "name", format.Name)
		}
	}
	return nil
}
