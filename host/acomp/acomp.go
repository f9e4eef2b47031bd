// Package acomp is a typed client for the firmware's analog comparator
// commands.
package acomp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"anacomp/core"
	"anacomp/host/mcu"
)

// WaitMargin is added to a wait's timeout when bounding the host side: the
// firmware's command loop is blocked for the whole wait before it ACKs.
const WaitMargin = 2 * time.Second

// Settings are the arguments of a configure request.
type Settings struct {
	Positive core.PositiveInput
	Negative core.NegativeInput
	Redirect bool
}

// State is the decoded reply to a query.
type State struct {
	State    core.PeripheralState
	Edge     core.EdgeMode
	Positive core.PositiveInput
	Negative core.NegativeInput
	Redirect bool
	Saved    bool   // converter settings are borrowed
	Count    uint32 // interrupts since boot
}

// Event is one interrupt notification.
type Event struct {
	Clock    uint32
	Count    uint32
	Received time.Time
}

// WaitResult is the outcome of a blocking wait on the firmware.
type WaitResult struct {
	Triggered bool
	Clock     uint32
}

// Client drives the comparator through an identified MCU connection.
type Client struct {
	mcu *mcu.MCU
	log *slog.Logger

	defaultTimeout uint32
	numInputs      uint32
}

// NewClient checks that the firmware exposes the comparator and reads its
// limits from the dictionary.
func NewClient(m *mcu.MCU, log *slog.Logger) (*Client, error) {
	dict, err := m.Dictionary()
	if err != nil {
		return nil, err
	}
	if _, ok := dict.Command("analog_comp_configure"); !ok {
		return nil, fmt.Errorf("firmware %q has no analog comparator", dict.Version)
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{mcu: m, log: log, defaultTimeout: core.DefaultWaitTimeout}
	if v, ok := dict.ConfigUint("ANALOG_COMP_DEFAULT_TIMEOUT"); ok {
		c.defaultTimeout = v
	}
	if v, ok := dict.ConfigUint("ANALOG_COMP_NUM_INPUTS"); ok {
		c.numInputs = v
	}
	return c, nil
}

// NumInputs is the number of converter channels usable as negative input.
func (c *Client) NumInputs() uint32 {
	return c.numInputs
}

// Configure powers the comparator up with the given inputs. It returns
// core.ErrAlreadyConfigured when the firmware rejects the request.
func (c *Client) Configure(ctx context.Context, s Settings) error {
	resp, err := c.mcu.Request(ctx, "analog_comp_configure", mcu.Args{
		"positive": uint8(s.Positive),
		"negative": uint8(s.Negative),
		"redirect": s.Redirect,
	}, "analog_comp_configured")
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if resp.Params.Uint("result") != 0 {
		return core.ErrAlreadyConfigured
	}
	c.log.Info("configured", "positive", s.Positive, "negative", s.Negative, "redirect", s.Redirect)
	return nil
}

// EnableInterrupt arms interrupt delivery for edge. Events arrive through
// Events.
func (c *Client) EnableInterrupt(ctx context.Context, edge core.EdgeMode) error {
	if err := c.mcu.Send(ctx, "analog_comp_enable_irq", mcu.Args{"edge": uint8(edge)}); err != nil {
		return fmt.Errorf("enable interrupt: %w", err)
	}
	return nil
}

// DisableInterrupt disarms interrupt delivery and keeps the comparator on.
func (c *Client) DisableInterrupt(ctx context.Context) error {
	if err := c.mcu.Send(ctx, "analog_comp_disable_irq", nil); err != nil {
		return fmt.Errorf("disable interrupt: %w", err)
	}
	return nil
}

// Wait polls the comparator output on the firmware for up to timeout
// (0 selects the firmware default). ctx is extended by the timeout plus
// WaitMargin when it has no deadline of its own.
func (c *Client) Wait(ctx context.Context, timeout time.Duration) (WaitResult, error) {
	ms := uint32(timeout / time.Millisecond)
	bound := time.Duration(ms) * time.Millisecond
	if ms == 0 {
		bound = time.Duration(c.defaultTimeout) * time.Millisecond
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bound+WaitMargin)
		defer cancel()
	}

	resp, err := c.mcu.Request(ctx, "analog_comp_wait", mcu.Args{"timeout": ms}, "analog_comp_wait_result")
	if err != nil {
		return WaitResult{}, fmt.Errorf("wait: %w", err)
	}
	return WaitResult{
		Triggered: resp.Params.Bool("triggered"),
		Clock:     resp.Params.Uint("clock"),
	}, nil
}

// Shutdown powers the comparator down and restores the converter.
func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.mcu.Send(ctx, "analog_comp_shutdown", nil); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Query reads the controller state.
func (c *Client) Query(ctx context.Context) (State, error) {
	resp, err := c.mcu.Request(ctx, "analog_comp_query", nil, "analog_comp_state")
	if err != nil {
		return State{}, fmt.Errorf("query: %w", err)
	}
	p := resp.Params
	return State{
		State:    core.PeripheralState(p.Uint("state")),
		Edge:     core.EdgeMode(p.Uint("edge")),
		Positive: core.PositiveInput(p.Uint("positive")),
		Negative: core.NegativeInput(p.Uint("negative")),
		Redirect: p.Bool("redirect"),
		Saved:    p.Bool("saved"),
		Count:    p.Uint("count"),
	}, nil
}

// Events streams interrupt notifications until cancel is called.
// Notifications raised between two firmware loop passes are coalesced;
// Count is the running total, so gaps show how many were merged.
func (c *Client) Events(buffer int) (<-chan Event, func()) {
	responses, cancel := c.mcu.Subscribe("analog_comp_event", buffer)
	events := make(chan Event, buffer)
	stop := make(chan struct{})
	go func() {
		defer close(events)
		for {
			select {
			case r := <-responses:
				ev := Event{Clock: r.Params.Uint("clock"), Count: r.Params.Uint("count"), Received: r.Received}
				select {
				case events <- ev:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()
	var once sync.Once
	return events, func() {
		once.Do(func() {
			cancel()
			close(stop)
		})
	}
}

// ParsePositive accepts "pin" (AIN0) or "bandgap".
func ParsePositive(s string) (core.PositiveInput, error) {
	switch strings.ToLower(s) {
	case "", "pin", "ain0":
		return core.PositivePin, nil
	case "bandgap", "internal":
		return core.InternalReference, nil
	}
	return 0, fmt.Errorf("unknown positive input %q", s)
}

// ParseNegative accepts "pin" (AIN1) or a converter channel number.
func ParseNegative(s string) (core.NegativeInput, error) {
	switch strings.ToLower(s) {
	case "", "pin", "ain1":
		return core.NegativePin, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n == uint64(core.NegativePin) {
		return 0, fmt.Errorf("unknown negative input %q", s)
	}
	return core.Channel(uint8(n)), nil
}

// ParseEdge accepts "toggle", "falling" or "rising".
func ParseEdge(s string) (core.EdgeMode, error) {
	switch strings.ToLower(s) {
	case "toggle", "change":
		return core.EdgeToggle, nil
	case "falling":
		return core.EdgeFalling, nil
	case "", "rising":
		return core.EdgeRising, nil
	}
	return 0, fmt.Errorf("unknown edge %q", s)
}
