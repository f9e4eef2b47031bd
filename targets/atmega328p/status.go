//go:build atmega328p

package main

import (
	"image/color"
	"machine"

	"tinygo.org/x/drivers/ws2812"

	"anacomp/core"
)

const statusPixelPin = machine.D6

var stateColors = [...]color.RGBA{
	core.StateUninitialized:           {R: 0, G: 0, B: 4, A: 255},
	core.StateConfigured:              {R: 0, G: 12, B: 0, A: 255},
	core.StateConfiguredWithInterrupt: {R: 12, G: 8, B: 0, A: 255},
}

var eventColor = color.RGBA{R: 32, G: 32, B: 32, A: 255}

// statusPixel shows the controller state on a single WS2812 and flashes
// white for one loop pass per reported event.
type statusPixel struct {
	dev       ws2812.Device
	last      color.RGBA
	lastCount uint32
}

func newStatusPixel() *statusPixel {
	statusPixelPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &statusPixel{dev: ws2812.New(statusPixelPin)}
}

// update redraws only when the colour changes; a WS2812 write masks
// interrupts for its duration.
func (p *statusPixel) update(count uint32) {
	c := eventColor
	if count == p.lastCount {
		st := core.ComparatorState()
		if int(st) < len(stateColors) {
			c = stateColors[st]
		}
	}
	p.lastCount = count
	if c == p.last {
		return
	}
	p.last = c
	_ = p.dev.WriteColors([]color.RGBA{c})
}
