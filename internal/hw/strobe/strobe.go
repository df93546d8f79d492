package strobe

import (
	"sync"
	"time"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/hw/framesource"
	"github.com/cjeanneret/simcam/internal/hw/gpio"
)

// Line is a trigger-out (strobe) output on a GPIO pin.
// Idle LOW; a pulse drives it HIGH for the configured width:
// 1. PIN to HIGH (strobe fires)
// 2. Hold for the pulse width
// 3. PIN back to LOW
type Line struct {
	mu     sync.Mutex
	gpio   gpio.Driver
	pin    int
	width  time.Duration
	pulses int
}

// NewLine configures pin as an output and parks it LOW.
func NewLine(g gpio.Driver, pin int, width time.Duration) *Line {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)

	return &Line{
		gpio:  g,
		pin:   pin,
		width: width,
	}
}

// Pulse fires the strobe once. Concurrent pulses are serialized.
func (l *Line) Pulse() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	debug.Verbose("Strobe: pulse on pin %d (%v)", l.pin, l.width)
	if err := l.gpio.WritePin(l.pin, gpio.High); err != nil {
		return err
	}
	time.Sleep(l.width)
	if err := l.gpio.WritePin(l.pin, gpio.Low); err != nil {
		return err
	}
	l.pulses++
	return nil
}

// Pulses returns the number of completed pulses.
func (l *Line) Pulses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pulses
}

// Source wraps a frame source so that every software trigger also fires the strobe.
type Source struct {
	framesource.Source
	line *Line
}

// Wrap decorates src with line.
func Wrap(src framesource.Source, line *Line) *Source {
	return &Source{Source: src, line: line}
}

// SoftwareTrigger pulses the strobe, then forwards the trigger.
// A failed pulse is logged; the trigger is still forwarded.
func (s *Source) SoftwareTrigger() {
	if err := s.line.Pulse(); err != nil {
		debug.Error(err)
	}
	s.Source.SoftwareTrigger()
}

// LeakedBytes reports the wrapped source's leak, if it tracks one.
func (s *Source) LeakedBytes() int {
	return framesource.LeakedBytes(s.Source)
}

// Close closes the wrapped source if it is closable.
func (s *Source) Close() error {
	if c, ok := s.Source.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
