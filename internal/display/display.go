// Package display carries the "buffer contents changed" signal from the
// acquisition loop to whatever draws the frame buffer.
package display

import "sync/atomic"

// Invalidator is told that the frame buffer holds a new complete frame.
// Invalidate is called from the acquisition goroutine and must not block.
type Invalidator interface {
	Invalidate()
}

// Func adapts a plain function to Invalidator.
type Func func()

func (f Func) Invalidate() { f() }

// Multi fans one redraw signal out to several displays.
type Multi []Invalidator

func (m Multi) Invalidate() {
	for _, d := range m {
		if d != nil {
			d.Invalidate()
		}
	}
}

// Signal is a coalescing redraw flag. Invalidate never blocks: while a
// previous signal is still pending, new ones merge into it. Generation counts
// every Invalidate so pollers can tell whether anything changed.
type Signal struct {
	ch  chan struct{}
	gen atomic.Uint64
}

// NewSignal creates an idle Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

func (s *Signal) Invalidate() {
	s.gen.Add(1)
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that receives one value per batch of Invalidate calls.
func (s *Signal) C() <-chan struct{} { return s.ch }

// Generation returns the number of Invalidate calls so far.
func (s *Signal) Generation() uint64 { return s.gen.Load() }
