package acquisition

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/display"
	"github.com/cjeanneret/simcam/internal/framebuf"
	"github.com/cjeanneret/simcam/internal/hw/framesource"
)

// DefaultInterval is the nominal tick period (~30 Hz).
const DefaultInterval = 33 * time.Millisecond

// Gate tells the loop whether the camera is connected.
type Gate interface {
	Connected() bool
}

// TickerFunc starts a periodic tick channel and returns it with its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// NewTimeTicker is the TickerFunc backed by time.Ticker.
func NewTimeTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// State is the loop lifecycle: Idle until started, Running while ticking,
// Stopped once shut down. Stopped is terminal.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is what one tick did.
type Outcome int

const (
	Skipped     Outcome = iota // not connected; no frame request
	Frame                      // frame written, redraw signalled
	Unavailable                // source returned a non-positive status; no redraw
	Failed                     // source panicked; window released, no redraw
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Frame:
		return "frame"
	case Unavailable:
		return "unavailable"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Stats counts tick outcomes.
type Stats struct {
	Ticks       uint64
	Frames      uint64
	Unavailable uint64
	Failures    uint64
	Skipped     uint64
	LastFrameAt time.Time
	LastError   string
}

// Config holds loop timing.
type Config struct {
	Interval  time.Duration // tick period; DefaultInterval if zero
	NewTicker TickerFunc    // NewTimeTicker if nil
}

// Loop polls a frame source into a frame buffer at a fixed period.
// Ticks never overlap: one goroutine drives them, and tickMu serializes any
// direct Tick call against it.
type Loop struct {
	source  framesource.Source
	buffer  *framebuf.Buffer
	display display.Invalidator
	gate    Gate

	interval  time.Duration
	newTicker TickerFunc

	tickMu sync.Mutex

	mu    sync.Mutex
	state State
	stats Stats
	stop  chan struct{}
	done  chan struct{}
}

// New creates an Idle loop.
func New(src framesource.Source, buf *framebuf.Buffer, disp display.Invalidator, gate Gate, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	if disp == nil {
		disp = display.Func(func() {})
	}
	return &Loop{
		source:    src,
		buffer:    buf,
		display:   disp,
		gate:      gate,
		interval:  cfg.Interval,
		newTicker: cfg.NewTicker,
	}
}

// Start moves an Idle loop to Running and begins ticking.
// It returns false if the loop is already Running or Stopped.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Idle {
		return false
	}
	ticks, stopTicker := l.newTicker(l.interval)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.state = Running
	debug.Verbose("Acquisition: loop started (%v period)", l.interval)

	go l.run(ticks, stopTicker, l.stop, l.done)
	return true
}

func (l *Loop) run(ticks <-chan time.Time, stopTicker func(), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer stopTicker()

	for {
		select {
		case <-stop:
			return
		case <-ticks:
			l.Tick()
		}
	}
}

// Stop moves the loop to Stopped and waits for an in-flight tick to finish.
// Safe to call more than once and on a loop that never started.
func (l *Loop) Stop() {
	l.mu.Lock()
	prev := l.state
	l.state = Stopped
	stop, done := l.stop, l.done
	l.mu.Unlock()

	if prev != Running {
		return
	}
	close(stop)
	<-done
	debug.Verbose("Acquisition: loop stopped")
}

// State returns the lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a snapshot of the tick counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Interval returns the tick period.
func (l *Loop) Interval() time.Duration { return l.interval }

// Tick runs one acquisition step:
// 1. skip if not connected
// 2. open the buffer's write window
// 3. request one frame into it
// 4. close the window (on every path)
// 5. signal redraw if a frame was written
func (l *Loop) Tick() Outcome {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	outcome, err := l.tick()

	l.mu.Lock()
	l.stats.Ticks++
	n := l.stats.Ticks
	switch outcome {
	case Skipped:
		l.stats.Skipped++
	case Frame:
		l.stats.Frames++
		l.stats.LastFrameAt = time.Now()
	case Unavailable:
		l.stats.Unavailable++
	case Failed:
		l.stats.Failures++
		l.stats.LastError = err.Error()
	}
	l.mu.Unlock()

	if err != nil {
		debug.Error(err)
	}
	debug.Frame(n, outcome.String())
	return outcome
}

func (l *Loop) tick() (Outcome, error) {
	if !l.gate.Connected() {
		return Skipped, nil
	}

	status, err := l.requestFrame()
	if err != nil {
		return Failed, err
	}
	if !status.OK() {
		return Unavailable, nil
	}

	// The write window is closed here, so displays never see a partial frame.
	l.display.Invalidate()
	return Frame, nil
}

// requestFrame holds the write guard for exactly the duration of GetFrame.
// Deferred calls run in reverse order: the panic is recovered first, then the
// guard is released.
func (l *Loop) requestFrame() (status framesource.Status, err error) {
	guard := l.buffer.Acquire()
	defer guard.Release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame request panicked: %v", r)
		}
	}()

	return l.source.GetFrame(guard.Pixels(), l.buffer.Width(), l.buffer.Height()), nil
}
