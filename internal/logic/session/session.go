// Package session holds the camera session: connection and trigger-mode
// status, and the gate in front of every control forwarded to the frame source.
package session

import (
	"io"
	"sync"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/display"
	"github.com/cjeanneret/simcam/internal/framebuf"
	"github.com/cjeanneret/simcam/internal/hw/framesource"
	"github.com/cjeanneret/simcam/internal/logic/acquisition"
	"github.com/google/uuid"
)

// State is a point-in-time copy of the session, as served to the UIs.
type State struct {
	ID            string `json:"id"`
	Connected     bool   `json:"connected"`
	TriggerMode   bool   `json:"trigger_mode"`
	BugSimulation bool   `json:"bug_simulation"`
	Exposure      int    `json:"exposure"`
	CameraIndex   int    `json:"camera_index"`
	Loop          string `json:"loop"`
}

// Session starts disconnected and only ever moves to connected.
// It owns the acquisition loop and serves as its connection gate.
type Session struct {
	id     string
	source framesource.Source
	loop   *acquisition.Loop

	mu          sync.Mutex
	connected   bool
	triggerMode bool
	bug         bool
	exposure    int
	index       int
}

// New creates a disconnected session whose loop writes into buf and signals disp.
// initialExposure is pushed to the source by the first successful Connect.
func New(src framesource.Source, buf *framebuf.Buffer, disp display.Invalidator, cfg acquisition.Config, initialExposure int) *Session {
	s := &Session{
		id:       uuid.NewString(),
		source:   src,
		exposure: initialExposure,
		index:    -1,
	}
	s.loop = acquisition.New(src, buf, disp, s, cfg)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Connected reports whether a camera init has succeeded.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect initializes camera index. On success the session's exposure is
// applied to the freshly opened device, the session becomes connected and the
// loop starts (a no-op if it already runs). A failure leaves the state
// untouched, so an earlier connection stays valid.
func (s *Session) Connect(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.source.Init(index)
	debug.Connect(index, ok)
	if !ok {
		return false
	}
	debug.Forward("SetExposure", s.exposure)
	s.source.SetExposure(s.exposure)
	s.connected = true
	s.index = index
	s.loop.Start()
	return true
}

// SetExposure forwards value unchanged. Ignored while disconnected.
func (s *Session) SetExposure(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return
	}
	debug.Forward("SetExposure", value)
	s.exposure = value
	s.source.SetExposure(value)
}

// SetTriggerMode records and forwards the mode. Ignored while disconnected.
func (s *Session) SetTriggerMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return
	}
	debug.Forward("SetTriggerMode", enabled)
	s.triggerMode = enabled
	s.source.SetTriggerMode(enabled)
}

// SoftwareTrigger forwards a trigger. Ignored while disconnected; in free-run
// mode it is still forwarded and the source drops it.
// The session lock is not held during the forward: a strobe-wrapped source
// blocks for the pulse width, and the loop's gate must not wait on it.
func (s *Session) SoftwareTrigger() {
	s.mu.Lock()
	connected, mode := s.connected, s.triggerMode
	s.mu.Unlock()

	if !connected {
		return
	}
	debug.Forward("SoftwareTrigger", mode)
	s.source.SoftwareTrigger()
}

// ToggleBugSimulation flips the leak simulation, forwards the new value and
// returns it. It works whether or not a camera is connected.
func (s *Session) ToggleBugSimulation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bug = !s.bug
	debug.Forward("SetBugState", s.bug)
	s.source.SetBugState(s.bug)
	return s.bug
}

// BugSimulation reports whether the leak simulation is on.
func (s *Session) BugSimulation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bug
}

// LeakedBytes returns the memory the source retained for the bug simulation.
func (s *Session) LeakedBytes() int {
	return framesource.LeakedBytes(s.source)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	loopState := s.loop.State().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:            s.id,
		Connected:     s.connected,
		TriggerMode:   s.triggerMode,
		BugSimulation: s.bug,
		Exposure:      s.exposure,
		CameraIndex:   s.index,
		Loop:          loopState,
	}
}

// LoopStats returns the acquisition counters.
func (s *Session) LoopStats() acquisition.Stats {
	return s.loop.Stats()
}

// LoopState returns the acquisition loop lifecycle state.
func (s *Session) LoopState() acquisition.State {
	return s.loop.State()
}

// Close stops the loop, waiting for an in-flight tick, then closes the source
// if it holds resources. The session mutex is not held while stopping because
// the tick being waited on reads Connected.
func (s *Session) Close() error {
	s.loop.Stop()
	if c, ok := s.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
