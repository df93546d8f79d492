package session

import (
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/simcam/internal/display"
	"github.com/cjeanneret/simcam/internal/framebuf"
	"github.com/cjeanneret/simcam/internal/hw/framesource"
	"github.com/cjeanneret/simcam/internal/logic/acquisition"
)

// fakeSource records every call made through the Source interface.
type fakeSource struct {
	mu        sync.Mutex
	initOK    map[int]bool
	calls     []string
	exposures []int
	modes     []bool
	triggers  int
	bugs      []bool
	frames    int
	closed    bool

	// When set, SoftwareTrigger signals triggerEntered and then blocks
	// until triggerRelease is closed.
	triggerEntered chan struct{}
	triggerRelease chan struct{}
}

func newFakeSource(okIndices ...int) *fakeSource {
	f := &fakeSource{initOK: make(map[int]bool)}
	for _, i := range okIndices {
		f.initOK[i] = true
	}
	return f
}

func (f *fakeSource) record(name string) {
	f.calls = append(f.calls, name)
}

func (f *fakeSource) Init(index int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Init")
	return f.initOK[index]
}

func (f *fakeSource) GetFrame(dst []byte, width, height int) framesource.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetFrame")
	f.frames++
	return framesource.StatusOK
}

func (f *fakeSource) SetExposure(value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetExposure")
	f.exposures = append(f.exposures, value)
}

func (f *fakeSource) SetTriggerMode(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetTriggerMode")
	f.modes = append(f.modes, enabled)
}

func (f *fakeSource) SoftwareTrigger() {
	if f.triggerRelease != nil {
		f.triggerEntered <- struct{}{}
		<-f.triggerRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SoftwareTrigger")
	f.triggers++
}

func (f *fakeSource) SetBugState(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetBugState")
	f.bugs = append(f.bugs, enabled)
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

type ticker struct{ ch chan time.Time }

func (t *ticker) start(time.Duration) (<-chan time.Time, func()) {
	return t.ch, func() {}
}

func newTestSession(t *testing.T, src *fakeSource) (*Session, *ticker, *framebuf.Buffer) {
	t.Helper()
	buf, err := framebuf.New(4, 4, framebuf.RGBA8)
	if err != nil {
		t.Fatal(err)
	}
	tk := &ticker{ch: make(chan time.Time)}
	s := New(src, buf, display.Func(func() {}), acquisition.Config{NewTicker: tk.start}, 50)
	t.Cleanup(func() { s.Close() })
	return s, tk, buf
}

func TestSession_StartsDisconnected(t *testing.T) {
	s, _, _ := newTestSession(t, newFakeSource(0))
	st := s.Snapshot()
	if st.Connected || st.TriggerMode || st.BugSimulation {
		t.Errorf("initial state = %+v, want all false", st)
	}
	if st.ID == "" || st.ID != s.ID() {
		t.Errorf("session ID = %q", st.ID)
	}
	if st.Exposure != 50 {
		t.Errorf("initial exposure = %d, want 50", st.Exposure)
	}
	if st.Loop != "idle" {
		t.Errorf("loop = %q, want idle", st.Loop)
	}
}

func TestSession_ControlsIgnoredWhileDisconnected(t *testing.T) {
	src := newFakeSource()
	s, _, _ := newTestSession(t, src)

	s.SetExposure(70)
	s.SetTriggerMode(true)
	s.SoftwareTrigger()

	for _, name := range []string{"SetExposure", "SetTriggerMode", "SoftwareTrigger", "GetFrame"} {
		if n := src.count(name); n != 0 {
			t.Errorf("%s forwarded %d times while disconnected", name, n)
		}
	}
	st := s.Snapshot()
	if st.TriggerMode {
		t.Error("trigger mode changed while disconnected")
	}
	if st.Exposure != 50 {
		t.Errorf("exposure changed while disconnected: %d", st.Exposure)
	}
}

func TestSession_FailedConnect(t *testing.T) {
	src := newFakeSource(0)
	s, _, _ := newTestSession(t, src)

	if s.Connect(3) {
		t.Fatal("Connect(3) should fail")
	}
	if s.Connected() {
		t.Error("failed connect must leave the session disconnected")
	}
	if s.LoopState() != acquisition.Idle {
		t.Errorf("loop state = %v, want idle after failed connect", s.LoopState())
	}
	if src.count("Init") != 1 {
		t.Errorf("Init called %d times, want 1 (no automatic retry)", src.count("Init"))
	}

	// The caller may retry.
	if !s.Connect(0) {
		t.Fatal("retry Connect(0) should succeed")
	}
	if !s.Connected() || s.LoopState() != acquisition.Running {
		t.Errorf("after retry: connected=%v loop=%v", s.Connected(), s.LoopState())
	}
}

func TestSession_ConnectThenForward(t *testing.T) {
	src := newFakeSource(0)
	s, _, _ := newTestSession(t, src)

	if !s.Connect(0) {
		t.Fatal("Connect(0) should succeed")
	}
	s.SetExposure(250) // passed through; clamping is the source's job
	s.SetTriggerMode(true)
	s.SoftwareTrigger()

	src.mu.Lock()
	defer src.mu.Unlock()
	// 50 is the initial exposure applied on connect.
	if len(src.exposures) != 2 || src.exposures[0] != 50 || src.exposures[1] != 250 {
		t.Errorf("exposures forwarded = %v, want [50 250]", src.exposures)
	}
	if n := len(src.calls); n < 2 || src.calls[n-2] != "SetTriggerMode" || src.calls[n-1] != "SoftwareTrigger" {
		t.Errorf("last calls = %v, want SetTriggerMode then SoftwareTrigger", src.calls)
	}
	if len(src.modes) != 1 || !src.modes[0] {
		t.Errorf("modes forwarded = %v, want [true]", src.modes)
	}
	if src.triggers != 1 {
		t.Errorf("triggers forwarded = %d, want 1", src.triggers)
	}
}

func TestSession_TriggerForwardedInFreeRun(t *testing.T) {
	src := newFakeSource(0)
	s, _, _ := newTestSession(t, src)
	s.Connect(0)

	s.SoftwareTrigger()
	if src.count("SoftwareTrigger") != 1 {
		t.Error("software trigger in free-run mode should still be forwarded")
	}
}

func TestSession_SecondConnectKeepsConnection(t *testing.T) {
	src := newFakeSource(0)
	s, _, _ := newTestSession(t, src)

	s.Connect(0)
	if s.Connect(9) {
		t.Fatal("Connect(9) should fail")
	}
	st := s.Snapshot()
	if !st.Connected {
		t.Error("a failed re-init must not drop an existing connection")
	}
	if st.CameraIndex != 0 {
		t.Errorf("camera index = %d, want 0", st.CameraIndex)
	}
	if s.LoopState() != acquisition.Running {
		t.Errorf("loop state = %v, want running", s.LoopState())
	}
}

func TestSession_ToggleBugWithoutConnection(t *testing.T) {
	src := newFakeSource()
	s, _, _ := newTestSession(t, src)

	if !s.ToggleBugSimulation() {
		t.Error("first toggle should return true")
	}
	if s.ToggleBugSimulation() {
		t.Error("second toggle should return false")
	}

	src.mu.Lock()
	got := append([]bool(nil), src.bugs...)
	src.mu.Unlock()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("bug states forwarded = %v, want [true false]", got)
	}
	if s.BugSimulation() {
		t.Error("BugSimulation() should be false after two toggles")
	}
}

func TestSession_NoFramesBeforeConnect(t *testing.T) {
	src := newFakeSource(0)
	s, tk, buf := newTestSession(t, src)

	// The loop is idle before connect, so nothing reads the ticker.
	select {
	case tk.ch <- time.Now():
		t.Fatal("loop consumed a tick before connect")
	case <-time.After(20 * time.Millisecond):
	}
	if src.count("GetFrame") != 0 {
		t.Error("GetFrame called before connect")
	}
	if st := buf.Stats(); st.Acquires != 0 {
		t.Errorf("buffer acquired %d times before connect", st.Acquires)
	}
	if s.Connected() {
		t.Error("unexpected connection")
	}
}

func TestSession_TicksAfterConnect(t *testing.T) {
	src := newFakeSource(0)
	s, tk, buf := newTestSession(t, src)
	s.Connect(0)

	for i := 0; i < 5; i++ {
		tk.ch <- time.Now()
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if n := src.count("GetFrame"); n != 5 {
		t.Errorf("GetFrame calls = %d, want 5", n)
	}
	if st := buf.Stats(); st.Acquires != 5 || st.Releases != 5 {
		t.Errorf("buffer stats = %+v, want 5/5", st)
	}
	if got := s.LoopStats().Frames; got != 5 {
		t.Errorf("loop frames = %d, want 5", got)
	}
	if s.LoopState() != acquisition.Stopped {
		t.Errorf("loop state = %v, want stopped", s.LoopState())
	}
	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Error("Close should close the source")
	}
}

func TestSession_LeakedBytes(t *testing.T) {
	sim := framesource.NewSim(framesource.SimConfig{Devices: []int{0}, LeakBytesPerFrame: 100})
	buf, _ := framebuf.New(4, 4, framebuf.RGBA8)
	s := New(sim, buf, nil, acquisition.Config{}, 50)
	defer s.Close()

	s.ToggleBugSimulation()
	if !s.Connect(0) {
		t.Fatal("Connect(0) failed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.LeakedBytes() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.LeakedBytes() == 0 {
		t.Error("bug simulation produced no leak")
	}
}

func TestSession_ConnectAppliesInitialExposure(t *testing.T) {
	sim := framesource.NewSim(framesource.SimConfig{Devices: []int{0}})
	buf, _ := framebuf.New(4, 4, framebuf.RGBA8)
	s := New(sim, buf, nil, acquisition.Config{}, 80)
	defer s.Close()

	if !s.Connect(0) {
		t.Fatal("Connect(0) failed")
	}
	if got, want := sim.Exposure(), s.Snapshot().Exposure; got != want || got != 80 {
		t.Errorf("source exposure = %d, reported %d, want 80", got, want)
	}
}

func TestSession_ConnectOrdersExposureBeforeFrames(t *testing.T) {
	src := newFakeSource(0)
	s, _, _ := newTestSession(t, src)
	s.Connect(0)

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.calls) < 2 || src.calls[0] != "Init" || src.calls[1] != "SetExposure" {
		t.Errorf("calls = %v, want Init then SetExposure", src.calls)
	}
}

func TestSession_TriggerDoesNotBlockGate(t *testing.T) {
	src := newFakeSource(0)
	src.triggerEntered = make(chan struct{})
	src.triggerRelease = make(chan struct{})
	s, _, _ := newTestSession(t, src)
	s.Connect(0)

	done := make(chan struct{})
	go func() {
		s.SoftwareTrigger()
		close(done)
	}()
	<-src.triggerEntered

	gate := make(chan bool, 1)
	go func() { gate <- s.Connected() }()
	select {
	case ok := <-gate:
		if !ok {
			t.Error("Connected() = false during trigger")
		}
	case <-time.After(time.Second):
		t.Fatal("Connected() blocked behind an in-flight trigger")
	}

	close(src.triggerRelease)
	<-done
	if src.count("SoftwareTrigger") != 1 {
		t.Error("trigger was not forwarded")
	}
}
