package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/simcam/internal/diag/memwatch"
	"github.com/cjeanneret/simcam/internal/logic/acquisition"
	"github.com/cjeanneret/simcam/internal/logic/session"
)

// fakeController mimics the session gate: controls are ignored until a
// camera from okIndex connects.
type fakeController struct {
	mu        sync.Mutex
	okIndex   map[int]bool
	state     session.State
	exposures []int
	triggers  int
	stats     acquisition.Stats
}

func newFakeController(ok ...int) *fakeController {
	c := &fakeController{okIndex: make(map[int]bool)}
	for _, i := range ok {
		c.okIndex[i] = true
	}
	c.state = session.State{ID: "test-session", CameraIndex: -1, Exposure: 50, Loop: "idle"}
	return c
}

func (c *fakeController) Connect(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.okIndex[index] {
		return false
	}
	c.state.Connected = true
	c.state.CameraIndex = index
	c.state.Loop = "running"
	return true
}

func (c *fakeController) SetExposure(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Connected {
		return
	}
	c.exposures = append(c.exposures, v)
	c.state.Exposure = v
}

func (c *fakeController) SetTriggerMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Connected {
		c.state.TriggerMode = enabled
	}
}

func (c *fakeController) SoftwareTrigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Connected {
		c.triggers++
	}
}

func (c *fakeController) ToggleBugSimulation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.BugSimulation = !c.state.BugSimulation
	return c.state.BugSimulation
}

func (c *fakeController) Snapshot() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) LoopStats() acquisition.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func newTestHandlers(ctrl Controller) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html><body>simcam</body></html>")},
	}
	return NewHandlers(ctrl, NewStatusBroadcaster(), nil, FormConfig{
		CameraIndex: 0,
		Exposure:    50,
		Source:      "sim",
		Width:       640,
		Height:      480,
		PixelFormat: "rgba",
		IntervalMs:  33,
	}, staticFS)
}

func post(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) StateResponse {
	t.Helper()
	var resp StateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// ---------- HandleConnect ----------

func TestHandleConnect_OK(t *testing.T) {
	ctrl := newFakeController(0)
	h := newTestHandlers(ctrl)

	w := post(t, h.HandleConnect, "/connect", `{"index":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeState(t, w)
	if !resp.Connected || resp.CameraIndex != 0 || resp.Loop != "running" {
		t.Errorf("state = %+v", resp.State)
	}
	if resp.ID != "test-session" {
		t.Errorf("id = %q", resp.ID)
	}
}

func TestHandleConnect_Unavailable(t *testing.T) {
	h := newTestHandlers(newFakeController(0))

	w := post(t, h.HandleConnect, "/connect", `{"index":2}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	resp := decodeState(t, w)
	if resp.Connected {
		t.Error("failed connect should report disconnected")
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}
}

func TestHandleConnect_BadBodies(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", "not json"},
		{"missing_index", `{}`},
		{"negative_index", `{"index":-1}`},
		{"wrong_type", `{"index":"zero"}`},
		{"unknown_field", `{"index":0,"extra":1}`},
		{"oversized", `{"index":0,"pad":"` + strings.Repeat("x", 2<<20) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(newFakeController(0))
			w := post(t, h.HandleConnect, "/connect", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// ---------- controls ----------

func TestHandleExposure(t *testing.T) {
	ctrl := newFakeController(0)
	h := newTestHandlers(ctrl)
	ctrl.Connect(0)

	w := post(t, h.HandleExposure, "/exposure", `{"value":250}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeState(t, w); resp.Exposure != 250 {
		t.Errorf("exposure = %d, want 250 (passed through)", resp.Exposure)
	}
	if len(ctrl.exposures) != 1 || ctrl.exposures[0] != 250 {
		t.Errorf("forwarded = %v", ctrl.exposures)
	}
}

func TestHandleExposure_MissingValue(t *testing.T) {
	h := newTestHandlers(newFakeController(0))
	w := post(t, h.HandleExposure, "/exposure", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleControls_DisconnectedAreNoops(t *testing.T) {
	ctrl := newFakeController(0)
	h := newTestHandlers(ctrl)

	post(t, h.HandleExposure, "/exposure", `{"value":70}`)
	post(t, h.HandleTriggerMode, "/trigger-mode", `{"enabled":true}`)
	w := post(t, h.HandleTrigger, "/trigger", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeState(t, w)
	if resp.Connected || resp.TriggerMode || resp.Exposure != 50 {
		t.Errorf("state changed while disconnected: %+v", resp.State)
	}
	if ctrl.triggers != 0 || len(ctrl.exposures) != 0 {
		t.Error("controls forwarded while disconnected")
	}
}

func TestHandleTriggerMode(t *testing.T) {
	ctrl := newFakeController(0)
	h := newTestHandlers(ctrl)
	ctrl.Connect(0)

	w := post(t, h.HandleTriggerMode, "/trigger-mode", `{"enabled":true}`)
	if resp := decodeState(t, w); !resp.TriggerMode {
		t.Error("trigger mode not enabled")
	}
	w = post(t, h.HandleTriggerMode, "/trigger-mode", `{"enabled":"yes"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleTrigger(t *testing.T) {
	ctrl := newFakeController(0)
	h := newTestHandlers(ctrl)
	ctrl.Connect(0)

	post(t, h.HandleTrigger, "/trigger", "")
	post(t, h.HandleTrigger, "/trigger", "")
	if ctrl.triggers != 2 {
		t.Errorf("triggers = %d, want 2", ctrl.triggers)
	}
}

func TestHandleBug_TogglesWithoutConnection(t *testing.T) {
	h := newTestHandlers(newFakeController())

	w := post(t, h.HandleBug, "/bug", "")
	if resp := decodeState(t, w); !resp.BugSimulation {
		t.Error("first toggle should enable the bug simulation")
	}
	w = post(t, h.HandleBug, "/bug", "")
	if resp := decodeState(t, w); resp.BugSimulation {
		t.Error("second toggle should disable the bug simulation")
	}
}

func TestHandleBug_BroadcastsState(t *testing.T) {
	h := newTestHandlers(newFakeController())
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	post(t, h.HandleBug, "/bug", "")

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case msg := <-ch:
			var evt StatusEvent
			if err := json.Unmarshal([]byte(msg), &evt); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			kinds = append(kinds, evt.Kind)
		case <-timeout:
			t.Fatalf("got %d events, want 2", len(kinds))
		}
	}
	if kinds[0] != "" || kinds[1] != "state" {
		t.Errorf("event kinds = %q, want [\"\" \"state\"]", kinds)
	}
}

// ---------- read endpoints ----------

func TestHandleState(t *testing.T) {
	ctrl := newFakeController(0)
	ctrl.stats = acquisition.Stats{Ticks: 10, Frames: 7, Unavailable: 3, LastFrameAt: time.Now()}
	h := newTestHandlers(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()
	h.HandleState(w, req)

	resp := decodeState(t, w)
	if resp.Stats.Frames != 7 || resp.Stats.Unavailable != 3 || resp.Stats.Ticks != 10 {
		t.Errorf("stats = %+v", resp.Stats)
	}
	if resp.Stats.LastFrameAt == nil {
		t.Error("last_frame_at missing")
	}
}

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(newFakeController())
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var fc FormConfig
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Exposure != 50 || fc.Width != 640 || fc.Source != "sim" {
		t.Errorf("form config = %+v", fc)
	}
}

func TestHandleMemory(t *testing.T) {
	h := newTestHandlers(newFakeController())
	req := httptest.NewRequest(http.MethodGet, "/diag/memory", nil)

	w := httptest.NewRecorder()
	h.HandleMemory(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no monitor: status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	h.Memory = func() (memwatch.Sample, bool) { return memwatch.Sample{}, false }
	w = httptest.NewRecorder()
	h.HandleMemory(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("no sample: status = %d, want %d", w.Code, http.StatusNoContent)
	}

	h.Memory = func() (memwatch.Sample, bool) {
		return memwatch.Sample{RSS: 4096, LeakedBytes: 1024, Growth: 512}, true
	}
	w = httptest.NewRecorder()
	h.HandleMemory(w, req)
	var s memwatch.Sample
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.RSS != 4096 || s.LeakedBytes != 1024 || s.Growth != 512 {
		t.Errorf("sample = %+v", s)
	}
}

func TestHandleFrame_NoFrameYet(t *testing.T) {
	h := newTestHandlers(newFakeController())
	req := httptest.NewRequest(http.MethodGet, "/frame.jpg", nil)
	w := httptest.NewRecorder()

	h.HandleFrame(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(newFakeController())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- routing ----------

func TestMux_Routes(t *testing.T) {
	srv := NewServer(":0", newFakeController(0), NewStatusBroadcaster(), nil, FormConfig{})
	mux := srv.Mux()

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/state", "", http.StatusOK},
		{http.MethodGet, "/config", "", http.StatusOK},
		{http.MethodGet, "/frame.jpg", "", http.StatusNoContent},
		{http.MethodGet, "/diag/memory", "", http.StatusServiceUnavailable},
		{http.MethodPost, "/connect", `{"index":0}`, http.StatusOK},
		{http.MethodPost, "/bug", "", http.StatusOK},
		{http.MethodGet, "/connect", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestServer_SetMemory(t *testing.T) {
	srv := NewServer(":0", newFakeController(), NewStatusBroadcaster(), nil, FormConfig{})
	srv.SetMemory(func() (memwatch.Sample, bool) { return memwatch.Sample{RSS: 1}, true })

	req := httptest.NewRequest(http.MethodGet, "/diag/memory", nil)
	w := httptest.NewRecorder()
	srv.Mux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
