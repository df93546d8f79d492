package web

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/simcam/internal/diag/memwatch"
	"github.com/cjeanneret/simcam/internal/logic/acquisition"
	"github.com/cjeanneret/simcam/internal/logic/session"
)

// MaxBodyBytes caps every POST body.
const MaxBodyBytes = 1 << 20

// Controller is the camera session as seen by the HTTP layer.
type Controller interface {
	Connect(index int) bool
	SetExposure(value int)
	SetTriggerMode(enabled bool)
	SoftwareTrigger()
	ToggleBugSimulation() bool
	Snapshot() session.State
	LoopStats() acquisition.Stats
}

// MemoryFunc returns the latest memory sample, or false before the first one.
type MemoryFunc func() (memwatch.Sample, bool)

// FormConfig holds the control form defaults (from config).
type FormConfig struct {
	CameraIndex int    `json:"camera_index"`
	Exposure    int    `json:"exposure"`
	Source      string `json:"source"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PixelFormat string `json:"pixel_format"`
	IntervalMs  int    `json:"frame_interval_ms"`
	Strobe      bool   `json:"strobe"`
}

// LoopStats is acquisition.Stats as served over JSON.
type LoopStats struct {
	Ticks       uint64     `json:"ticks"`
	Frames      uint64     `json:"frames"`
	Unavailable uint64     `json:"unavailable"`
	Failures    uint64     `json:"failures"`
	Skipped     uint64     `json:"skipped"`
	LastFrameAt *time.Time `json:"last_frame_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func loopStatsJSON(s acquisition.Stats) LoopStats {
	out := LoopStats{
		Ticks:       s.Ticks,
		Frames:      s.Frames,
		Unavailable: s.Unavailable,
		Failures:    s.Failures,
		Skipped:     s.Skipped,
		LastError:   s.LastError,
	}
	if !s.LastFrameAt.IsZero() {
		t := s.LastFrameAt
		out.LastFrameAt = &t
	}
	return out
}

// StateResponse is the body of every control endpoint.
type StateResponse struct {
	session.State
	Stats LoopStats `json:"stats"`
	Error string    `json:"error,omitempty"`
}

type connectRequest struct {
	Index *int `json:"index"`
}

type exposureRequest struct {
	Value *int `json:"value"`
}

type triggerModeRequest struct {
	Enabled *bool `json:"enabled"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Controller   Controller
	Broadcaster  *StatusBroadcaster
	Frames       *FrameHub
	Memory       MemoryFunc
	FormDefaults FormConfig
	staticFS     fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// frames may be nil, in which case /frame.jpg always answers 204.
func NewHandlers(ctrl Controller, broadcaster *StatusBroadcaster, frames *FrameHub, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Controller:   ctrl,
		Broadcaster:  broadcaster,
		Frames:       frames,
		FormDefaults: formDefaults,
		staticFS:     staticFS,
	}
}

// decodeBody reads a size-limited JSON body into v. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) state() StateResponse {
	return StateResponse{
		State: h.Controller.Snapshot(),
		Stats: loopStatsJSON(h.Controller.LoopStats()),
	}
}

func (h *Handlers) announce(msg string) {
	if h.Broadcaster == nil {
		return
	}
	h.Broadcaster.BroadcastMsg(msg)
	h.Broadcaster.BroadcastData("state", h.Controller.Snapshot())
}

// HandleConfig returns the form default values as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the viewer page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// HandleConnect handles POST /connect {"index":n}.
// A camera that fails to initialize answers 503 with the unchanged state.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Index == nil {
		http.Error(w, "index is required", http.StatusBadRequest)
		return
	}
	if *req.Index < 0 {
		http.Error(w, "index must be >= 0", http.StatusBadRequest)
		return
	}

	if !h.Controller.Connect(*req.Index) {
		resp := h.state()
		resp.Error = fmt.Sprintf("camera %d not available", *req.Index)
		if h.Broadcaster != nil {
			h.Broadcaster.Broadcast("error", resp.Error)
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.announce(fmt.Sprintf("Camera %d connected", *req.Index))
	writeJSON(w, http.StatusOK, h.state())
}

// HandleExposure handles POST /exposure {"value":n}. The value is forwarded
// unchanged; the frame source clamps it.
func (h *Handlers) HandleExposure(w http.ResponseWriter, r *http.Request) {
	var req exposureRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Value == nil {
		http.Error(w, "value is required", http.StatusBadRequest)
		return
	}
	h.Controller.SetExposure(*req.Value)
	h.announce(fmt.Sprintf("Exposure %d", *req.Value))
	writeJSON(w, http.StatusOK, h.state())
}

// HandleTriggerMode handles POST /trigger-mode {"enabled":b}.
func (h *Handlers) HandleTriggerMode(w http.ResponseWriter, r *http.Request) {
	var req triggerModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		http.Error(w, "enabled is required", http.StatusBadRequest)
		return
	}
	h.Controller.SetTriggerMode(*req.Enabled)
	h.announce(fmt.Sprintf("Trigger mode %v", *req.Enabled))
	writeJSON(w, http.StatusOK, h.state())
}

// HandleTrigger handles POST /trigger.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	h.Controller.SoftwareTrigger()
	writeJSON(w, http.StatusOK, h.state())
}

// HandleBug handles POST /bug, toggling the leak simulation.
func (h *Handlers) HandleBug(w http.ResponseWriter, r *http.Request) {
	on := h.Controller.ToggleBugSimulation()
	if on {
		h.announce("Bug simulation ON: memory will leak")
	} else {
		h.announce("Bug simulation OFF")
	}
	writeJSON(w, http.StatusOK, h.state())
}

// HandleMemory handles GET /diag/memory.
func (h *Handlers) HandleMemory(w http.ResponseWriter, r *http.Request) {
	if h.Memory == nil {
		http.Error(w, "memory monitor not running", http.StatusServiceUnavailable)
		return
	}
	s, ok := h.Memory()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleFrame handles GET /frame.jpg with the last encoded frame.
func (h *Handlers) HandleFrame(w http.ResponseWriter, r *http.Request) {
	var data []byte
	if h.Frames != nil {
		data = h.Frames.Latest()
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
