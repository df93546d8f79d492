package web

import (
	"context"
	"io/fs"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/simcam/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for the given address and dependencies.
func NewServer(addr string, ctrl Controller, broadcaster *StatusBroadcaster, frames *FrameHub, formDefaults FormConfig) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(ctrl, broadcaster, frames, formDefaults, subFS),
	}
}

// SetMemory wires the leak monitor into GET /diag/memory.
// Must be called before Run.
func (s *Server) SetMemory(fn MemoryFunc) {
	s.handlers.Memory = fn
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("POST /connect", h.HandleConnect)
	mux.HandleFunc("POST /exposure", h.HandleExposure)
	mux.HandleFunc("POST /trigger-mode", h.HandleTriggerMode)
	mux.HandleFunc("POST /trigger", h.HandleTrigger)
	mux.HandleFunc("POST /bug", h.HandleBug)
	mux.HandleFunc("GET /state", h.HandleState)
	mux.HandleFunc("GET /config", h.HandleConfig)
	mux.HandleFunc("GET /diag/memory", h.HandleMemory)
	mux.HandleFunc("GET /frame.jpg", h.HandleFrame)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	if h.Frames != nil {
		mux.HandleFunc("GET /ws", h.Frames.ServeWS)
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived SSE streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
