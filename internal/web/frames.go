package web

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/display"
	"github.com/cjeanneret/simcam/internal/framebuf"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// clientBacklog is how many encoded frames may queue for one websocket client
// before it is considered too slow and dropped.
const clientBacklog = 4

type frameClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newFrameClient(conn *websocket.Conn) *frameClient {
	c := &frameClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBacklog),
	}
	go c.writePump()
	return c
}

func (c *frameClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
}

// FrameHub is the browser display. It implements display.Invalidator: the
// acquisition loop only flips a coalescing signal, and Run encodes the buffer
// to JPEG and pushes it to every websocket client.
type FrameHub struct {
	buf     *framebuf.Buffer
	quality int
	signal  *display.Signal

	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	mu      sync.RWMutex
	clients map[*frameClient]bool
	latest  []byte
	encoded uint64

	scratch []byte // only touched by publish
}

// NewFrameHub creates a hub over buf. quality is the JPEG quality (1-100).
// With no allowed origins, only same-host browser origins may open /ws.
func NewFrameHub(buf *framebuf.Buffer, quality int, allowedOrigins []string) *FrameHub {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	h := &FrameHub{
		buf:            buf,
		quality:        quality,
		signal:         display.NewSignal(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		clients:        make(map[*frameClient]bool),
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		h.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			h.allowedHosts[parsed.Host] = true
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Invalidate marks the buffer as holding a new frame. It never blocks.
func (h *FrameHub) Invalidate() { h.signal.Invalidate() }

// Run encodes and publishes frames until ctx is done. Redraw signals that
// arrive while a frame is being encoded collapse into one.
func (h *FrameHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.signal.C():
			if err := h.publish(); err != nil {
				debug.Error(err)
			}
		}
	}
}

// publish snapshots the buffer under its read lock, then encodes outside it.
func (h *FrameHub) publish() error {
	h.scratch = h.buf.Snapshot(h.scratch)
	data, err := encodeJPEG(h.scratch, h.buf.Width(), h.buf.Height(), h.buf.Format(), h.quality)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	h.encoded++
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			debug.Verbose("Web: frame client %s too slow, disconnecting", c.id)
			delete(h.clients, c)
			close(c.send)
		}
	}
	return nil
}

// Latest returns the most recent JPEG, or nil before the first frame.
func (h *FrameHub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Encoded returns the number of frames encoded so far.
func (h *FrameHub) Encoded() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.encoded
}

// ClientCount returns the number of websocket viewers.
func (h *FrameHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the viewer. The last encoded
// frame, if any, is sent right away.
func (h *FrameHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("Web: ws upgrade: %v", err)
		return
	}

	c := newFrameClient(conn)
	h.mu.Lock()
	h.clients[c] = true
	if h.latest != nil {
		c.send <- h.latest // fresh client, backlog is empty
	}
	h.mu.Unlock()
	debug.Info("Web: viewer %s connected from %s", c.id, r.RemoteAddr)

	go func() {
		defer func() {
			h.removeClient(c)
			debug.Info("Web: viewer %s disconnected", c.id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *FrameHub) removeClient(c *frameClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *FrameHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *FrameHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if len(h.allowedOrigins) > 0 {
		return h.allowedHosts[parsed.Host]
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

// encodeJPEG wraps pix in an image of the matching layout and encodes it.
// BGRA is swapped to RGBA in place, so pix must be a private copy.
func encodeJPEG(pix []byte, width, height int, format framebuf.PixelFormat, quality int) ([]byte, error) {
	var img image.Image
	rect := image.Rect(0, 0, width, height)
	switch format {
	case framebuf.Gray8:
		img = &image.Gray{Pix: pix, Stride: width, Rect: rect}
	case framebuf.BGRA8:
		for i := 0; i+3 < len(pix); i += 4 {
			pix[i], pix[i+2] = pix[i+2], pix[i]
		}
		img = &image.RGBA{Pix: pix, Stride: width * 4, Rect: rect}
	case framebuf.RGBA8:
		img = &image.RGBA{Pix: pix, Stride: width * 4, Rect: rect}
	default:
		return nil, fmt.Errorf("unsupported pixel format %v", format)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
