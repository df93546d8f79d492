// Package framebuf holds the fixed-size pixel buffer shared by the acquisition
// loop (single writer) and the display layer (readers).
package framebuf

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidGeometry is returned by New for non-positive dimensions or an unknown format.
var ErrInvalidGeometry = errors.New("framebuf: invalid geometry")

// PixelFormat describes the byte layout of one pixel.
type PixelFormat int

const (
	RGBA8 PixelFormat = iota
	BGRA8
	Gray8
)

// BytesPerPixel returns the pixel stride in bytes.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case RGBA8, BGRA8:
		return 4
	case Gray8:
		return 1
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case RGBA8:
		return "rgba"
	case BGRA8:
		return "bgra"
	case Gray8:
		return "gray"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// ParsePixelFormat maps a config name (rgba, bgra, gray) to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "rgba":
		return RGBA8, nil
	case "bgra":
		return BGRA8, nil
	case "gray":
		return Gray8, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q", s)
	}
}

// Stats counts write windows opened and closed on a Buffer.
type Stats struct {
	Acquires uint64
	Releases uint64
}

// Buffer is a fixed-size pixel region. The backing array is allocated once
// and never reassigned, so a slice handed out under a WriteGuard stays valid
// for the whole window.
type Buffer struct {
	width  int
	height int
	format PixelFormat

	mu   sync.RWMutex
	data []byte

	writing  atomic.Bool
	acquires atomic.Uint64
	releases atomic.Uint64
}

// New allocates a width x height buffer in the given format.
func New(width, height int, format PixelFormat) (*Buffer, error) {
	if width <= 0 || height <= 0 || format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("%w: %dx%d %v", ErrInvalidGeometry, width, height, format)
	}
	return &Buffer{
		width:  width,
		height: height,
		format: format,
		data:   make([]byte, width*height*format.BytesPerPixel()),
	}, nil
}

func (b *Buffer) Width() int          { return b.width }
func (b *Buffer) Height() int         { return b.height }
func (b *Buffer) Format() PixelFormat { return b.format }

// Stride returns the number of bytes per row.
func (b *Buffer) Stride() int { return b.width * b.format.BytesPerPixel() }

// Len returns the size of the pixel region in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Acquire blocks until exclusive write access is available and returns a guard
// over the pixel region. The caller must Release the guard, normally with defer.
func (b *Buffer) Acquire() *WriteGuard {
	b.mu.Lock()
	b.writing.Store(true)
	b.acquires.Add(1)
	return &WriteGuard{buf: b}
}

// Writing reports whether a write window is currently open.
func (b *Buffer) Writing() bool { return b.writing.Load() }

// Read calls fn with read access to the pixels. fn must not retain the slice.
func (b *Buffer) Read(fn func(pix []byte)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b.data)
}

// Snapshot copies the pixels into dst (grown if needed) and returns it.
func (b *Buffer) Snapshot(dst []byte) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cap(dst) < len(b.data) {
		dst = make([]byte, len(b.data))
	}
	dst = dst[:len(b.data)]
	copy(dst, b.data)
	return dst
}

// Stats returns the acquire/release counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Acquires: b.acquires.Load(),
		Releases: b.releases.Load(),
	}
}

// WriteGuard is one exclusive write window over a Buffer.
type WriteGuard struct {
	buf      *Buffer
	once     sync.Once
	released atomic.Bool
}

// Pixels returns the writable region, or nil once the guard is released.
func (g *WriteGuard) Pixels() []byte {
	if g.released.Load() {
		return nil
	}
	return g.buf.data
}

// Release closes the write window. Only the first call has an effect.
func (g *WriteGuard) Release() {
	g.once.Do(func() {
		g.released.Store(true)
		g.buf.writing.Store(false)
		g.buf.releases.Add(1)
		g.buf.mu.Unlock()
	})
}
