package framesource

import (
	"math/rand"
	"slices"
	"sync"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/framebuf"
)

// SimConfig configures a simulated camera.
type SimConfig struct {
	Devices           []int                // indices Init accepts; anything else is "missing hardware"
	Pattern           string               // bars, gradient or noise
	Format            framebuf.PixelFormat // layout written by GetFrame
	LeakBytesPerFrame int                  // bytes retained per frame while the bug is on
	Seed              int64                // noise pattern seed
}

// Sim is a software camera. It renders a moving test pattern whose brightness
// follows the exposure setting, honors trigger mode, and can be told to leak
// memory on every frame so a profiler has something to find.
type Sim struct {
	mu  sync.Mutex
	cfg SimConfig
	rng *rand.Rand

	opened   bool
	index    int
	exposure int
	trigger  triggerGate
	bug      bool
	frameNo  uint64

	leaked     [][]byte
	leakedSize int
}

var barColors = [8][3]byte{
	{255, 255, 255}, // white
	{255, 255, 0},   // yellow
	{0, 255, 255},   // cyan
	{0, 255, 0},     // green
	{255, 0, 255},   // magenta
	{255, 0, 0},     // red
	{0, 0, 255},     // blue
	{0, 0, 0},       // black
}

// NewSim creates a closed simulated camera.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Pattern == "" {
		cfg.Pattern = "bars"
	}
	return &Sim{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		exposure: 50,
		index:    -1,
	}
}

// Init opens the device at index. It fails for indices not listed in Devices.
func (s *Sim) Init(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.cfg.Devices, index) {
		debug.Verbose("Sim: no device at index %d", index)
		return false
	}
	s.opened = true
	s.index = index
	s.frameNo = 0
	s.trigger.reset()
	debug.Verbose("Sim: device %d opened (%s pattern)", index, s.cfg.Pattern)
	return true
}

// GetFrame renders one frame into dst.
func (s *Sim) GetFrame(dst []byte, width, height int) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened || width <= 0 || height <= 0 {
		return StatusUnavailable
	}
	bpp := s.cfg.Format.BytesPerPixel()
	if bpp == 0 || len(dst) < width*height*bpp {
		return StatusUnavailable
	}
	if !s.trigger.ready() {
		return StatusUnavailable
	}

	s.render(dst, width, height, bpp)
	s.frameNo++
	s.trigger.delivered()

	if s.bug && s.cfg.LeakBytesPerFrame > 0 {
		chunk := make([]byte, s.cfg.LeakBytesPerFrame)
		copy(chunk, dst)
		s.leaked = append(s.leaked, chunk)
		s.leakedSize += len(chunk)
	}
	return StatusOK
}

// SetExposure sets the brightness gain; 50 is neutral. Values are clamped to 0-100.
func (s *Sim) SetExposure(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposure = clampExposure(value)
}

// SetTriggerMode switches between free-run and one-frame-per-trigger.
func (s *Sim) SetTriggerMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigger.setMode(enabled)
}

// SoftwareTrigger releases one frame in trigger mode and is ignored otherwise.
func (s *Sim) SoftwareTrigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigger.fire()
}

// SetBugState turns the per-frame leak on or off. Turning it off does not free
// what has already leaked.
func (s *Sim) SetBugState(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bug = enabled
}

// LeakedBytes returns the number of bytes retained by the bug simulation.
func (s *Sim) LeakedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leakedSize
}

// Exposure returns the current (clamped) exposure.
func (s *Sim) Exposure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure
}

// Close releases the device and everything the bug simulation retained.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	s.leaked = nil
	s.leakedSize = 0
	return nil
}

func (s *Sim) render(dst []byte, width, height, bpp int) {
	shift := int(s.frameNo * 4)
	scanLine := int(s.frameNo) % height
	barWidth := max(width/len(barColors), 1)

	for y := 0; y < height; y++ {
		row := dst[y*width*bpp : (y+1)*width*bpp]
		for x := 0; x < width; x++ {
			var r, g, b byte
			switch s.cfg.Pattern {
			case "gradient":
				r = byte((x + shift) * 255 / width)
				g = byte(y * 255 / height)
				b = byte(255 - int(r))
			case "noise":
				v := byte(s.rng.Intn(256))
				r, g, b = v, v, v
			default:
				c := barColors[((x+shift)/barWidth)%len(barColors)]
				r, g, b = c[0], c[1], c[2]
			}
			if y == scanLine {
				r, g, b = 255, 255, 255
			}
			r, g, b = s.gain(r), s.gain(g), s.gain(b)

			px := row[x*bpp:]
			switch s.cfg.Format {
			case framebuf.RGBA8:
				px[0], px[1], px[2], px[3] = r, g, b, 0xff
			case framebuf.BGRA8:
				px[0], px[1], px[2], px[3] = b, g, r, 0xff
			case framebuf.Gray8:
				px[0] = byte((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
			}
		}
	}
}

func (s *Sim) gain(v byte) byte {
	out := int(v) * s.exposure / 50
	if out > 255 {
		return 255
	}
	return byte(out)
}
