//go:build opencv

package framesource

import (
	"image"
	"sync"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/framebuf"
	"gocv.io/x/gocv"
)

// OpenCV reads frames from a local camera through gocv. Each frame is resized
// to the requested size and converted from BGR to the configured pixel format
// before it is copied into the caller's region.
type OpenCV struct {
	mu      sync.Mutex
	format  framebuf.PixelFormat
	capture *gocv.VideoCapture
	frame   gocv.Mat
	resized gocv.Mat
	color   gocv.Mat

	trigger    triggerGate
	bug        bool
	leaked     []gocv.Mat
	leakedSize int
}

// NewOpenCV creates a closed OpenCV source writing the given pixel format.
func NewOpenCV(format framebuf.PixelFormat) (*OpenCV, error) {
	return &OpenCV{
		format:  format,
		frame:   gocv.NewMat(),
		resized: gocv.NewMat(),
		color:   gocv.NewMat(),
	}, nil
}

// Init opens camera index and asks for 640x480.
func (o *OpenCV) Init(index int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.capture != nil {
		_ = o.capture.Close()
		o.capture = nil
	}
	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		debug.Verbose("OpenCV: open device %d: %v", index, err)
		return false
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return false
	}
	capture.Set(gocv.VideoCaptureFrameWidth, 640)
	capture.Set(gocv.VideoCaptureFrameHeight, 480)
	o.capture = capture
	o.trigger.reset()
	return true
}

// GetFrame grabs, resizes, converts and copies one frame.
func (o *OpenCV) GetFrame(dst []byte, width, height int) Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.capture == nil || !o.capture.IsOpened() {
		return StatusUnavailable
	}
	if !o.trigger.ready() {
		return StatusUnavailable
	}
	if ok := o.capture.Read(&o.frame); !ok || o.frame.Empty() {
		return StatusUnavailable
	}

	gocv.Resize(o.frame, &o.resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	switch o.format {
	case framebuf.BGRA8:
		gocv.CvtColor(o.resized, &o.color, gocv.ColorBGRToBGRA)
	case framebuf.Gray8:
		gocv.CvtColor(o.resized, &o.color, gocv.ColorBGRToGray)
	default:
		gocv.CvtColor(o.resized, &o.color, gocv.ColorBGRToRGBA)
	}

	data := o.color.ToBytes()
	expected := width * height * o.format.BytesPerPixel()
	if len(data) != expected || len(dst) < expected {
		return StatusUnavailable
	}
	copy(dst, data)
	o.trigger.delivered()

	if o.bug {
		// Never closed until Close: native memory grows with every frame.
		o.leaked = append(o.leaked, o.frame.Clone())
		o.leakedSize += o.frame.Total() * o.frame.ElemSize()
	}
	return StatusOK
}

// SetExposure forwards the value to the driver; its range is device specific.
func (o *OpenCV) SetExposure(value int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.capture != nil {
		o.capture.Set(gocv.VideoCaptureExposure, float64(clampExposure(value)))
	}
}

func (o *OpenCV) SetTriggerMode(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trigger.setMode(enabled)
}

func (o *OpenCV) SoftwareTrigger() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trigger.fire()
}

func (o *OpenCV) SetBugState(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bug = enabled
}

// LeakedBytes returns the size of the Mats retained by the bug simulation.
func (o *OpenCV) LeakedBytes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leakedSize
}

// Close releases the device and every Mat.
func (o *OpenCV) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, m := range o.leaked {
		_ = m.Close()
	}
	o.leaked = nil
	o.leakedSize = 0
	_ = o.frame.Close()
	_ = o.resized.Close()
	_ = o.color.Close()
	if o.capture != nil {
		err := o.capture.Close()
		o.capture = nil
		return err
	}
	return nil
}
