package framesource

import "errors"

// ErrOpenCVUnavailable is returned by NewOpenCV in builds without the opencv tag.
var ErrOpenCVUnavailable = errors.New("framesource: built without opencv support (rebuild with -tags opencv)")

// Status is the result code of a frame request.
// Positive means a complete frame was written; zero or negative means no frame this time.
type Status int

const (
	StatusUnavailable Status = 0
	StatusOK          Status = 1
)

// OK reports whether the status denotes a written frame.
func (s Status) OK() bool { return s > 0 }

func (s Status) String() string {
	if s.OK() {
		return "ok"
	}
	return "unavailable"
}

// Source is the camera backend contract: a device that can be opened by index
// and asked to fill a caller-owned pixel region.
//
// GetFrame writes width*height pixels, in the pixel format the source was
// built for, into dst and must not keep dst after it returns. Control calls
// are fire-and-forget; the Source decides how to clamp or ignore them.
type Source interface {
	Init(index int) bool
	GetFrame(dst []byte, width, height int) Status
	SetExposure(value int)
	SetTriggerMode(enabled bool)
	SoftwareTrigger()
	SetBugState(enabled bool)
}

// LeakReporter is implemented by sources that can report how many bytes the
// bug simulation currently retains.
type LeakReporter interface {
	LeakedBytes() int
}

// LeakedBytes returns src's retained leak size, or 0 if src does not report it.
func LeakedBytes(src Source) int {
	if lr, ok := src.(LeakReporter); ok {
		return lr.LeakedBytes()
	}
	return 0
}

// clampExposure limits an exposure value to the 0-100 range the sources understand.
func clampExposure(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
