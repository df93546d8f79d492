//go:build !opencv

package framesource

import "github.com/cjeanneret/simcam/internal/framebuf"

// OpenCV is only functional in builds with the opencv tag.
type OpenCV struct{ Source }

// NewOpenCV reports that this binary was built without OpenCV.
func NewOpenCV(format framebuf.PixelFormat) (*OpenCV, error) {
	return nil, ErrOpenCVUnavailable
}
