package tui

import (
	"strings"

	"github.com/cjeanneret/simcam/internal/framebuf"
)

// lumaRamp maps brightness to characters, dark to bright.
const lumaRamp = " .:-=+*#%@"

// renderPreview downsamples a frame to cols x rows characters by nearest
// sampling and maps each sample's luminance onto lumaRamp.
func renderPreview(pix []byte, width, height int, format framebuf.PixelFormat, cols, rows int) string {
	bpp := format.BytesPerPixel()
	if cols <= 0 || rows <= 0 || width <= 0 || height <= 0 || bpp == 0 || len(pix) < width*height*bpp {
		return ""
	}

	var sb strings.Builder
	sb.Grow((cols + 1) * rows)
	for r := 0; r < rows; r++ {
		y := r * height / rows
		for c := 0; c < cols; c++ {
			x := c * width / cols
			i := (y*width + x) * bpp
			l := luma(pix[i:i+bpp], format)
			sb.WriteByte(lumaRamp[l*(len(lumaRamp)-1)/255])
		}
		if r < rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// luma returns the Rec. 601 luminance of one pixel.
func luma(p []byte, format framebuf.PixelFormat) int {
	switch format {
	case framebuf.Gray8:
		return int(p[0])
	case framebuf.BGRA8:
		return (299*int(p[2]) + 587*int(p[1]) + 114*int(p[0])) / 1000
	default:
		return (299*int(p[0]) + 587*int(p[1]) + 114*int(p[2])) / 1000
	}
}
