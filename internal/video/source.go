// Package video provides frame sources and the latest-frame display used by
// the frame sampler.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"time"
)

// DefaultJPEGQuality is the quality used when encoding frames for analysis.
const DefaultJPEGQuality = 85

// ErrNoFrame is returned by GetFrame when no frame arrived within the timeout.
var ErrNoFrame = errors.New("no frame available")

// Frame is a single decoded video frame.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
}

// RGBA returns a copy of the frame in the display layout. The copy shares no
// pixel memory with the source image.
func (f *Frame) RGBA() *image.RGBA {
	b := f.Image.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, f.Image, b.Min, draw.Src)
	return rgba
}

// JPEG encodes the frame in the layout expected by the vision collaborator.
func (f *Frame) JPEG(quality int) ([]byte, error) {
	if f == nil || f.Image == nil {
		return nil, errors.New("empty frame")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Source delivers frames from a live stream.
type Source interface {
	// GetFrame waits up to timeout for the next frame.
	// Returns ErrNoFrame if none arrived in time.
	GetFrame(ctx context.Context, timeout time.Duration) (*Frame, error)

	// Connected reports whether the underlying stream is currently live.
	Connected() bool
}

// Display receives every frame the sampler acquires.
type Display interface {
	Show(f *Frame)
}
