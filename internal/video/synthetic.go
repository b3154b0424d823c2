package video

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/benbjohnson/clock"
)

// Synthetic frame size.
const (
	SyntheticWidth  = 320
	SyntheticHeight = 240
)

// RunSynthetic pushes generated test-pattern frames into src at fps until
// ctx is done. Used when no camera is configured.
func RunSynthetic(ctx context.Context, src *ChanSource, fps float64, clk clock.Clock) error {
	if fps <= 0 {
		fps = 10
	}
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			src.Push(testPattern(n))
			n++
		}
	}
}

// testPattern draws a light background with a dark bar sweeping across.
func testPattern(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, SyntheticWidth, SyntheticHeight))
	bg := color.RGBA{R: 235, G: 235, B: 235, A: 255}
	bar := color.RGBA{R: 40, G: 40, B: 40, A: 255}
	x0 := (n * 8) % SyntheticWidth
	for y := 0; y < SyntheticHeight; y++ {
		for x := 0; x < SyntheticWidth; x++ {
			if x >= x0 && x < x0+16 {
				img.SetRGBA(x, y, bar)
			} else {
				img.SetRGBA(x, y, bg)
			}
		}
	}
	return img
}
