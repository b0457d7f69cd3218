// Package testutil provides synthetic frames and detections for tests.
package testutil

import (
	"image"
	"image/color"
	"time"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/track"
)

// Default fixture frame size.
const (
	FrameWidth  = 64
	FrameHeight = 48
)

// SolidImage returns a w x h image filled with c.
func SolidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	r, g, b, a := c.RGBA()
	px := color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, px)
		}
	}
	return img
}

// Images returns n solid images of increasing brightness.
func Images(n, w, h int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = SolidImage(w, h, color.Gray{Y: uint8(i * 255 / max(n, 1))})
	}
	return out
}

// Frame returns a gray fixture frame with the given sequence number.
func Frame(seq uint64) *capture.Frame {
	return &capture.Frame{
		Image:     SolidImage(FrameWidth, FrameHeight, color.Gray{Y: 128}),
		Timestamp: time.Now().UnixMilli(),
		Width:     FrameWidth,
		Height:    FrameHeight,
		Seq:       seq,
	}
}

// Detection returns a detection of class 0 with its top-left corner at
// (x, y).
func Detection(x, y, w, h, score float64) track.Detection {
	return track.Detection{
		Box:   track.Box{X1: x, Y1: y, X2: x + w, Y2: y + h},
		Label: "controller",
		Score: score,
	}
}
