// Package track holds tracked-object types, the Kalman motion model, the
// multi-object tracker and the stability check that decides whether
// extrapolated tracks can stand in for a fresh inference.
package track

import (
	"math"

	"github.com/ayusman/handtrack/internal/capture"
)

// Box is an axis-aligned bounding box in frame pixels.
type Box struct {
	X1 float64 `json:"x1" msgpack:"x1"`
	Y1 float64 `json:"y1" msgpack:"y1"`
	X2 float64 `json:"x2" msgpack:"x2"`
	Y2 float64 `json:"y2" msgpack:"y2"`
}

// Width returns the box width (negative for degenerate boxes).
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height (negative for degenerate boxes).
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// TopLeft returns the (X1, Y1) corner.
func (b Box) TopLeft() (float64, float64) { return b.X1, b.Y1 }

// Center returns the box centre point.
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IoU returns the intersection-over-union of two boxes.
func (b Box) IoU(o Box) float64 {
	ix := math.Min(b.X2, o.X2) - math.Max(b.X1, o.X1)
	iy := math.Min(b.Y2, o.Y2) - math.Max(b.Y1, o.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// xywh converts to the Kalman measurement layout [cx, cy, w, h].
func (b Box) xywh() [4]float64 {
	cx, cy := b.Center()
	return [4]float64{cx, cy, b.Width(), b.Height()}
}

func boxFromXYWH(cx, cy, w, h float64) Box {
	return Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
}

// Detection is a single raw detector output, before tracking.
type Detection struct {
	Box   Box
	Class int
	Label string
	Score float64
}

// Object is a tracked object: a detection with a persistent identity and
// the uncertainty of its motion-model estimate.
type Object struct {
	ID       int64   `json:"id" msgpack:"id"`
	Box      Box     `json:"box" msgpack:"box"`
	Class    int     `json:"class" msgpack:"class"`
	Label    string  `json:"label" msgpack:"label"`
	Score    float64 `json:"score" msgpack:"score"`
	CovTrace float64 `json:"cov_trace" msgpack:"cov_trace"`
}

// Source says how a Result was produced.
type Source string

const (
	SourceInference    Source = "inference"
	SourceExtrapolated Source = "extrapolated"
)

// Result is one published detection/tracking result. It is immutable once
// published; Frame points at the frame it was computed from.
type Result struct {
	Objects []Object       `json:"objects"`
	Frame   *capture.Frame `json:"-"`
	Source  Source         `json:"source"`
	// Stride is the number of consecutive extrapolated cycles since the last
	// full inference, 0 for an inference result.
	Stride int `json:"stride"`
}

// FrameSeq returns the capture sequence of the source frame, 0 if unknown.
func (r Result) FrameSeq() uint64 {
	if r.Frame == nil {
		return 0
	}
	return r.Frame.Seq
}

// Empty reports whether the result holds no objects.
func (r Result) Empty() bool {
	return len(r.Objects) == 0
}
