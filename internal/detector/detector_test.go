package detector

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/disintegration/imaging"
)

const epsilon = 1e-9

func testFrame(w, h int) *capture.Frame {
	return &capture.Frame{
		Image:  image.NewGray(image.Rect(0, 0, w, h)),
		Width:  w,
		Height: h,
		Seq:    1,
	}
}

func TestHandLandmarks_Bounds(t *testing.T) {
	t.Run("pixel box without padding", func(t *testing.T) {
		hand := OpenPalmLandmarks()
		box := hand.Bounds(100, 200, 0)

		// extremes of the preset: X 0.34..0.73, Y 0.28..0.80
		if math.Abs(box.X1-34) > epsilon || math.Abs(box.X2-73) > epsilon {
			t.Errorf("unexpected X range %f..%f", box.X1, box.X2)
		}
		if math.Abs(box.Y1-56) > epsilon || math.Abs(box.Y2-160) > epsilon {
			t.Errorf("unexpected Y range %f..%f", box.Y1, box.Y2)
		}
	})

	t.Run("padding is clipped to the frame", func(t *testing.T) {
		var hand HandLandmarks
		for i := range hand.Points {
			hand.Points[i] = Point3D{X: 0.05 + 0.9*float64(i%2), Y: 0.5}
		}
		hand.Points[0].Y = 0.0
		hand.Points[1].Y = 1.0

		box := hand.Bounds(100, 100, 0.5)
		if box.X1 != 0 || box.Y1 != 0 || box.X2 != 100 || box.Y2 != 100 {
			t.Errorf("expected box clipped to frame, got %+v", box)
		}
	})
}

func TestHandBoxes(t *testing.T) {
	t.Run("converts hands to detections", func(t *testing.T) {
		mock := NewMockDetector()
		left := OpenPalmLandmarks()
		left.Handedness = "Left"
		mock.SetHands([]HandLandmarks{OpenPalmLandmarks(), left})

		hb := NewHandBoxes(mock, DefaultConfig())
		dets, err := hb.DetectObjects(testFrame(640, 480))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dets) != 2 {
			t.Fatalf("expected 2 detections, got %d", len(dets))
		}
		if dets[0].Class != 0 || dets[1].Class != 1 {
			t.Errorf("expected right=0 left=1 classes, got %d %d", dets[0].Class, dets[1].Class)
		}
		if dets[0].Label != "hand" {
			t.Errorf("expected label hand, got %q", dets[0].Label)
		}
		if dets[0].Box.Area() <= 0 {
			t.Error("expected a non-empty box")
		}
	})

	t.Run("filters low confidence and caps count", func(t *testing.T) {
		weak := OpenPalmLandmarks()
		weak.Score = 0.2
		mock := NewMockDetector()
		mock.SetHands([]HandLandmarks{weak, OpenPalmLandmarks(), OpenPalmLandmarks(), OpenPalmLandmarks()})

		cfg := DefaultConfig()
		cfg.MaxHands = 2
		dets, err := NewHandBoxes(mock, cfg).DetectObjects(testFrame(640, 480))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dets) != 2 {
			t.Errorf("expected 2 detections, got %d", len(dets))
		}
		for _, d := range dets {
			if d.Score < cfg.MinConfidence {
				t.Errorf("weak hand leaked through: %f", d.Score)
			}
		}
	})

	t.Run("passes detector errors through", func(t *testing.T) {
		mock := NewMockDetector()
		want := errors.New("service down")
		mock.SetError(want)

		_, err := NewHandBoxes(mock, DefaultConfig()).DetectObjects(testFrame(10, 10))
		if !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})

	t.Run("rejects nil frame", func(t *testing.T) {
		_, err := NewHandBoxes(NewMockDetector(), DefaultConfig()).DetectObjects(nil)
		if !errors.Is(err, ErrNoFrame) {
			t.Errorf("expected ErrNoFrame, got %v", err)
		}
	})
}

func TestAnchorCount(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{320, 2100},
		{640, 8400},
	}
	for _, tt := range tests {
		if got := anchorCount(tt.size); got != tt.want {
			t.Errorf("anchorCount(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestDecodeOutput(t *testing.T) {
	const anchors = 3
	classes := []string{"controller", "hand"}
	out := make([]float32, (4+len(classes))*anchors)

	set := func(anchor int, cx, cy, w, h, s0, s1 float32) {
		out[anchor] = cx
		out[anchors+anchor] = cy
		out[2*anchors+anchor] = w
		out[3*anchors+anchor] = h
		out[4*anchors+anchor] = s0
		out[5*anchors+anchor] = s1
	}
	set(0, 50, 50, 20, 20, 0.9, 0.1)
	set(1, 10, 10, 4, 4, 0.1, 0.2) // below confidence
	set(2, 80, 20, 10, 10, 0.3, 0.7)

	// 100x100 input mapped onto a 200x100 frame
	dets := decodeOutput(out, anchors, classes, 0.5, 100, 200, 100)
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}

	want := track.Box{X1: 80, Y1: 40, X2: 120, Y2: 60}
	if dets[0].Box != want {
		t.Errorf("expected %+v, got %+v", want, dets[0].Box)
	}
	if dets[0].Label != "controller" || dets[1].Label != "hand" {
		t.Errorf("unexpected labels %q %q", dets[0].Label, dets[1].Label)
	}
	if dets[1].Class != 1 {
		t.Errorf("expected class 1, got %d", dets[1].Class)
	}

	if got := decodeOutput(out[:5], anchors, classes, 0.5, 100, 200, 100); got != nil {
		t.Errorf("expected nil for short output, got %v", got)
	}
}

func TestNMS(t *testing.T) {
	dets := []track.Detection{
		{Box: track.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 0.6},
		{Box: track.Box{X1: 1, Y1: 0, X2: 11, Y2: 10}, Score: 0.9},
		{Box: track.Box{X1: 1, Y1: 0, X2: 11, Y2: 10}, Class: 1, Score: 0.5},
		{Box: track.Box{X1: 50, Y1: 50, X2: 60, Y2: 60}, Score: 0.7},
	}

	kept := nms(dets, DefaultNMSThreshold)
	if len(kept) != 3 {
		t.Fatalf("expected 3 boxes, got %d", len(kept))
	}
	if kept[0].Score != 0.9 {
		t.Errorf("expected best box first, got %f", kept[0].Score)
	}
	for _, d := range kept {
		if d.Score == 0.6 {
			t.Error("overlapping weaker box was not suppressed")
		}
	}
}

func TestFillInput(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(1, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	img := imaging.Clone(src)

	dst := make([]float32, 3*4)
	fillInput(dst, img, 2)

	if dst[1] != 1 {
		t.Errorf("expected red plane 1.0, got %f", dst[1])
	}
	if dst[4+1] != 0 {
		t.Errorf("expected green plane 0, got %f", dst[5])
	}
	if math.Abs(float64(dst[8+1])-0.2) > 1e-6 {
		t.Errorf("expected blue plane 0.2, got %f", dst[9])
	}
}

func TestParseResponse(t *testing.T) {
	hands, err := parseResponse([]byte(`{"hands":[{"points":[{"x":0.1,"y":0.2,"z":0}],"handedness":"Left","score":0.8}]}` + "\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hands) != 1 || hands[0].Handedness != "Left" || hands[0].Points[0].Y != 0.2 {
		t.Errorf("unexpected hands %+v", hands)
	}

	if _, err := parseResponse([]byte(`{"error":"no model"}`)); err == nil {
		t.Error("expected service error")
	}
	if _, err := parseResponse([]byte(`not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestMockObjectDetector(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockObjectDetector(
		MockStep{Detections: []track.Detection{{Score: 0.9}}},
		MockStep{Err: boom},
	)

	dets, err := m.DetectObjects(nil)
	if err != nil || len(dets) != 1 {
		t.Errorf("first step: got %v, %v", dets, err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.DetectObjects(nil); !errors.Is(err, boom) {
			t.Errorf("expected last step to repeat, got %v", err)
		}
	}
	if m.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", m.Calls())
	}

	if err := m.Close(); err != nil || !m.Closed() {
		t.Error("expected detector to be closed")
	}
}

func TestMockObjectDetector_Panic(t *testing.T) {
	m := NewMockObjectDetector(MockStep{Panic: "model crashed"})
	defer func() {
		if r := recover(); r != "model crashed" {
			t.Errorf("expected scripted panic, got %v", r)
		}
	}()
	m.DetectObjects(nil)
}
