// Package detector provides the detection models driven by the tracking
// workers: a YOLO object detector on ONNX Runtime and a MediaPipe hand
// landmark detector, both adapted to track.ObjectDetector.
package detector

import (
	"errors"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/track"
)

// ErrNoFrame is returned when a detector is handed a nil frame or image.
var ErrNoFrame = errors.New("no frame to detect on")

// HandDetector defines the interface for hand landmark detection.
type HandDetector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *capture.Frame) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// BoxPadding grows the landmark box by this fraction on every side.
	BoxPadding float64

	// Label is attached to every hand detection.
	Label string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:      2,
		MinConfidence: 0.5,
		BoxPadding:    0.1,
		Label:         "hand",
	}
}

// HandBoxes turns a HandDetector into a track.ObjectDetector, one box per
// hand. Left and right hands get distinct classes so the tracker never swaps
// them.
type HandBoxes struct {
	hands  HandDetector
	config Config
}

var _ track.ObjectDetector = (*HandBoxes)(nil)

// NewHandBoxes wraps hands. The wrapper owns it and closes it.
func NewHandBoxes(hands HandDetector, config Config) *HandBoxes {
	return &HandBoxes{hands: hands, config: config}
}

// DetectObjects runs hand detection and converts landmarks to boxes.
func (h *HandBoxes) DetectObjects(frame *capture.Frame) ([]track.Detection, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}

	hands, err := h.hands.Detect(frame)
	if err != nil {
		return nil, err
	}

	dets := make([]track.Detection, 0, len(hands))
	for i := range hands {
		if hands[i].Score < h.config.MinConfidence {
			continue
		}
		if h.config.MaxHands > 0 && len(dets) == h.config.MaxHands {
			break
		}
		box := hands[i].Bounds(frame.Width, frame.Height, h.config.BoxPadding)
		if box.Area() == 0 {
			continue
		}

		class := 0
		if hands[i].Handedness == "Left" {
			class = 1
		}
		dets = append(dets, track.Detection{
			Box:   box,
			Class: class,
			Label: h.config.Label,
			Score: hands[i].Score,
		})
	}
	return dets, nil
}

// Close closes the underlying hand detector.
func (h *HandBoxes) Close() error {
	return h.hands.Close()
}
