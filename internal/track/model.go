package track

import (
	"github.com/ayusman/handtrack/internal/capture"
)

// ObjectDetector runs a detection model on a single frame.
type ObjectDetector interface {
	DetectObjects(frame *capture.Frame) ([]Detection, error)
	Close() error
}

// OutcomeKind classifies one detect-and-track call.
type OutcomeKind int

const (
	OutcomeEmpty OutcomeKind = iota
	OutcomeDetected
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDetected:
		return "detected"
	case OutcomeFailed:
		return "failed"
	default:
		return "empty"
	}
}

// Outcome is the result of a detect-and-track call. Failed outcomes carry
// the error; Empty and Failed carry no objects.
type Outcome struct {
	Kind    OutcomeKind
	Objects []Object
	Err     error
}

// Detected returns a non-empty outcome. An empty slice yields Empty.
func Detected(objs []Object) Outcome {
	if len(objs) == 0 {
		return Empty()
	}
	return Outcome{Kind: OutcomeDetected, Objects: objs}
}

// Empty returns an outcome with nothing found.
func Empty() Outcome {
	return Outcome{Kind: OutcomeEmpty}
}

// Failed returns an outcome for a model error.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Model is what a detection worker drives: a full detect-and-track step
// and a cheap predict-only step.
type Model interface {
	DetectAndTrack(frame *capture.Frame) Outcome
	Advance(frame *capture.Frame) []Object
	Close() error
}

// DetectTracker combines an ObjectDetector with a Tracker.
type DetectTracker struct {
	detector ObjectDetector
	tracker  *Tracker
}

// NewDetectTracker creates a model that owns detector.
func NewDetectTracker(detector ObjectDetector, cfg TrackerConfig) *DetectTracker {
	return &DetectTracker{
		detector: detector,
		tracker:  NewTracker(cfg),
	}
}

// DetectAndTrack runs the detector and feeds the tracker. A detector error
// leaves the tracker untouched.
func (m *DetectTracker) DetectAndTrack(frame *capture.Frame) Outcome {
	dets, err := m.detector.DetectObjects(frame)
	if err != nil {
		return Failed(err)
	}
	return Detected(m.tracker.Update(dets))
}

// Advance extrapolates the live tracks one step. The frame is not read.
func (m *DetectTracker) Advance(_ *capture.Frame) []Object {
	return m.tracker.Predict()
}

// Close releases the detector.
func (m *DetectTracker) Close() error {
	return m.detector.Close()
}
