package track

import (
	"errors"
	"testing"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x1, y1, w, h, score float64) Detection {
	return Detection{
		Box:   Box{X1: x1, Y1: y1, X2: x1 + w, Y2: y1 + h},
		Label: "hand",
		Score: score,
	}
}

func TestBox(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 5, Y1: 0, X2: 15, Y2: 10}

	assert.Equal(t, 100.0, a.Area())
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-9)
	assert.Equal(t, 0.0, a.IoU(Box{X1: 20, Y1: 20, X2: 30, Y2: 30}))
	assert.Equal(t, 0.0, Box{X1: 5, Y1: 5, X2: 5, Y2: 10}.Area())

	cx, cy := a.Center()
	assert.Equal(t, 5.0, cx)
	assert.Equal(t, 5.0, cy)
}

func TestKalmanFilter(t *testing.T) {
	kf := NewKalmanFilter()
	mean, cov := kf.Initiate([4]float64{50, 50, 20, 20})

	before := CovarianceTrace(cov)
	kf.Predict(mean, cov)
	predicted := CovarianceTrace(cov)
	assert.Greater(t, predicted, before, "predict should grow uncertainty")

	// zero initial velocity: the box stays put
	assert.InDelta(t, 50, mean.AtVec(0), 1e-9)
	assert.InDelta(t, 20, mean.AtVec(2), 1e-9)

	require.NoError(t, kf.Update(mean, cov, [4]float64{52, 50, 20, 20}))
	assert.Less(t, CovarianceTrace(cov), predicted, "update should shrink uncertainty")
	assert.Greater(t, mean.AtVec(0), 50.0)
	assert.Less(t, mean.AtVec(0), 52.0)
}

func TestTracker_KeepsIdentity(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	objs := tr.Update([]Detection{det(10, 10, 20, 20, 0.9), det(100, 100, 20, 20, 0.9)})
	require.Len(t, objs, 2)
	assert.Equal(t, int64(1), objs[0].ID)
	assert.Equal(t, int64(2), objs[1].ID)

	objs = tr.Update([]Detection{det(102, 100, 20, 20, 0.9), det(12, 10, 20, 20, 0.9)})
	require.Len(t, objs, 2)
	assert.Equal(t, int64(1), objs[0].ID)
	assert.Less(t, objs[0].Box.X1, 50.0)
	assert.Equal(t, int64(2), objs[1].ID)
	assert.Greater(t, objs[1].Box.X1, 50.0)
}

func TestTracker_Thresholds(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	// between high and new-track threshold: not confident enough to start a track
	assert.Empty(t, tr.Update([]Detection{det(10, 10, 20, 20, 0.55)}))
	assert.Empty(t, tr.Update([]Detection{det(10, 10, 20, 20, 0.05)}))

	objs := tr.Update([]Detection{det(10, 10, 20, 20, 0.9)})
	require.Len(t, objs, 1)

	// a weak detection still keeps a live track alive
	objs = tr.Update([]Detection{det(11, 10, 20, 20, 0.2)})
	require.Len(t, objs, 1)
	assert.Equal(t, 0.2, objs[0].Score)
}

func TestTracker_LostAndRecovered(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxLost = 2
	tr := NewTracker(cfg)

	objs := tr.Update([]Detection{det(10, 10, 20, 20, 0.9)})
	require.Len(t, objs, 1)
	id := objs[0].ID

	assert.Empty(t, tr.Update(nil))

	objs = tr.Update([]Detection{det(10, 10, 20, 20, 0.9)})
	require.Len(t, objs, 1)
	assert.Equal(t, id, objs[0].ID, "lost track should be re-acquired")

	tr.Update(nil)
	tr.Update(nil)
	tr.Update(nil)
	objs = tr.Update([]Detection{det(10, 10, 20, 20, 0.9)})
	require.Len(t, objs, 1)
	assert.NotEqual(t, id, objs[0].ID, "expired track must not be reused")
}

func TestTracker_ClassGate(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]Detection{det(10, 10, 20, 20, 0.9)})

	other := det(10, 10, 20, 20, 0.9)
	other.Class = 1
	objs := tr.Update([]Detection{other})
	require.Len(t, objs, 1)
	assert.Equal(t, int64(2), objs[0].ID)
}

func TestTracker_PredictFollowsVelocity(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	for i := 0; i < 10; i++ {
		tr.Update([]Detection{det(float64(10+5*i), 10, 20, 20, 0.9)})
	}
	last := tr.Update([]Detection{det(60, 10, 20, 20, 0.9)})
	require.Len(t, last, 1)

	next := tr.Predict()
	require.Len(t, next, 1)
	assert.Equal(t, last[0].ID, next[0].ID)
	assert.Greater(t, next[0].Box.X1, last[0].Box.X1)
	assert.Greater(t, next[0].CovTrace, last[0].CovTrace)
}

func TestTracker_ExtrapolationPassesDefaultThresholds(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	var prev []Object
	for i := 0; i < 20; i++ {
		prev = tr.Update([]Detection{det(100, 100, 60, 60, 0.9)})
	}

	for i := 0; i < 5; i++ {
		cand := tr.Predict()
		require.True(t, Stable(prev, cand, DefaultThresholds()), "step %d", i+1)
		prev = cand
	}
}

type fakeDetector struct {
	dets   []Detection
	err    error
	closed bool
}

func (f *fakeDetector) DetectObjects(*capture.Frame) ([]Detection, error) {
	return f.dets, f.err
}

func (f *fakeDetector) Close() error {
	f.closed = true
	return nil
}

func TestDetectTracker(t *testing.T) {
	fd := &fakeDetector{}
	m := NewDetectTracker(fd, DefaultTrackerConfig())
	frame := &capture.Frame{Seq: 1}

	assert.Equal(t, OutcomeEmpty, m.DetectAndTrack(frame).Kind)

	fd.dets = []Detection{det(10, 10, 20, 20, 0.9)}
	out := m.DetectAndTrack(frame)
	assert.Equal(t, OutcomeDetected, out.Kind)
	require.Len(t, out.Objects, 1)

	fd.err = errors.New("boom")
	out = m.DetectAndTrack(frame)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.EqualError(t, out.Err, "boom")
	assert.Empty(t, out.Objects)

	// the failure left the track in place
	assert.Len(t, m.Advance(frame), 1)

	require.NoError(t, m.Close())
	assert.True(t, fd.closed)
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "detected", OutcomeDetected.String())
	assert.Equal(t, "empty", OutcomeEmpty.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, OutcomeEmpty, Detected(nil).Kind)
}
