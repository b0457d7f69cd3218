package track

import (
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// TrackerConfig holds the association thresholds of the tracker.
type TrackerConfig struct {
	HighThreshold     float64 // detections at or above this score take part in the first pass
	LowThreshold      float64 // detections below this score are dropped
	NewTrackThreshold float64 // minimum score to start a new track
	MatchIoU          float64 // minimum IoU for a detection to match a track
	MaxLost           int     // cycles a lost track is kept before removal
}

// DefaultTrackerConfig returns ByteTrack-style defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		HighThreshold:     0.5,
		LowThreshold:      0.1,
		NewTrackThreshold: 0.6,
		MatchIoU:          0.3,
		MaxLost:           30,
	}
}

type trackState int

const (
	stateTracked trackState = iota
	stateLost
)

type strack struct {
	id      int64
	class   int
	label   string
	score   float64
	mean    *mat.VecDense
	cov     *mat.Dense
	state   trackState
	lostFor int
}

func (s *strack) box() Box {
	return boxFromXYWH(s.mean.AtVec(0), s.mean.AtVec(1), s.mean.AtVec(2), s.mean.AtVec(3))
}

func (s *strack) object() Object {
	return Object{
		ID:       s.id,
		Box:      s.box(),
		Class:    s.class,
		Label:    s.label,
		Score:    s.score,
		CovTrace: CovarianceTrace(s.cov),
	}
}

// Tracker associates detections across frames in two passes: confident
// detections against all tracks, then weak detections against the tracks
// still unmatched. A track is confirmed on its first hit.
// Tracker is not safe for concurrent use; each worker owns one.
type Tracker struct {
	cfg    TrackerConfig
	kf     *KalmanFilter
	tracks []*strack
	nextID int64
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		cfg:    cfg,
		kf:     NewKalmanFilter(),
		nextID: 1,
	}
}

// Update advances every track one step, associates dets and returns the
// currently tracked objects ordered by ID.
func (t *Tracker) Update(dets []Detection) []Object {
	for _, tr := range t.tracks {
		t.kf.Predict(tr.mean, tr.cov)
	}

	var high, low []Detection
	for _, d := range dets {
		switch {
		case d.Score >= t.cfg.HighThreshold:
			high = append(high, d)
		case d.Score >= t.cfg.LowThreshold:
			low = append(low, d)
		}
	}

	matched := make(map[*strack]bool, len(t.tracks))

	// First pass: confident detections against tracked and lost tracks.
	unmatchedHigh := t.associate(t.tracks, high, matched)

	// Second pass: weak detections only rescue tracks that were live.
	var live []*strack
	for _, tr := range t.tracks {
		if !matched[tr] && tr.state == stateTracked {
			live = append(live, tr)
		}
	}
	t.associate(live, low, matched)

	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if !matched[tr] {
			tr.state = stateLost
			tr.lostFor++
			if tr.lostFor > t.cfg.MaxLost {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for _, d := range unmatchedHigh {
		if d.Score < t.cfg.NewTrackThreshold {
			continue
		}
		mean, cov := t.kf.Initiate(d.Box.xywh())
		t.tracks = append(t.tracks, &strack{
			id:    t.nextID,
			class: d.Class,
			label: d.Label,
			score: d.Score,
			mean:  mean,
			cov:   cov,
			state: stateTracked,
		})
		t.nextID++
	}

	return t.objects()
}

// Predict advances the live tracks one step without a measurement and
// returns them. Lost tracks are left untouched.
func (t *Tracker) Predict() []Object {
	for _, tr := range t.tracks {
		if tr.state == stateTracked {
			t.kf.Predict(tr.mean, tr.cov)
		}
	}
	return t.objects()
}

// associate greedily matches detections to tracks by descending IoU, gated
// on class and MatchIoU, updates matched tracks and returns the detections
// left over.
func (t *Tracker) associate(tracks []*strack, dets []Detection, matched map[*strack]bool) []Detection {
	if len(dets) == 0 {
		return nil
	}

	type pair struct {
		ti, di int
		iou    float64
	}

	var pairs []pair
	for ti, tr := range tracks {
		if matched[tr] {
			continue
		}
		box := tr.box()
		for di, d := range dets {
			if d.Class != tr.class {
				continue
			}
			if iou := box.IoU(d.Box); iou >= t.cfg.MatchIoU {
				pairs = append(pairs, pair{ti, di, iou})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].iou > pairs[j].iou })

	used := make([]bool, len(dets))
	for _, p := range pairs {
		tr := tracks[p.ti]
		if matched[tr] || used[p.di] {
			continue
		}
		d := dets[p.di]
		if err := t.kf.Update(tr.mean, tr.cov, d.Box.xywh()); err != nil {
			log.Warn().Err(err).Int64("track", tr.id).Msg("kalman update failed")
			continue
		}
		tr.score = d.Score
		tr.label = d.Label
		tr.state = stateTracked
		tr.lostFor = 0
		matched[tr] = true
		used[p.di] = true
	}

	var rest []Detection
	for di, d := range dets {
		if !used[di] {
			rest = append(rest, d)
		}
	}
	return rest
}

func (t *Tracker) objects() []Object {
	var out []Object
	for _, tr := range t.tracks {
		if tr.state == stateTracked {
			out = append(out, tr.object())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
