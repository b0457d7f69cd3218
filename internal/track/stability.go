package track

// Thresholds bound how far extrapolated tracks may drift from the previous
// result before a full inference is forced.
type Thresholds struct {
	Motion     float64 // max top-left corner displacement, pixels
	Area       float64 // max area ratio (and min 1/Area)
	Covariance float64 // max growth factor of the covariance trace
}

// DefaultThresholds returns the default drift limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Motion:     20,
		Area:       1.1,
		Covariance: 3.0,
	}
}

// Stable reports whether cand can replace prev without a fresh inference.
// Both are index-aligned: the i-th object of each is the same track.
func Stable(prev, cand []Object, th Thresholds) bool {
	if len(prev) == 0 || len(cand) == 0 || len(prev) != len(cand) {
		return false
	}

	for i := range prev {
		p, c := prev[i], cand[i]
		if p.ID != c.ID {
			return false
		}

		px, py := p.Box.TopLeft()
		cx, cy := c.Box.TopLeft()
		dx, dy := cx-px, cy-py
		if dx*dx+dy*dy > th.Motion*th.Motion {
			return false
		}

		pa := p.Box.Area()
		if pa <= 0 {
			return false
		}
		ratio := c.Box.Area() / pa
		if ratio > th.Area || ratio < 1/th.Area {
			return false
		}

		if c.CovTrace > p.CovTrace*th.Covariance {
			return false
		}
	}

	return true
}
