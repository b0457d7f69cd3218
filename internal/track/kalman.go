package track

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Noise weights relative to the box size, as used by ByteTrack/BoT-SORT.
const (
	stdWeightPosition = 1.0 / 20
	stdWeightVelocity = 1.0 / 160
)

const (
	stateDim   = 8 // [cx, cy, w, h, vcx, vcy, vw, vh]
	measureDim = 4 // [cx, cy, w, h]
)

// KalmanFilter is a constant-velocity filter over box centre and size.
// One step of the motion model is one worker cycle.
type KalmanFilter struct {
	motion *mat.Dense // F, 8x8
	update *mat.Dense // H, 4x8
}

// NewKalmanFilter builds the transition and observation matrices.
func NewKalmanFilter() *KalmanFilter {
	f := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < measureDim; i++ {
		f.Set(i, measureDim+i, 1)
	}

	h := mat.NewDense(measureDim, stateDim, nil)
	for i := 0; i < measureDim; i++ {
		h.Set(i, i, 1)
	}

	return &KalmanFilter{motion: f, update: h}
}

// Initiate creates a state from an unassociated measurement. Velocities
// start at zero with a large variance.
func (kf *KalmanFilter) Initiate(z [4]float64) (*mat.VecDense, *mat.Dense) {
	mean := mat.NewVecDense(stateDim, []float64{z[0], z[1], z[2], z[3], 0, 0, 0, 0})

	w, h := sizeOf(z[2]), sizeOf(z[3])
	std := []float64{
		2 * stdWeightPosition * w,
		2 * stdWeightPosition * h,
		2 * stdWeightPosition * w,
		2 * stdWeightPosition * h,
		10 * stdWeightVelocity * w,
		10 * stdWeightVelocity * h,
		10 * stdWeightVelocity * w,
		10 * stdWeightVelocity * h,
	}

	cov := mat.NewDense(stateDim, stateDim, nil)
	for i, s := range std {
		cov.Set(i, i, s*s)
	}
	return mean, cov
}

// Predict advances mean and covariance one step in place:
// x' = F x, P' = F P F^T + Q.
func (kf *KalmanFilter) Predict(mean *mat.VecDense, cov *mat.Dense) {
	w, h := sizeOf(mean.AtVec(2)), sizeOf(mean.AtVec(3))
	q := mat.NewDiagDense(stateDim, []float64{
		sq(stdWeightPosition * w),
		sq(stdWeightPosition * h),
		sq(stdWeightPosition * w),
		sq(stdWeightPosition * h),
		sq(stdWeightVelocity * w),
		sq(stdWeightVelocity * h),
		sq(stdWeightVelocity * w),
		sq(stdWeightVelocity * h),
	})

	var next mat.VecDense
	next.MulVec(kf.motion, mean)
	mean.CopyVec(&next)

	var fp, fpft mat.Dense
	fp.Mul(kf.motion, cov)
	fpft.Mul(&fp, kf.motion.T())
	fpft.Add(&fpft, q)
	cov.Copy(&fpft)
}

// Update corrects the state with a measurement in place.
func (kf *KalmanFilter) Update(mean *mat.VecDense, cov *mat.Dense, z [4]float64) error {
	w, h := sizeOf(mean.AtVec(2)), sizeOf(mean.AtVec(3))
	r := mat.NewDiagDense(measureDim, []float64{
		sq(stdWeightPosition * w),
		sq(stdWeightPosition * h),
		sq(stdWeightPosition * w),
		sq(stdWeightPosition * h),
	})

	// S = H P H^T + R
	var hp, s mat.Dense
	hp.Mul(kf.update, cov)
	s.Mul(&hp, kf.update.T())
	s.Add(&s, r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("innovation covariance: %w", err)
	}

	// K = P H^T S^-1
	var pht, gain mat.Dense
	pht.Mul(cov, kf.update.T())
	gain.Mul(&pht, &sInv)

	var projected mat.VecDense
	projected.MulVec(kf.update, mean)
	innovation := mat.NewVecDense(measureDim, []float64{z[0], z[1], z[2], z[3]})
	innovation.SubVec(innovation, &projected)

	var correction mat.VecDense
	correction.MulVec(&gain, innovation)
	mean.AddVec(mean, &correction)

	// P = P - K S K^T
	var ks, ksk mat.Dense
	ks.Mul(&gain, &s)
	ksk.Mul(&ks, gain.T())
	cov.Sub(cov, &ksk)

	return nil
}

// CovarianceTrace returns the trace of the state covariance.
func CovarianceTrace(cov *mat.Dense) float64 {
	return mat.Trace(cov)
}

// sizeOf keeps noise terms positive when a predicted size collapses.
func sizeOf(v float64) float64 {
	return math.Max(math.Abs(v), 1)
}

func sq(v float64) float64 { return v * v }
