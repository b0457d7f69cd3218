package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/slot"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Worker defaults.
const (
	DefaultWorkerFPS     = 30
	DefaultMaxStride     = 5
	DefaultMaxWaitCycles = 30
	DefaultBackoffUnit   = 10 * time.Millisecond
)

// WorkerConfig configures one detection worker.
type WorkerConfig struct {
	Name          string
	FPS           int
	MaxStride     int // max consecutive extrapolated cycles
	Thresholds    track.Thresholds
	MaxWaitCycles int
	BackoffUnit   time.Duration
	Poll          time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.FPS <= 0 {
		c.FPS = DefaultWorkerFPS
	}
	if c.MaxStride <= 0 {
		c.MaxStride = DefaultMaxStride
	}
	if c.Thresholds == (track.Thresholds{}) {
		c.Thresholds = track.DefaultThresholds()
	}
	if c.MaxWaitCycles <= 0 {
		c.MaxWaitCycles = DefaultMaxWaitCycles
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = DefaultBackoffUnit
	}
	if c.Poll <= 0 {
		c.Poll = capture.DefaultPoll
	}
}

// WorkerStats is a snapshot of a worker's counters.
type WorkerStats struct {
	Cycles         uint64 `json:"cycles"`
	Inferences     uint64 `json:"inferences"`
	Extrapolations uint64 `json:"extrapolations"`
	Failures       uint64 `json:"failures"`
	Backoffs       uint64 `json:"backoffs"`
}

// Worker runs one detection target: it reads the newest frame, either runs
// the model or extrapolates the previous tracks, and publishes the result.
// All loop state is owned by the goroutine running Run.
type Worker struct {
	cfg     WorkerConfig
	model   track.Model
	frames  slot.Reader[*capture.Frame]
	out     *slot.Slot[track.Result]
	enabled func() bool
	logger  zerolog.Logger

	trackable  bool
	sinceFull  int
	emptyCount int
	last       track.Result
	hasLast    bool

	cycles         atomic.Uint64
	inferences     atomic.Uint64
	extrapolations atomic.Uint64
	failures       atomic.Uint64
	backoffs       atomic.Uint64
}

// NewWorker creates a worker that owns model. A nil enabled func means
// always enabled.
func NewWorker(cfg WorkerConfig, model track.Model, frames slot.Reader[*capture.Frame], out *slot.Slot[track.Result], enabled func() bool) *Worker {
	cfg.applyDefaults()
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Worker{
		cfg:     cfg,
		model:   model,
		frames:  frames,
		out:     out,
		enabled: enabled,
		logger:  log.With().Str("worker", cfg.Name).Logger(),
	}
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.cfg.Name
}

// Run cycles at the configured rate until ctx is cancelled, then closes the
// model.
func (w *Worker) Run(ctx context.Context) {
	interval := time.Second / time.Duration(w.cfg.FPS)
	w.logger.Info().
		Dur("interval", interval).
		Int("max_stride", w.cfg.MaxStride).
		Msg("worker started")

	defer func() {
		if err := w.model.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("error closing model")
		}
		s := w.Stats()
		w.logger.Info().
			Uint64("cycles", s.Cycles).
			Uint64("inferences", s.Inferences).
			Uint64("extrapolations", s.Extrapolations).
			Uint64("failures", s.Failures).
			Msg("worker stopped")
	}()

	var lastCycle time.Time

	for ctx.Err() == nil {
		if time.Since(lastCycle) < interval {
			sleep(ctx, w.cfg.Poll)
			continue
		}
		lastCycle = time.Now()

		if !w.enabled() {
			// Tracks go stale while paused.
			w.trackable = false
			continue
		}

		snap, ok := w.frames.Get()
		if !ok || snap.Value == nil {
			continue
		}

		if delay := w.cycle(snap.Value); delay > 0 {
			w.backoffs.Add(1)
			sleep(ctx, delay)
		}
	}
}

// cycle runs one decision step on frame, publishes the result and returns
// the backoff delay to apply before the next cycle.
func (w *Worker) cycle(frame *capture.Frame) time.Duration {
	w.cycles.Add(1)

	var (
		res          track.Result
		extrapolated bool
	)

	if w.trackable && w.hasLast && w.sinceFull < w.cfg.MaxStride {
		cand, ok := w.advance(frame)
		if ok && track.Stable(w.last.Objects, cand, w.cfg.Thresholds) {
			w.sinceFull++
			res = track.Result{
				Objects: cand,
				Frame:   frame,
				Source:  track.SourceExtrapolated,
				Stride:  w.sinceFull,
			}
			extrapolated = true
			w.extrapolations.Add(1)
		}
	}

	if !extrapolated {
		out := w.detect(frame)
		w.inferences.Add(1)
		if out.Kind == track.OutcomeFailed {
			w.failures.Add(1)
			w.logger.Warn().Err(out.Err).Uint64("frame", frame.Seq).Msg("inference failed")
		}

		w.sinceFull = 0
		w.trackable = out.Kind == track.OutcomeDetected && w.cfg.MaxStride > 1
		res = track.Result{
			Objects: out.Objects,
			Frame:   frame,
			Source:  track.SourceInference,
		}
	}

	w.out.Update(res)
	w.last = res
	w.hasLast = true

	if res.Empty() {
		w.emptyCount++
	} else {
		w.emptyCount = 0
	}
	return BackoffDelay(w.emptyCount, w.cfg.MaxWaitCycles, w.cfg.BackoffUnit)
}

// detect runs full inference. A panic in the model is reported as a failed
// outcome.
func (w *Worker) detect(frame *capture.Frame) (out track.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = track.Failed(fmt.Errorf("model panic: %v", r))
		}
	}()
	return w.model.DetectAndTrack(frame)
}

// advance runs the predict-only step. A panic rejects the candidate.
func (w *Worker) advance(frame *capture.Frame) (objs []track.Object, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn().Interface("panic", r).Msg("extrapolation failed")
			objs, ok = nil, false
		}
	}()
	return w.model.Advance(frame), true
}

// Stats returns the worker counters. Safe to call from any goroutine.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Cycles:         w.cycles.Load(),
		Inferences:     w.inferences.Load(),
		Extrapolations: w.extrapolations.Load(),
		Failures:       w.failures.Load(),
		Backoffs:       w.backoffs.Load(),
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
