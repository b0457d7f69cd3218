package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ayusman/handtrack/internal/slot"
	"github.com/rs/zerolog/log"
)

// DefaultPoll is how long the capture loop sleeps between cadence checks.
const DefaultPoll = time.Millisecond

// SourceConfig holds the capture cadence.
type SourceConfig struct {
	FPS  int           // target capture rate
	Poll time.Duration // sleep between cadence checks
}

// SourceStats is a snapshot of the capture counters.
type SourceStats struct {
	Captured uint64 `json:"captured"`
	Failed   uint64 `json:"failed"`
}

// Source owns a camera and publishes its newest frame into a slot at a
// bounded rate. Frames are never queued: each capture overwrites the slot.
type Source struct {
	camera   Camera
	out      *slot.Slot[*Frame]
	interval time.Duration
	poll     time.Duration

	captured atomic.Uint64
	failed   atomic.Uint64
}

// NewSource creates a frame source. The camera must already be open;
// Run closes it on exit.
func NewSource(camera Camera, out *slot.Slot[*Frame], cfg SourceConfig) *Source {
	fps := cfg.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	poll := cfg.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Source{
		camera:   camera,
		out:      out,
		interval: time.Second / time.Duration(fps),
		poll:     poll,
	}
}

// Run captures frames until ctx is cancelled, then releases the camera.
// A failed read skips the cycle; it is never treated as fatal.
func (s *Source) Run(ctx context.Context) {
	logger := log.With().Str("component", "frame_source").Logger()
	logger.Info().Dur("interval", s.interval).Msg("frame source started")

	defer func() {
		if err := s.camera.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing camera")
		}
		logger.Info().
			Uint64("captured", s.captured.Load()).
			Uint64("failed", s.failed.Load()).
			Msg("frame source stopped")
	}()

	var lastAttempt time.Time

	for ctx.Err() == nil {
		if time.Since(lastAttempt) < s.interval {
			sleep(ctx, s.poll)
			continue
		}
		lastAttempt = time.Now()

		frame, err := s.camera.ReadFrame()
		if err != nil {
			s.failed.Add(1)
			logger.Debug().Err(err).Msg("frame read failed, skipping cycle")
			continue
		}

		s.out.Update(frame)
		s.captured.Add(1)
	}
}

// Stats returns the capture counters.
func (s *Source) Stats() SourceStats {
	return SourceStats{
		Captured: s.captured.Load(),
		Failed:   s.failed.Load(),
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
