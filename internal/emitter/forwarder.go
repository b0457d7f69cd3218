package emitter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ayusman/handtrack/internal/slot"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is how often the forwarder polls the result slots.
const DefaultInterval = 50 * time.Millisecond

// Sink receives every new result.
type Sink interface {
	Name() string
	Emit(ctx context.Context, msg Message) error
}

// Results is the read side of the pipeline the forwarder polls.
type Results interface {
	Result(worker string) (slot.Snapshot[track.Result], bool)
	Workers() []string
}

// ForwarderStats is a snapshot of the forwarder counters.
type ForwarderStats struct {
	Forwarded uint64 `json:"forwarded"`
	Errors    uint64 `json:"errors"`
}

// Forwarder polls the result slots and hands each new result to every sink.
// Results published between two polls are coalesced: only the latest is
// forwarded.
type Forwarder struct {
	results  Results
	sinks    []Sink
	interval time.Duration
	lastSeq  map[string]uint64
	failing  []bool // per sink, set while Emit keeps failing
	logger   zerolog.Logger

	forwarded atomic.Uint64
	errors    atomic.Uint64
}

// NewForwarder creates a forwarder over results.
func NewForwarder(results Results, interval time.Duration, sinks ...Sink) *Forwarder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Forwarder{
		results:  results,
		sinks:    sinks,
		interval: interval,
		lastSeq:  make(map[string]uint64),
		failing:  make([]bool, len(sinks)),
		logger:   log.With().Str("component", "forwarder").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	f.logger.Info().Strs("sinks", names).Dur("interval", f.interval).Msg("forwarder started")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Uint64("forwarded", f.forwarded.Load()).Msg("forwarder stopped")
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

// poll forwards every result whose sequence advanced since the last poll and
// returns how many were forwarded.
func (f *Forwarder) poll(ctx context.Context) int {
	n := 0
	for _, worker := range f.results.Workers() {
		snap, ok := f.results.Result(worker)
		if !ok || snap.Seq == f.lastSeq[worker] {
			continue
		}
		f.lastSeq[worker] = snap.Seq

		msg := NewMessage(worker, snap)
		for i, s := range f.sinks {
			f.report(i, worker, s.Emit(ctx, msg))
		}
		f.forwarded.Add(1)
		n++
	}
	return n
}

// report counts an emit error and logs sink state changes: the first failure
// at warn level, repeats at debug, and the recovery at info.
func (f *Forwarder) report(i int, worker string, err error) {
	name := f.sinks[i].Name()
	if err == nil {
		if f.failing[i] {
			f.failing[i] = false
			f.logger.Info().Str("sink", name).Msg("sink recovered")
		}
		return
	}

	f.errors.Add(1)
	if f.failing[i] {
		f.logger.Debug().Err(err).Str("sink", name).Str("worker", worker).Msg("emit failed")
		return
	}
	f.failing[i] = true
	f.logger.Warn().Err(err).Str("sink", name).Str("worker", worker).Msg("emit failed")
}

// Stats returns the forwarder counters.
func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Forwarded: f.forwarded.Load(),
		Errors:    f.errors.Load(),
	}
}
