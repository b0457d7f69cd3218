package app

import (
	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/slot"
	"github.com/ayusman/handtrack/internal/track"
)

// View is read-only access to the pipeline's slots. Reads never block on
// the producers.
type View interface {
	Frame() (slot.Snapshot[*capture.Frame], bool)
	Result(worker string) (slot.Snapshot[track.Result], bool)
	Workers() []string
}

// Registry holds the frame slot and one result slot per worker. The set of
// slots is fixed at construction.
type Registry struct {
	frames  *slot.Slot[*capture.Frame]
	results map[string]*slot.Slot[track.Result]
	names   []string
}

var _ View = (*Registry)(nil)

// NewRegistry creates slots for the given worker names, in order.
// Duplicate names share one slot; callers validate names beforehand.
func NewRegistry(workers []string) *Registry {
	r := &Registry{
		frames:  slot.New[*capture.Frame](),
		results: make(map[string]*slot.Slot[track.Result], len(workers)),
	}
	for _, name := range workers {
		if _, ok := r.results[name]; ok {
			continue
		}
		r.results[name] = slot.New[track.Result]()
		r.names = append(r.names, name)
	}
	return r
}

// Frames returns the writable frame slot.
func (r *Registry) Frames() *slot.Slot[*capture.Frame] {
	return r.frames
}

// Results returns the writable result slot of a worker.
func (r *Registry) Results(worker string) (*slot.Slot[track.Result], bool) {
	s, ok := r.results[worker]
	return s, ok
}

// Frame returns the latest captured frame.
func (r *Registry) Frame() (slot.Snapshot[*capture.Frame], bool) {
	return r.frames.Get()
}

// Result returns the latest result of a worker. Unknown workers read as
// empty.
func (r *Registry) Result(worker string) (slot.Snapshot[track.Result], bool) {
	s, ok := r.results[worker]
	if !ok {
		return slot.Snapshot[track.Result]{}, false
	}
	return s.Get()
}

// Workers returns the worker names in configuration order.
func (r *Registry) Workers() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
