package plugin

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ayusman/handtrack/internal/emitter"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/rs/zerolog/log"
)

// DefaultQueueSize bounds the number of pending plugin runs.
const DefaultQueueSize = 64

type job struct {
	plugin *Plugin
	req    *Request
}

// DispatcherStats is a snapshot of the dispatcher counters.
type DispatcherStats struct {
	Executed uint64 `json:"executed"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

// Dispatcher turns consecutive results into track events and runs the
// subscribed plugins. It is an emitter.Sink; plugin runs happen on the Run
// goroutine so a slow plugin never stalls the forwarder. Events that do not
// fit in the queue are dropped.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	queue    chan job

	mu   sync.Mutex
	live map[string]map[int64]track.Object // worker -> track ID -> last seen

	executed atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

var _ emitter.Sink = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the plugins of manager.
func NewDispatcher(manager *Manager, executor *Executor, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		manager:  manager,
		executor: executor,
		queue:    make(chan job, queueSize),
		live:     make(map[string]map[int64]track.Object),
	}
}

// Name identifies the sink in logs.
func (d *Dispatcher) Name() string { return "plugins" }

// Emit diffs msg against the previous result of the same worker and queues a
// run for every subscribed plugin of every resulting event.
func (d *Dispatcher) Emit(_ context.Context, msg emitter.Message) error {
	for _, ev := range d.diff(msg) {
		for _, p := range d.manager.Subscribers(ev.Event, ev.Worker) {
			req := *ev
			req.Config = p.Manifest.Config
			select {
			case d.queue <- job{plugin: p, req: &req}:
			default:
				d.dropped.Add(1)
				log.Warn().Str("plugin", p.Manifest.Name).Str("event", ev.Event).Msg("plugin queue full, event dropped")
			}
		}
	}
	return nil
}

// diff returns the track events between the previous and the current result
// of msg.Worker: started tracks in result order, then lost tracks by ID.
func (d *Dispatcher) diff(msg emitter.Message) []*Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.live[msg.Worker]
	cur := make(map[int64]track.Object, len(msg.Objects))

	var events []*Request
	for _, o := range msg.Objects {
		cur[o.ID] = o
		if _, ok := prev[o.ID]; !ok {
			events = append(events, &Request{Event: EventTrackStarted, Worker: msg.Worker, FrameSeq: msg.FrameSeq, Object: o})
		}
	}

	var lost []track.Object
	for id, o := range prev {
		if _, ok := cur[id]; !ok {
			lost = append(lost, o)
		}
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i].ID < lost[j].ID })
	for _, o := range lost {
		events = append(events, &Request{Event: EventTrackLost, Worker: msg.Worker, FrameSeq: msg.FrameSeq, Object: o})
	}

	d.live[msg.Worker] = cur
	return events
}

// Run executes queued plugin runs until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.execute(ctx, j)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, j job) {
	logger := log.With().
		Str("plugin", j.plugin.Manifest.Name).
		Str("event", j.req.Event).
		Str("worker", j.req.Worker).
		Int64("track", j.req.Object.ID).
		Logger()

	resp, err := d.executor.Execute(ctx, j.plugin, j.req)
	if err != nil {
		d.failed.Add(1)
		logger.Warn().Err(err).Msg("plugin run failed")
		return
	}
	if !resp.Success {
		d.failed.Add(1)
		logger.Warn().Str("error", resp.Error).Msg("plugin reported failure")
		return
	}
	d.executed.Add(1)
	logger.Debug().Msg("plugin run succeeded")
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Executed: d.executed.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
	}
}
