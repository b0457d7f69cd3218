// Package app wires the capture/detection pipeline: one frame source, one
// detection worker per target, and the slots between them.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/rs/zerolog/log"
)

// DefaultShutdownTimeout bounds how long Stop waits for the loops to exit.
const DefaultShutdownTimeout = 5 * time.Second

var (
	// ErrDeviceUnavailable is returned by Start when the camera cannot be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrShutdownTimeout is returned by Stop when a loop did not exit in time.
	ErrShutdownTimeout = errors.New("pipeline shutdown timed out")
	// ErrStopped is returned by Start after the pipeline has been stopped.
	ErrStopped = errors.New("pipeline already stopped")
)

// Config holds configuration options for the pipeline.
type Config struct {
	FPS             int           // capture rate
	Poll            time.Duration // frame source cadence check interval
	Workers         []WorkerConfig
	ShutdownTimeout time.Duration
}

// Stats is a snapshot of every loop's counters.
type Stats struct {
	Source  capture.SourceStats    `json:"source"`
	Workers map[string]WorkerStats `json:"workers"`
}

// App is the orchestrator: it owns the camera, the models and the slot
// registry, and runs the frame source and the workers.
type App struct {
	config   Config
	camera   capture.Camera
	registry *Registry
	source   *capture.Source
	workers  []*Worker

	enabled bool
	mu      sync.RWMutex

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
}

// New creates a pipeline. It takes ownership of camera and of every model;
// models must hold one entry per configured worker name.
func New(config Config, camera capture.Camera, models map[string]track.Model) (*App, error) {
	if len(config.Workers) == 0 {
		return nil, errors.New("no workers configured")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	names := make([]string, 0, len(config.Workers))
	seen := make(map[string]bool, len(config.Workers))
	for _, wc := range config.Workers {
		if wc.Name == "" {
			return nil, errors.New("worker name is empty")
		}
		if seen[wc.Name] {
			return nil, fmt.Errorf("duplicate worker %q", wc.Name)
		}
		if models[wc.Name] == nil {
			return nil, fmt.Errorf("no model for worker %q", wc.Name)
		}
		seen[wc.Name] = true
		names = append(names, wc.Name)
	}

	a := &App{
		config:   config,
		camera:   camera,
		registry: NewRegistry(names),
		enabled:  true,
	}

	a.source = capture.NewSource(camera, a.registry.Frames(), capture.SourceConfig{FPS: config.FPS, Poll: config.Poll})
	for _, wc := range config.Workers {
		out, _ := a.registry.Results(wc.Name)
		a.workers = append(a.workers, NewWorker(wc, models[wc.Name], a.registry.Frames(), out, a.IsEnabled))
	}

	return a, nil
}

// SetEnabled pauses or resumes inference. The camera keeps running.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Start opens the camera and launches the frame source and every worker.
// A camera that fails to open is fatal; nothing is started.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if a.started {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.started = true

	var wg sync.WaitGroup
	wg.Add(1 + len(a.workers))
	go func() {
		defer wg.Done()
		a.source.Run(ctx)
	}()
	for _, w := range a.workers {
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	go func() {
		wg.Wait()
		close(a.done)
	}()

	log.Info().Int("workers", len(a.workers)).Msg("pipeline started")
	return nil
}

// Stop cancels every loop and waits for them to release their camera and
// models, up to the shutdown timeout. Stopping a pipeline that never started
// releases its models directly.
func (a *App) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	started, cancel, done := a.started, a.cancel, a.done
	a.mu.Unlock()

	if !started {
		for _, w := range a.workers {
			if err := w.model.Close(); err != nil {
				log.Warn().Err(err).Str("worker", w.Name()).Msg("error closing model")
			}
		}
		return nil
	}

	cancel()

	select {
	case <-done:
		log.Info().Msg("pipeline stopped")
		return nil
	case <-time.After(a.config.ShutdownTimeout):
		log.Error().Dur("timeout", a.config.ShutdownTimeout).Msg("pipeline did not stop in time")
		return ErrShutdownTimeout
	}
}

// Done is closed once every loop has exited. It is nil before Start.
func (a *App) Done() <-chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done
}

// View returns read-only access to the frame and result slots.
func (a *App) View() View {
	return a.registry
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Stats returns the counters of the frame source and every worker.
func (a *App) Stats() Stats {
	s := Stats{
		Source:  a.source.Stats(),
		Workers: make(map[string]WorkerStats, len(a.workers)),
	}
	for _, w := range a.workers {
		s.Workers[w.Name()] = w.Stats()
	}
	return s
}
