package main

import (
	"errors"
	"fmt"

	"github.com/ayusman/handtrack/internal/app"
	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/config"
	"github.com/ayusman/handtrack/internal/detector"
	"github.com/ayusman/handtrack/internal/track"
)

// appConfig maps the file configuration onto the orchestrator's.
func appConfig(cfg *config.Config) app.Config {
	workers := make([]app.WorkerConfig, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		workers = append(workers, app.WorkerConfig{
			Name:      w.Name,
			FPS:       w.FPS,
			MaxStride: w.MaxStride,
			Thresholds: track.Thresholds{
				Motion:     w.MotionThreshold,
				Area:       w.AreaThreshold,
				Covariance: w.CovarianceIncreaseFactor,
			},
			MaxWaitCycles: w.MaxWaitCycles,
			BackoffUnit:   w.BackoffUnit,
			Poll:          cfg.Camera.PollInterval,
		})
	}
	return app.Config{
		FPS:             cfg.Camera.FPS,
		Poll:            cfg.Camera.PollInterval,
		Workers:         workers,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// newCamera creates the device camera at the configured size and rate. The
// rate is applied to the device when it opens.
func newCamera(cfg *config.Config) capture.Camera {
	camera := capture.NewCameraWithSize(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height)
	camera.SetFPS(cfg.Camera.FPS)
	return camera
}

// newPipeline creates the orchestrator. When that fails it still owns
// models, so they are closed here and any close error is joined in.
func newPipeline(cfg *config.Config, camera capture.Camera, models map[string]track.Model) (*app.App, error) {
	pipeline, err := app.New(appConfig(cfg), camera, models)
	if err != nil {
		return nil, errors.Join(err, closeModels(models))
	}
	return pipeline, nil
}

func trackerConfig(cfg *config.Config) track.TrackerConfig {
	return track.TrackerConfig{
		HighThreshold:     cfg.Tracker.HighThreshold,
		LowThreshold:      cfg.Tracker.LowThreshold,
		NewTrackThreshold: cfg.Tracker.NewTrackThreshold,
		MatchIoU:          cfg.Tracker.MatchIoU,
		MaxLost:           cfg.Tracker.MaxLost,
	}
}

// detectorFactory builds the raw detector of one worker.
type detectorFactory func(w config.WorkerConfig) (track.ObjectDetector, error)

// newDetector is the production factory: YOLO workers run an ONNX model,
// hand workers talk to the MediaPipe service.
func newDetector(cfg *config.Config) detectorFactory {
	return func(w config.WorkerConfig) (track.ObjectDetector, error) {
		switch w.Kind {
		case config.KindYOLO:
			return detector.NewYOLODetector(detector.YOLOConfig{
				ModelPath:  w.ModelPath,
				InputSize:  w.InputSize,
				Classes:    w.Classes,
				Confidence: w.Confidence,
				Threads:    cfg.ONNX.Threads,
			})
		case config.KindHands:
			mp, err := detector.NewMediaPipeDetector(cfg.MediaPipe.ScriptPath)
			if err != nil {
				return nil, err
			}
			dc := detector.DefaultConfig()
			dc.MaxHands = w.MaxHands
			dc.MinConfidence = w.Confidence
			return detector.NewHandBoxes(mp, dc), nil
		default:
			return nil, fmt.Errorf("unknown kind %q", w.Kind)
		}
	}
}

// buildModels creates one tracking model per worker. On error every model
// already built is closed.
func buildModels(cfg *config.Config, factory detectorFactory) (map[string]track.Model, error) {
	models := make(map[string]track.Model, len(cfg.Workers))
	tc := trackerConfig(cfg)

	for _, w := range cfg.Workers {
		det, err := factory(w)
		if err != nil {
			closeErr := closeModels(models)
			return nil, errors.Join(fmt.Errorf("worker %q: %w", w.Name, err), closeErr)
		}
		models[w.Name] = track.NewDetectTracker(det, tc)
	}
	return models, nil
}

func closeModels(models map[string]track.Model) error {
	var errs []error
	for name, m := range models {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func needsONNX(cfg *config.Config) bool {
	for _, w := range cfg.Workers {
		if w.Kind == config.KindYOLO {
			return true
		}
	}
	return false
}
