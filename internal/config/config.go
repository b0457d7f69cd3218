// Package config loads the YAML configuration of the tracking pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Worker kinds.
const (
	KindYOLO  = "yolo"
	KindHands = "hands"
)

// Payload encodings for the MQTT sink.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Config represents the complete configuration.
type Config struct {
	Camera          CameraConfig    `yaml:"camera"`
	Workers         []WorkerConfig  `yaml:"workers"`
	Tracker         TrackerConfig   `yaml:"tracker"`
	ONNX            ONNXConfig      `yaml:"onnx"`
	MediaPipe       MediaPipeConfig `yaml:"mediapipe"`
	Server          ServerConfig    `yaml:"server"`
	Store           StoreConfig     `yaml:"store"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	Emitter         EmitterConfig   `yaml:"emitter"`
	Plugins         PluginsConfig   `yaml:"plugins"`
	Log             LogConfig       `yaml:"log"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// CameraConfig contains camera settings.
type CameraConfig struct {
	Device       int           `yaml:"device"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	FPS          int           `yaml:"fps"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WorkerConfig defines one detection target.
type WorkerConfig struct {
	Name                     string        `yaml:"name"`
	Kind                     string        `yaml:"kind"`       // yolo, hands
	ModelPath                string        `yaml:"model_path"` // yolo only
	FPS                      int           `yaml:"fps"`
	MaxStride                int           `yaml:"max_stride"`
	MotionThreshold          float64       `yaml:"motion_threshold"` // pixels
	AreaThreshold            float64       `yaml:"area_threshold"`
	CovarianceIncreaseFactor float64       `yaml:"covariance_increase_factor"`
	MaxWaitCycles            int           `yaml:"max_wait_cycles"`
	BackoffUnit              time.Duration `yaml:"backoff_unit"`
	Confidence               float64       `yaml:"confidence"`
	InputSize                int           `yaml:"input_size"` // yolo only
	Classes                  []string      `yaml:"classes"`    // yolo only
	MaxHands                 int           `yaml:"max_hands"`  // hands only
}

// TrackerConfig contains the association thresholds shared by all workers.
type TrackerConfig struct {
	HighThreshold     float64 `yaml:"high_threshold"`
	LowThreshold      float64 `yaml:"low_threshold"`
	NewTrackThreshold float64 `yaml:"new_track_threshold"`
	MatchIoU          float64 `yaml:"match_iou"`
	MaxLost           int     `yaml:"max_lost"`
}

// ONNXConfig locates the ONNX Runtime shared library.
type ONNXConfig struct {
	LibraryPath string `yaml:"library_path"`
	Threads     int    `yaml:"threads"`
}

// MediaPipeConfig locates the hand landmark service script.
type MediaPipeConfig struct {
	ScriptPath string `yaml:"script_path"`
}

// ServerConfig contains the HTTP API settings. An empty Addr disables it.
type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// StoreConfig contains persistence settings. An empty Path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains MQTT broker settings. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Encoding string `yaml:"encoding"` // json, msgpack
	QoS      byte   `yaml:"qos"`
}

// EmitterConfig controls how often results are forwarded to sinks.
type EmitterConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// PluginsConfig locates track-event plugins. An empty Dir disables them.
type PluginsConfig struct {
	Dir       string        `yaml:"dir"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the built-in configuration: one YOLO controller worker and
// one hand worker on camera 0.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Device:       0,
			Width:        640,
			Height:       480,
			FPS:          30,
			PollInterval: time.Millisecond,
		},
		Workers: []WorkerConfig{
			withWorkerDefaults(WorkerConfig{
				Name:      "controller",
				Kind:      KindYOLO,
				ModelPath: "models/controller.onnx",
				Classes:   []string{"controller"},
			}),
			withWorkerDefaults(WorkerConfig{
				Name: "hands",
				Kind: KindHands,
			}),
		},
		Tracker: TrackerConfig{
			HighThreshold:     0.5,
			LowThreshold:      0.1,
			NewTrackThreshold: 0.6,
			MatchIoU:          0.3,
			MaxLost:           30,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			StaleAfter: 2 * time.Second,
		},
		MQTT: MQTTConfig{
			Topic:    "handtrack/results",
			ClientID: "handtrack",
			Encoding: EncodingJSON,
		},
		Emitter: EmitterConfig{
			Interval: 50 * time.Millisecond,
		},
		Plugins: PluginsConfig{
			Timeout:   5 * time.Second,
			QueueSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// withWorkerDefaults fills every unset numeric field of w.
func withWorkerDefaults(w WorkerConfig) WorkerConfig {
	if w.FPS == 0 {
		w.FPS = 30
	}
	if w.MaxStride == 0 {
		w.MaxStride = 5
	}
	if w.MotionThreshold == 0 {
		w.MotionThreshold = 20
	}
	if w.AreaThreshold == 0 {
		w.AreaThreshold = 1.1
	}
	if w.CovarianceIncreaseFactor == 0 {
		w.CovarianceIncreaseFactor = 3.0
	}
	if w.MaxWaitCycles == 0 {
		w.MaxWaitCycles = 30
	}
	if w.BackoffUnit == 0 {
		w.BackoffUnit = 10 * time.Millisecond
	}
	if w.Confidence == 0 {
		w.Confidence = 0.5
	}
	if w.Kind == KindYOLO && w.InputSize == 0 {
		w.InputSize = 320
	}
	if w.Kind == KindHands && w.MaxHands == 0 {
		w.MaxHands = 2
	}
	return w
}

// Load reads and parses a YAML configuration file. Values missing from the
// file keep their defaults; a workers list in the file replaces the default
// workers, each filled with per-worker defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	defaultWorkers := cfg.Workers
	cfg.Workers = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Workers == nil {
		cfg.Workers = defaultWorkers
	}
	for i := range cfg.Workers {
		cfg.Workers[i] = withWorkerDefaults(cfg.Workers[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Camera.FPS <= 0 {
		errs = append(errs, errors.New("camera.fps must be > 0"))
	}
	if c.Camera.PollInterval < 0 {
		errs = append(errs, errors.New("camera.poll_interval must be >= 0"))
	}

	if len(c.Workers) == 0 {
		errs = append(errs, errors.New("at least one worker is required"))
	}
	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		prefix := fmt.Sprintf("workers[%d]", i)
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		} else {
			prefix = fmt.Sprintf("worker %q", w.Name)
			if seen[w.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", prefix))
			}
			seen[w.Name] = true
		}
		errs = append(errs, w.validate(prefix)...)
	}

	t := c.Tracker
	if t.LowThreshold < 0 || t.LowThreshold > t.HighThreshold || t.HighThreshold > 1 {
		errs = append(errs, errors.New("tracker: need 0 <= low_threshold <= high_threshold <= 1"))
	}
	if t.MatchIoU <= 0 || t.MatchIoU > 1 {
		errs = append(errs, errors.New("tracker.match_iou must be in (0, 1]"))
	}
	if t.MaxLost < 0 {
		errs = append(errs, errors.New("tracker.max_lost must be >= 0"))
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.topic is required when a broker is set"))
		}
		if c.MQTT.Encoding != EncodingJSON && c.MQTT.Encoding != EncodingMsgpack {
			errs = append(errs, fmt.Errorf("mqtt.encoding %q: must be json or msgpack", c.MQTT.Encoding))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
		}
	}

	if c.Emitter.Interval <= 0 {
		errs = append(errs, errors.New("emitter.interval must be > 0"))
	}
	if c.Plugins.Dir != "" && (c.Plugins.Timeout <= 0 || c.Plugins.QueueSize <= 0) {
		errs = append(errs, errors.New("plugins: timeout and queue_size must be > 0"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be > 0"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: must be json or console", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (w WorkerConfig) validate(prefix string) []error {
	var errs []error

	switch w.Kind {
	case KindYOLO:
		if w.ModelPath == "" {
			errs = append(errs, fmt.Errorf("%s: model_path is required for yolo", prefix))
		}
		if len(w.Classes) == 0 {
			errs = append(errs, fmt.Errorf("%s: classes are required for yolo", prefix))
		}
		if w.InputSize%32 != 0 {
			errs = append(errs, fmt.Errorf("%s: input_size must be a multiple of 32", prefix))
		}
	case KindHands:
	default:
		errs = append(errs, fmt.Errorf("%s: unknown kind %q", prefix, w.Kind))
	}

	if w.FPS <= 0 {
		errs = append(errs, fmt.Errorf("%s: fps must be > 0", prefix))
	}
	if w.MaxStride < 1 {
		errs = append(errs, fmt.Errorf("%s: max_stride must be >= 1", prefix))
	}
	if w.MotionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%s: motion_threshold must be > 0", prefix))
	}
	if w.AreaThreshold < 1 {
		errs = append(errs, fmt.Errorf("%s: area_threshold must be >= 1", prefix))
	}
	if w.CovarianceIncreaseFactor < 1 {
		errs = append(errs, fmt.Errorf("%s: covariance_increase_factor must be >= 1", prefix))
	}
	if w.MaxWaitCycles < 1 {
		errs = append(errs, fmt.Errorf("%s: max_wait_cycles must be >= 1", prefix))
	}
	if w.BackoffUnit <= 0 {
		errs = append(errs, fmt.Errorf("%s: backoff_unit must be > 0", prefix))
	}
	if w.Confidence < 0 || w.Confidence > 1 {
		errs = append(errs, fmt.Errorf("%s: confidence must be in [0, 1]", prefix))
	}

	return errs
}
