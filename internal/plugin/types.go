// Package plugin runs external executables in response to track events:
// a track appearing in or disappearing from a worker's results.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/ayusman/handtrack/internal/track"
)

// Event kinds delivered to plugins.
const (
	EventTrackStarted = "track_started"
	EventTrackLost    = "track_lost"
)

// Manifest describes a plugin's metadata and subscriptions.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Workers     []string        `json:"workers,omitempty"` // empty means every worker
	Config      json.RawMessage `json:"config,omitempty"`
}

// Validate checks the fields the dispatcher relies on.
func (m Manifest) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if m.Executable == "" {
		errs = append(errs, errors.New("executable is required"))
	} else if !filepath.IsLocal(m.Executable) {
		errs = append(errs, fmt.Errorf("executable %q must stay inside the plugin directory", m.Executable))
	}
	if len(m.Events) == 0 {
		errs = append(errs, errors.New("at least one event is required"))
	}
	for _, ev := range m.Events {
		if ev != EventTrackStarted && ev != EventTrackLost {
			errs = append(errs, fmt.Errorf("unknown event %q", ev))
		}
	}
	if len(m.Config) > 0 && !json.Valid(m.Config) {
		errs = append(errs, errors.New("config is not valid JSON"))
	}
	return errors.Join(errs...)
}

// Wants reports whether the plugin subscribes to event on worker.
func (m Manifest) Wants(event, worker string) bool {
	if !slices.Contains(m.Events, event) {
		return false
	}
	return len(m.Workers) == 0 || slices.Contains(m.Workers, worker)
}

// Request represents a request sent to a plugin for execution.
type Request struct {
	Event    string          `json:"event"`
	Worker   string          `json:"worker"`
	FrameSeq uint64          `json:"frame_seq"`
	Object   track.Object    `json:"object"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
