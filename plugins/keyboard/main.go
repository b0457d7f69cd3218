// Package main provides a keyboard plugin for macOS. It presses the
// keystroke configured for a track event via AppleScript.
//
// Example manifest config:
//
//	{"track_started": {"key": "space"}, "track_lost": {"key": "p", "modifiers": ["cmd"]}}
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Request is the track event sent by the plugin dispatcher.
type Request struct {
	Event    string          `json:"event"`
	Worker   string          `json:"worker"`
	FrameSeq uint64          `json:"frame_seq"`
	Object   json.RawMessage `json:"object"`
	Config   json.RawMessage `json:"config"`
}

// Response is written to stdout for the dispatcher.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Keystroke is a key plus optional modifiers.
type Keystroke struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"` // command, option, control, shift
}

var modifierMap = map[string]string{
	"command": "command down",
	"cmd":     "command down",
	"option":  "option down",
	"alt":     "option down",
	"control": "control down",
	"ctrl":    "control down",
	"shift":   "shift down",
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		respond(fmt.Errorf("failed to decode request: %w", err))
		return
	}
	respond(handle(req))
}

func handle(req Request) error {
	ks, err := keystrokeFor(req.Event, req.Config)
	if err != nil {
		return err
	}
	if ks == nil {
		// Nothing bound to this event.
		return nil
	}
	return runAppleScript(buildKeystrokeScript(ks.Key, ks.Modifiers))
}

// keystrokeFor looks up the keystroke bound to event in the manifest config.
func keystrokeFor(event string, config json.RawMessage) (*Keystroke, error) {
	if len(config) == 0 {
		return nil, errors.New("no keystrokes configured")
	}
	var bindings map[string]Keystroke
	if err := json.Unmarshal(config, &bindings); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ks, ok := bindings[event]
	if !ok {
		return nil, nil
	}
	if ks.Key == "" {
		return nil, fmt.Errorf("event %s: key is required", event)
	}
	return &ks, nil
}

func buildKeystrokeScript(key string, modifiers []string) string {
	var using []string
	for _, mod := range modifiers {
		if m, ok := modifierMap[strings.ToLower(mod)]; ok {
			using = append(using, m)
		}
	}

	script := fmt.Sprintf(`tell application "System Events" to keystroke %q`, key)
	if len(using) > 0 {
		script += " using {" + strings.Join(using, ", ") + "}"
	}
	return script
}

func respond(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

func runAppleScript(script string) error {
	output, err := exec.Command("osascript", "-e", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
