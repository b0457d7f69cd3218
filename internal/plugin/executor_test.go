package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/handtrack/internal/track"
)

// writeScript creates an executable shell plugin in a temporary directory.
func writeScript(t *testing.T, name, script string) *Plugin {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return &Plugin{
		Manifest: Manifest{
			Name:       name,
			Version:    "1.0.0",
			Executable: name,
			Events:     []string{EventTrackStarted},
		},
		Path:       dir,
		Executable: path,
	}
}

func testRequest() *Request {
	return &Request{
		Event:    EventTrackStarted,
		Worker:   "hands",
		FrameSeq: 12,
		Object:   track.Object{ID: 4, Label: "hand", Box: track.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}},
		Config:   json.RawMessage(`{"key":"space"}`),
	}
}

func TestExecutor_Execute(t *testing.T) {
	plugin := writeScript(t, "ok.sh", `echo '{"success":true,"data":{"message":"hello world"}}'`)

	response, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, testRequest())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !response.Success {
		t.Errorf("expected success=true, got false")
	}

	var data map[string]interface{}
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}
	if data["message"] != "hello world" {
		t.Errorf("expected message 'hello world', got %v", data["message"])
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	plugin := writeScript(t, "echo.sh", `INPUT=$(cat)
echo "{\"success\":true,\"data\":{\"received\":$INPUT}}"
`)

	response, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, testRequest())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var data struct {
		Received Request `json:"received"`
	}
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}

	got := data.Received
	if got.Event != EventTrackStarted || got.Worker != "hands" || got.FrameSeq != 12 {
		t.Errorf("unexpected request header: %+v", got)
	}
	if got.Object.ID != 4 || got.Object.Box.X2 != 3 {
		t.Errorf("unexpected object: %+v", got.Object)
	}
	if string(got.Config) != `{"key":"space"}` {
		t.Errorf("unexpected config: %s", got.Config)
	}
}

func TestExecutor_Execute_Failures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		want    string
	}{
		{
			name:    "timeout",
			script:  "sleep 10\necho '{\"success\":true}'\n",
			timeout: 100 * time.Millisecond,
			want:    "timeout",
		},
		{
			name:    "invalid json",
			script:  "echo 'not valid json'\n",
			timeout: 5 * time.Second,
			want:    "failed to parse plugin response",
		},
		{
			name:    "non-zero exit",
			script:  "echo 'Error: something failed' >&2\nexit 1\n",
			timeout: 5 * time.Second,
			want:    "stderr: Error: something failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugin := writeScript(t, "plugin.sh", tt.script)

			_, err := NewExecutor(tt.timeout).Execute(context.Background(), plugin, testRequest())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestExecutor_Execute_ErrorResponse(t *testing.T) {
	plugin := writeScript(t, "error.sh", `echo '{"success":false,"error":"something went wrong"}'`)

	response, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, testRequest())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if response.Success {
		t.Errorf("expected success=false, got true")
	}
	if response.Error != "something went wrong" {
		t.Errorf("expected error 'something went wrong', got %q", response.Error)
	}
}

func TestExecutor_Execute_ParentCancelled(t *testing.T) {
	plugin := writeScript(t, "slow.sh", "sleep 10\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewExecutor(5*time.Second).Execute(ctx, plugin, testRequest()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewExecutor(t *testing.T) {
	if e := NewExecutor(3 * time.Second); e.timeout != 3*time.Second {
		t.Errorf("expected timeout=3s, got %v", e.timeout)
	}
	if e := NewExecutor(0); e.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", e.timeout)
	}
}
