package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeManifest creates dir/<name>/plugin.json for manifest.
func writeManifest(t *testing.T, dir string, manifest Manifest) string {
	t.Helper()

	pluginDir := filepath.Join(dir, manifest.Name)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, ManifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return pluginDir
}

func TestManager_Discover(t *testing.T) {
	tmpDir := t.TempDir()
	pluginDir := writeManifest(t, tmpDir, Manifest{
		Name:        "test-plugin",
		Version:     "1.0.0",
		Description: "A test plugin",
		Executable:  "test-plugin",
		Events:      []string{EventTrackStarted, EventTrackLost},
		Workers:     []string{"hands"},
		Config:      json.RawMessage(`{"key":"space"}`),
	})

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	plugin := plugins[0]
	if plugin.Manifest.Name != "test-plugin" {
		t.Errorf("expected plugin name 'test-plugin', got %q", plugin.Manifest.Name)
	}
	if plugin.Manifest.Description != "A test plugin" {
		t.Errorf("expected description 'A test plugin', got %q", plugin.Manifest.Description)
	}
	if len(plugin.Manifest.Events) != 2 {
		t.Errorf("expected 2 events, got %d", len(plugin.Manifest.Events))
	}
	if string(plugin.Manifest.Config) != `{"key":"space"}` {
		t.Errorf("unexpected config: %s", plugin.Manifest.Config)
	}
	if plugin.Path != pluginDir {
		t.Errorf("expected path %q, got %q", pluginDir, plugin.Path)
	}
	if want := filepath.Join(pluginDir, "test-plugin"); plugin.Executable != want {
		t.Errorf("expected executable %q, got %q", want, plugin.Executable)
	}
}

func TestManager_Discover_MultiplePlugins(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"plugin-a", "plugin-b"} {
		writeManifest(t, tmpDir, Manifest{Name: name, Version: "1.0.0", Executable: name, Events: []string{EventTrackLost}})
	}

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if n := len(manager.List()); n != 2 {
		t.Fatalf("expected 2 plugins, got %d", n)
	}
}

func TestManager_Discover_Skips(t *testing.T) {
	tmpDir := t.TempDir()

	bad := filepath.Join(tmpDir, "bad-plugin")
	if err := os.MkdirAll(bad, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bad, "plugin.json"), []byte("not valid json"), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "no-manifest"), 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "README"), []byte("loose file"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed unexpectedly: %v", err)
	}
	if n := len(manager.List()); n != 0 {
		t.Fatalf("expected 0 plugins, got %d", n)
	}
}

func TestManager_Discover_SkipsInvalidManifests(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, Manifest{Name: "good", Executable: "run", Events: []string{EventTrackStarted}})
	writeManifest(t, tmpDir, Manifest{Name: "no-exec", Events: []string{EventTrackStarted}})
	writeManifest(t, tmpDir, Manifest{Name: "no-events", Executable: "run"})
	writeManifest(t, tmpDir, Manifest{Name: "gesture", Executable: "run", Events: []string{"swipe_left"}})
	writeManifest(t, tmpDir, Manifest{Name: "escape", Executable: "../../bin/sh", Events: []string{EventTrackLost}})

	// A second directory claiming an existing name.
	dup := filepath.Join(tmpDir, "zz-copy")
	if err := os.MkdirAll(dup, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	data, _ := json.Marshal(Manifest{Name: "good", Executable: "other", Events: []string{EventTrackLost}})
	if err := os.WriteFile(filepath.Join(dup, ManifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 1 {
		t.Fatalf("expected only the valid plugin, got %d", len(plugins))
	}
	if p := plugins[0]; p.Manifest.Name != "good" || p.Path != filepath.Join(tmpDir, "good") {
		t.Errorf("expected the first 'good' plugin, got %+v", p)
	}
}

func TestManifest_Validate(t *testing.T) {
	valid := Manifest{Name: "keys", Executable: "keys", Events: []string{EventTrackStarted, EventTrackLost}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() failed on a valid manifest: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Manifest)
		want   string
	}{
		{"missing name", func(m *Manifest) { m.Name = "" }, "name is required"},
		{"missing executable", func(m *Manifest) { m.Executable = "" }, "executable is required"},
		{"absolute executable", func(m *Manifest) { m.Executable = "/bin/sh" }, "inside the plugin directory"},
		{"no events", func(m *Manifest) { m.Events = nil }, "at least one event"},
		{"unknown event", func(m *Manifest) { m.Events = []string{"gesture"} }, `unknown event "gesture"`},
		{"bad config", func(m *Manifest) { m.Config = json.RawMessage("{") }, "config is not valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.modify(&m)
			err := m.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestManager_Discover_NonExistentDir(t *testing.T) {
	manager := NewManager("/path/that/does/not/exist")
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed on non-existent dir: %v", err)
	}
	if n := len(manager.List()); n != 0 {
		t.Fatalf("expected 0 plugins, got %d", n)
	}
}

func TestManager_Get(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, Manifest{Name: "my-plugin", Version: "2.0.0", Executable: "my-plugin-bin", Events: []string{EventTrackStarted}})

	manager := NewManager(tmpDir)
	if _, err := manager.Get("my-plugin"); err != ErrPluginNotFound {
		t.Errorf("expected ErrPluginNotFound before Discover, got %v", err)
	}
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugin, err := manager.Get("my-plugin")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if plugin.Manifest.Version != "2.0.0" {
		t.Errorf("expected version '2.0.0', got %q", plugin.Manifest.Version)
	}
	if _, err := manager.Get("nonexistent-plugin"); err != ErrPluginNotFound {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestManager_Subscribers(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, Manifest{Name: "zeta", Executable: "z", Events: []string{EventTrackStarted}})
	writeManifest(t, tmpDir, Manifest{Name: "alpha", Executable: "a", Events: []string{EventTrackStarted, EventTrackLost}, Workers: []string{"hands"}})

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	names := func(ps []*Plugin) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Manifest.Name)
		}
		return out
	}

	tests := []struct {
		event, worker string
		want          []string
	}{
		{EventTrackStarted, "hands", []string{"alpha", "zeta"}},
		{EventTrackStarted, "controller", []string{"zeta"}},
		{EventTrackLost, "hands", []string{"alpha"}},
		{EventTrackLost, "controller", nil},
	}
	for _, tt := range tests {
		got := names(manager.Subscribers(tt.event, tt.worker))
		if len(got) != len(tt.want) {
			t.Errorf("Subscribers(%s, %s) = %v, want %v", tt.event, tt.worker, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Subscribers(%s, %s) = %v, want %v", tt.event, tt.worker, got, tt.want)
				break
			}
		}
	}
}

func TestManager_PluginDir(t *testing.T) {
	pluginDir := "/path/to/plugins"
	if got := NewManager(pluginDir).PluginDir(); got != pluginDir {
		t.Errorf("expected plugin dir %q, got %q", pluginDir, got)
	}
}
