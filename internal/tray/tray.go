// Package tray provides a system tray interface showing per-worker tracking
// status with an inference toggle.
package tray

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayusman/handtrack/internal/app"
	"github.com/ayusman/handtrack/internal/slot"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/getlantern/systray"
)

// RefreshInterval is how often worker status lines are redrawn.
const RefreshInterval = 500 * time.Millisecond

// Tray represents the system tray application.
type Tray struct {
	view       app.View
	staleAfter time.Duration

	onToggle    func(enabled bool)
	onDashboard func()
	onQuit      func()
	enabled     bool
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuToggle  *systray.MenuItem
	menuWorkers map[string]*systray.MenuItem
	stop        context.CancelFunc
}

// New creates a new Tray over view with enabled state set to enabled.
func New(view app.View, staleAfter time.Duration, enabled bool) *Tray {
	return &Tray{
		view:        view,
		staleAfter:  staleAfter,
		enabled:     enabled,
		menuWorkers: make(map[string]*systray.MenuItem),
	}
}

// OnToggle sets the callback function to be called when the enabled state is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnDashboard sets the callback function to be called when the dashboard menu item is clicked.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure and starts the status refresher.
func (t *Tray) onReady() {
	systray.SetTitle("handtrack")
	systray.SetTooltip("handtrack object tracking")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle inference")
	systray.AddSeparator()

	for _, name := range t.view.Workers() {
		item := systray.AddMenuItem(name+": waiting", "Latest result of "+name)
		item.Disable()
		t.menuWorkers[name] = item
	}
	systray.AddSeparator()
	t.mu.Unlock()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit handtrack")

	ctx, cancel := context.WithCancel(context.Background())
	t.stop = cancel
	go t.refresh(ctx)

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuDashboard.ClickedCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {
	if t.stop != nil {
		t.stop()
	}
}

func (t *Tray) refresh(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			systray.SetTitle(t.update(time.Now()))
		}
	}
}

// update redraws every worker line and returns the tray title.
func (t *Tray) update(now time.Time) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make([]string, 0, len(t.menuWorkers))
	for _, name := range t.view.Workers() {
		snap, ok := t.view.Result(name)
		if item := t.menuWorkers[name]; item != nil {
			item.SetTitle(StatusLine(name, snap, ok, now, t.staleAfter))
		}
		n := 0
		if ok {
			n = len(snap.Value.Objects)
		}
		counts = append(counts, fmt.Sprintf("%s:%d", name, n))
	}
	if !t.enabled {
		return "handtrack (paused)"
	}
	return "handtrack " + strings.Join(counts, " ")
}

// StatusLine formats one worker's latest result for the menu.
func StatusLine(name string, snap slot.Snapshot[track.Result], ok bool, now time.Time, staleAfter time.Duration) string {
	if !ok {
		return name + ": waiting"
	}
	age := now.Sub(snap.UpdatedAt)
	if staleAfter > 0 && age > staleAfter {
		return fmt.Sprintf("%s: stale (%s)", name, age.Truncate(100*time.Millisecond))
	}

	res := snap.Value
	line := fmt.Sprintf("%s: %d object", name, len(res.Objects))
	if len(res.Objects) != 1 {
		line += "s"
	}
	if res.Source == track.SourceExtrapolated {
		line += fmt.Sprintf(" (extrapolated +%d)", res.Stride)
	}
	return line
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Enabled"
	}
	return "○ Disabled"
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handleDashboard handles the dashboard menu item click.
func (t *Tray) handleDashboard() {
	t.mu.RLock()
	callback := t.onDashboard
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}
