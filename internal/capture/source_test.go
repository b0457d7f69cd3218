package capture

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/ayusman/handtrack/internal/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSource(t *testing.T, src *Source, d time.Duration) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	time.Sleep(d)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("source did not stop after cancellation")
	}
}

func TestSource_PublishesLatestFrame(t *testing.T) {
	cam := NewMockCamera([]image.Image{
		solidImage(16, 16, color.Gray{Y: 1}),
		solidImage(16, 16, color.Gray{Y: 2}),
	}, true)
	require.NoError(t, cam.Open())

	out := slot.New[*Frame]()
	src := NewSource(cam, out, SourceConfig{FPS: 200})

	runSource(t, src, 100*time.Millisecond)

	snap, ok := out.Get()
	require.True(t, ok, "frame slot should hold a frame")
	require.NotNil(t, snap.Value)
	assert.Equal(t, snap.Value.Seq, snap.Seq, "one slot update per captured frame")
	assert.Equal(t, src.Stats().Captured, snap.Seq)
	assert.False(t, cam.IsOpen(), "camera must be released when the source stops")
}

// Scenario: the device never delivers a frame.
func TestSource_ReadAlwaysFails(t *testing.T) {
	cam := NewFailingCamera()
	require.NoError(t, cam.Open())

	out := slot.New[*Frame]()
	src := NewSource(cam, out, SourceConfig{FPS: 500})

	runSource(t, src, 50*time.Millisecond)

	_, ok := out.Get()
	assert.False(t, ok, "frame slot must stay empty")
	assert.Zero(t, src.Stats().Captured)
	assert.Greater(t, src.Stats().Failed, uint64(1), "loop keeps retrying after failures")
	assert.Equal(t, uint64(cam.Reads()), src.Stats().Failed)
}

func TestSource_RespectsCadence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	cam := NewMockCamera([]image.Image{solidImage(8, 8, color.Gray{})}, true)
	require.NoError(t, cam.Open())

	out := slot.New[*Frame]()
	src := NewSource(cam, out, SourceConfig{FPS: 20})

	runSource(t, src, 500*time.Millisecond)

	// 20 Hz over 500ms is about 10 captures; allow scheduler slack.
	captured := src.Stats().Captured
	assert.GreaterOrEqual(t, captured, uint64(5))
	assert.LessOrEqual(t, captured, uint64(12))
}

func TestNewSource_Defaults(t *testing.T) {
	src := NewSource(NewMockCamera(nil, false), slot.New[*Frame](), SourceConfig{})

	assert.Equal(t, time.Second/DefaultFPS, src.interval)
	assert.Equal(t, DefaultPoll, src.poll)
}
