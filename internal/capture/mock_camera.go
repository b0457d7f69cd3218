package capture

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// MockCamera plays back pre-recorded images for testing
type MockCamera struct {
	images  []image.Image
	index   int
	loop    bool
	openErr error
	readErr error
	reads   int
	seq     uint64
	mu      sync.Mutex
	running bool
}

func NewMockCamera(images []image.Image, loop bool) *MockCamera {
	return &MockCamera{
		images: images,
		loop:   loop,
	}
}

// NewFailingCamera returns a camera that opens fine but never delivers a frame.
func NewFailingCamera() *MockCamera {
	return &MockCamera{readErr: ErrReadFailed}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reads++

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if c.readErr != nil {
		return nil, c.readErr
	}

	if len(c.images) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.images) {
		if c.loop {
			c.index = 0
		} else {
			return nil, fmt.Errorf("no more frames")
		}
	}

	img := c.images[c.index]
	c.index++
	c.seq++

	b := img.Bounds()
	return &Frame{
		Image:     img,
		Timestamp: time.Now().UnixMilli(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Seq:       c.seq,
	}, nil
}

func (c *MockCamera) SetFPS(fps int) {}
func (c *MockCamera) FPS() int       { return DefaultFPS }
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetOpenError makes the next Open calls fail with err.
func (c *MockCamera) SetOpenError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// SetReadError makes every read fail with err; nil restores playback.
func (c *MockCamera) SetReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// Reads returns how many times ReadFrame was called.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
