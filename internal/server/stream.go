package server

import (
	"fmt"
	"image"
	"image/color"
	"net/http"
	"time"

	"github.com/ayusman/handtrack/internal/app"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// DefaultStreamFPS caps the MJPEG stream rate.
const DefaultStreamFPS = 15

var boxColors = []color.RGBA{
	{R: 0, G: 220, B: 0, A: 255},
	{R: 255, G: 140, B: 0, A: 255},
	{R: 0, G: 160, B: 255, A: 255},
	{R: 220, G: 0, B: 220, A: 255},
}

// StreamHandler serves the newest captured frame as MJPEG, annotated with the
// latest tracked boxes. ?worker=<name> limits the overlay to one worker.
type StreamHandler struct {
	view     app.View
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler reading from view.
func NewStreamHandler(view app.View, fps int) *StreamHandler {
	if fps <= 0 {
		fps = DefaultStreamFPS
	}
	return &StreamHandler{view: view, interval: time.Second / time.Duration(fps)}
}

// ServeHTTP streams MJPEG frames to connected clients until they disconnect.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	workers := h.view.Workers()
	if only := r.URL.Query().Get("worker"); only != "" {
		workers = []string{only}
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		snap, ok := h.view.Frame()
		if !ok || snap.Seq == lastSeq || snap.Value == nil {
			continue
		}
		lastSeq = snap.Seq

		jpeg, err := h.encode(snap.Value.Image, workers)
		if err != nil {
			log.Debug().Err(err).Msg("stream frame encode failed")
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// encode draws the latest boxes of workers onto img and returns it as JPEG.
func (h *StreamHandler) encode(img image.Image, workers []string) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	for i, name := range workers {
		res, ok := h.view.Result(name)
		if !ok {
			continue
		}
		drawObjects(&mat, res.Value.Objects, boxColors[i%len(boxColors)])
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func drawObjects(mat *gocv.Mat, objs []track.Object, c color.RGBA) {
	for _, o := range objs {
		rect := image.Rect(int(o.Box.X1), int(o.Box.Y1), int(o.Box.X2), int(o.Box.Y2))
		gocv.Rectangle(mat, rect, c, 2)

		label := fmt.Sprintf("%s #%d %.2f", o.Label, o.ID, o.Score)
		origin := image.Pt(rect.Min.X, max(rect.Min.Y-4, 12))
		gocv.PutText(mat, label, origin, gocv.FontHersheySimplex, 0.45, c, 1)
	}
}
