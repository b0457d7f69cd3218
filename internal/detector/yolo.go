package detector

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// Defaults for a YOLOv8-style export.
const (
	DefaultInputSize    = 320
	DefaultNMSThreshold = 0.45
	DefaultInputName    = "images"
	DefaultOutputName   = "output0"
)

// YOLOConfig describes a YOLO ONNX model.
type YOLOConfig struct {
	ModelPath    string
	InputSize    int      // square input edge, pixels
	Classes      []string // class labels, in model output order
	Confidence   float64  // minimum class score
	NMSThreshold float64  // IoU above which overlapping boxes are suppressed
	InputName    string
	OutputName   string
	Threads      int // intra-op threads, 0 leaves the runtime default
}

func (c *YOLOConfig) applyDefaults() {
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if c.NMSThreshold <= 0 {
		c.NMSThreshold = DefaultNMSThreshold
	}
	if c.InputName == "" {
		c.InputName = DefaultInputName
	}
	if c.OutputName == "" {
		c.OutputName = DefaultOutputName
	}
}

// anchorCount returns the number of candidate boxes a YOLOv8 head emits for
// a square input: one per cell at strides 8, 16 and 32.
func anchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		cells := inputSize / stride
		n += cells * cells
	}
	return n
}

// InitRuntime loads the ONNX Runtime shared library. It must be called once
// before any YOLODetector is created. An empty libPath uses the library
// default search.
func InitRuntime(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}

// DestroyRuntime releases the ONNX Runtime environment.
func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

// YOLODetector runs a YOLO model through ONNX Runtime.
type YOLODetector struct {
	cfg     YOLOConfig
	anchors int

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var _ track.ObjectDetector = (*YOLODetector)(nil)

// NewYOLODetector loads the model and allocates its tensors.
func NewYOLODetector(cfg YOLOConfig) (*YOLODetector, error) {
	cfg.applyDefaults()
	if len(cfg.Classes) == 0 {
		return nil, fmt.Errorf("yolo model %s: no classes configured", cfg.ModelPath)
	}

	size := int64(cfg.InputSize)
	anchors := anchorCount(cfg.InputSize)

	inputShape := ort.NewShape(1, 3, size, size)
	input, err := ort.NewTensor(inputShape, make([]float32, 3*cfg.InputSize*cfg.InputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(4+len(cfg.Classes)), int64(anchors))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	if cfg.Threads > 0 {
		options.SetIntraOpNumThreads(cfg.Threads)
		options.SetInterOpNumThreads(1)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Int("input_size", cfg.InputSize).
		Strs("classes", cfg.Classes).
		Msg("yolo model loaded")

	return &YOLODetector{
		cfg:     cfg,
		anchors: anchors,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// DetectObjects runs the model on frame and returns NMS-filtered boxes in
// frame pixels.
func (d *YOLODetector) DetectObjects(frame *capture.Frame) ([]track.Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, ErrNoFrame
	}

	resized := imaging.Resize(frame.Image, d.cfg.InputSize, d.cfg.InputSize, imaging.Linear)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, fmt.Errorf("yolo model %s: closed", d.cfg.ModelPath)
	}

	fillInput(d.input.GetData(), resized, d.cfg.InputSize)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	b := frame.Image.Bounds()
	dets := decodeOutput(d.output.GetData(), d.anchors, d.cfg.Classes, d.cfg.Confidence,
		d.cfg.InputSize, b.Dx(), b.Dy())
	return nms(dets, d.cfg.NMSThreshold), nil
}

// Close destroys the session and its tensors.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
	d.session = nil
	return err
}

// fillInput writes img as planar RGB scaled to [0,1].
func fillInput(dst []float32, img *image.NRGBA, size int) {
	plane := size * size
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255
			dst[plane+i] = float32(p[1]) / 255
			dst[2*plane+i] = float32(p[2]) / 255
		}
	}
}

// decodeOutput reads a [1, 4+C, N] YOLOv8 head: rows 0-3 hold the box
// centre and size in input pixels, the rest the per-class scores.
func decodeOutput(out []float32, anchors int, classes []string, conf float64, inputSize, width, height int) []track.Detection {
	if len(out) < (4+len(classes))*anchors {
		log.Warn().
			Int("got", len(out)).
			Int("want", (4+len(classes))*anchors).
			Msg("unexpected yolo output size")
		return nil
	}

	sx := float64(width) / float64(inputSize)
	sy := float64(height) / float64(inputSize)

	var dets []track.Detection
	for i := 0; i < anchors; i++ {
		class, score := 0, float32(0)
		for c := range classes {
			if s := out[(4+c)*anchors+i]; s > score {
				class, score = c, s
			}
		}
		if float64(score) < conf {
			continue
		}

		cx := float64(out[i])
		cy := float64(out[anchors+i])
		w := float64(out[2*anchors+i])
		h := float64(out[3*anchors+i])

		dets = append(dets, track.Detection{
			Box: track.Box{
				X1: clamp((cx-w/2)*sx, 0, float64(width)),
				Y1: clamp((cy-h/2)*sy, 0, float64(height)),
				X2: clamp((cx+w/2)*sx, 0, float64(width)),
				Y2: clamp((cy+h/2)*sy, 0, float64(height)),
			},
			Class: class,
			Label: classes[class],
			Score: float64(score),
		})
	}
	return dets
}

// nms keeps the best-scoring box of every overlapping same-class group.
func nms(dets []track.Detection, threshold float64) []track.Detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Score > dets[j].Score })

	suppressed := make([]bool, len(dets))
	var kept []track.Detection
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].Class != dets[i].Class {
				continue
			}
			if dets[i].Box.IoU(dets[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
