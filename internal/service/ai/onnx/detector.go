// Package onnx runs YOLOv8 models with ONNX Runtime.
package onnx

import (
	"fmt"
	"image"
	"sync"

	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/ai"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

const padValue = 114.0 / 255.0

var (
	envOnce sync.Once
	envErr  error
)

// InitEnvironment loads the ONNX Runtime shared library. Only the first call has an effect.
func InitEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		ort.SetSharedLibraryPath(libraryPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Shutdown releases the ONNX Runtime environment once every Detector is closed.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Detector owns one ONNX Runtime session with preallocated tensors.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	inputSize int
	layout    ai.OutputLayout
}

// NewDetector creates a session for the model at modelPath. The environment must be initialized.
func NewDetector(modelPath string, inputSize, classes int, logger *logger.Logger) (*Detector, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected one input and one output, got %d and %d", len(inputs), len(outputs))
	}

	layout := ai.OutputLayout{Classes: classes, Anchors: ai.AnchorsFor(inputSize)}

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(inputSize), int64(inputSize)), make([]float32, 3*inputSize*inputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes+4), int64(layout.Anchors)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Info("ONNX Runtime session created for %s (%s -> %s)", modelPath, inputs[0].Name, outputs[0].Name)
	return &Detector{
		session:   session,
		input:     input,
		output:    output,
		inputSize: inputSize,
		layout:    layout,
	}, nil
}

// Predict letterboxes the image into the input tensor, runs the session and decodes the output.
func (d *Detector) Predict(img image.Image, minConfidence float64) ([]model.Detection, error) {
	scale := d.fill(img)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return ai.DecodeYOLO(d.output.GetData(), d.layout, scale, scale, minConfidence)
}

// fill writes the image, scaled to fit and anchored top-left, into the CHW input tensor.
// It returns the factor that maps network pixels back to source pixels.
func (d *Detector) fill(img image.Image) float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	size := d.inputSize

	var resized image.Image
	if width >= height {
		resized = resize.Resize(uint(size), 0, img, resize.Bilinear)
	} else {
		resized = resize.Resize(0, uint(size), img, resize.Bilinear)
	}

	data := d.input.GetData()
	for i := range data {
		data[i] = padValue
	}

	stride := size * size
	rb := resized.Bounds()
	for y := 0; y < rb.Dy() && y < size; y++ {
		for x := 0; x < rb.Dx() && x < size; x++ {
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			idx := y*size + x
			data[idx] = float32(r>>8) / 255.0
			data[idx+stride] = float32(g>>8) / 255.0
			data[idx+2*stride] = float32(b>>8) / 255.0
		}
	}

	return float64(max(width, height)) / float64(size)
}

// Close destroys the session and its tensors.
func (d *Detector) Close() error {
	return multierr.Combine(
		d.session.Destroy(),
		d.input.Destroy(),
		d.output.Destroy(),
	)
}
