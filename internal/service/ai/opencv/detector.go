// Package opencv runs YOLOv8 ONNX models through the OpenCV DNN module.
package opencv

import (
	"fmt"
	"image"
	"os"

	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/ai"

	"gocv.io/x/gocv"
)

// Detector owns one OpenCV network. It is not safe for concurrent use.
type Detector struct {
	net       gocv.Net
	inputSize int
	classes   int
	logger    *logger.Logger
}

// NewDetector loads the network from modelPath and prepares it for CPU inference.
func NewDetector(modelPath string, inputSize, classes int, logger *logger.Logger) (*Detector, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	logger.Info("OpenCV detection network loaded from %s", modelPath)
	return &Detector{
		net:       net,
		inputSize: inputSize,
		classes:   classes,
		logger:    logger,
	}, nil
}

// Predict pads the image to a square, runs the network and decodes its output.
func (d *Detector) Predict(img image.Image, minConfidence float64) ([]model.Detection, error) {
	// The Mat is in OpenCV's BGR order; the blob swaps it back to RGB.
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("converted image is empty")
	}

	// Pad bottom and right so the aspect ratio survives the resize to the network input.
	width, height := mat.Cols(), mat.Rows()
	side := max(width, height)
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), side, side, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	mat.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] != d.classes+4 {
		return nil, fmt.Errorf("unexpected output shape %v for %d classes", dims, d.classes)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	scale := float64(side) / float64(d.inputSize)
	layout := ai.OutputLayout{Classes: d.classes, Anchors: dims[2]}
	return ai.DecodeYOLO(data, layout, scale, scale, minConfidence)
}

// Close releases the network.
func (d *Detector) Close() error {
	return d.net.Close()
}
