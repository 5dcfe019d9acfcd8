package ai

import (
	"fmt"
	"image"
	"math"

	"detectserver/internal/model"
)

// Model is one loaded detection network. Implementations are not required to be
// safe for concurrent use; the Engine hands each instance to one request at a time.
type Model interface {
	// Predict returns candidate detections in source image coordinates with a
	// confidence of at least minConfidence. Overlapping candidates are not suppressed.
	Predict(img image.Image, minConfidence float64) ([]model.Detection, error)
	Close() error
}

// OutputLayout describes a YOLOv8 style output tensor of shape [1, 4+classes, anchors].
type OutputLayout struct {
	Classes int
	Anchors int
}

// AnchorsFor returns the number of anchors a YOLOv8 head produces for a square input.
func AnchorsFor(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		cells := inputSize / stride
		n += cells * cells
	}
	return n
}

// DecodeYOLO turns the raw output tensor into candidate detections. Each anchor column
// holds the box center, width and height in network input pixels followed by one score
// per class. scaleX and scaleY map network pixels back to the source image.
func DecodeYOLO(output []float32, layout OutputLayout, scaleX, scaleY, minConfidence float64) ([]model.Detection, error) {
	rows := layout.Classes + 4
	if layout.Classes <= 0 || layout.Anchors <= 0 {
		return nil, fmt.Errorf("invalid output layout %+v", layout)
	}
	if len(output) != rows*layout.Anchors {
		return nil, fmt.Errorf("output has %d values, expected %d", len(output), rows*layout.Anchors)
	}

	n := layout.Anchors
	var detections []model.Detection
	for i := 0; i < n; i++ {
		classID, score := -1, float32(0)
		for c := 0; c < layout.Classes; c++ {
			if v := output[(c+4)*n+i]; v > score {
				classID, score = c, v
			}
		}
		confidence := float64(score)
		if classID < 0 || confidence < minConfidence || math.IsNaN(confidence) {
			continue
		}

		cx, cy := float64(output[i]), float64(output[n+i])
		w, h := float64(output[2*n+i]), float64(output[3*n+i])
		detections = append(detections, model.Detection{
			ClassID:    classID,
			Confidence: math.Min(confidence, 1),
			Box: model.BoundingBox{
				XMin: (cx - w/2) * scaleX,
				YMin: (cy - h/2) * scaleY,
				XMax: (cx + w/2) * scaleX,
				YMax: (cy + h/2) * scaleY,
			},
		})
	}
	return detections, nil
}
