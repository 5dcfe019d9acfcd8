package model

import (
	"image"
	"math"
)

// BoundingBox is an axis-aligned box in pixel coordinates of the source image.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Width returns the box width, zero for degenerate boxes.
func (b BoundingBox) Width() float64 {
	return math.Max(0, b.XMax-b.XMin)
}

// Height returns the box height, zero for degenerate boxes.
func (b BoundingBox) Height() float64 {
	return math.Max(0, b.YMax-b.YMin)
}

// Area returns the box area.
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// IoU returns the intersection-over-union of two boxes.
func (b BoundingBox) IoU(other BoundingBox) float64 {
	x1 := math.Max(b.XMin, other.XMin)
	y1 := math.Max(b.YMin, other.YMin)
	x2 := math.Min(b.XMax, other.XMax)
	y2 := math.Min(b.YMax, other.YMax)

	intersection := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := b.Area() + other.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Clamp restricts the box to the given image bounds.
func (b BoundingBox) Clamp(bounds image.Rectangle) BoundingBox {
	clamp := func(v, lo, hi float64) float64 {
		return math.Min(math.Max(v, lo), hi)
	}
	minX, minY := float64(bounds.Min.X), float64(bounds.Min.Y)
	maxX, maxY := float64(bounds.Max.X), float64(bounds.Max.Y)
	return BoundingBox{
		XMin: clamp(b.XMin, minX, maxX),
		YMin: clamp(b.YMin, minY, maxY),
		XMax: clamp(b.XMax, minX, maxX),
		YMax: clamp(b.YMax, minY, maxY),
	}
}

// Rect rounds the box to an integer rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.XMin)), int(math.Round(b.YMin)),
		int(math.Round(b.XMax)), int(math.Round(b.YMax)),
	)
}

// Detection is one predicted object instance.
type Detection struct {
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// Upload is the raw file received from a client, before any validation.
type Upload struct {
	Filename string
	Data     []byte
}
