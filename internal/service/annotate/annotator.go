// Package annotate draws detections onto images.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"detectserver/internal/model"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	// LineWidth is the box outline width in pixels.
	LineWidth = 2.0
	// TextSize is the label font size in points.
	TextSize = 14.0

	labelPadding = 3.0
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// palette holds one colour per class id, cycled for large label tables.
var palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 200, B: 200, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
	{R: 128, G: 128, B: 0, A: 255},
	{R: 0, G: 128, B: 128, A: 255},
	{R: 170, G: 110, B: 40, A: 255},
}

// ClassColor returns the colour used for a class id.
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Label formats the text drawn next to a box.
func Label(name string, confidence float64) string {
	return fmt.Sprintf("%s %.2f", name, confidence)
}

// Annotate draws every detection onto a copy of img and returns the copy together with
// the per-class summary. img is never modified.
func Annotate(img image.Image, detections []model.Detection, labels model.ClassLabels) (image.Image, model.Summary) {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: TextSize}))

	for _, d := range detections {
		c := ClassColor(d.ClassID)
		drawRectangleEmpty(dc, d.Box, c, LineWidth)
		drawLabel(dc, Label(labels.Name(d.ClassID), d.Confidence), d.Box, c)
	}

	return dc.Image(), model.Summarize(detections, labels)
}

func drawRectangleEmpty(dc *gg.Context, b model.BoundingBox, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(b.XMin, b.YMin, b.Width(), b.Height())
	dc.Stroke()
}

// drawLabel places the label on a filled strip above the box, or just inside its top
// edge when the box touches the top of the image.
func drawLabel(dc *gg.Context, text string, b model.BoundingBox, c color.Color) {
	tw, th := dc.MeasureString(text)
	w, h := tw+2*labelPadding, th+2*labelPadding

	x := b.XMin
	y := b.YMin - h
	if y < 0 {
		y = b.YMin
	}
	x = math.Max(0, math.Min(x, float64(dc.Width())-w))

	dc.SetColor(c)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x+labelPadding, y+h/2, 0, 0.35)
}
