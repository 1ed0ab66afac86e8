package vision

import (
	"image"

	"github.com/fogleman/gg"
)

// DefaultLabel is drawn above every detected face.
const DefaultLabel = "Coucou"

// Annotate returns a copy of img with a green box around every rect and
// label above it. img is not modified.
func Annotate(img image.Image, rects []image.Rectangle, label string) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetRGB(0, 1, 0)
	dc.SetLineWidth(2)
	for _, r := range rects {
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
		if label != "" {
			dc.DrawString(label, float64(r.Min.X), float64(r.Min.Y-10))
		}
	}
	return dc.Image()
}
