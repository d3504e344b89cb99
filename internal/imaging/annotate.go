package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/joseph-ayodele/docextract/internal/ocr"
)

// BoxStyle controls the rectangles drawn over detected regions.
type BoxStyle struct {
	Color     color.Color
	Thickness int
}

// DefaultBoxStyle is a 2px pure green outline.
func DefaultBoxStyle() BoxStyle {
	return BoxStyle{Color: color.RGBA{G: 255, A: 255}, Thickness: 2}
}

// Annotate draws one rectangle per region onto a private RGBA copy of img.
// Each rectangle spans the extremes of all four corners of the region.
func Annotate(img image.Image, regions []ocr.TextRegion, style BoxStyle) *image.RGBA {
	if style.Color == nil {
		style.Color = DefaultBoxStyle().Color
	}
	if style.Thickness <= 0 {
		style.Thickness = DefaultBoxStyle().Thickness
	}

	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	for _, r := range regions {
		drawOutline(out, r.Quad.Bounds(), style)
	}
	return out
}

// drawOutline strokes rect inward from its edges, clipped to dst.
func drawOutline(dst *image.RGBA, rect image.Rectangle, style BoxStyle) {
	rect = rect.Canon()
	if rect.Empty() {
		// degenerate quads still get a visible mark
		rect.Max = rect.Max.Add(image.Pt(1, 1))
	}
	src := image.NewUniform(style.Color)
	t := style.Thickness
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+t), // top
		image.Rect(rect.Min.X, rect.Max.Y-t, rect.Max.X, rect.Max.Y), // bottom
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+t, rect.Max.Y), // left
		image.Rect(rect.Max.X-t, rect.Min.Y, rect.Max.X, rect.Max.Y), // right
	}
	for _, e := range edges {
		e = e.Intersect(rect).Intersect(dst.Bounds())
		if e.Empty() {
			continue
		}
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}
