package render

import (
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const ellipsis = "..."

// truncate shortens s to at most max runes, replacing the tail with "..."
// when it does not fit.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return string(r[:max])
	}
	return string(r[:max-len(ellipsis)]) + ellipsis
}

// measure returns the ink bounding box size of s in face.
func measure(face font.Face, s string) (w, h int) {
	b, _ := font.BoundString(face, s)
	return (b.Max.X - b.Min.X).Ceil(), (b.Max.Y - b.Min.Y).Ceil()
}

// drawText draws s so that the top-left corner of its ink bounding box
// lands on (x, y).
func drawText(dst draw.Image, face font.Face, s string, x, y int) {
	b, _ := font.BoundString(face, s)
	d := font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(x) - b.Min.X,
			Y: fixed.I(y) - b.Min.Y,
		},
	}
	d.DrawString(s)
}

// drawTextCentered centers s horizontally on cx with its box top at y.
func drawTextCentered(dst draw.Image, face font.Face, s string, cx, y int) {
	w, _ := measure(face, s)
	drawText(dst, face, s, cx-w/2, y)
}

// strokeRect draws a rectangle outline of the given width inside r.
func strokeRect(dst draw.Image, r image.Rectangle, width int) {
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, image.Black, image.Point{}, draw.Src)
	}
}
