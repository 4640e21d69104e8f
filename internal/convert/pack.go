package convert

import (
	"fmt"
	"image"
)

// Panel geometry of the 7.5" V2 monochrome panel.
const (
	PanelWidth  = 800
	PanelHeight = 480
)

// inkThreshold is the luma below which a pixel is drawn as black ink.
// Anti-aliased glyph edges straddle this value; 128 keeps strokes solid
// without bleeding into the white background.
const inkThreshold = 128

// Stride returns the number of bytes per packed row for a given width.
func Stride(width int) int {
	return (width + 7) / 8
}

// PackGray converts img into a packed 1bpp plane for the panel.
//
// Packing rules:
//
//   - y-major, MSB-first: byteIndex = y*stride + (x >> 3), mask = 0x80 >> (x & 7)
//   - every bit starts as 1 (white); pixels with luma < inkThreshold clear
//     their bit to 0 (black ink).
//
// img must be exactly width x height.
func PackGray(img *image.Gray, width, height int) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("convert: expected %dx%d, got %dx%d", width, height, b.Dx(), b.Dy())
	}

	stride := Stride(width)
	plane := make([]byte, stride*height)
	for i := range plane {
		plane[i] = 0xFF
	}

	// Walk Pix directly to avoid At() per pixel.
	for py := 0; py < height; py++ {
		rowOff := py * img.Stride
		for px := 0; px < width; px++ {
			if img.Pix[rowOff+px] >= inkThreshold {
				continue
			}
			plane[py*stride+(px>>3)] &^= byte(0x80 >> (px & 7))
		}
	}

	return plane, nil
}

// Window extracts the byte-aligned sub-rectangle r from a packed plane of
// the given width. r.Min.X is rounded down and r.Max.X rounded up to
// multiples of 8, matching the panel's partial window addressing. The
// returned rectangle is the aligned window actually covered.
func Window(plane []byte, width int, r image.Rectangle) ([]byte, image.Rectangle) {
	stride := Stride(width)
	x0 := r.Min.X &^ 7
	x1 := (r.Max.X + 7) &^ 7
	if x1 > stride*8 {
		x1 = stride * 8
	}
	aligned := image.Rect(x0, r.Min.Y, x1, r.Max.Y)

	wBytes := (x1 - x0) / 8
	out := make([]byte, 0, wBytes*aligned.Dy())
	for y := aligned.Min.Y; y < aligned.Max.Y; y++ {
		row := y*stride + x0/8
		out = append(out, plane[row:row+wBytes]...)
	}
	return out, aligned
}

// Invert flips every bit of plane in place.
func Invert(plane []byte) {
	for i := range plane {
		plane[i] = ^plane[i]
	}
}
