package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	xdraw "golang.org/x/image/draw"
)

// iconSize is the edge length of the "has file" glyph drawn in a cell corner.
const iconSize = 40

// loadIcon decodes the PNG at path and scales it onto a white iconSize
// square, flattening any transparency.
func loadIcon(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("render: open icon: %w", err)
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("render: decode icon: %w", err)
	}

	dst := image.NewGray(image.Rect(0, 0, iconSize, iconSize))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst, nil
}
