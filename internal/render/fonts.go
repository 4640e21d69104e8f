package render

import (
	"fmt"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	appLog "boxdisplay/internal/log"
)

// Point sizes of the faces used on the panel.
const (
	titleSize   = 32
	numberSize  = 48
	textSize    = 18
	messageSize = 28
)

// faces bundles every face the layout needs. font.Face values keep glyph
// caches and are not safe for concurrent use; Renderer guards them.
type faces struct {
	title   font.Face
	number  font.Face
	text    font.Face
	message font.Face
}

// loadFont parses the TrueType/OpenType file at path. An empty path, or a
// file that cannot be read or parsed, yields the embedded fallback font.
func loadFont(path string, fallback []byte) (*opentype.Font, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			f, perr := opentype.Parse(data)
			if perr == nil {
				return f, nil
			}
			err = perr
		}
		appLog.ErrorOnce("font:"+path, "font load failed, using built-in font", err, "path", path)
	}
	f, err := opentype.Parse(fallback)
	if err != nil {
		return nil, fmt.Errorf("render: parse built-in font: %w", err)
	}
	return f, nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("render: new face (%.0fpt): %w", size, err)
	}
	return face, nil
}

func loadFaces(regularPath, boldPath string) (*faces, error) {
	regular, err := loadFont(regularPath, goregular.TTF)
	if err != nil {
		return nil, err
	}
	bold, err := loadFont(boldPath, gobold.TTF)
	if err != nil {
		return nil, err
	}

	var fs faces
	specs := []struct {
		dst  *font.Face
		font *opentype.Font
		size float64
	}{
		{&fs.title, bold, titleSize},
		{&fs.number, bold, numberSize},
		{&fs.text, regular, textSize},
		{&fs.message, bold, messageSize},
	}
	for _, s := range specs {
		face, err := newFace(s.font, s.size)
		if err != nil {
			return nil, err
		}
		*s.dst = face
	}
	return &fs, nil
}
