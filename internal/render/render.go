// Package render turns a slot snapshot into the bitmap shown on the panel.
// Rendering depends only on the snapshot: the same input always yields the
// same pixels, and refresh history plays no part.
package render

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	appLog "boxdisplay/internal/log"
	"boxdisplay/internal/model"
)

// Layout constants, in pixels.
const (
	titleTop      = 20
	gridTop       = 80
	gridReserve   = 120 // vertical space taken by the title band and bottom edge
	margin        = 10
	borderWidth   = 2
	cellPadding   = 10
	numberBand    = 60 // slot number height below the cell padding
	errorLineH    = 25
	fileLineH     = 22
	maxErrorChars = 30
)

// DefaultMaxNameChars caps file names in a cell, ellipsis included.
const DefaultMaxNameChars = 20

// Options configures a Renderer.
type Options struct {
	Width  int
	Height int
	Title  string

	// IconPath is an optional PNG drawn in occupied cells.
	IconPath string
	// FontPath / BoldFontPath are optional TTF/OTF files; the embedded Go
	// fonts are used when empty or unreadable.
	FontPath     string
	BoldFontPath string

	MaxNameChars int
}

// Renderer draws snapshots. It owns the font faces and icon; the mutex only
// protects the faces' glyph caches, it does not make the output depend on
// call order.
type Renderer struct {
	opts Options

	mu    sync.Mutex
	faces *faces
	icon  *image.Gray
}

// New loads fonts and the optional icon. A missing or broken icon is logged
// once and rendering continues text-only.
func New(opts Options) (*Renderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("render: invalid canvas %dx%d", opts.Width, opts.Height)
	}
	if opts.MaxNameChars <= 0 {
		opts.MaxNameChars = DefaultMaxNameChars
	}

	fs, err := loadFaces(opts.FontPath, opts.BoldFontPath)
	if err != nil {
		return nil, err
	}
	r := &Renderer{opts: opts, faces: fs}

	if opts.IconPath != "" {
		icon, err := loadIcon(opts.IconPath)
		if err != nil {
			appLog.ErrorOnce("icon:"+opts.IconPath, "icon unavailable, rendering text only", err, "path", opts.IconPath)
		} else {
			r.icon = icon
		}
	}
	return r, nil
}

// Bounds is the canvas rectangle.
func (r *Renderer) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.opts.Width, r.opts.Height)
}

func (r *Renderer) blank() *image.Gray {
	img := image.NewGray(r.Bounds())
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

// Render draws the title and the 2x2 grid of slots 1..4.
func (r *Renderer) Render(snap model.Snapshot) *image.Gray {
	r.mu.Lock()
	defer r.mu.Unlock()

	img := r.blank()

	tw, _ := measure(r.faces.title, r.opts.Title)
	drawText(img, r.faces.title, r.opts.Title, (r.opts.Width-tw)/2, titleTop)

	for i, id := range model.Slots {
		r.drawCell(img, cellRect(i, r.opts.Width, r.opts.Height), id, snap.Get(id))
	}
	return img
}

// RenderMessage draws a single centered line, used for boot progress.
func (r *Renderer) RenderMessage(text string) *image.Gray {
	r.mu.Lock()
	defer r.mu.Unlock()

	img := r.blank()
	w, h := measure(r.faces.message, text)
	drawText(img, r.faces.message, text, (r.opts.Width-w)/2, (r.opts.Height-h)/2)
	return img
}

// cellRect returns the bounds of grid cell i (0..3, reading order).
func cellRect(i, width, height int) image.Rectangle {
	w := (width - 3*margin) / 2
	h := (height - gridReserve - 3*margin) / 2
	col, row := i%2, i/2
	x := margin + col*(w+margin)
	y := gridTop + row*(h+margin)
	return image.Rect(x, y, x+w, y+h)
}

func (r *Renderer) drawCell(img *image.Gray, cell image.Rectangle, id model.SlotID, rec model.Record) {
	strokeRect(img, cell, borderWidth)
	drawText(img, r.faces.number, id.String(), cell.Min.X+cellPadding, cell.Min.Y+cellPadding)

	// Content area below the slot number.
	top := cell.Min.Y + cellPadding + numberBand
	height := cell.Dy() - (cellPadding + numberBand + cellPadding)
	cx := cell.Min.X + cell.Dx()/2

	switch rec.Kind() {
	case model.KindErrored:
		start := top + (height-2*errorLineH)/2
		drawTextCentered(img, r.faces.text, "ERROR", cx, start)
		drawTextCentered(img, r.faces.text, truncate(rec.Error, maxErrorChars), cx, start+errorLineH)

	case model.KindEmpty:
		_, h := measure(r.faces.text, "Empty")
		drawTextCentered(img, r.faces.text, "Empty", cx, top+(height-h)/2)

	default:
		lines := r.fileLines(rec)
		start := top + (height-fileLineH*len(lines))/2
		for i, line := range lines {
			drawTextCentered(img, r.faces.text, line, cx, start+i*fileLineH)
		}
		if r.icon != nil {
			at := image.Pt(cell.Max.X-cellPadding-iconSize, cell.Min.Y+cellPadding)
			draw.Draw(img, image.Rectangle{Min: at, Max: at.Add(r.icon.Bounds().Size())}, r.icon, image.Point{}, draw.Src)
		}
	}
}

func (r *Renderer) fileLines(rec model.Record) []string {
	name := rec.Name
	if name == "" {
		name = "Unknown"
	}
	label := rec.TypeLabel
	if label == "" {
		label = "Unknown"
	}
	return []string{
		"File: " + truncate(name, r.opts.MaxNameChars),
		"Type: " + label,
		"Size: " + FormatSize(rec.SizeBytes),
	}
}
