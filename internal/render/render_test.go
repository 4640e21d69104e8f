package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"boxdisplay/internal/model"
)

func newTestRenderer(t *testing.T, opts Options) *Renderer {
	t.Helper()
	if opts.Width == 0 {
		opts.Width, opts.Height = 800, 480
	}
	if opts.Title == "" {
		opts.Title = "pvfll_001"
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func fullSnapshot() model.Snapshot {
	return model.Snapshot{
		1: model.Empty(),
		2: model.Occupied("test_image.jpg", "Image (JPEG)", 1234567),
		3: model.Occupied("very_long_filename_that_will_be_truncated.pdf", "PDF", 987654),
		4: model.Errored("Connection timeout"),
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[uint64]string{
		0:             "0 B",
		1:             "1 B",
		500:           "500 B",
		1023:          "1023 B",
		1024:          "1.0 KB",
		1536:          "1.5 KB",
		1_048_576:     "1.0 MB",
		1_073_741_824: "1.0 GB",
		// GB is the largest unit.
		5 * 1024 * 1_073_741_824: "5120.0 GB",
	}
	for in, want := range cases {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	name := strings.Repeat("n", 50)
	got := truncate(name, DefaultMaxNameChars)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated name %q lacks ellipsis", got)
	}
	if n := utf8.RuneCountInString(got); n > DefaultMaxNameChars {
		t.Fatalf("truncated name has %d runes, cap %d", n, DefaultMaxNameChars)
	}
	if got := truncate("short.txt", DefaultMaxNameChars); got != "short.txt" {
		t.Fatalf("short name changed to %q", got)
	}
	if got := truncate("héllo wörld ünïcode strings", 10); got != "héllo w..." {
		t.Fatalf("rune-aware truncate = %q", got)
	}
}

func TestFileLinesTruncateLongName(t *testing.T) {
	r := newTestRenderer(t, Options{})
	rec := model.Occupied(strings.Repeat("x", 50)+".pdf", "PDF", 0)

	lines := r.fileLines(rec)
	name := strings.TrimPrefix(lines[0], "File: ")
	if !strings.HasSuffix(name, "...") || utf8.RuneCountInString(name) > DefaultMaxNameChars {
		t.Fatalf("unexpected name line %q", lines[0])
	}
	if lines[2] != "Size: 0 B" {
		t.Fatalf("size line = %q", lines[2])
	}
}

func TestErrorTextTruncated(t *testing.T) {
	msg := strings.Repeat("e", 50)
	got := truncate(model.Errored(msg).Error, maxErrorChars)
	if n := utf8.RuneCountInString(got); n != maxErrorChars {
		t.Fatalf("truncated error has %d runes, want %d", n, maxErrorChars)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated error %q lacks ellipsis", got)
	}

	r := newTestRenderer(t, Options{})
	prefix := strings.Repeat("e", maxErrorChars-len("..."))
	a := r.Render(model.Snapshot{4: model.Errored(prefix + strings.Repeat("a", 23))})
	b := r.Render(model.Snapshot{4: model.Errored(prefix + strings.Repeat("W", 23))})
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("errors differing only past the cap rendered differently")
	}

	c := r.Render(model.Snapshot{4: model.Errored("W" + prefix[1:] + strings.Repeat("a", 23))})
	if bytes.Equal(a.Pix, c.Pix) {
		t.Fatal("errors differing inside the cap rendered identically")
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := newTestRenderer(t, Options{})
	a := r.Render(fullSnapshot())
	b := r.Render(fullSnapshot())

	if a.Bounds() != image.Rect(0, 0, 800, 480) {
		t.Fatalf("bounds = %v", a.Bounds())
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("two renders of the same snapshot differ")
	}
}

func TestRenderMissingSlotIsEmpty(t *testing.T) {
	r := newTestRenderer(t, Options{})

	partial := fullSnapshot()
	delete(partial, 3)
	explicit := fullSnapshot()
	explicit[3] = model.Empty()
	errored := fullSnapshot()
	errored[3] = model.Errored("boom")

	got := r.Render(partial)
	if !bytes.Equal(got.Pix, r.Render(explicit).Pix) {
		t.Fatal("missing slot 3 did not render as Empty")
	}
	if bytes.Equal(got.Pix, r.Render(errored).Pix) {
		t.Fatal("missing slot 3 rendered like an error")
	}
}

func TestRenderEmptySnapshot(t *testing.T) {
	r := newTestRenderer(t, Options{})
	img := r.Render(nil)
	if img == nil || img.Bounds().Empty() {
		t.Fatal("nil snapshot should still render a canvas")
	}
}

func TestRenderDrawsInk(t *testing.T) {
	r := newTestRenderer(t, Options{})
	img := r.Render(fullSnapshot())

	// Every cell gets a border; check a pixel on the top edge of each.
	for i := range model.Slots {
		c := cellRect(i, 800, 480)
		if y := img.GrayAt(c.Min.X+5, c.Min.Y).Y; y != 0 {
			t.Errorf("cell %d border pixel = %d, want black", i, y)
		}
	}
}

func TestCellRectsReadingOrder(t *testing.T) {
	tl, tr, bl, br := cellRect(0, 800, 480), cellRect(1, 800, 480), cellRect(2, 800, 480), cellRect(3, 800, 480)
	if !(tl.Min.X < tr.Min.X && tl.Min.Y == tr.Min.Y) {
		t.Errorf("slot 2 not right of slot 1: %v %v", tl, tr)
	}
	if !(bl.Min.Y > tl.Min.Y && bl.Min.X == tl.Min.X) {
		t.Errorf("slot 3 not below slot 1: %v %v", tl, bl)
	}
	if br.Max.X > 800 || br.Max.Y > 480 {
		t.Errorf("slot 4 outside canvas: %v", br)
	}
	if tl.Dx() != br.Dx() || tl.Dy() != br.Dy() {
		t.Errorf("cells differ in size: %v %v", tl, br)
	}
}

func TestMissingIconDegradesToText(t *testing.T) {
	r := newTestRenderer(t, Options{IconPath: filepath.Join(t.TempDir(), "nope.png")})
	if r.icon != nil {
		t.Fatal("expected no icon")
	}
	plain := newTestRenderer(t, Options{})
	if !bytes.Equal(r.Render(fullSnapshot()).Pix, plain.Render(fullSnapshot()).Pix) {
		t.Fatal("missing icon should render exactly like text-only")
	}
}

func TestIconDrawnForOccupiedCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icon.png")
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = 0
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write icon: %v", err)
	}

	r := newTestRenderer(t, Options{IconPath: path})
	if r.icon == nil {
		t.Fatal("icon not loaded")
	}
	img := r.Render(fullSnapshot())

	// Slot 2 is occupied: icon corner is black. Slot 1 is empty: stays white.
	occ := cellRect(1, 800, 480)
	if got := img.GrayAt(occ.Max.X-cellPadding-iconSize/2, occ.Min.Y+cellPadding+iconSize/2); got != (color.Gray{Y: 0}) {
		t.Errorf("occupied cell icon pixel = %v, want black", got)
	}
	empty := cellRect(0, 800, 480)
	if got := img.GrayAt(empty.Max.X-cellPadding-iconSize/2, empty.Min.Y+cellPadding+iconSize/2); got != (color.Gray{Y: 255}) {
		t.Errorf("empty cell corner pixel = %v, want white", got)
	}
}

func TestRenderMessageCentered(t *testing.T) {
	r := newTestRenderer(t, Options{})
	img := r.RenderMessage("Booting system...")

	var minX, maxX = 800, 0
	for y := 0; y < 480; y++ {
		for x := 0; x < 800; x++ {
			if img.GrayAt(x, y).Y < 128 {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
			}
		}
	}
	if maxX == 0 {
		t.Fatal("message drew no ink")
	}
	left, right := minX, 799-maxX
	if d := left - right; d > 6 || d < -6 {
		t.Fatalf("message not centered: left margin %d, right margin %d", left, right)
	}
}

func TestNewRejectsBadCanvas(t *testing.T) {
	if _, err := New(Options{Width: 0, Height: 480}); err == nil {
		t.Fatal("expected error for zero width")
	}
}
