package epd

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenMock(t *testing.T) {
	d, err := Open(Options{Name: NameMock, Width: 800, Height: 480})
	if err != nil {
		t.Fatalf("Open(mock): %v", err)
	}
	if d.Name() != NameMock {
		t.Fatalf("Name() = %q, want %q", d.Name(), NameMock)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open(Options{Name: "lcd"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMockRecordsAndFails(t *testing.T) {
	m := NewMock("")
	img := image.NewGray(image.Rect(0, 0, 8, 8))

	if err := m.PartialRefresh(img, img.Bounds()); err != nil {
		t.Fatalf("PartialRefresh: %v", err)
	}
	m.SetPartialSupported(false)
	if err := m.PartialRefresh(img, img.Bounds()); !errors.Is(err, ErrPartialUnsupported) {
		t.Fatalf("expected ErrPartialUnsupported, got %v", err)
	}

	boom := errors.New("spi write failed")
	m.FailWith(OpFull, boom)
	if err := m.FullRefresh(img); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	calls := m.Calls()
	if len(calls) != 2 || calls[0].Op != OpPartial || calls[1].Op != OpFull {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestMockWritesPreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "preview.png")
	m := NewMock(path)
	img := image.NewGray(image.Rect(0, 0, 16, 4))

	if err := m.FullRefresh(img); err != nil {
		t.Fatalf("FullRefresh: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("preview not written: %v", err)
	}
	defer f.Close()
	got, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if got.Bounds() != img.Bounds() {
		t.Fatalf("preview bounds = %v, want %v", got.Bounds(), img.Bounds())
	}
}
