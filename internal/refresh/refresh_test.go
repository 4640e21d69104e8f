package refresh

import (
	"errors"
	"image"
	"testing"

	"boxdisplay/internal/epd"
)

func frame() *image.Gray {
	return image.NewGray(image.Rect(0, 0, 800, 480))
}

func TestThresholdPromotesToFull(t *testing.T) {
	const T = 5
	m := epd.NewMock("")
	s := New(m, T)
	img := frame()

	for i := 1; i < T; i++ {
		if r := s.Present(img, false); r.Mode != ModePartial {
			t.Fatalf("present %d: mode %v, want partial", i, r.Mode)
		}
		if s.Count() != i {
			t.Fatalf("present %d: count %d", i, s.Count())
		}
	}
	if r := s.Present(img, false); r.Mode != ModeFull {
		t.Fatalf("present %d: mode %v, want full", T, r.Mode)
	}
	if s.Count() != 0 {
		t.Fatalf("count after full = %d, want 0", s.Count())
	}
	for i := T + 1; i < 2*T; i++ {
		if r := s.Present(img, false); r.Mode != ModePartial {
			t.Fatalf("present %d: mode %v, want partial", i, r.Mode)
		}
	}
	if r := s.Present(img, false); r.Mode != ModeFull {
		t.Fatalf("present %d: mode %v, want full", 2*T, r.Mode)
	}
}

func TestPartialCoversWholeCanvas(t *testing.T) {
	m := epd.NewMock("")
	s := New(m, 10)
	img := frame()
	s.Present(img, false)

	calls := m.Calls()
	if len(calls) != 1 || calls[0].Op != epd.OpPartial {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Rect != img.Bounds() {
		t.Fatalf("partial rect = %v, want %v", calls[0].Rect, img.Bounds())
	}
}

func TestForceFlagIsOneShot(t *testing.T) {
	m := epd.NewMock("")
	s := New(m, 10)
	img := frame()

	s.Present(img, false)
	s.Present(img, false)
	s.ForceFullRefresh()

	if r := s.Present(img, false); r.Mode != ModeFull {
		t.Fatalf("mode after ForceFullRefresh = %v, want full", r.Mode)
	}
	if s.Count() != 0 {
		t.Fatalf("count = %d, want 0", s.Count())
	}
	if r := s.Present(img, false); r.Mode != ModePartial {
		t.Fatalf("second present mode = %v, want partial", r.Mode)
	}
}

func TestForceArgument(t *testing.T) {
	s := New(epd.NewMock(""), 10)
	s.Present(frame(), false)
	if r := s.Present(frame(), true); r.Mode != ModeFull || s.Count() != 0 {
		t.Fatalf("forced present: mode %v count %d", r.Mode, s.Count())
	}
}

func TestPartialUnsupportedFallsBack(t *testing.T) {
	m := epd.NewMock("")
	m.SetPartialSupported(false)
	s := New(m, 10)

	r := s.Present(frame(), false)
	if r.Mode != ModeFull || !r.FellBack || r.Err != nil {
		t.Fatalf("result = %+v", r)
	}
	if s.Count() != 0 {
		t.Fatalf("count after fallback = %d", s.Count())
	}
	calls := m.Calls()
	if len(calls) != 1 || calls[0].Op != epd.OpFull {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestDriverFailureStillAdvances(t *testing.T) {
	m := epd.NewMock("")
	boom := errors.New("spi timeout")
	m.FailWith(epd.OpPartial, boom)
	s := New(m, 3)
	img := frame()

	r := s.Present(img, false)
	if !errors.Is(r.Err, boom) || r.Mode != ModePartial {
		t.Fatalf("result = %+v", r)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1", s.Count())
	}

	m.FailWith(epd.OpFull, boom)
	s.Present(img, false)
	r = s.Present(img, false)
	if r.Mode != ModeFull || !errors.Is(r.Err, boom) {
		t.Fatalf("third present = %+v", r)
	}
	if s.Count() != 0 {
		t.Fatalf("count after failed full = %d, want 0", s.Count())
	}
}

func TestDefaultThreshold(t *testing.T) {
	if got := New(epd.NewMock(""), 0).Threshold(); got != DefaultThreshold {
		t.Fatalf("threshold = %d", got)
	}
}
