package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(&bytes.Buffer{})
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelWarn)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "slot", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] shown warn slot=2") {
		t.Fatalf("missing warn line, got %q", out)
	}
}

func TestErrorFormatsKeyValues(t *testing.T) {
	buf := captureOutput(t)

	Error("present failed", errors.New("spi timeout"), "mode", "partial")

	out := buf.String()
	if !strings.Contains(out, `[ERROR] present failed err="spi timeout" mode=partial`) {
		t.Fatalf("unexpected line %q", out)
	}
}

func TestErrorOnce(t *testing.T) {
	buf := captureOutput(t)

	for i := 0; i < 3; i++ {
		ErrorOnce("test-icon-once", "icon load failed", errors.New("missing"))
	}

	if n := strings.Count(buf.String(), "icon load failed"); n != 1 {
		t.Fatalf("expected exactly one line, got %d", n)
	}
}
