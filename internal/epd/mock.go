package epd

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	appLog "boxdisplay/internal/log"
)

// Op names a driver call recorded by Mock.
type Op string

const (
	OpFull    Op = "full"
	OpPartial Op = "partial"
	OpClear   Op = "clear"
	OpSleep   Op = "sleep"
	OpClose   Op = "close"
)

// Call is one recorded driver invocation.
type Call struct {
	Op   Op
	Rect image.Rectangle
}

// Mock is the no-hardware driver. It logs every call, keeps a call history
// and, when previewPath is set, writes the latest frame as a PNG so the
// rendered output can be inspected on a development machine.
type Mock struct {
	previewPath string

	mu               sync.Mutex
	calls            []Call
	partialSupported bool
	failures         map[Op]error
}

// NewMock returns a mock driver with partial refresh enabled.
func NewMock(previewPath string) *Mock {
	return &Mock{
		previewPath:      previewPath,
		partialSupported: true,
		failures:         map[Op]error{},
	}
}

func (m *Mock) Name() string { return NameMock }

// SetPartialSupported toggles whether PartialRefresh reports
// ErrPartialUnsupported, emulating older panel revisions.
func (m *Mock) SetPartialSupported(ok bool) {
	m.mu.Lock()
	m.partialSupported = ok
	m.mu.Unlock()
}

// FailWith makes every subsequent call of op return err (nil clears it).
func (m *Mock) FailWith(op Op, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.failures, op)
	} else {
		m.failures[op] = err
	}
	m.mu.Unlock()
}

// Calls returns a copy of the recorded call history.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) record(op Op, rect image.Rectangle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: op, Rect: rect})
	return m.failures[op]
}

func (m *Mock) FullRefresh(img *image.Gray) error {
	if err := m.record(OpFull, img.Bounds()); err != nil {
		return err
	}
	appLog.Debug("[mock] full refresh", "bounds", img.Bounds())
	m.writePreview(img)
	return nil
}

func (m *Mock) PartialRefresh(img *image.Gray, rect image.Rectangle) error {
	m.mu.Lock()
	supported := m.partialSupported
	m.mu.Unlock()
	if !supported {
		return ErrPartialUnsupported
	}
	if err := m.record(OpPartial, rect); err != nil {
		return err
	}
	appLog.Debug("[mock] partial refresh", "rect", rect)
	m.writePreview(img)
	return nil
}

func (m *Mock) Clear() error {
	if err := m.record(OpClear, image.Rectangle{}); err != nil {
		return err
	}
	appLog.Info("[mock] display cleared")
	return nil
}

func (m *Mock) Sleep() error {
	if err := m.record(OpSleep, image.Rectangle{}); err != nil {
		return err
	}
	appLog.Info("[mock] display sleeping")
	return nil
}

func (m *Mock) Close() error {
	return m.record(OpClose, image.Rectangle{})
}

// writePreview atomically replaces previewPath with the PNG encoding of img.
// Failures are logged; a preview is a debugging aid only.
func (m *Mock) writePreview(img *image.Gray) {
	if m.previewPath == "" {
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		appLog.Error("[mock] preview encode failed", err)
		return
	}
	if err := writeFileAtomic(m.previewPath, buf.Bytes()); err != nil {
		appLog.Error("[mock] preview write failed", err, "path", m.previewPath)
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".boxdisplay-preview-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
