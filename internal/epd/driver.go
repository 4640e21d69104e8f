// Package epd drives the 7.5" V2 monochrome e-paper panel (800x480).
//
// The rest of the application only talks to the Driver interface. Concrete
// drivers are:
//
//   - spi:  pure Go, periph.io SPI/GPIO (linux only)
//   - cgo:  Waveshare C library wrapper (linux/arm with cgo)
//   - mock: no hardware; records calls and optionally writes a PNG preview
//
// Open picks one once at startup.
package epd

import (
	"errors"
	"fmt"
	"image"

	appLog "boxdisplay/internal/log"
)

// ErrPartialUnsupported is returned by PartialRefresh when the driver (or
// panel revision) has no partial update mode. Callers fall back to a full
// refresh.
var ErrPartialUnsupported = errors.New("epd: partial refresh not supported")

// Driver is the hardware boundary. Every call may fail; callers log the
// error and keep running. Implementations are not safe for concurrent use:
// the display session serializes all calls.
type Driver interface {
	// Name identifies the implementation in logs and the web API.
	Name() string
	// FullRefresh redraws the entire panel (visible flash, clears ghosting).
	FullRefresh(img *image.Gray) error
	// PartialRefresh updates rect without a flash. The whole canvas is
	// passed; rect selects the hardware window.
	PartialRefresh(img *image.Gray, rect image.Rectangle) error
	// Clear blanks the panel to white.
	Clear() error
	// Sleep puts the panel into deep sleep. A later refresh re-initializes it.
	Sleep() error
	// Close releases the bus and pins.
	Close() error
}

// Driver names accepted by Open.
const (
	NameAuto = "auto"
	NameSPI  = "spi"
	NameCgo  = "cgo"
	NameMock = "mock"
)

// Options configures Open.
type Options struct {
	// Name selects the driver: auto, spi, cgo or mock.
	Name string
	// Width/Height of the canvas handed to the driver.
	Width  int
	Height int
	// PreviewPath, if set, makes the mock driver write each frame as PNG.
	PreviewPath string
}

// Open returns the driver selected by opts.Name. "auto" tries the SPI driver
// first and falls back to the mock when no hardware is reachable, so a
// development machine runs the full pipeline without a panel attached.
func Open(opts Options) (Driver, error) {
	switch opts.Name {
	case NameSPI:
		return OpenSPI(opts.Width, opts.Height)
	case NameCgo:
		return OpenCgo(opts.Width, opts.Height)
	case NameMock:
		return NewMock(opts.PreviewPath), nil
	case NameAuto, "":
		d, err := OpenSPI(opts.Width, opts.Height)
		if err == nil {
			return d, nil
		}
		appLog.Warn("epd: no panel available, using mock driver", "reason", err.Error())
		return NewMock(opts.PreviewPath), nil
	default:
		return nil, fmt.Errorf("epd: unknown driver %q", opts.Name)
	}
}
