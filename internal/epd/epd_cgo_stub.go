//go:build !(linux && arm && cgo)

package epd

import "fmt"

// OpenCgo needs linux/arm with cgo enabled; elsewhere it always fails so
// the package still builds on every platform.
func OpenCgo(width, height int) (Driver, error) {
	return nil, fmt.Errorf("epd(cgo): C driver is only available on linux/arm with cgo enabled")
}
