//go:build !linux

package epd

import "fmt"

// OpenSPI is only available on linux, where periph.io can reach spidev and
// the GPIO character device.
func OpenSPI(width, height int) (Driver, error) {
	return nil, fmt.Errorf("epd: spi driver is only available on linux")
}
