//go:build linux

package epd

import "testing"

func TestSPIClock(t *testing.T) {
	if got := spiMaxHz.String(); got != "4MHz" {
		t.Fatalf("spi clock = %s, want 4MHz", got)
	}
}
