package render

import "fmt"

var sizeUnits = [...]string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count with 1024-based units, e.g. "500 B",
// "1.5 KB", "1.0 MB". GB is the largest unit. Every place that shows a size
// (panel, web API, logs) goes through this function.
func FormatSize(b uint64) string {
	if b == 0 {
		return "0 B"
	}
	size := float64(b)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", b, sizeUnits[0])
	}
	return fmt.Sprintf("%.1f %s", size, sizeUnits[unit])
}
