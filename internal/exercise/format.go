package exercise

import (
	"fmt"
	"time"
)

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

// FormatRepTime renders an average rep time with one decimal, e.g. "1.5s"
func FormatRepTime(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatAcceleration renders a magnitude with two decimals, e.g. "5.00 m/s²"
func FormatAcceleration(v float64) string {
	return fmt.Sprintf("%.2f m/s²", v)
}
