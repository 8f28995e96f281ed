package throughput

import (
	"fmt"
	"strings"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
	secondsPerDay    = 86400
	secondsPerYear   = 31_536_000
)

// Format renders seconds as "1 day, 2 hours, 0 minutes and 5 seconds",
// starting at the largest non-zero unit.
func Format(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	y, rem := seconds/secondsPerYear, seconds%secondsPerYear
	d, rem := rem/secondsPerDay, rem%secondsPerDay
	h, rem := rem/secondsPerHour, rem%secondsPerHour
	m, s := rem/secondsPerMinute, rem%secondsPerMinute

	values := []int64{y, d, h, m, s}
	names := []string{"year", "day", "hour", "minute", "second"}
	first := len(values) - 1
	for i, v := range values {
		if v != 0 {
			first = i
			break
		}
	}

	parts := make([]string, 0, len(values)-first)
	for i := first; i < len(values); i++ {
		parts = append(parts, unit(values[i], names[i]))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func unit(n int64, name string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", name)
	}
	return fmt.Sprintf("%d %ss", n, name)
}
