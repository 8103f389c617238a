package cli

import (
	"fmt"
	"time"
)

// FormatUptime formats seconds as e.g. "3d4h", "2h15m", "4m10s" or "42s".
func FormatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h, m, s := int64(d/time.Hour), int64(d/time.Minute)%60, int64(d/time.Second)%60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatAge formats the time elapsed from t to now.
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return FormatUptime(int64(now.Sub(t).Seconds()))
}
