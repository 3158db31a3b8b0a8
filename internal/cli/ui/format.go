package ui

import (
	"fmt"
	"time"
)

func formatBytesShort(bytes int64) string {
	if bytes == 0 {
		return "0B"
	}
	const k = 1024
	sizes := []string{"B", "K", "M", "G", "T"}
	i := 0
	fBytes := float64(bytes)
	for fBytes >= k && i < len(sizes)-1 {
		fBytes /= k
		i++
	}
	return fmt.Sprintf("%.1f%s", fBytes, sizes[i])
}

func formatUptime(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func stateIcon(state string) string {
	switch state {
	case "RUNNING":
		return "🟢"
	case "STARTING", "RESTARTING":
		return "🟡"
	case "STOPPING":
		return "🟠"
	case "INSTALLING":
		return "🔵"
	case "NOT_INSTALLED":
		return "⚪"
	}
	return "🔴"
}

func isActive(state string) bool {
	switch state {
	case "RUNNING", "STARTING", "STOPPING", "RESTARTING":
		return true
	}
	return false
}
