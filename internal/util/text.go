package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimeAgo formats how long ago t was as a short human-readable string.
func TimeAgo(t time.Time) string {
	delta := time.Since(t)
	switch {
	case delta < time.Minute:
		return "just now"
	case delta < time.Hour:
		mins := int(delta.Minutes())
		return fmt.Sprintf("%d min ago", mins)
	case delta < 24*time.Hour:
		hrs := int(delta.Hours())
		return fmt.Sprintf("%d hr%s ago", hrs, plural(hrs))
	default:
		days := int(delta.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", days, plural(days))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// FlattenLine collapses a multi-line message into a single line so it can be
// injected into an interactive prompt as one input.
func FlattenLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
