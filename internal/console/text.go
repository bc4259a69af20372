package console

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate truncates s to maxWidth visual columns, adding "..." if
// truncated. Escape sequences and wide characters are accounted for.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// splitLines splits data into complete lines and the trailing partial line.
// Carriage returns are dropped.
func splitLines(data string) (lines []string, rest string) {
	data = strings.ReplaceAll(data, "\r", "")
	parts := strings.Split(data, "\n")
	return parts[:len(parts)-1], parts[len(parts)-1]
}
