package console

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#A78BFA") // purple
	successColor = lipgloss.Color("#10B981") // green
	warningColor = lipgloss.Color("#F59E0B") // amber
	errorColor   = lipgloss.Color("#F87171") // red
	mutedColor   = lipgloss.Color("#9CA3AF") // gray
	textColor    = lipgloss.Color("#F9FAFB")

	// node prefixes cycle through these
	nodePalette = []lipgloss.Color{
		lipgloss.Color("#60A5FA"),
		lipgloss.Color("#F472B6"),
		lipgloss.Color("#FBBF24"),
		lipgloss.Color("#34D399"),
		lipgloss.Color("#FB923C"),
		lipgloss.Color("#C084FC"),
	}
)

type styles struct {
	banner  lipgloss.Style
	command lipgloss.Style
	muted   lipgloss.Style
	warn    lipgloss.Style
	pass    lipgloss.Style
	fail    lipgloss.Style
	nodes   []lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	s := styles{
		banner:  r.NewStyle().Bold(true).Foreground(primaryColor),
		command: r.NewStyle().Foreground(mutedColor),
		muted:   r.NewStyle().Foreground(mutedColor),
		warn:    r.NewStyle().Foreground(warningColor),
		pass:    r.NewStyle().Bold(true).Foreground(textColor).Background(successColor).Padding(0, 1),
		fail:    r.NewStyle().Bold(true).Foreground(textColor).Background(errorColor).Padding(0, 1),
	}
	for _, c := range nodePalette {
		s.nodes = append(s.nodes, r.NewStyle().Foreground(c))
	}
	return s
}
