package render

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("63")  // purple
	colorSuccess = lipgloss.Color("42")  // green
	colorError   = lipgloss.Color("196") // red
	colorWarn    = lipgloss.Color("214") // amber
	colorMuted   = lipgloss.Color("245") // light gray
	colorBorder  = lipgloss.Color("238") // dark gray
)

// styles are bound to one renderer so colour follows the output, not the
// process's stdout.
type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	skip    lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Foreground(colorPrimary).Bold(true),
		section: r.NewStyle().Foreground(colorPrimary).Underline(true),
		ok:      r.NewStyle().Foreground(colorSuccess),
		fail:    r.NewStyle().Foreground(colorError),
		skip:    r.NewStyle().Foreground(colorWarn),
		muted:   r.NewStyle().Foreground(colorMuted),
		box: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
	}
}
