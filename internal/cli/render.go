package cli

import (
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const (
	ThemeDark  = "dark"
	ThemeLight = "light"

	wrapWidth = 80
)

type palette struct {
	question lipgloss.Style
	answer   lipgloss.Style
	info     lipgloss.Style
	warn     lipgloss.Style
}

func paletteFor(theme string) palette {
	if theme == ThemeLight {
		return palette{
			question: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("25")),
			answer:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("28")),
			info:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			warn:     lipgloss.NewStyle().Foreground(lipgloss.Color("166")),
		}
	}
	return palette{
		question: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		answer:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		info:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		warn:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// markdown renders answers. A nil renderer prints content unchanged.
type markdown struct {
	r *glamour.TermRenderer
}

func newMarkdown(theme string, enabled bool) markdown {
	if !enabled {
		return markdown{}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(theme),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown{}
	}
	return markdown{r: r}
}

func (m markdown) render(content string) string {
	if m.r == nil {
		return content + "\n"
	}
	out, err := m.r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

// StdoutIsTerminal reports whether rich output should be used.
func StdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
