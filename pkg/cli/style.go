package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Good    lipgloss.Color
	Bad     lipgloss.Color
}

var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Good:    lipgloss.Color("#3fb950"),
	Bad:     lipgloss.Color("#f85149"),
}

// Styles holds the styles derived from a Theme.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Good  lipgloss.Style
	Bad   lipgloss.Style
	Box   lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Value: lipgloss.NewStyle(),
		Good:  lipgloss.NewStyle().Foreground(t.Good),
		Bad:   lipgloss.NewStyle().Foreground(t.Bad),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Primary).
			Padding(0, 1),
	}
}

var DefaultStyles = NewStyles(DefaultTheme)

// Field is one label/value line of a Card.
type Field struct {
	Label string
	Value string
}

// Card is a bordered box with a title, a status badge and fields.
type Card struct {
	Styles Styles
	Title  string
	// Healthy selects the badge color.
	Healthy bool
	Status  string
	Fields  []Field
}

// Render renders the card.
func (c Card) Render() string {
	st := c.Styles
	badge := st.Bad.Render("● " + c.Status)
	if c.Healthy {
		badge = st.Good.Render("● " + c.Status)
	}

	labelWidth := 0
	for _, f := range c.Fields {
		labelWidth = max(labelWidth, lipgloss.Width(f.Label))
	}

	lines := []string{st.Title.Render(c.Title) + "  " + badge, ""}
	for _, f := range c.Fields {
		pad := strings.Repeat(" ", labelWidth-lipgloss.Width(f.Label))
		lines = append(lines, st.Label.Render(f.Label)+pad+"  "+st.Value.Render(f.Value))
	}
	return st.Box.Render(strings.Join(lines, "\n"))
}
