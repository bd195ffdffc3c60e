package output

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Styles holds the lipgloss styles used by text output.
type Styles struct {
	Header1   lipgloss.Style
	Header2   lipgloss.Style
	Muted     lipgloss.Style
	ModelPath lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
}

// NewStyles builds the styles on top of a lipgloss renderer so colour
// support follows the output writer.
func NewStyles(lr *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1:   lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1),
		Header2:   lr.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Muted:     lr.NewStyle().Foreground(lipgloss.Color("8")),
		ModelPath: lr.NewStyle().Foreground(lipgloss.Color("13")),
		Success:   lr.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:   lr.NewStyle().Foreground(lipgloss.Color("11")),
		Error:     lr.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Info:      lr.NewStyle().Foreground(lipgloss.Color("12")),
	}
}

// Severity returns the style for a diagnostic severity.
func (s *Styles) Severity(sev core.Severity) lipgloss.Style {
	switch sev {
	case core.SeverityError:
		return s.Error
	case core.SeverityWarning:
		return s.Warning
	case core.SeverityInfo:
		return s.Info
	default:
		return s.Muted
	}
}
