package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/qacheck/internal/check"
)

// Theme centralizes the colors of the styled report and the progress view.
type Theme struct {
	Pass    lipgloss.Style
	Warn    lipgloss.Style
	Fail    lipgloss.Style
	Pending lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Pass:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF00")),
		Warn:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFF00")),
		Fail:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Verdict returns the style for v.
func (t Theme) Verdict(v check.Verdict) lipgloss.Style {
	switch v {
	case check.Pass:
		return t.Pass
	case check.Warn:
		return t.Warn
	case check.Fail:
		return t.Fail
	default:
		return t.Pending
	}
}

// Styled renders doc as a bordered terminal report.
func Styled(doc *Document, theme Theme) string {
	var b strings.Builder

	title := "qacheck report"
	if doc.Target != "" {
		title += " · " + doc.Target
	}
	b.WriteString(theme.Title.Render(title))
	b.WriteString("\n")
	if len(doc.Command) > 0 {
		b.WriteString(theme.Dim.Render("command: " + strings.Join(doc.Command, " ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, r := range doc.Results {
		badge := theme.Verdict(r.Verdict).Render(fmt.Sprintf("%-4s", r.Verdict))
		b.WriteString(badge + " " + r.Name + "\n")
		for _, line := range strings.Split(r.Message, "\n") {
			b.WriteString(theme.Dim.Render("   ↳ "+line) + "\n")
		}
	}

	s := doc.Summary
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		theme.Pass.Render(fmt.Sprintf("%d passed", s.Passed)), "  ",
		theme.Warn.Render(fmt.Sprintf("%d warnings", s.Warnings)), "  ",
		theme.Fail.Render(fmt.Sprintf("%d failed", s.Failed)),
	))
	if doc.RunID != "" {
		b.WriteString("\n")
		b.WriteString(theme.Dim.Render("run " + doc.RunID))
	}

	return theme.Border.Render(b.String())
}
