// Package tui renders a live progress view of a QA pass.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/qacheck/internal/check"
	"github.com/mattjoyce/qacheck/internal/harness"
	"github.com/mattjoyce/qacheck/internal/report"
)

const messageWidth = 60

type resultMsg check.Result

type doneMsg struct {
	outcome *harness.Outcome
	err     error
}

// Model is the BubbleTea model of the progress view.
type Model struct {
	target string
	names  []string

	results map[string]check.Result
	order   []string

	spinner spinner.Model
	table   table.Model
	theme   report.Theme

	started time.Time
	elapsed time.Duration
	done    bool
	aborted bool
	err     error
	summary report.Summary
	width   int
}

// New creates a progress model for the named checks.
func New(target string, names []string) Model {
	theme := report.NewDefaultTheme()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 4},
			{Title: "Check", Width: 46},
			{Title: "Detail", Width: messageWidth},
		}),
		table.WithHeight(len(names)+1),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Cell
	t.SetStyles(s)

	m := Model{
		target:  target,
		names:   names,
		results: make(map[string]check.Result, len(names)),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Header)),
		table:   t,
		theme:   theme,
		started: time.Now(),
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetWidth(msg.Width - 4)

	case resultMsg:
		r := check.Result(msg)
		if _, seen := m.results[r.Name]; !seen {
			m.order = append(m.order, r.Name)
		}
		m.results[r.Name] = r
		m.refresh()
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		m.elapsed = time.Since(m.started)
		if msg.outcome != nil {
			m.summary = msg.outcome.Document.Summary
		}
		m.refresh()
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.elapsed = time.Since(m.started)
		m.refresh()
		return m, cmd
	}

	return m, nil
}

// refresh rebuilds the table rows: finished checks in completion order, then
// pending ones in registry order.
func (m *Model) refresh() {
	rows := make([]table.Row, 0, len(m.names))
	for _, name := range m.order {
		r := m.results[name]
		rows = append(rows, table.Row{string(r.Verdict), name, firstLine(r.Message, messageWidth)})
	}
	for _, name := range m.names {
		if _, ok := m.results[name]; ok {
			continue
		}
		status := "…"
		if !m.done {
			status = m.spinner.View()
		}
		rows = append(rows, table.Row{status, name, ""})
	}
	m.table.SetRows(rows)
}

func (m Model) View() string {
	title := m.theme.Title.Render("qacheck")
	if m.target != "" {
		title += m.theme.Dim.Render("  " + m.target)
	}

	var footer string
	switch {
	case m.aborted:
		footer = m.theme.Fail.Render("aborted")
	case m.done && m.err != nil:
		footer = m.theme.Fail.Render("error: " + m.err.Error())
	case m.done:
		footer = fmt.Sprintf("%s  %s  %s  %s",
			m.theme.Pass.Render(fmt.Sprintf("%d passed", m.summary.Passed)),
			m.theme.Warn.Render(fmt.Sprintf("%d warnings", m.summary.Warnings)),
			m.theme.Fail.Render(fmt.Sprintf("%d failed", m.summary.Failed)),
			m.theme.Dim.Render(m.elapsed.Round(time.Millisecond).String()),
		)
	default:
		footer = fmt.Sprintf("%s %d/%d checks finished  %s",
			m.spinner.View(), len(m.order), len(m.names),
			m.theme.Dim.Render(m.elapsed.Round(100*time.Millisecond).String()))
	}

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Abort")

	parts := []string{title, m.theme.Border.Render(m.table.View()), footer}
	if !m.done {
		parts = append(parts, help)
	}
	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Finished returns the results shown, in completion order.
func (m Model) Finished() []check.Result {
	out := make([]check.Result, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.results[name])
	}
	return out
}

// Aborted reports whether the user quit before the pass finished.
func (m Model) Aborted() bool { return m.aborted }

func firstLine(s string, width int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s
}
