package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/qacheck/internal/check"
	"github.com/mattjoyce/qacheck/internal/harness"
)

// ErrAborted is returned when the user quits the view before the pass ends.
var ErrAborted = errors.New("aborted by user")

// Run executes a QA pass while rendering its progress to out. Quitting the
// view cancels the pass; Run returns only after the pass has stopped.
func Run(ctx context.Context, opts harness.Options, in io.Reader, out io.Writer) (*harness.Outcome, error) {
	checks, err := check.Select(opts.Checks)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(opts.Target, names),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)

	opts.Observers = append(opts.Observers, func(r check.Result) { p.Send(resultMsg(r)) })

	type passResult struct {
		outcome *harness.Outcome
		err     error
	}
	finished := make(chan passResult, 1)
	go func() {
		outcome, err := harness.Run(ctx, opts)
		p.Send(doneMsg{outcome: outcome, err: err})
		finished <- passResult{outcome, err}
	}()

	final, uiErr := p.Run()
	cancel()
	pass := <-finished

	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return pass.outcome, fmt.Errorf("progress view: %w", uiErr)
	}
	if m, ok := final.(Model); ok && m.Aborted() {
		return pass.outcome, ErrAborted
	}
	return pass.outcome, pass.err
}
