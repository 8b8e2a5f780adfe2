// Package harness wires configuration, checks, the stop policy and the
// orchestrator into a single QA pass.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mattjoyce/qacheck/internal/check"
	"github.com/mattjoyce/qacheck/internal/config"
	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/orchestrator"
	"github.com/mattjoyce/qacheck/internal/protocol"
	"github.com/mattjoyce/qacheck/internal/report"
	"github.com/mattjoyce/qacheck/internal/session"
)

// Options describes one QA pass.
type Options struct {
	Target   string
	Command  []string
	Timeout  time.Duration
	FailFast bool
	Dialect  string
	// Checks selects check ids; empty runs the standard set.
	Checks []string
	// Env holds extra KEY=VALUE entries for the candidate.
	Env []string

	// Sessions and Resolve override session acquisition and command detection.
	Sessions session.Factory
	Resolve  check.Resolver

	// Observers receive each result as the orchestrator consumes it.
	Observers []func(check.Result)
	Logger    *slog.Logger
}

// FromConfig maps a loaded configuration onto Options for target.
func FromConfig(cfg *config.Config, target string) Options {
	return Options{
		Target:   target,
		Command:  cfg.Command,
		Timeout:  cfg.Timeout,
		FailFast: cfg.FailFast,
		Dialect:  cfg.Dialect,
		Checks:   cfg.Checks,
		Env:      cfg.EnvList(),
	}
}

// Outcome is the result of a completed or interrupted pass.
type Outcome struct {
	Document *report.Document
}

// Results returns the collected results in completion order.
func (o *Outcome) Results() []check.Result { return o.Document.Results }

// Failed reports whether any check failed.
func (o *Outcome) Failed() bool { return o.Document.Summary.Failed > 0 }

// Run executes the selected checks against the target.
//
// A harness defect returns a nil Outcome and the *orchestrator.DefectError.
// Cancellation of ctx returns the partial Outcome together with ctx's error.
func Run(ctx context.Context, opts Options) (*Outcome, error) {
	target := opts.Target
	if target == "" {
		target = "."
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolve target %q: %w", target, err)
	}

	dialect, err := protocol.DialectByName(opts.Dialect)
	if err != nil {
		return nil, err
	}
	checks, err := check.Select(opts.Checks)
	if err != nil {
		return nil, err
	}
	policy := orchestrator.PolicyFor(opts.FailFast)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.Defaults().Timeout
	}

	doc := report.NewDocument(nil)
	logger := log.WithRun(log.Or(opts.Logger, "harness"), doc.RunID)

	ec := &check.ExecutionContext{
		TargetPath: abs,
		Command:    opts.Command,
		Timeout:    timeout,
		Env:        opts.Env,
		Dialect:    dialect,
		Sessions:   opts.Sessions,
		Resolve:    opts.Resolve,
		Logger:     logger,
	}

	doc.Target = abs
	doc.Command = ec.ResolveCommand()
	doc.Dialect = dialect.Name
	doc.Policy = policy.Name()

	logger.Info("qa pass starting", "target", abs, "command", doc.Command, "checks", len(checks), "policy", policy.Name(), "dialect", dialect.Name)

	orchOpts := make([]orchestrator.Option, 0, len(opts.Observers))
	for _, fn := range opts.Observers {
		orchOpts = append(orchOpts, orchestrator.WithObserver(fn))
	}

	start := time.Now()
	results, runErr := orchestrator.New(logger, orchOpts...).Run(ctx, checks, policy, ec)
	if results == nil && runErr != nil {
		return nil, runErr
	}

	doc.Duration = time.Since(start).Round(time.Millisecond).String()
	doc.Results = results
	doc.Summary = report.Summarize(results)
	doc.Digest = report.Digest(results)

	logger.Info("qa pass finished", "passed", doc.Summary.Passed, "warnings", doc.Summary.Warnings, "failed", doc.Summary.Failed, "duration", doc.Duration)
	return &Outcome{Document: doc}, runErr
}
