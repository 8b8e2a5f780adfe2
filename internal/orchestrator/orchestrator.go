// Package orchestrator runs a set of checks concurrently and collects their
// results under a stop policy.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mattjoyce/qacheck/internal/check"
	"github.com/mattjoyce/qacheck/internal/log"
)

// DefectError reports a harness bug: a check returned an error or panicked.
// The run is aborted and no results are returned alongside it.
type DefectError struct {
	Check string
	Err   error
	Panic any
	Stack []byte
}

func (e *DefectError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("harness defect in check %q: panic: %v", e.Check, e.Panic)
	}
	return fmt.Sprintf("harness defect in check %q: %v", e.Check, e.Err)
}

func (e *DefectError) Unwrap() error { return e.Err }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers fn to be called, in consumption order, for every
// result the orchestrator keeps. fn runs on the caller's goroutine.
func WithObserver(fn func(check.Result)) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// Orchestrator fans checks out to goroutines and gathers their results.
type Orchestrator struct {
	logger    *slog.Logger
	observers []func(check.Result)
}

// New creates an Orchestrator. A nil logger uses the process default.
func New(logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{logger: log.Or(logger, "orchestrator")}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outcome struct {
	result check.Result
	err    error
}

// Run starts every check at once and returns results in completion order.
//
// After each result the policy is consulted; when it says stop, the remaining
// checks are cancelled and awaited, and the results so far are returned. A
// defect cancels and awaits everything and returns only the *DefectError.
// When ctx ends first, the results so far are returned with ctx's error.
// Run never returns while a check goroutine is still running.
func (o *Orchestrator) Run(ctx context.Context, checks []check.Check, policy StopPolicy, ec *check.ExecutionContext) ([]check.Result, error) {
	if policy == nil {
		policy = RunAll{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan outcome, len(checks))
	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c check.Check) {
			defer wg.Done()
			outcomes <- o.runOne(runCtx, c, ec)
		}(c)
	}

	finish := func() {
		cancel()
		wg.Wait()
	}

	o.logger.Debug("checks started", "count", len(checks), "policy", policy.Name())
	results := make([]check.Result, 0, len(checks))
	cancelled := func() ([]check.Result, error) {
		o.logger.Warn("run cancelled", "completed", len(results), "total", len(checks), "error", ctx.Err())
		finish()
		return results, ctx.Err()
	}

	for range checks {
		// Results of checks that raced a parent cancellation are not kept.
		if ctx.Err() != nil {
			return cancelled()
		}
		select {
		case out := <-outcomes:
			if ctx.Err() != nil {
				return cancelled()
			}
			if out.err != nil {
				o.logger.Error("harness defect, aborting run", "error", out.err)
				finish()
				return nil, out.err
			}
			results = append(results, out.result)
			o.notify(out.result)

			if policy.ShouldStop(out.result.Verdict) {
				o.logger.Info("stop policy triggered", "policy", policy.Name(), "check", out.result.Name, "completed", len(results), "total", len(checks))
				finish()
				return results, nil
			}

		case <-ctx.Done():
			return cancelled()
		}
	}

	wg.Wait()
	return results, nil
}

func (o *Orchestrator) runOne(ctx context.Context, c check.Check, ec *check.ExecutionContext) (out outcome) {
	name := c.Name()
	logger := log.WithCheck(o.logger, name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error("check panicked", "panic", r, "stack", string(stack))
			out = outcome{err: &DefectError{Check: name, Panic: r, Stack: stack}}
		}
	}()

	res, err := c.Run(ctx, ec)
	if err != nil {
		return outcome{err: &DefectError{Check: name, Err: err}}
	}
	logger.Debug("check finished", "status", res.Verdict, "duration", time.Since(start))
	return outcome{result: res}
}

func (o *Orchestrator) notify(res check.Result) {
	for _, fn := range o.observers {
		fn(res)
	}
}
