package orchestrator

import "github.com/mattjoyce/qacheck/internal/check"

// StopPolicy decides, after each consumed result, whether to stop the run.
type StopPolicy interface {
	Name() string
	ShouldStop(v check.Verdict) bool
}

// FailFast stops at the first failure.
type FailFast struct{}

func (FailFast) Name() string                     { return "fail-fast" }
func (FailFast) ShouldStop(v check.Verdict) bool { return v.IsFail() }

// RunAll never stops early.
type RunAll struct{}

func (RunAll) Name() string                   { return "run-all" }
func (RunAll) ShouldStop(check.Verdict) bool { return false }

// PolicyFor maps the fail-fast switch to a policy.
func PolicyFor(failFast bool) StopPolicy {
	if failFast {
		return FailFast{}
	}
	return RunAll{}
}
