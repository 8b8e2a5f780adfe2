// Package check defines the check contract and the standard conformance checks
// run against a candidate server.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/qacheck/internal/detect"
	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/protocol"
	"github.com/mattjoyce/qacheck/internal/session"
)

// Verdict is the outcome class of a check.
type Verdict string

const (
	Pass Verdict = "PASS"
	Warn Verdict = "WARN"
	Fail Verdict = "FAIL"
)

// IsFail reports whether v is Fail.
func (v Verdict) IsFail() bool { return v == Fail }

func (v Verdict) String() string { return string(v) }

// Result is the immutable outcome of one check.
type Result struct {
	Name    string  `json:"name"`
	Verdict Verdict `json:"status"`
	Message string  `json:"message"`
}

// IsFail reports whether the result is a failure.
func (r Result) IsFail() bool { return r.Verdict.IsFail() }

// Check is one independent conformance test. Run returns a Result for every
// outcome concerning the candidate; a non-nil error means the harness itself is
// broken and the whole run must stop.
type Check interface {
	Name() string
	Run(ctx context.Context, ec *ExecutionContext) (Result, error)
}

// ErrCommandUndetected is reported when no start command was supplied and none
// could be resolved from the target project.
var ErrCommandUndetected = errors.New("cannot determine start command")

// Resolver maps a project directory to a start command; nil or empty means none.
type Resolver func(targetPath string) []string

// ExecutionContext is the read-only configuration shared by all checks of a run.
type ExecutionContext struct {
	TargetPath string
	Command    []string
	Timeout    time.Duration
	Env        []string
	Dialect    protocol.Dialect

	// Sessions overrides how sessions are acquired. Nil spawns real subprocesses.
	Sessions session.Factory
	// Resolve overrides start-command detection. Nil uses detect.Resolve.
	Resolve Resolver

	Logger *slog.Logger
}

func (ec *ExecutionContext) logger() *slog.Logger {
	return log.Or(ec.Logger, "check")
}

func (ec *ExecutionContext) dialect() protocol.Dialect {
	if ec.Dialect.IsZero() {
		return protocol.DefaultDialect()
	}
	return ec.Dialect
}

func (ec *ExecutionContext) sessions() session.Factory {
	if ec.Sessions != nil {
		return ec.Sessions
	}
	return session.NewProcessFactory(ec.Logger)
}

// ResolveCommand returns the explicit command, or the resolved one, or nil.
func (ec *ExecutionContext) ResolveCommand() []string {
	if len(ec.Command) > 0 {
		return ec.Command
	}
	resolve := ec.Resolve
	if resolve == nil {
		resolve = detect.Resolve
	}
	return resolve(ec.TargetPath)
}

func (ec *ExecutionContext) spec(command []string) session.Spec {
	return session.Spec{
		Command: command,
		Dir:     ec.TargetPath,
		Env:     ec.Env,
		Timeout: ec.Timeout,
	}
}

func passf(name, format string, args ...any) Result {
	return Result{Name: name, Verdict: Pass, Message: fmt.Sprintf(format, args...)}
}

func warnf(name, format string, args ...any) Result {
	return Result{Name: name, Verdict: Warn, Message: fmt.Sprintf(format, args...)}
}

func failf(name, format string, args ...any) Result {
	return Result{Name: name, Verdict: Fail, Message: fmt.Sprintf(format, args...)}
}

const stderrTailHeader = "\n--- stderr tail ---\n"

// withTail appends the candidate's stderr tail to a failure message.
func withTail(r Result, tail string) Result {
	if tail != "" {
		r.Message += stderrTailHeader + tail
	}
	return r
}
