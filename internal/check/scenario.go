package check

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/process"
	"github.com/mattjoyce/qacheck/internal/protocol"
	"github.com/mattjoyce/qacheck/internal/session"
	"github.com/mattjoyce/qacheck/internal/transport"
)

const noCommandMessage = "Cannot determine start command. Provide an explicit command (e.g. qacheck run <dir> -- python -m server)."

// scenario is the body of a check, run against a live connection.
type scenario func(ctx context.Context, conn session.Conn) Result

// runScenario resolves the command, acquires a session, runs body and
// releases the session. Failures concerning the candidate, including panics in
// body, become FAIL results.
func runScenario(ctx context.Context, ec *ExecutionContext, name string, body scenario) (res Result, err error) {
	if ec == nil {
		return Result{}, errors.New("check: nil execution context")
	}
	logger := log.WithCheck(ec.logger(), name)

	command := ec.ResolveCommand()
	if len(command) == 0 {
		logger.Debug("no start command", "target", ec.TargetPath)
		return failf(name, "%s", noCommandMessage), nil
	}

	var conn session.Conn
	defer func() {
		if r := recover(); r != nil {
			logger.Error("check crashed", "panic", r, "command", command, "stack", string(debug.Stack()))
			tail := ""
			if conn != nil {
				tail = conn.StderrTail(process.DefaultTailLines)
			}
			res, err = withTail(failf(name, "Check crashed: %v", r), tail), nil
		}
	}()

	useErr := ec.sessions().Use(ctx, ec.spec(command), func(c session.Conn) error {
		conn = c
		res = body(ctx, c)
		return nil
	})
	if useErr == nil {
		return res, nil
	}

	var launchErr *process.LaunchError
	switch {
	case errors.As(useErr, &launchErr):
		logger.Warn("candidate failed to launch", "command", command, "error", useErr)
		return failf(name, "Failed to start server: %v", launchErr.Err), nil
	case errors.Is(useErr, context.Canceled), errors.Is(useErr, context.DeadlineExceeded):
		return failf(name, "Check aborted: %v", useErr), nil
	default:
		logger.Warn("session error", "error", useErr)
		return failf(name, "Session error: %v", useErr), nil
	}
}

// initialize performs the handshake; ok is false when the returned result must
// be reported as-is. When the dialect asks for it, the initialized
// notification follows a successful handshake.
func initialize(ctx context.Context, conn session.Conn, d protocol.Dialect, name string) (Result, bool) {
	resp, err := conn.Initialize(ctx)
	if err != nil || !resp.HasResult() {
		return handshakeFailure(name, conn, err), false
	}
	if d.InitializedNotification != "" {
		if err := conn.Notify(ctx, d.InitializedNotification, nil); err != nil {
			return withTail(failf(name, "Failed to send %s: %v", d.InitializedNotification, err), tail(conn)), false
		}
	}
	return Result{}, true
}

func handshakeFailure(name string, conn session.Conn, err error) Result {
	msg := "Server did not respond to initialize"
	if err != nil {
		msg += ": " + describeErr(err)
	}
	return withTail(failf(name, "%s", msg), tail(conn))
}

// listCapabilities requests the capability list with the given id.
func listCapabilities(ctx context.Context, conn session.Conn, d protocol.Dialect, name string, id int) ([]protocol.Capability, Result, bool) {
	resp, err := conn.Call(ctx, d.ListMethod, id, nil)
	if err != nil {
		return nil, withTail(failf(name, "%s returned no result: %s", d.ListMethod, describeErr(err)), tail(conn)), false
	}
	if !resp.HasResult() {
		msg := fmt.Sprintf("%s returned no result", d.ListMethod)
		if resp.HasError() {
			msg += ": " + protocol.Compact(resp.Error)
		}
		return nil, withTail(failf(name, "%s", msg), tail(conn)), false
	}
	caps, err := protocol.Capabilities(resp, d.ListKey)
	if err != nil {
		return nil, failf(name, "%s returned %v", d.ListMethod, err), false
	}
	if len(caps) == 0 {
		return nil, failf(name, "No capabilities registered"), false
	}
	return caps, Result{}, true
}

func tail(conn session.Conn) string {
	return conn.StderrTail(process.DefaultTailLines)
}

// describeErr renders transport errors for a report line.
func describeErr(err error) string {
	var timeout *transport.TimeoutError
	var writeErr *transport.WriteError
	switch {
	case errors.As(err, &timeout) && timeout.EOF:
		return "server closed its output"
	case errors.As(err, &timeout):
		return fmt.Sprintf("timed out after %s", timeout.Timeout)
	case errors.As(err, &writeErr):
		return fmt.Sprintf("write failed: %v", writeErr.Err)
	default:
		return err.Error()
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
