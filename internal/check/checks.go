package check

import (
	"context"
	"strings"

	"github.com/mattjoyce/qacheck/internal/protocol"
	"github.com/mattjoyce/qacheck/internal/session"
)

// Request ids used by the list-based checks. Each check owns its session, so
// ids only need to be unique within one check.
const (
	registeredListID   = 2
	descriptionsListID = 10
	invocationListID   = 20
	invocationCallID   = 30
)

const (
	noiseExcerptRunes    = 80
	minDescriptionLength = 10
	pingCapability       = "ping"
)

// StartupCheck verifies that the server starts and answers the handshake.
type StartupCheck struct{}

func (StartupCheck) Name() string { return "Server starts and responds over stdio" }

func (c StartupCheck) Run(ctx context.Context, ec *ExecutionContext) (Result, error) {
	name := c.Name()
	return runScenario(ctx, ec, name, func(ctx context.Context, conn session.Conn) Result {
		resp, err := conn.Initialize(ctx)
		if err != nil || !resp.HasResult() {
			msg := "No valid initialize response received from server"
			if err != nil {
				msg += ": " + describeErr(err)
			}
			return withTail(failf(name, "%s", msg), tail(conn))
		}
		return passf(name, "Server responded to initialize")
	})
}

// TransportIntegrityCheck verifies that nothing but protocol messages is
// written to stdout before the handshake response.
type TransportIntegrityCheck struct{}

func (TransportIntegrityCheck) Name() string { return "STDIO integrity (no noise before initialize)" }

func (c TransportIntegrityCheck) Run(ctx context.Context, ec *ExecutionContext) (Result, error) {
	name := c.Name()
	return runScenario(ctx, ec, name, func(ctx context.Context, conn session.Conn) Result {
		resp, noise, err := conn.InitializeCollectingNoise(ctx)
		if err != nil || !resp.HasResult() {
			return handshakeFailure(name, conn, err)
		}
		if len(noise) > 0 {
			return failf(name, "Unexpected STDIO output before initialize: %s", truncateRunes(noise[0], noiseExcerptRunes))
		}
		return passf(name, "STDIO clean before initialize")
	})
}

// CapabilitiesRegisteredCheck verifies that capabilities are discoverable and
// each carries a name and an input schema.
type CapabilitiesRegisteredCheck struct{}

func (CapabilitiesRegisteredCheck) Name() string { return "Capabilities are registered and discoverable" }

func (c CapabilitiesRegisteredCheck) Run(ctx context.Context, ec *ExecutionContext) (Result, error) {
	name := c.Name()
	d := ec.dialectOrDefault()
	return runScenario(ctx, ec, name, func(ctx context.Context, conn session.Conn) Result {
		if res, ok := initialize(ctx, conn, d, name); !ok {
			return res
		}
		caps, res, ok := listCapabilities(ctx, conn, d, name, registeredListID)
		if !ok {
			return res
		}
		for _, capability := range caps {
			if _, hasName := capability.Name(); !hasName || !capability.HasInputSchema() {
				return failf(name, "Invalid capability schema: %s", protocol.Compact(map[string]any(capability)))
			}
		}
		return passf(name, "%d capabilities registered correctly", len(caps))
	})
}

// CapabilityDescriptionQualityCheck warns about capabilities whose descriptions
// are missing or too short to be useful. Quality never fails a run.
type CapabilityDescriptionQualityCheck struct{}

func (CapabilityDescriptionQualityCheck) Name() string { return "Capability description quality" }

func (c CapabilityDescriptionQualityCheck) Run(ctx context.Context, ec *ExecutionContext) (Result, error) {
	name := c.Name()
	d := ec.dialectOrDefault()
	return runScenario(ctx, ec, name, func(ctx context.Context, conn session.Conn) Result {
		if res, ok := initialize(ctx, conn, d, name); !ok {
			return res
		}
		caps, res, ok := listCapabilities(ctx, conn, d, name, descriptionsListID)
		if !ok {
			return res
		}

		var poor []string
		for _, capability := range caps {
			if len([]rune(capability.Description())) < minDescriptionLength {
				poor = append(poor, capability.DisplayName())
			}
		}
		if len(poor) > 0 {
			return warnf(name, "Capabilities missing description: %s", strings.Join(poor, ", "))
		}
		return passf(name, "All capabilities have descriptions")
	})
}

// CapabilityInvocationCheck invokes the ping capability end to end when the
// server offers one.
type CapabilityInvocationCheck struct{}

func (CapabilityInvocationCheck) Name() string { return "Capability invocation works" }

func (c CapabilityInvocationCheck) Run(ctx context.Context, ec *ExecutionContext) (Result, error) {
	name := c.Name()
	d := ec.dialectOrDefault()
	return runScenario(ctx, ec, name, func(ctx context.Context, conn session.Conn) Result {
		if res, ok := initialize(ctx, conn, d, name); !ok {
			return res
		}
		caps, res, ok := listCapabilities(ctx, conn, d, name, invocationListID)
		if !ok {
			return res
		}
		if _, found := protocol.FindCapability(caps, pingCapability); !found {
			return warnf(name, "No %s capability; skipping invocation test", pingCapability)
		}

		params := protocol.InvokeParams{Name: pingCapability, Arguments: map[string]any{}}
		resp, err := conn.Call(ctx, d.InvokeMethod, invocationCallID, params)
		if err != nil {
			return withTail(failf(name, "%s returned no response: %s", d.InvokeMethod, describeErr(err)), tail(conn))
		}
		if resp.HasError() {
			return failf(name, "%s error: %s", d.InvokeMethod, protocol.Compact(resp.Error))
		}
		if err := protocol.ValidateInvokeResult(resp.Result); err != nil {
			return failf(name, "%s returned %v", d.InvokeMethod, err)
		}
		return passf(name, "%s executed successfully (%s)", d.InvokeMethod, pingCapability)
	})
}

// dialectOrDefault tolerates a nil context so that runScenario can report it.
func (ec *ExecutionContext) dialectOrDefault() protocol.Dialect {
	if ec == nil {
		return protocol.DefaultDialect()
	}
	return ec.dialect()
}
