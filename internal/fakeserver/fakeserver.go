// Package fakeserver is a scriptable stand-in for a candidate server. It
// speaks newline-delimited JSON-RPC on a reader/writer pair and misbehaves on
// request, so the harness can be exercised end to end.
package fakeserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/protocol"
)

// Environment variables read by FromEnv.
const (
	ModeVar    = "QACHECK_FAKE_MODE"
	DialectVar = "QACHECK_FAKE_DIALECT"
)

// JSON-RPC error codes used in replies.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailure    = -32000
)

// Script describes how the fake server behaves.
type Script struct {
	Dialect protocol.Dialect

	// Capabilities is the list returned by the dialect's list method.
	Capabilities []map[string]any

	// Noise lines are written to stdout before the first response.
	Noise []string
	// Stderr lines are written to stderr at startup.
	Stderr []string

	// SilentInitialize never answers the handshake.
	SilentInitialize bool
	// ExitAfterInitialize answers the handshake, then exits with ExitCode.
	ExitAfterInitialize bool
	ExitCode            int

	// InvokeError makes every invocation reply with this error message.
	InvokeError string
	// InvokeResult, when set, replaces the well-formed invocation result.
	InvokeResult any

	// Delay is applied before every reply.
	Delay time.Duration
}

// PingCapability is a fully described ping entry.
func PingCapability() map[string]any {
	return map[string]any{
		"name":        "ping",
		"description": "Health check tool. Returns ok.",
		"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

// EchoCapability is a fully described echo entry.
func EchoCapability() map[string]any {
	return map[string]any{
		"name":        "echo",
		"description": "Echoes the given text back to the caller.",
		"inputSchema": map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
	}
}

var presets = map[string]func() Script{
	"healthy": func() Script {
		return Script{Capabilities: []map[string]any{PingCapability(), EchoCapability()}}
	},
	"noisy": func() Script {
		return Script{
			Noise:        []string{"Starting server on stdio..."},
			Capabilities: []map[string]any{PingCapability()},
		}
	},
	"silent": func() Script {
		return Script{SilentInitialize: true, Stderr: []string{"ImportError: no module named server"}}
	},
	"crash": func() Script {
		return Script{ExitAfterInitialize: true, ExitCode: 3, Stderr: []string{"Traceback (most recent call last):", "RuntimeError: boom"}}
	},
	"empty": func() Script {
		return Script{Capabilities: []map[string]any{}}
	},
	"undocumented": func() Script {
		return Script{Capabilities: []map[string]any{
			PingCapability(),
			{"name": "echo", "description": "Echo", "inputSchema": map[string]any{"type": "object"}},
			{"name": "fetch", "inputSchema": map[string]any{"type": "object"}},
		}}
	},
	"schemaless": func() Script {
		return Script{Capabilities: []map[string]any{{"name": "ping", "description": "Health check tool. Returns ok."}}}
	},
	"no-ping": func() Script {
		return Script{Capabilities: []map[string]any{EchoCapability()}}
	},
	"ping-error": func() Script {
		return Script{Capabilities: []map[string]any{PingCapability()}, InvokeError: "ping is broken"}
	},
	"malformed-invoke": func() Script {
		return Script{Capabilities: []map[string]any{PingCapability()}, InvokeResult: map[string]any{"content": "ok"}}
	},
	"slow": func() Script {
		return Script{Capabilities: []map[string]any{PingCapability()}, Delay: 2 * time.Second}
	},
}

// Preset returns a named script with the default dialect.
func Preset(name string) (Script, bool) {
	build, ok := presets[name]
	if !ok {
		return Script{}, false
	}
	s := build()
	s.Dialect = protocol.DefaultDialect()
	return s, true
}

// Presets lists the preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromEnv builds a script from QACHECK_FAKE_MODE and QACHECK_FAKE_DIALECT.
// An empty mode selects "healthy".
func FromEnv() (Script, error) {
	return Build(os.Getenv(ModeVar), os.Getenv(DialectVar))
}

// Build resolves a preset name and dialect name into a script.
func Build(mode, dialect string) (Script, error) {
	mode = strings.TrimSpace(mode)
	if mode == "" {
		mode = "healthy"
	}
	s, ok := Preset(mode)
	if !ok {
		return Script{}, fmt.Errorf("unknown fake server mode %q (known: %s)", mode, strings.Join(Presets(), ", "))
	}
	d, err := protocol.DialectByName(dialect)
	if err != nil {
		return Script{}, err
	}
	s.Dialect = d
	return s, nil
}

// ExitError carries the scripted exit code.
type ExitError struct{ Code int }

func (e *ExitError) Error() string { return fmt.Sprintf("scripted exit with code %d", e.Code) }

// Server replays a Script.
type Server struct {
	script Script
	logger *slog.Logger

	mu        sync.Mutex
	out       io.Writer
	noiseSent bool
}

// New creates a Server. A nil logger uses the process default.
func New(script Script, logger *slog.Logger) *Server {
	if script.Dialect.IsZero() {
		script.Dialect = protocol.DefaultDialect()
	}
	return &Server{script: script, logger: log.Or(logger, "fakeserver")}
}

type incoming struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Serve reads requests from in until EOF or ctx ends and answers them on out.
// A scripted exit is reported as *ExitError.
func (s *Server) Serve(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	s.out = out
	for _, line := range s.script.Stderr {
		fmt.Fprintln(errOut, line)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := s.handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var msg incoming
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		s.logger.Debug("ignoring unparsable line", "error", err)
		return nil
	}
	if len(msg.ID) == 0 {
		s.logger.Debug("notification", "method", msg.Method)
		return nil
	}

	if s.script.Delay > 0 {
		select {
		case <-time.After(s.script.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d := s.script.Dialect
	switch msg.Method {
	case protocol.MethodInitialize:
		if s.script.SilentInitialize {
			return nil
		}
		if err := s.reply(msg.ID, map[string]any{
			"protocolVersion": protocol.ProtocolVersion,
			"capabilities":    map[string]any{},
			"serverInfo":      map[string]any{"name": "fakeserver", "version": "0.0.0"},
		}); err != nil {
			return err
		}
		if s.script.ExitAfterInitialize {
			return &ExitError{Code: s.script.ExitCode}
		}
		return nil

	case d.ListMethod:
		caps := s.script.Capabilities
		if caps == nil {
			caps = []map[string]any{}
		}
		return s.reply(msg.ID, map[string]any{d.ListKey: caps})

	case d.InvokeMethod:
		return s.invoke(msg)

	default:
		return s.fail(msg.ID, codeMethodNotFound, "method not found: "+msg.Method)
	}
}

func (s *Server) invoke(msg incoming) error {
	var params protocol.InvokeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.fail(msg.ID, codeInvalidParams, "invalid params")
	}
	if s.script.InvokeError != "" {
		return s.fail(msg.ID, codeToolFailure, s.script.InvokeError)
	}
	if s.script.InvokeResult != nil {
		return s.reply(msg.ID, s.script.InvokeResult)
	}

	switch params.Name {
	case "ping":
		return s.reply(msg.ID, textContent("ok"))
	case "echo":
		text, _ := params.Arguments["text"].(string)
		return s.reply(msg.ID, textContent(text))
	default:
		return s.fail(msg.ID, codeInvalidParams, "unknown capability: "+params.Name)
	}
}

func textContent(text string) map[string]any {
	return map[string]any{"content": []any{map[string]any{"type": "text", "text": text}}}
}

func (s *Server) reply(id json.RawMessage, result any) error {
	return s.write(map[string]any{"jsonrpc": protocol.JSONRPCVersion, "id": id, "result": result})
}

func (s *Server) fail(id json.RawMessage, code int, message string) error {
	return s.write(map[string]any{
		"jsonrpc": protocol.JSONRPCVersion,
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func (s *Server) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.noiseSent {
		s.noiseSent = true
		for _, line := range s.script.Noise {
			if _, err := fmt.Fprintln(s.out, line); err != nil {
				return err
			}
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	_, err = s.out.Write(append(b, '\n'))
	return err
}

// Main runs the script from FromEnv on the process's stdio and returns the
// process exit code.
func Main(ctx context.Context) int {
	script, err := FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return Run(ctx, script)
}

// Run replays script on the process's stdio and returns the exit code.
func Run(ctx context.Context, script Script) int {
	err := New(script, nil).Serve(ctx, os.Stdin, os.Stdout, os.Stderr)
	var exit *ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return exit.Code
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
