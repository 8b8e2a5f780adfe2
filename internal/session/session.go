// Package session pairs one candidate subprocess with one transport client
// for the lifetime of a single check.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/process"
	"github.com/mattjoyce/qacheck/internal/protocol"
	"github.com/mattjoyce/qacheck/internal/transport"
)

//go:generate mockgen -destination=mocks/mock_session.go -package=mocks github.com/mattjoyce/qacheck/internal/session Conn,Factory

// Spec describes the candidate to launch for one session.
type Spec struct {
	Command []string
	Dir     string
	Env     []string
	Timeout time.Duration

	// ClientInfo overrides the handshake identity when non-empty.
	ClientInfo protocol.ClientInfo
}

// Conn is what a check sees of a live session.
type Conn interface {
	Initialize(ctx context.Context) (*protocol.Response, error)
	InitializeCollectingNoise(ctx context.Context) (*protocol.Response, []string, error)
	Call(ctx context.Context, method string, id int, params any) (*protocol.Response, error)
	Notify(ctx context.Context, method string, params any) error
	StderrTail(n int) string
}

// Factory acquires a session, runs fn against it and releases it on every
// exit path. Implementations must never let a release failure replace an
// error returned by fn.
type Factory interface {
	Use(ctx context.Context, spec Spec, fn func(Conn) error) error
}

// Session owns exactly one Runner and one Client.
type Session struct {
	runner *process.Runner
	client *transport.Client
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*Session)(nil)

// Open starts the candidate and connects a client to its streams.
func Open(spec Spec, logger *slog.Logger) (*Session, error) {
	logger = log.Or(logger, "session")

	runner := process.NewRunner(process.Config{
		Command: spec.Command,
		Dir:     spec.Dir,
		Env:     spec.Env,
	}, logger)
	if err := runner.Start(); err != nil {
		return nil, err
	}

	opts := []transport.Option{transport.WithLogger(logger)}
	if spec.ClientInfo.Name != "" {
		opts = append(opts, transport.WithClientInfo(spec.ClientInfo))
	}
	client := transport.New(runner.Stdin(), runner.Stdout(), spec.Timeout, opts...)

	return &Session{runner: runner, client: client, logger: logger}, nil
}

func (s *Session) Initialize(ctx context.Context) (*protocol.Response, error) {
	return s.client.Initialize(ctx)
}

func (s *Session) InitializeCollectingNoise(ctx context.Context) (*protocol.Response, []string, error) {
	return s.client.InitializeCollectingNoise(ctx)
}

func (s *Session) Call(ctx context.Context, method string, id int, params any) (*protocol.Response, error) {
	return s.client.Call(ctx, method, id, params)
}

func (s *Session) Notify(ctx context.Context, method string, params any) error {
	return s.client.Notify(ctx, method, params)
}

// StderrTail returns the newest n stderr lines of the candidate.
func (s *Session) StderrTail(n int) string {
	return s.runner.StderrTail(n)
}

// Close terminates the candidate, then closes the client. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.runner.Terminate()
		if err := s.client.Close(); err != nil {
			s.closeErr = fmt.Errorf("close transport: %w", err)
		}
	})
	return s.closeErr
}

// ProcessFactory opens real subprocess-backed sessions.
type ProcessFactory struct {
	logger *slog.Logger
}

var _ Factory = (*ProcessFactory)(nil)

// NewProcessFactory creates a factory. A nil logger uses the process default.
func NewProcessFactory(logger *slog.Logger) *ProcessFactory {
	return &ProcessFactory{logger: log.Or(logger, "session")}
}

// Use opens a session, runs fn and releases the session whether fn returns,
// fails, panics or is abandoned through ctx. Release failures are logged.
func (f *ProcessFactory) Use(ctx context.Context, spec Spec, fn func(Conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := Open(spec, f.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			f.logger.Debug("session release failed", "error", cerr)
		}
	}()

	return fn(s)
}
