// Package transport implements a sequential JSON-RPC client over a pair of
// line-delimited streams, typically a candidate server's stdin and stdout.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/protocol"
)

const (
	// DefaultTimeout bounds one request: the write plus the wait for its response.
	DefaultTimeout = 5 * time.Second

	initialLineBuffer = 64 * 1024
	maxLineBytes      = 8 * 1024 * 1024
	lineBacklog       = 64
)

var (
	// ErrDuplicateID is returned when a request id was already used on this client.
	ErrDuplicateID = errors.New("request id already used in this session")

	// ErrCallInFlight is returned when a second operation starts before the first finished.
	ErrCallInFlight = errors.New("another request is in flight")

	// ErrClosed is returned for operations on a closed client.
	ErrClosed = errors.New("transport closed")
)

// DefaultClientInfo is announced during the handshake unless overridden.
var DefaultClientInfo = protocol.ClientInfo{Name: "qacheck", Version: "0.1.0"}

// TimeoutError reports that no matching response arrived for a request,
// either because the deadline passed or because the stream ended first.
type TimeoutError struct {
	ID      int
	Method  string
	Timeout time.Duration
	EOF     bool
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.EOF {
		return fmt.Sprintf("stream closed before response to %s (id=%d)", e.Method, e.ID)
	}
	return fmt.Sprintf("no response to %s (id=%d) within %s", e.Method, e.ID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// WriteError reports a failure writing a request to the candidate.
type WriteError struct {
	ID     int
	Method string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s (id=%d): %v", e.Method, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Option configures a Client.
type Option func(*Client)

// WithClientInfo overrides the identity announced in the handshake.
func WithClientInfo(info protocol.ClientInfo) Option {
	return func(c *Client) { c.info = info }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = log.Or(l, "transport") }
}

// Client speaks JSON-RPC over w and r, one request at a time.
//
// A background goroutine reads r line by line. It exits when r reaches EOF or
// errors, or once the client is closed and a pending line cannot be delivered.
type Client struct {
	w       io.Writer
	timeout time.Duration
	info    protocol.ClientInfo
	logger  *slog.Logger

	lines   chan string
	readErr error // valid once lines is closed

	writeMu sync.Mutex

	mu   sync.Mutex
	used map[int]struct{}

	inFlight  atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client writing requests to w and reading responses from r.
// A non-positive timeout selects DefaultTimeout.
func New(w io.Writer, r io.Reader, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		w:       w,
		timeout: timeout,
		info:    DefaultClientInfo,
		logger:  log.Or(nil, "transport"),
		lines:   make(chan string, lineBacklog),
		used:    make(map[int]struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop(r)
	return c
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.lines)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initialLineBuffer), maxLineBytes)
	for sc.Scan() {
		select {
		case c.lines <- sc.Text():
		case <-c.done:
			return
		}
	}
	c.readErr = sc.Err()
}

// Timeout returns the per-operation timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Initialize performs the handshake and returns the matched response.
func (c *Client) Initialize(ctx context.Context) (*protocol.Response, error) {
	resp, _, err := c.roundTrip(ctx, protocol.HandshakeRequest(c.info), false)
	return resp, err
}

// InitializeCollectingNoise performs the handshake and also returns every
// non-envelope line seen before the response. The slice is never nil.
func (c *Client) InitializeCollectingNoise(ctx context.Context) (*protocol.Response, []string, error) {
	return c.roundTrip(ctx, protocol.HandshakeRequest(c.info), true)
}

// Call sends a request with the caller-chosen id and waits for its response.
// Nil params are sent as an empty object.
func (c *Client) Call(ctx context.Context, method string, id int, params any) (*protocol.Response, error) {
	resp, _, err := c.roundTrip(ctx, protocol.NewRequest(id, method, params), false)
	return resp, err
}

// Notify sends a notification without waiting for anything in return.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrCallInFlight
	}
	defer c.inFlight.Store(false)
	if c.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n := protocol.NewNotification(method, params)
	err := c.write(ctx, func(w io.Writer) error { return protocol.EncodeNotification(w, n) })
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &TimeoutError{Method: method, Timeout: c.timeout, Err: ctx.Err()}
	}
	return &WriteError{Method: method, Err: err}
}

func (c *Client) roundTrip(ctx context.Context, req *protocol.Request, collect bool) (*protocol.Response, []string, error) {
	var noise []string
	if collect {
		noise = []string{}
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, noise, ErrCallInFlight
	}
	defer c.inFlight.Store(false)

	if c.closed.Load() {
		return nil, noise, ErrClosed
	}
	if err := c.reserve(req.ID); err != nil {
		return nil, noise, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger := c.logger.With("method", req.Method, "id", req.ID)
	if err := c.write(ctx, func(w io.Writer) error { return protocol.EncodeRequest(w, req) }); err != nil {
		if ctx.Err() != nil {
			return nil, noise, c.timeoutErr(req, ctx.Err())
		}
		logger.Debug("write failed", "error", err)
		return nil, noise, &WriteError{ID: req.ID, Method: req.Method, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("request timed out", "timeout", c.timeout)
			return nil, noise, c.timeoutErr(req, ctx.Err())

		case <-c.done:
			return nil, noise, ErrClosed

		case line, ok := <-c.lines:
			if !ok {
				logger.Debug("stream ended before response", "error", c.readErr)
				return nil, noise, &TimeoutError{ID: req.ID, Method: req.Method, Timeout: c.timeout, EOF: true, Err: c.readErr}
			}
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			resp, err := protocol.DecodeEnvelope([]byte(trimmed))
			if err != nil {
				if collect {
					noise = append(noise, trimmed)
				}
				continue
			}
			if resp.Matches(req.ID) {
				return resp, noise, nil
			}
			logger.Debug("dropping unrelated message", "line", truncate(trimmed, 120))
		}
	}
}

func (c *Client) reserve(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.used[id]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	c.used[id] = struct{}{}
	return nil
}

// write runs encode against the writer, giving up when ctx expires. A writer
// blocked on a full pipe is released when the candidate's stdin is closed.
func (c *Client) write(ctx context.Context, encode func(io.Writer) error) error {
	errc := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if c.closed.Load() {
			errc <- ErrClosed
			return
		}
		errc <- encode(c.w)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) timeoutErr(req *protocol.Request, err error) error {
	return &TimeoutError{ID: req.ID, Method: req.Method, Timeout: c.timeout, Err: err}
}

// Close stops further writes and releases the read loop. The writer is closed
// when it implements io.Closer. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if wc, ok := c.w.(io.Closer); ok {
			err = wc.Close()
		}
	})
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
