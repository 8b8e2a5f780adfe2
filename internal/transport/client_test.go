package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup(log.Options{Level: "ERROR"})
	os.Exit(m.Run())
}

// peer is the server side of an in-memory pipe pair. handle returns the lines
// to write back for each request received.
type peer struct {
	mu       sync.Mutex
	requests []map[string]any
	respW    *io.PipeWriter
}

func (p *peer) received() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.requests...)
}

func newPair(t *testing.T, timeout time.Duration, handle func(req map[string]any) []string) (*Client, *peer) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	p := &peer{respW: respW}

	go func() {
		sc := bufio.NewScanner(reqR)
		for sc.Scan() {
			var req map[string]any
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
				continue
			}
			p.mu.Lock()
			p.requests = append(p.requests, req)
			p.mu.Unlock()
			for _, line := range handle(req) {
				if _, err := io.WriteString(respW, line+"\n"); err != nil {
					return
				}
			}
		}
	}()

	c := New(reqW, respR, timeout, WithLogger(log.Discard()))
	t.Cleanup(func() {
		_ = c.Close()
		_ = respW.Close()
		_ = reqR.Close()
	})
	return c, p
}

func TestClient_InitializeSkipsNoiseAndUnrelated(t *testing.T) {
	c, p := newPair(t, time.Second, func(req map[string]any) []string {
		return []string{
			"Starting server...",
			`{"jsonrpc":"2.0","method":"notifications/message","params":{}}`,
			`{"jsonrpc":"2.0","id":99,"result":{}}`,
			`{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"fake"}}}`,
		}
	})

	resp, err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.HasResult())
	assert.EqualValues(t, 1, resp.ID)

	reqs := p.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "initialize", reqs[0]["method"])
	assert.EqualValues(t, 1, reqs[0]["id"])
	params := reqs[0]["params"].(map[string]any)
	assert.Equal(t, "2024-11-05", params["protocolVersion"])
	assert.Equal(t, map[string]any{}, params["capabilities"])
	assert.Equal(t, map[string]any{"name": "qacheck", "version": "0.1.0"}, params["clientInfo"])
}

func TestClient_InitializeCollectingNoise(t *testing.T) {
	t.Run("clean stream yields empty non-nil noise", func(t *testing.T) {
		c, _ := newPair(t, time.Second, func(map[string]any) []string {
			return []string{`{"jsonrpc":"2.0","id":1,"result":{}}`}
		})
		resp, noise, err := c.InitializeCollectingNoise(context.Background())
		require.NoError(t, err)
		assert.True(t, resp.HasResult())
		assert.NotNil(t, noise)
		assert.Empty(t, noise)
	})

	t.Run("noise lines are returned in order", func(t *testing.T) {
		c, _ := newPair(t, time.Second, func(map[string]any) []string {
			return []string{
				"  banner line  ",
				"",
				"42",
				`{"jsonrpc":"2.0","id":7,"result":{}}`,
				`{"jsonrpc":"2.0","id":1,"result":{}}`,
			}
		})
		_, noise, err := c.InitializeCollectingNoise(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"banner line", "42"}, noise)
	})

	t.Run("noise is returned alongside a timeout", func(t *testing.T) {
		c, _ := newPair(t, 100*time.Millisecond, func(map[string]any) []string {
			return []string{"oops"}
		})
		_, noise, err := c.InitializeCollectingNoise(context.Background())
		var timeout *TimeoutError
		require.True(t, errors.As(err, &timeout))
		assert.Equal(t, []string{"oops"}, noise)
	})
}

func TestClient_CallMatchesErrorEnvelope(t *testing.T) {
	c, p := newPair(t, time.Second, func(req map[string]any) []string {
		if req["method"] == "initialize" {
			return []string{`{"jsonrpc":"2.0","id":1,"result":{}}`}
		}
		return []string{`{"jsonrpc":"2.0","id":30,"error":{"code":-32601,"message":"nope"}}`}
	})

	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	resp, err := c.Call(context.Background(), "capability/invoke", 30, map[string]any{"name": "ping", "arguments": map[string]any{}})
	require.NoError(t, err)
	assert.True(t, resp.HasError())
	assert.False(t, resp.HasResult())

	reqs := p.received()
	require.Len(t, reqs, 2)
	assert.Equal(t, map[string]any{"name": "ping", "arguments": map[string]any{}}, reqs[1]["params"])
}

func TestClient_NilParamsSentAsEmptyObject(t *testing.T) {
	c, p := newPair(t, time.Second, func(req map[string]any) []string {
		return []string{`{"jsonrpc":"2.0","id":2,"result":{"capabilities":[]}}`}
	})
	_, err := c.Call(context.Background(), "capability/list", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, p.received()[0]["params"])
}

func TestClient_Timeout(t *testing.T) {
	c, _ := newPair(t, 100*time.Millisecond, func(map[string]any) []string { return nil })

	start := time.Now()
	resp, err := c.Call(context.Background(), "capability/list", 2, nil)
	assert.Nil(t, resp)

	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout), "expected TimeoutError, got %v", err)
	assert.Equal(t, 2, timeout.ID)
	assert.False(t, timeout.EOF)
	assert.Contains(t, err.Error(), "id=2")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_EOFBeforeResponse(t *testing.T) {
	var c *Client
	var p *peer
	c, p = newPair(t, 5*time.Second, func(map[string]any) []string {
		_ = p.respW.Close()
		return nil
	})

	_, err := c.Initialize(context.Background())
	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout), "expected TimeoutError, got %v", err)
	assert.True(t, timeout.EOF)
	assert.Equal(t, 1, timeout.ID)
}

func TestClient_DuplicateID(t *testing.T) {
	c, p := newPair(t, time.Second, func(req map[string]any) []string {
		return []string{`{"jsonrpc":"2.0","id":1,"result":{}}`}
	})

	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "capability/list", 1, nil)
	assert.True(t, errors.Is(err, ErrDuplicateID), "got %v", err)
	assert.Len(t, p.received(), 1, "duplicate request must not be written")
}

func TestClient_CallInFlight(t *testing.T) {
	c, _ := newPair(t, 500*time.Millisecond, func(map[string]any) []string { return nil })

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "slow", 5, nil)
		done <- err
	}()
	require.Eventually(t, c.inFlight.Load, time.Second, 5*time.Millisecond)

	_, err := c.Call(context.Background(), "fast", 6, nil)
	assert.ErrorIs(t, err, ErrCallInFlight)
	assert.ErrorIs(t, c.Notify(context.Background(), "n", nil), ErrCallInFlight)

	var timeout *TimeoutError
	assert.True(t, errors.As(<-done, &timeout))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestClient_WriteError(t *testing.T) {
	respR, respW := io.Pipe()
	defer respW.Close()

	c := New(failingWriter{}, respR, time.Second, WithLogger(log.Discard()))
	defer c.Close()

	_, err := c.Initialize(context.Background())
	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr), "expected WriteError, got %v", err)
	assert.Equal(t, 1, writeErr.ID)
	assert.Contains(t, err.Error(), "broken pipe")

	err = c.Notify(context.Background(), "notifications/initialized", nil)
	assert.True(t, errors.As(err, &writeErr))
}

func TestClient_Notify(t *testing.T) {
	c, p := newPair(t, time.Second, func(map[string]any) []string { return nil })

	require.NoError(t, c.Notify(context.Background(), "notifications/initialized", nil))
	require.Eventually(t, func() bool { return len(p.received()) == 1 }, time.Second, 5*time.Millisecond)

	n := p.received()[0]
	assert.Equal(t, "notifications/initialized", n["method"])
	_, hasID := n["id"]
	assert.False(t, hasID)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c, _ := newPair(t, time.Second, func(map[string]any) []string { return nil })

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	_, err := c.Call(context.Background(), "capability/list", 2, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Notify(context.Background(), "x", nil), ErrClosed)
}

func TestClient_CustomClientInfo(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	defer respW.Close()

	got := make(chan map[string]any, 1)
	go func() {
		sc := bufio.NewScanner(reqR)
		if sc.Scan() {
			var req map[string]any
			_ = json.Unmarshal(sc.Bytes(), &req)
			got <- req
			_, _ = io.WriteString(respW, `{"jsonrpc":"2.0","id":1,"result":{}}`+"\n")
		}
	}()

	c := New(reqW, respR, time.Second, WithClientInfo(protocol.ClientInfo{Name: "probe", Version: "9.9.9"}))
	defer c.Close()

	_, err := c.Initialize(context.Background())
	require.NoError(t, err)
	req := <-got
	assert.Equal(t, map[string]any{"name": "probe", "version": "9.9.9"}, req["params"].(map[string]any)["clientInfo"])
	assert.Equal(t, time.Second, c.Timeout())
}
