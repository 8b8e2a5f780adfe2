package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name:    "handshake request",
			req:     HandshakeRequest(ClientInfo{Name: "qacheck", Version: "0.1.0"}),
			wantErr: false,
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"jsonrpc":"2.0"`) {
					t.Error("missing jsonrpc marker")
				}
				if !strings.Contains(output, `"id":1`) {
					t.Error("handshake must use id 1")
				}
				if !strings.Contains(output, `"protocolVersion":"2024-11-05"`) {
					t.Error("missing protocolVersion")
				}
				if !strings.Contains(output, `"capabilities":{}`) {
					t.Error("capabilities must be an empty object")
				}
				if !strings.Contains(output, `"clientInfo":{"name":"qacheck","version":"0.1.0"}`) {
					t.Error("missing clientInfo")
				}
			},
		},
		{
			name:    "nil params become empty object",
			req:     NewRequest(2, "capability/list", nil),
			wantErr: false,
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"params":{}`) {
					t.Errorf("expected empty params object, got %s", output)
				}
			},
		},
		{
			name:    "wrong marker",
			req:     &Request{JSONRPC: "1.0", ID: 3, Method: "x"},
			wantErr: true,
		},
		{
			name:    "missing method",
			req:     &Request{JSONRPC: JSONRPCVersion, ID: 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			output := buf.String()
			if !strings.HasSuffix(output, "\n") || strings.Count(output, "\n") != 1 {
				t.Fatalf("expected exactly one newline-terminated line, got %q", output)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, output)
			}
		})
	}
}

func TestEncodeNotification(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeNotification(&buf, NewNotification("notifications/initialized", nil)); err != nil {
		t.Fatalf("EncodeNotification: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, hasID := decoded["id"]; hasID {
		t.Error("notification must not carry an id")
	}
	if _, hasParams := decoded["params"]; hasParams {
		t.Error("nil params should be omitted")
	}

	if err := EncodeNotification(&buf, &Notification{JSONRPC: JSONRPCVersion}); err == nil {
		t.Error("expected error for missing method")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantNoise  bool
		matchID    int
		wantMatch  bool
		wantResult bool
		wantError  bool
	}{
		{name: "result envelope", line: `{"jsonrpc":"2.0","id":1,"result":{}}`, matchID: 1, wantMatch: true, wantResult: true},
		{name: "error envelope", line: `{"jsonrpc":"2.0","id":7,"error":{"code":-1}}`, matchID: 7, wantMatch: true, wantError: true},
		{name: "null result still present", line: `{"jsonrpc":"2.0","id":2,"result":null}`, matchID: 2, wantMatch: true, wantResult: true},
		{name: "float id equal to integer", line: `{"jsonrpc":"2.0","id":3.0,"result":1}`, matchID: 3, wantMatch: true, wantResult: true},
		{name: "string id never matches", line: `{"jsonrpc":"2.0","id":"1","result":{}}`, matchID: 1, wantMatch: false, wantResult: true},
		{name: "other id", line: `{"jsonrpc":"2.0","id":9,"result":{}}`, matchID: 1, wantMatch: false, wantResult: true},
		{name: "missing marker", line: `{"id":1,"result":{}}`, matchID: 1, wantMatch: false, wantResult: true},
		{name: "notification", line: `{"jsonrpc":"2.0","method":"notifications/message"}`, matchID: 1, wantMatch: false},
		{name: "id without result or error", line: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, matchID: 1, wantMatch: false},
		{name: "plain text", line: `Server starting...`, wantNoise: true},
		{name: "json scalar", line: `42`, wantNoise: true},
		{name: "json array", line: `[1,2]`, wantNoise: true},
		{name: "json null", line: `null`, wantNoise: true},
		{name: "trailing garbage", line: `{"jsonrpc":"2.0","id":1,"result":{}} extra`, wantNoise: true},
		{name: "truncated", line: `{"jsonrpc":"2.0","id":1,`, wantNoise: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeEnvelope([]byte(tt.line))
			if tt.wantNoise {
				if !errors.Is(err, ErrNotEnvelope) {
					t.Fatalf("expected ErrNotEnvelope, got resp=%v err=%v", resp, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEnvelope: %v", err)
			}
			if got := resp.Matches(tt.matchID); got != tt.wantMatch {
				t.Errorf("Matches(%d) = %v, want %v", tt.matchID, got, tt.wantMatch)
			}
			if resp.HasResult() != tt.wantResult {
				t.Errorf("HasResult() = %v, want %v", resp.HasResult(), tt.wantResult)
			}
			if resp.HasError() != tt.wantError {
				t.Errorf("HasError() = %v, want %v", resp.HasError(), tt.wantError)
			}
		})
	}
}

func TestNilResponse(t *testing.T) {
	var r *Response
	if r.HasResult() || r.HasError() || r.Matches(1) {
		t.Error("nil response must report nothing")
	}
}

func TestDialectByName(t *testing.T) {
	d, err := DialectByName("")
	if err != nil || d.Name != CapabilityDialect.Name {
		t.Fatalf("empty name should select default, got %+v %v", d, err)
	}

	d, err = DialectByName(" MCP ")
	if err != nil {
		t.Fatalf("DialectByName(mcp): %v", err)
	}
	if d.ListMethod != "tools/list" || d.InvokeMethod != "tools/call" || d.ListKey != "tools" {
		t.Errorf("unexpected mcp dialect: %+v", d)
	}
	if d.InitializedNotification == "" {
		t.Error("mcp dialect should send the initialized notification")
	}

	if _, err := DialectByName("grpc"); err == nil {
		t.Error("expected error for unknown dialect")
	}
	if (Dialect{}).IsZero() != true || CapabilityDialect.IsZero() {
		t.Error("IsZero mismatch")
	}
}
