package protocol

const (
	// JSONRPCVersion is the envelope marker every message must carry.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the protocol revision announced in the handshake.
	ProtocolVersion = "2024-11-05"

	// HandshakeID is reserved for the initialize request.
	HandshakeID = 1

	// MethodInitialize is the handshake method.
	MethodInitialize = "initialize"
)

// Request is a JSON-RPC request written to the candidate's stdin.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Notification is a JSON-RPC message that expects no response.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ClientInfo identifies the harness during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams are the fixed handshake parameters.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// InvokeParams is the body of a capability invocation.
type InvokeParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Response is a decoded envelope read from the candidate's stdout.
// Exactly one of Result or Error is meaningful; presence is tracked separately
// because either may legitimately be JSON null.
type Response struct {
	JSONRPC string
	ID      int64
	Result  any
	Error   any

	hasID     bool
	hasResult bool
	hasError  bool
}

// HasResult reports whether the envelope carried a result field.
func (r *Response) HasResult() bool { return r != nil && r.hasResult }

// HasError reports whether the envelope carried an error field.
func (r *Response) HasError() bool { return r != nil && r.hasError }

// Matches reports whether r is the response to the request with the given id.
func (r *Response) Matches(id int) bool {
	if r == nil || r.JSONRPC != JSONRPCVersion || !r.hasID {
		return false
	}
	if r.ID != int64(id) {
		return false
	}
	return r.hasResult || r.hasError
}

// NewRequest builds a request; nil params become an empty object.
func NewRequest(id int, method string, params any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
}

// NewNotification builds a notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// HandshakeRequest builds the fixed initialize request.
func HandshakeRequest(client ClientInfo) *Request {
	return NewRequest(HandshakeID, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      client,
	})
}
