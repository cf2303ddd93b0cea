// Package protocol implements the JSON-RPC 2.0 dialect spoken on every
// transport: frame types, the error code space, and the per-connection
// lifecycle state machine.
package protocol

import "encoding/json"

// Version is the protocol revision announced during initialize.
const Version = "2024-11"

// Request is one inbound frame. ID is kept raw so that an absent id
// (notification) stays distinguishable from an explicit null.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the frame carries no id and therefore
// expects no reply.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is one outbound frame. A nil ID marshals as id:null, which is the
// required shape for parse errors.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewResponse builds a success frame for the given request id.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse builds an error frame for the given request id.
func NewErrorResponse(id json.RawMessage, e *Error) *Response {
	return &Response{JSONRPC: "2.0", Error: e, ID: id}
}

// ServerInfo is announced in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DefaultCapabilities returns the capability document announced to clients.
func DefaultCapabilities() map[string]any {
	return map[string]any{
		"tools":     map[string]any{"listChanged": false},
		"resources": map[string]any{"subscribe": false, "listChanged": false},
		"prompts":   map[string]any{"listChanged": false},
	}
}
