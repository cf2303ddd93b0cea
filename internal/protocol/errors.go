package protocol

import "fmt"

// JSON-RPC 2.0 error codes plus the server's reserved range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeAuthenticationFailed = -32100
	CodeAuthorizationFailed  = -32101
	CodePermissionDenied     = -32102
	CodeResourceNotFound     = -32103
	CodeInvalidState         = -32104
	CodeExecutionError       = -32105
)

// Execution error kinds carried in error.data.kind.
const (
	KindTimeout  = "timeout"
	KindCrashed  = "crashed"
	KindQuota    = "quota"
	KindInternal = "internal"
)

// Canonical messages used when a caller does not supply one.
var defaultMessages = map[int]string{
	CodeParseError:           "Parse error",
	CodeInvalidRequest:       "Invalid Request",
	CodeMethodNotFound:       "Method not found",
	CodeInvalidParams:        "Invalid params",
	CodeInternalError:        "Internal error",
	CodeAuthenticationFailed: "Authentication failed",
	CodeAuthorizationFailed:  "Authorization failed",
	CodePermissionDenied:     "Permission denied",
	CodeResourceNotFound:     "Resource not found",
	CodeInvalidState:         "Invalid state",
	CodeExecutionError:       "Execution error",
}

// Error is the only error type that crosses the wire.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an error envelope; an empty message picks the canonical
// text for the code.
func NewError(code int, message string) *Error {
	if message == "" {
		message = defaultMessages[code]
	}
	return &Error{Code: code, Message: message}
}

// Errorf builds an error envelope with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches a data payload and returns the envelope for chaining.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// ExecutionError builds a -32105 envelope tagged with its kind.
func ExecutionError(kind, message string) *Error {
	if message == "" {
		message = defaultMessages[CodeExecutionError]
	}
	return &Error{
		Code:    CodeExecutionError,
		Message: message,
		Data:    map[string]any{"kind": kind},
	}
}

// ParseError builds a -32700 envelope carrying decode details.
func ParseError(details string) *Error {
	e := NewError(CodeParseError, "")
	if details != "" {
		e.Data = map[string]any{"details": details}
	}
	return e
}
