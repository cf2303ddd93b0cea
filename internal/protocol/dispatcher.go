package protocol

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc serves one method. Returning a *Error puts that envelope on
// the wire; any other error becomes -32603 for the method.
type HandlerFunc func(ctx context.Context, sess *Session, params map[string]any) (any, error)

// Dispatcher routes parsed frames through the lifecycle state machine to the
// registered method handlers. One dispatcher serves all connections; the
// per-connection state lives in Session.
type Dispatcher struct {
	info     ServerInfo
	caps     map[string]any
	logger   *zap.SugaredLogger
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewDispatcher(info ServerInfo, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		info:     info,
		caps:     DefaultCapabilities(),
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register installs the handler for a method, replacing any previous one.
// The lifecycle methods initialize and shutdown are built in and cannot be
// overridden.
func (d *Dispatcher) Register(method string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// NewSession starts protocol state for one connection.
func (d *Dispatcher) NewSession() *Session {
	return NewSession()
}

// HandleRaw decodes one frame, runs it through the state machine, and
// encodes the reply. The second return is false when the frame was a
// notification and nothing goes back on the wire.
func (d *Dispatcher) HandleRaw(ctx context.Context, sess *Session, raw []byte) ([]byte, bool) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		d.logger.Debugw("rejecting unparseable frame", "conn", sess.ConnID(), "error", err)
		return d.encode(NewErrorResponse(nil, ParseError(err.Error())))
	}

	resp := d.Handle(ctx, sess, &req)
	if resp == nil {
		return nil, false
	}
	return d.encode(resp)
}

// Handle runs one parsed request. It returns nil for notifications.
func (d *Dispatcher) Handle(ctx context.Context, sess *Session, req *Request) *Response {
	reply := func(e *Error) *Response {
		if req.IsNotification() {
			return nil
		}
		return NewErrorResponse(req.ID, e)
	}

	if req.JSONRPC != "2.0" {
		return reply(NewError(CodeInvalidRequest, "Invalid jsonrpc version, expected 2.0"))
	}
	if req.Method == "" {
		return reply(NewError(CodeInvalidRequest, "Missing 'method' field"))
	}

	params, perr := decodeParams(req.Params)
	if perr != nil {
		return reply(perr)
	}

	switch req.Method {
	case "initialize":
		return d.initialize(sess, req, params)
	case "shutdown":
		return d.shutdown(sess, req)
	}

	if !sess.Initialized() {
		return reply(NewError(CodeInvalidRequest, "Client must call initialize first"))
	}

	d.mu.RLock()
	handler, ok := d.handlers[req.Method]
	d.mu.RUnlock()
	if !ok {
		return reply(Errorf(CodeMethodNotFound, "Method not found: %s", req.Method))
	}

	result, err := d.invoke(ctx, sess, req.Method, handler, params)
	if err != nil {
		if pe, ok := err.(*Error); ok {
			return reply(pe)
		}
		d.logger.Errorw("method handler failed", "method", req.Method, "conn", sess.ConnID(), "error", err)
		return reply(Errorf(CodeInternalError, "Error executing %s", req.Method))
	}
	if req.IsNotification() {
		return nil
	}
	return NewResponse(req.ID, result)
}

// invoke shields the dispatch loop from handler panics.
func (d *Dispatcher) invoke(ctx context.Context, sess *Session, method string, h HandlerFunc, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("method handler panicked", "method", method, "conn", sess.ConnID(), "panic", r)
			err = Errorf(CodeInternalError, "Error executing %s", method)
		}
	}()
	return h(ctx, sess, params)
}

func (d *Dispatcher) initialize(sess *Session, req *Request, params map[string]any) *Response {
	sess.initialized = true
	if info, ok := params["clientInfo"].(map[string]any); ok {
		sess.clientInfo = info
	}
	d.logger.Infow("session initialized", "conn", sess.ConnID(), "clientInfo", sess.clientInfo)

	if req.IsNotification() {
		return nil
	}
	return NewResponse(req.ID, map[string]any{
		"protocolVersion": Version,
		"capabilities":    d.caps,
		"serverInfo": map[string]any{
			"name":            d.info.Name,
			"version":         d.info.Version,
			"protocolVersion": Version,
		},
	})
}

func (d *Dispatcher) shutdown(sess *Session, req *Request) *Response {
	if !sess.Initialized() {
		if req.IsNotification() {
			return nil
		}
		return NewErrorResponse(req.ID, NewError(CodeInvalidState, "Shutdown before initialize"))
	}
	sess.initialized = false
	d.logger.Infow("session shut down", "conn", sess.ConnID())

	if req.IsNotification() {
		return nil
	}
	return NewResponse(req.ID, map[string]any{"status": "ok"})
}

func (d *Dispatcher) encode(resp *Response) ([]byte, bool) {
	data, err := json.Marshal(resp)
	if err != nil {
		d.logger.Errorw("failed to encode response", "error", err)
		fallback := NewErrorResponse(resp.ID, NewError(CodeInternalError, ""))
		data, _ = json.Marshal(fallback)
	}
	return data, true
}

func decodeParams(raw json.RawMessage) (map[string]any, *Error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, NewError(CodeInvalidParams, "")
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
