// Package transport carries JSON-RPC frames between peers and the protocol
// state machine. The three transports (stdio, length-prefixed TCP,
// WebSocket) share one contract: every peer owns a session, and its frames
// are handled one at a time so replies leave in request order.
package transport

import (
	"context"
	"errors"

	"toolgate/internal/protocol"
)

// Transport names used in logs and metric labels.
const (
	NameStdio = "stdio"
	NameTCP   = "tcp"
	NameWS    = "ws"
)

// ErrFrameTooLarge is returned when a peer announces a frame beyond the
// configured limit. The connection is closed; there is no way to resync a
// stream after refusing to read the payload.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Handler is the dispatch seam the transports drive. *protocol.Dispatcher
// satisfies it.
type Handler interface {
	NewSession() *protocol.Session
	HandleRaw(ctx context.Context, sess *protocol.Session, raw []byte) ([]byte, bool)
}

// Transport serves one listening endpoint.
type Transport interface {
	// Start serves peers until ctx is cancelled, Stop is called, or the
	// listener fails.
	Start(ctx context.Context) error
	// Stop closes the listener and any live connections.
	Stop() error
	// Name identifies the transport in logs and metrics.
	Name() string
}
