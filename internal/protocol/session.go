package protocol

import "github.com/google/uuid"

// Session is the per-connection protocol state. A session is owned by a
// single connection goroutine; transports deliver frames one at a time, so
// no locking happens here.
type Session struct {
	connID      string
	clientID    string
	username    string
	authed      bool
	initialized bool
	clientInfo  map[string]any
}

// NewSession starts a fresh session. Until the peer authenticates, its
// identity is the generated connection id.
func NewSession() *Session {
	id := uuid.NewString()
	return &Session{connID: id, clientID: id}
}

// ConnID returns the transport connection id.
func (s *Session) ConnID() string { return s.connID }

// ClientID returns the effective caller identity: the credential's client id
// after authentication, the connection id before.
func (s *Session) ClientID() string { return s.clientID }

// Username returns the authenticated username, empty before authentication.
func (s *Session) Username() string { return s.username }

// IsAuthenticated reports whether auth/token bound a credential identity.
func (s *Session) IsAuthenticated() bool { return s.authed }

// Initialized reports whether the lifecycle handshake completed.
func (s *Session) Initialized() bool { return s.initialized }

// Authenticate rebinds the session to a credential identity.
func (s *Session) Authenticate(clientID, username string) {
	s.clientID = clientID
	s.username = username
	s.authed = true
}

// ClientInfo returns whatever the peer announced during initialize.
func (s *Session) ClientInfo() map[string]any { return s.clientInfo }
