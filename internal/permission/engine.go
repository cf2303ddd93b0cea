package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrDenied marks a capability check that found no satisfying grant.
var ErrDenied = errors.New("permission denied")

// DeniedError carries the requirement that no grant satisfied, so auditors
// can name the missing capability without parsing the message.
type DeniedError struct {
	Required Permission
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDenied, e.Required.String())
}

// Unwrap keeps errors.Is(err, ErrDenied) working.
func (e *DeniedError) Unwrap() error { return ErrDenied }

// Engine holds the per-client grant sets and answers checks against them.
// Deny-by-default: a client with no matching grant is refused.
type Engine struct {
	mu     sync.RWMutex
	sets   map[string][]Permission
	logger *zap.SugaredLogger
}

func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{
		sets:   make(map[string][]Permission),
		logger: logger,
	}
}

// InitializeClient installs the grant set for a client, replacing whatever
// was there. A nil set installs the defaults.
func (e *Engine) InitializeClient(clientID string, perms []Permission) {
	if perms == nil {
		perms = DefaultSet()
	}
	e.mu.Lock()
	e.sets[clientID] = slicesClone(perms)
	e.mu.Unlock()
	e.logger.Infow("client permissions initialized", "client", clientID, "grants", len(perms))
}

// EnsureClient installs the default set if the client has none yet.
func (e *Engine) EnsureClient(clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sets[clientID]; !ok {
		e.sets[clientID] = DefaultSet()
		e.logger.Infow("client permissions initialized", "client", clientID, "grants", len(e.sets[clientID]))
	}
}

// Grant adds a permission, skipping exact duplicates.
func (e *Engine) Grant(clientID string, p Permission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.sets[clientID] {
		if existing.Equal(p) {
			return
		}
	}
	e.sets[clientID] = append(e.sets[clientID], p)
	e.logger.Infow("permission granted", "client", clientID, "permission", p.String())
}

// Revoke removes every grant of the given type.
func (e *Engine) Revoke(clientID string, t Type) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.sets[clientID][:0]
	for _, p := range e.sets[clientID] {
		if p.Type != t {
			kept = append(kept, p)
		}
	}
	e.sets[clientID] = kept
	e.logger.Infow("permission revoked", "client", clientID, "type", string(t))
}

// Has reports whether any grant satisfies the requirement.
func (e *Engine) Has(clientID string, required Permission) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.sets[clientID] {
		if p.Matches(required) {
			return true
		}
	}
	return false
}

// Check returns a *DeniedError describing the missing capability when no
// grant satisfies the requirement.
func (e *Engine) Check(clientID string, required Permission) error {
	if e.Has(clientID, required) {
		return nil
	}
	return &DeniedError{Required: required}
}

// List returns a copy of the client's grants.
func (e *Engine) List(clientID string) []Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slicesClone(e.sets[clientID])
}

// Known lists the clients that have an installed grant set.
func (e *Engine) Known() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.sets))
	for id := range e.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func slicesClone(in []Permission) []Permission {
	if in == nil {
		return nil
	}
	out := make([]Permission, len(in))
	copy(out, in)
	return out
}
