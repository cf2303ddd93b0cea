// Package identity manages client credential records: creation,
// password verification, role assignment, and lifecycle flags. Records
// live in a single JSON document so operators can inspect and back them
// up with ordinary tools.
package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"toolgate/internal/jsonstore"
)

var (
	// ErrExists is returned when a username is already taken.
	ErrExists = errors.New("client already exists")
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("client not found")
	// ErrAuthentication covers every credential failure: wrong password
	// and disabled account both wrap it so callers cannot tell them
	// apart without consulting the audit trail.
	ErrAuthentication = errors.New("authentication failed")
)

// DefaultBcryptCost balances login latency against brute-force cost.
const DefaultBcryptCost = 10

// Record is one client credential entry as persisted in clients.json.
type Record struct {
	ClientID     string         `json:"client_id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"password_hash"`
	Email        string         `json:"email,omitempty"`
	Roles        []string       `json:"roles"`
	CreatedAt    time.Time      `json:"created_at"`
	LastLogin    *time.Time     `json:"last_login"`
	Enabled      bool           `json:"enabled"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// HasRole reports whether the record carries the named role.
func (r *Record) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

type document struct {
	Clients []Record `json:"clients"`
}

// Registry is the credential store. All mutations reload the document,
// apply the change, and save, so concurrent registries pointed at the
// same file converge on the last writer.
type Registry struct {
	mu    sync.Mutex
	store *jsonstore.Store
	cost  int
}

// NewRegistry opens the registry backed by the JSON document at path.
// cost selects the bcrypt work factor; values outside bcrypt's valid
// range fall back to DefaultBcryptCost.
func NewRegistry(path string, cost int) *Registry {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Registry{store: jsonstore.New(path), cost: cost}
}

func (reg *Registry) load() (*document, error) {
	doc := &document{Clients: []Record{}}
	if err := reg.store.Load(doc); err != nil {
		return nil, fmt.Errorf("failed to load client registry: %w", err)
	}
	return doc, nil
}

func (reg *Registry) save(doc *document) error {
	if err := reg.store.Save(doc); err != nil {
		return fmt.Errorf("failed to save client registry: %w", err)
	}
	return nil
}

// Create registers a new client. The username must be unique; roles
// default to ["user"] when none are given. The returned record carries
// the generated client id.
func (reg *Registry) Create(username, password, email string, roles []string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	for _, rec := range doc.Clients {
		if rec.Username == username {
			return nil, fmt.Errorf("%w: %s", ErrExists, username)
		}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), reg.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if len(roles) == 0 {
		roles = []string{"user"}
	}

	rec := Record{
		ClientID:     uuid.NewString(),
		Username:     username,
		PasswordHash: string(hashed),
		Email:        email,
		Roles:        roles,
		CreatedAt:    time.Now().UTC(),
		Enabled:      true,
		Metadata:     map[string]any{},
	}
	doc.Clients = append(doc.Clients, rec)
	if err := reg.save(doc); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Authenticate verifies a username/password pair. Unknown usernames
// return ErrNotFound; disabled accounts and wrong passwords both wrap
// ErrAuthentication. A successful login stamps last_login.
func (reg *Registry) Authenticate(username, password string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range doc.Clients {
		if doc.Clients[i].Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}

	rec := &doc.Clients[idx]
	if !rec.Enabled {
		return nil, fmt.Errorf("%w: account disabled", ErrAuthentication)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid password", ErrAuthentication)
	}

	now := time.Now().UTC()
	rec.LastLogin = &now
	if err := reg.save(doc); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// Get returns the record with the given client id.
func (reg *Registry) Get(clientID string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.find(func(r *Record) bool { return r.ClientID == clientID }, clientID)
}

// GetByUsername returns the record with the given username.
func (reg *Registry) GetByUsername(username string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.find(func(r *Record) bool { return r.Username == username }, username)
}

func (reg *Registry) find(match func(*Record) bool, label string) (*Record, error) {
	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Clients {
		if match(&doc.Clients[i]) {
			out := doc.Clients[i]
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, label)
}

// List returns every record in registration order.
func (reg *Registry) List() ([]Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(doc.Clients))
	copy(out, doc.Clients)
	return out, nil
}

// Delete removes the record with the given client id.
func (reg *Registry) Delete(clientID string) error {
	return reg.mutate(clientID, func(doc *document, idx int) {
		doc.Clients = append(doc.Clients[:idx], doc.Clients[idx+1:]...)
	})
}

// SetEnabled flips the account's enabled flag.
func (reg *Registry) SetEnabled(clientID string, enabled bool) error {
	return reg.mutate(clientID, func(doc *document, idx int) {
		doc.Clients[idx].Enabled = enabled
	})
}

// AddRole grants a role. Adding a role the client already holds is a
// no-op.
func (reg *Registry) AddRole(clientID, role string) error {
	return reg.mutate(clientID, func(doc *document, idx int) {
		if !doc.Clients[idx].HasRole(role) {
			doc.Clients[idx].Roles = append(doc.Clients[idx].Roles, role)
		}
	})
}

// RemoveRole revokes a role if present.
func (reg *Registry) RemoveRole(clientID, role string) error {
	return reg.mutate(clientID, func(doc *document, idx int) {
		roles := doc.Clients[idx].Roles
		kept := roles[:0]
		for _, have := range roles {
			if have != role {
				kept = append(kept, have)
			}
		}
		doc.Clients[idx].Roles = kept
	})
}

// UpdateMetadata merges the given keys into the record's metadata.
// Existing keys not named in updates are preserved.
func (reg *Registry) UpdateMetadata(clientID string, updates map[string]any) error {
	return reg.mutate(clientID, func(doc *document, idx int) {
		if doc.Clients[idx].Metadata == nil {
			doc.Clients[idx].Metadata = map[string]any{}
		}
		for k, v := range updates {
			doc.Clients[idx].Metadata[k] = v
		}
	})
}

func (reg *Registry) mutate(clientID string, apply func(*document, int)) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return err
	}
	idx := -1
	for i := range doc.Clients {
		if doc.Clients[i].ClientID == clientID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, clientID)
	}
	apply(doc, idx)
	return reg.save(doc)
}
