package token

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"toolgate/internal/hash"
	"toolgate/internal/jsonstore"
)

var (
	// ErrRevoked is returned when a token's registry row is revoked.
	ErrRevoked = errors.New("token revoked")
	// ErrNotFound is returned when no registry row matches.
	ErrNotFound = errors.New("token not found")
)

// Record is one issued pair as persisted in tokens.json. Only SHA-256
// digests of the raw tokens are stored; the raw strings never touch
// disk.
type Record struct {
	JTI              string     `json:"jti"`
	ClientID         string     `json:"client_id"`
	Username         string     `json:"username"`
	AccessHash       string     `json:"access_hash"`
	RefreshHash      string     `json:"refresh_hash"`
	CreatedAt        time.Time  `json:"created_at"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	Revoked          bool       `json:"revoked"`
	RevokedAt        *time.Time `json:"revoked_at"`
}

type tokenDocument struct {
	Tokens      []Record   `json:"tokens"`
	LastCleanup *time.Time `json:"last_cleanup"`
}

// Registry persists issued-token records and answers whether a raw
// token is still acceptable. Mutations follow load → mutate → save on
// the backing JSON document.
type Registry struct {
	mu    sync.Mutex
	store *jsonstore.Store
}

// NewRegistry opens the registry backed by the JSON document at path.
func NewRegistry(path string) *Registry {
	return &Registry{store: jsonstore.New(path)}
}

func (reg *Registry) load() (*tokenDocument, error) {
	doc := &tokenDocument{Tokens: []Record{}}
	if err := reg.store.Load(doc); err != nil {
		return nil, fmt.Errorf("failed to load token registry: %w", err)
	}
	return doc, nil
}

// Create records the digests of a freshly minted pair.
func (reg *Registry) Create(pair *Pair, clientID, username string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	rec := Record{
		JTI:              pair.JTI,
		ClientID:         clientID,
		Username:         username,
		AccessHash:       hash.Token(pair.AccessToken),
		RefreshHash:      hash.Token(pair.RefreshToken),
		CreatedAt:        time.Now().UTC(),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
	doc.Tokens = append(doc.Tokens, rec)
	if err := reg.store.Save(doc); err != nil {
		return nil, fmt.Errorf("failed to save token registry: %w", err)
	}
	return &rec, nil
}

// Validate looks a raw token up by digest. kind selects which digest
// column must match (KindAccess or KindRefresh). Revoked rows yield
// ErrRevoked; unknown digests yield ErrNotFound.
func (reg *Registry) Validate(raw, kind string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	digest := hash.Token(raw)
	for i := range doc.Tokens {
		rec := &doc.Tokens[i]
		var match bool
		switch kind {
		case KindRefresh:
			match = rec.RefreshHash == digest
		default:
			match = rec.AccessHash == digest
		}
		if !match {
			continue
		}
		if rec.Revoked {
			return nil, fmt.Errorf("%w: jti %s", ErrRevoked, rec.JTI)
		}
		out := *rec
		return &out, nil
	}
	return nil, fmt.Errorf("%w: no %s token with matching digest", ErrNotFound, kind)
}

// Revoke flags the pair's row. Revoking an already revoked row is a
// no-op; unknown jtis yield ErrNotFound.
func (reg *Registry) Revoke(jti string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return err
	}
	for i := range doc.Tokens {
		if doc.Tokens[i].JTI != jti {
			continue
		}
		if doc.Tokens[i].Revoked {
			return nil
		}
		now := time.Now().UTC()
		doc.Tokens[i].Revoked = true
		doc.Tokens[i].RevokedAt = &now
		if err := reg.store.Save(doc); err != nil {
			return fmt.Errorf("failed to save token registry: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: jti %s", ErrNotFound, jti)
}

// GetByJTI returns the row for a pair id.
func (reg *Registry) GetByJTI(jti string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Tokens {
		if doc.Tokens[i].JTI == jti {
			out := doc.Tokens[i]
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: jti %s", ErrNotFound, jti)
}

// ListForClient returns every row owned by the client, revoked rows
// included.
func (reg *Registry) ListForClient(clientID string) ([]Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range doc.Tokens {
		if rec.ClientID == clientID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ReplaceAccess swaps the pair's stored access digest after a refresh
// so the new access token keeps validating against the same row.
func (reg *Registry) ReplaceAccess(jti, newAccessToken string, newExpiry time.Time) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return err
	}
	for i := range doc.Tokens {
		if doc.Tokens[i].JTI != jti {
			continue
		}
		if doc.Tokens[i].Revoked {
			return fmt.Errorf("%w: jti %s", ErrRevoked, jti)
		}
		doc.Tokens[i].AccessHash = hash.Token(newAccessToken)
		doc.Tokens[i].AccessExpiresAt = newExpiry
		if err := reg.store.Save(doc); err != nil {
			return fmt.Errorf("failed to save token registry: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: jti %s", ErrNotFound, jti)
}

// CleanupExpired drops rows whose refresh expiry has passed and stamps
// last_cleanup. Returns the number of rows removed.
func (reg *Registry) CleanupExpired() (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	kept := doc.Tokens[:0]
	for _, rec := range doc.Tokens {
		if rec.RefreshExpiresAt.After(now) {
			kept = append(kept, rec)
		}
	}
	removed := len(doc.Tokens) - len(kept)
	doc.Tokens = kept
	doc.LastCleanup = &now
	if err := reg.store.Save(doc); err != nil {
		return 0, fmt.Errorf("failed to save token registry: %w", err)
	}
	return removed, nil
}

// Count returns the number of rows currently in the registry.
func (reg *Registry) Count() (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	doc, err := reg.load()
	if err != nil {
		return 0, err
	}
	return len(doc.Tokens), nil
}
