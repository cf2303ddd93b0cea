package sandbox

import (
	"fmt"
	"path/filepath"
	"sync"

	"toolgate/internal/jsonstore"
)

const stateFileName = "state.json"

// StateStore persists each client's variable bag as state.json inside
// the client's jail, so variables survive restarts alongside the files
// they describe.
type StateStore struct {
	mu   sync.Mutex
	dirs *Dirs
}

// NewStateStore builds a store writing into the jails managed by dirs.
func NewStateStore(dirs *Dirs) *StateStore {
	return &StateStore{dirs: dirs}
}

func (s *StateStore) store(clientID string) (*jsonstore.Store, error) {
	jail, err := s.dirs.Jail(clientID)
	if err != nil {
		return nil, err
	}
	return jsonstore.New(filepath.Join(jail, stateFileName)), nil
}

// Load returns the client's saved variables. A missing file loads as
// an empty map.
func (s *StateStore) Load(clientID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store(clientID)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{}
	if err := st.Load(&vars); err != nil {
		return nil, fmt.Errorf("failed to load sandbox state: %w", err)
	}
	return vars, nil
}

// Save writes the client's variables.
func (s *StateStore) Save(clientID string, vars map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store(clientID)
	if err != nil {
		return err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	if err := st.Save(vars); err != nil {
		return fmt.Errorf("failed to save sandbox state: %w", err)
	}
	return nil
}

// Clear forgets the client's saved variables.
func (s *StateStore) Clear(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store(clientID)
	if err != nil {
		return err
	}
	if err := st.Remove(); err != nil {
		return fmt.Errorf("failed to clear sandbox state: %w", err)
	}
	return nil
}
