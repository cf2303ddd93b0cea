package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the on-disk bootstrap document seeding per-client grants at
// startup and edited by the CLI grant commands.
type Policy struct {
	Clients []PolicyEntry `yaml:"clients"`
}

// PolicyEntry binds a grant list to one client id.
type PolicyEntry struct {
	ClientID    string       `yaml:"client_id"`
	Permissions []Permission `yaml:"permissions"`
}

// LoadPolicy reads and validates a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	for _, entry := range p.Clients {
		if entry.ClientID == "" {
			return nil, fmt.Errorf("policy file %s: entry without client_id", path)
		}
		for _, perm := range entry.Permissions {
			if !ValidType(perm.Type) {
				return nil, fmt.Errorf("policy file %s: unknown permission type %q for client %s", path, perm.Type, entry.ClientID)
			}
		}
	}
	return &p, nil
}

// SavePolicy writes the policy document, owner read-write only.
func SavePolicy(path string, p *Policy) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write policy file %s: %w", path, err)
	}
	return nil
}

// Apply installs every policy entry into the engine. Clients named by the
// policy get exactly the listed grants instead of the defaults.
func (e *Engine) Apply(p *Policy) {
	for _, entry := range p.Clients {
		e.InitializeClient(entry.ClientID, entry.Permissions)
	}
}
