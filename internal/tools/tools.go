// Package tools holds the registry of executable tools. A tool is a
// named handler with a parameter schema, the permissions a caller must
// hold, and an optional resource requirement for the sandbox quota
// check. The registry only stores and lists; validation, authorization,
// and execution belong to the orchestrator.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/permission"
	"toolgate/internal/sandbox"
	"toolgate/internal/schema"
)

var (
	// ErrExists is returned when a tool name is already taken.
	ErrExists = errors.New("tool already registered")
	// ErrNotFound is returned when no tool matches the name.
	ErrNotFound = errors.New("tool not found")
)

// DefaultTimeout bounds handlers that do not declare their own.
const DefaultTimeout = 30 * time.Second

// Caller identifies the authenticated client a tool runs on behalf of.
type Caller struct {
	ClientID string
	Username string
	Roles    []string
}

// Handler executes the tool. Params arrive already validated against
// the input schema; ctx carries the execution deadline.
type Handler func(ctx context.Context, caller Caller, params map[string]any) (any, error)

// Descriptor declares one tool.
type Descriptor struct {
	Name         string
	Description  string
	InputSchema  schema.Input
	OutputSchema schema.Output
	Permissions  []permission.Permission
	Requirement  *sandbox.Requirement
	Timeout      time.Duration
	Handler      Handler
}

// EffectiveTimeout returns the declared timeout or DefaultTimeout.
func (d *Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Info is the public descriptor shape served by tools/list.
type Info struct {
	Name         string                  `json:"name"`
	Description  string                  `json:"description"`
	InputSchema  schema.Input            `json:"inputSchema"`
	OutputSchema schema.Output           `json:"outputSchema"`
	Permissions  []permission.Permission `json:"permissions"`
}

// Info returns the descriptor's public view.
func (d *Descriptor) Info() Info {
	perms := d.Permissions
	if perms == nil {
		perms = []permission.Permission{}
	}
	return Info{
		Name:         d.Name,
		Description:  d.Description,
		InputSchema:  d.InputSchema,
		OutputSchema: d.OutputSchema,
		Permissions:  perms,
	}
}

// Registry stores tools by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Descriptor
	logger *zap.SugaredLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{tools: make(map[string]*Descriptor), logger: logger}
}

// Register adds a tool. Names are unique; a nameless or handlerless
// descriptor is refused outright.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return errors.New("tool must have a name")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s must have a handler", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, d.Name)
	}
	r.tools[d.Name] = d
	if r.logger != nil {
		r.logger.Infow("tool registered", "tool", d.Name)
	}
	return nil
}

// Unregister removes a tool; removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		if r.logger != nil {
			r.logger.Infow("tool unregistered", "tool", name)
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// Exists reports whether the name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns every descriptor sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// InfoForClient returns the public descriptors visible to the client.
// Today every client sees the full list; the signature reserves
// per-client filtering.
func (r *Registry) InfoForClient(clientID string) []Info {
	list := r.List()
	out := make([]Info, 0, len(list))
	for _, d := range list {
		out = append(out, d.Info())
	}
	return out
}
