package sandbox

import (
	"sync"
	"time"
)

// Context is one client's in-memory execution state: the variable bag,
// an execution counter, and activity timestamps. Variables mirror what
// the state store persists; the counter and timestamps are runtime
// only.
type Context struct {
	mu           sync.Mutex
	clientID     string
	workingDir   string
	variables    map[string]any
	executions   int
	createdAt    time.Time
	lastActivity time.Time
}

// ClientID returns the owning client.
func (c *Context) ClientID() string { return c.clientID }

// WorkingDir returns the jail the context operates in.
func (c *Context) WorkingDir() string { return c.workingDir }

// SetVariable stores a named value. Values persist across tool calls
// for the life of the context.
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
	c.lastActivity = time.Now().UTC()
}

// GetVariable returns the named value and whether it exists.
func (c *Context) GetVariable(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variables[name]
	return v, ok
}

// DeleteVariable removes a named value; it reports whether one existed.
func (c *Context) DeleteVariable(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.variables[name]
	if ok {
		delete(c.variables, name)
		c.lastActivity = time.Now().UTC()
	}
	return ok
}

// Variables returns a copy of the bag.
func (c *Context) Variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// ReplaceVariables swaps the whole bag, used when loading persisted
// state.
func (c *Context) ReplaceVariables(vars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables = make(map[string]any, len(vars))
	for k, v := range vars {
		c.variables[k] = v
	}
	c.lastActivity = time.Now().UTC()
}

// IncrementExecutions bumps and returns the execution counter.
func (c *Context) IncrementExecutions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions++
	c.lastActivity = time.Now().UTC()
	return c.executions
}

// Stats describes a context for the sandbox_stats tool.
type Stats struct {
	ClientID      string    `json:"client_id"`
	WorkingDir    string    `json:"working_dir"`
	VariableCount int       `json:"variable_count"`
	Executions    int       `json:"execution_count"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	IdleSeconds   float64   `json:"idle_seconds"`
}

// Stats snapshots the context.
func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	return Stats{
		ClientID:      c.clientID,
		WorkingDir:    c.workingDir,
		VariableCount: len(c.variables),
		Executions:    c.executions,
		CreatedAt:     c.createdAt,
		LastActivity:  c.lastActivity,
		UptimeSeconds: now.Sub(c.createdAt).Seconds(),
		IdleSeconds:   now.Sub(c.lastActivity).Seconds(),
	}
}

// Contexts hands out one Context per client, created lazily. On first
// use the persisted variable bag is loaded from the state store.
type Contexts struct {
	mu       sync.Mutex
	contexts map[string]*Context
	dirs     *Dirs
	state    *StateStore
}

// NewContexts builds the manager. state may be nil, in which case
// contexts start empty and are never persisted here.
func NewContexts(dirs *Dirs, state *StateStore) *Contexts {
	return &Contexts{contexts: make(map[string]*Context), dirs: dirs, state: state}
}

// Get returns the client's context, creating and hydrating it on first
// use.
func (m *Contexts) Get(clientID string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx, ok := m.contexts[clientID]; ok {
		return ctx, nil
	}
	jail, err := m.dirs.Jail(clientID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ctx := &Context{
		clientID:     clientID,
		workingDir:   jail,
		variables:    map[string]any{},
		createdAt:    now,
		lastActivity: now,
	}
	if m.state != nil {
		vars, err := m.state.Load(clientID)
		if err != nil {
			return nil, err
		}
		ctx.variables = vars
	}
	m.contexts[clientID] = ctx
	return ctx, nil
}

// Persist writes the context's variable bag through the state store.
func (m *Contexts) Persist(clientID string) error {
	m.mu.Lock()
	ctx, ok := m.contexts[clientID]
	m.mu.Unlock()
	if !ok || m.state == nil {
		return nil
	}
	return m.state.Save(clientID, ctx.Variables())
}

// Drop forgets the client's in-memory context. Persisted state is left
// alone.
func (m *Contexts) Drop(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, clientID)
}

// Active returns the ids of clients with a live context.
func (m *Contexts) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	return ids
}
