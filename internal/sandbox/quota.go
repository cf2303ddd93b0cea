package sandbox

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrQuota is returned by Check when an allocation would exceed the
// client's ceiling.
var ErrQuota = errors.New("quota exceeded")

// Quotas is the per-client resource ceiling.
type Quotas struct {
	CPUPercent float64
	MemoryMB   int
	DiskGB     int
	Processes  int
}

// DefaultQuotas returns the ceiling applied to clients without an
// explicit assignment.
func DefaultQuotas() Quotas {
	return Quotas{CPUPercent: 50, MemoryMB: 512, DiskGB: 1, Processes: 5}
}

// Usage tracks a client's live consumption.
type Usage struct {
	MemoryMB  int
	Processes int
}

// Requirement estimates what one subprocess needs before it may start.
type Requirement struct {
	MemoryMB int
}

// QuotaManager enforces per-client ceilings on subprocess resources.
// Usage is tracked in memory only; a restart starts every client at
// zero.
type QuotaManager struct {
	mu         sync.Mutex
	defaults   Quotas
	quotas     map[string]Quotas
	usage      map[string]*Usage
	violations map[string]int
	logger     *zap.SugaredLogger
}

// NewQuotaManager builds a manager handing defaults to every client
// that has no explicit quota assignment.
func NewQuotaManager(defaults Quotas, logger *zap.SugaredLogger) *QuotaManager {
	if defaults.MemoryMB <= 0 {
		defaults = DefaultQuotas()
	}
	return &QuotaManager{
		defaults:   defaults,
		quotas:     make(map[string]Quotas),
		usage:      make(map[string]*Usage),
		violations: make(map[string]int),
		logger:     logger,
	}
}

// SetQuotas overrides the ceiling for one client.
func (q *QuotaManager) SetQuotas(clientID string, quotas Quotas) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quotas[clientID] = quotas
}

// QuotasFor returns the client's effective ceiling.
func (q *QuotaManager) QuotasFor(clientID string) Quotas {
	q.mu.Lock()
	defer q.mu.Unlock()
	if quotas, ok := q.quotas[clientID]; ok {
		return quotas
	}
	return q.defaults
}

// UsageFor returns a snapshot of the client's live usage.
func (q *QuotaManager) UsageFor(clientID string) Usage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.usageLocked(clientID)
}

func (q *QuotaManager) usageLocked(clientID string) *Usage {
	u, ok := q.usage[clientID]
	if !ok {
		u = &Usage{}
		q.usage[clientID] = u
	}
	return u
}

func (q *QuotaManager) quotasLocked(clientID string) Quotas {
	if quotas, ok := q.quotas[clientID]; ok {
		return quotas
	}
	return q.defaults
}

// Check reports whether the client may start a subprocess with the
// given requirement. override grants the request unconditionally.
// Denials name the exceeded resource and count as a violation.
func (q *QuotaManager) Check(clientID string, req Requirement, override bool) error {
	if override {
		if q.logger != nil {
			q.logger.Debugw("quota check skipped", "client_id", clientID, "reason", "override")
		}
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	quotas := q.quotasLocked(clientID)
	usage := q.usageLocked(clientID)

	if usage.MemoryMB+req.MemoryMB > quotas.MemoryMB {
		q.violations[clientID]++
		return fmt.Errorf("%w: memory: current %dMB + required %dMB > quota %dMB",
			ErrQuota, usage.MemoryMB, req.MemoryMB, quotas.MemoryMB)
	}
	if usage.Processes >= quotas.Processes {
		q.violations[clientID]++
		return fmt.Errorf("%w: processes: %d running >= quota %d",
			ErrQuota, usage.Processes, quotas.Processes)
	}
	return nil
}

// Allocate charges the requirement to the client for one subprocess.
func (q *QuotaManager) Allocate(clientID string, pid int, req Requirement) {
	q.mu.Lock()
	defer q.mu.Unlock()

	usage := q.usageLocked(clientID)
	usage.MemoryMB += req.MemoryMB
	usage.Processes++
	if q.logger != nil {
		q.logger.Debugw("resources allocated",
			"client_id", clientID, "pid", pid, "memory_mb", req.MemoryMB)
	}
}

// Release returns the requirement to the pool, clamped at zero so a
// double release cannot drive usage negative.
func (q *QuotaManager) Release(clientID string, pid int, req Requirement) {
	q.mu.Lock()
	defer q.mu.Unlock()

	usage := q.usageLocked(clientID)
	if usage.Processes > 0 {
		usage.Processes--
	}
	usage.MemoryMB -= req.MemoryMB
	if usage.MemoryMB < 0 {
		usage.MemoryMB = 0
	}
	if q.logger != nil {
		q.logger.Debugw("resources released", "client_id", clientID, "pid", pid)
	}
}

// Violations returns how many quota denials the client has collected.
func (q *QuotaManager) Violations(clientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.violations[clientID]
}
