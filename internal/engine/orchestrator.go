// Package engine drives one tool call end to end: validate the params,
// check every required permission, charge the sandbox quota, run the
// handler under its deadline, and journal the outcome before the caller
// sees a reply.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"toolgate/internal/audit"
	"toolgate/internal/observability"
	"toolgate/internal/permission"
	"toolgate/internal/sandbox"
	"toolgate/internal/schema"
	"toolgate/internal/storage"
	"toolgate/internal/tools"
)

// Failure classes that must survive the trip back to the transport.
// Handlers wrap these so errors.Is classification works end to end.
var (
	// ErrTimeout marks a handler that exceeded its deadline.
	ErrTimeout = errors.New("execution timed out")
	// ErrCrashed marks a worker subprocess that died without producing a
	// result envelope.
	ErrCrashed = errors.New("execution crashed")
)

// Execution statuses recorded in the audit journal and activity store.
const (
	StatusSuccess          = "success"
	StatusValidationError  = "validation_error"
	StatusPermissionDenied = "permission_denied"
	StatusTimeout          = "timeout"
	StatusError            = "error"
)

// Content is one block of a tool reply.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the wire shape of a completed call.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Stats aggregates every Execute since process start. Counters live in
// memory only; the durable record is the activity store.
type Stats struct {
	TotalExecutions int     `json:"total_executions"`
	SuccessCount    int     `json:"success_count"`
	ErrorCount      int     `json:"error_count"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMS   float64 `json:"avg_execution_time_ms"`
}

// Deps carries the collaborators the orchestrator drives. Activity,
// Metrics, and Tracing may be nil; the rest are required.
type Deps struct {
	Permissions *permission.Engine
	Contexts    *sandbox.Contexts
	Quotas      *sandbox.QuotaManager
	Audit       *audit.Log
	Activity    *storage.Store
	Metrics     *observability.Metrics
	Tracing     *observability.Tracing
}

// Orchestrator executes tools on behalf of authenticated callers.
type Orchestrator struct {
	deps           Deps
	defaultTimeout time.Duration
	logger         *zap.SugaredLogger

	mu        sync.Mutex
	total     int
	success   int
	elapsedMS int64
}

// NewOrchestrator wires the pipeline. defaultTimeout bounds tools that do
// not declare their own.
func NewOrchestrator(deps Deps, defaultTimeout time.Duration, logger *zap.SugaredLogger) *Orchestrator {
	if defaultTimeout <= 0 {
		defaultTimeout = tools.DefaultTimeout
	}
	return &Orchestrator{
		deps:           deps,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Execute runs one tool call through the full pipeline. The returned error
// keeps its failure class (validation, denial, timeout, quota, crash) so the
// transport can translate it; every exit has already been audited when
// Execute returns.
func (o *Orchestrator) Execute(ctx context.Context, tool *tools.Descriptor, caller tools.Caller, params map[string]any) (*Result, error) {
	start := time.Now()
	if params == nil {
		params = map[string]any{}
	}

	ctx, span := o.startSpan(ctx, caller.ClientID, tool.Name)
	defer span.End()

	o.logger.Infow("executing tool", "tool", tool.Name, "client_id", caller.ClientID)

	// Step 1: validate parameters.
	if err := tool.InputSchema.Validate(params); err != nil {
		return nil, o.fail(ctx, caller, tool.Name, params, start, err)
	}

	// Step 2: check required permissions before anything touches the sandbox.
	for _, required := range tool.Permissions {
		if err := o.deps.Permissions.Check(caller.ClientID, required); err != nil {
			return nil, o.fail(ctx, caller, tool.Name, params, start, err)
		}
	}

	// Step 3: acquire the sandbox context. Failure here is an internal
	// fault, not a client mistake.
	sbx, err := o.deps.Contexts.Get(caller.ClientID)
	if err != nil {
		return nil, o.fail(ctx, caller, tool.Name, params, start, fmt.Errorf("sandbox context: %w", err))
	}
	sbx.IncrementExecutions()

	// Step 4: charge the quota for tools that spawn workers. Release is
	// deferred so every exit below returns the charge.
	if tool.Requirement != nil {
		req := *tool.Requirement
		override := o.deps.Permissions.Has(caller.ClientID, permission.Permission{Type: permission.TypeQuotaOverride})
		if err := o.deps.Quotas.Check(caller.ClientID, req, override); err != nil {
			if o.deps.Metrics != nil {
				o.deps.Metrics.RecordQuotaViolation()
			}
			return nil, o.fail(ctx, caller, tool.Name, params, start, err)
		}
		o.deps.Quotas.Allocate(caller.ClientID, 0, req)
		defer o.deps.Quotas.Release(caller.ClientID, 0, req)
	}

	// Step 5: run the handler under its deadline.
	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	value, err := o.run(ctx, tool, caller, params, timeout)
	if err != nil {
		return nil, o.fail(ctx, caller, tool.Name, params, start, err)
	}

	// Step 6: shape and journal the success.
	text := stringify(value)
	ms := time.Since(start).Milliseconds()
	if auditErr := o.deps.Audit.ToolExecuted(caller.ClientID, caller.Username, tool.Name, StatusSuccess, ms, params, text, ""); auditErr != nil {
		o.logger.Errorw("audit append failed", "tool", tool.Name, "error", auditErr)
	}
	o.journal(caller, tool.Name, StatusSuccess, ms, "")
	o.bump(true, ms)

	o.logger.Infow("tool executed", "tool", tool.Name, "client_id", caller.ClientID, "duration_ms", ms)

	return &Result{
		Content: []Content{{Type: "text", Text: text}},
		IsError: false,
	}, nil
}

// run invokes the handler on its own goroutine so a handler that ignores
// its context still cannot hold the pipeline past the deadline.
func (o *Orchestrator) run(ctx context.Context, tool *tools.Descriptor, caller tools.Caller, params map[string]any, timeout time.Duration) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: handler panic: %v", ErrCrashed, r)}
			}
		}()
		value, err := tool.Handler(runCtx, caller, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %gs", ErrTimeout, timeout.Seconds())
		}
		return nil, runCtx.Err()
	}
}

// fail classifies err, writes the journal entries, and hands err back for
// the transport to translate. The audit append happens here, before any
// reply can be built.
func (o *Orchestrator) fail(ctx context.Context, caller tools.Caller, toolName string, params map[string]any, start time.Time, err error) error {
	status := classify(err)
	ms := time.Since(start).Milliseconds()

	var auditErr error
	if status == StatusPermissionDenied {
		auditErr = o.deps.Audit.PermissionDenied(caller.ClientID, caller.Username, deniedCapability(err), toolName)
	} else {
		auditErr = o.deps.Audit.ToolExecuted(caller.ClientID, caller.Username, toolName, status, ms, params, "", err.Error())
	}
	if auditErr != nil {
		o.logger.Errorw("audit append failed", "tool", toolName, "error", auditErr)
	}

	o.journal(caller, toolName, status, ms, err.Error())
	o.bump(false, ms)

	if o.deps.Tracing != nil {
		o.deps.Tracing.SetSpanError(ctx, err)
	}

	o.logger.Warnw("tool execution failed",
		"tool", toolName, "client_id", caller.ClientID, "status", status, "error", err)

	return err
}

// classify maps an execution error onto its journal status.
func classify(err error) string {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		return StatusValidationError
	case errors.Is(err, permission.ErrDenied):
		return StatusPermissionDenied
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	default:
		return StatusError
	}
}

// deniedCapability names the missing grant for the audit row.
func deniedCapability(err error) string {
	var denied *permission.DeniedError
	if errors.As(err, &denied) {
		return denied.Required.String()
	}
	return err.Error()
}

// journal records the activity row and Prometheus counters for one exit.
func (o *Orchestrator) journal(caller tools.Caller, toolName, status string, ms int64, errMsg string) {
	if o.deps.Activity != nil {
		rec := &storage.Record{
			ClientID:   caller.ClientID,
			Username:   caller.Username,
			Tool:       toolName,
			Status:     status,
			DurationMS: ms,
			Error:      errMsg,
		}
		if err := o.deps.Activity.Append(rec); err != nil {
			o.logger.Errorw("activity append failed", "tool", toolName, "error", err)
		}
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordToolCall(toolName, status, time.Duration(ms)*time.Millisecond)
	}
}

// bump folds one exit into the in-memory stats.
func (o *Orchestrator) bump(succeeded bool, ms int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total++
	if succeeded {
		o.success++
	}
	o.elapsedMS += ms
}

// Stats returns the aggregate execution counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		TotalExecutions: o.total,
		SuccessCount:    o.success,
		ErrorCount:      o.total - o.success,
	}
	if o.total > 0 {
		s.SuccessRate = float64(o.success) / float64(o.total)
		s.AvgDurationMS = float64(o.elapsedMS) / float64(o.total)
	}
	return s
}

func (o *Orchestrator) startSpan(ctx context.Context, clientID, toolName string) (context.Context, oteltrace.Span) {
	if o.deps.Tracing == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return o.deps.Tracing.TraceToolCall(ctx, clientID, toolName)
}

// stringify renders a handler value for the text content block: strings
// pass through verbatim, everything else goes through JSON.
func stringify(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
