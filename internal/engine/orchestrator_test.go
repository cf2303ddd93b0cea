package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/audit"
	"toolgate/internal/permission"
	"toolgate/internal/sandbox"
	"toolgate/internal/schema"
	"toolgate/internal/tools"
)

type harness struct {
	orch     *Orchestrator
	perms    *permission.Engine
	quotas   *sandbox.QuotaManager
	auditLog *audit.Log
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()

	auditLog := audit.NewLog(filepath.Join(t.TempDir(), "audit.json"), logger)
	dirs, err := sandbox.NewDirs(t.TempDir(), auditLog, logger)
	require.NoError(t, err)

	perms := permission.NewEngine(logger)
	quotas := sandbox.NewQuotaManager(sandbox.DefaultQuotas(), logger)
	contexts := sandbox.NewContexts(dirs, sandbox.NewStateStore(dirs))

	orch := NewOrchestrator(Deps{
		Permissions: perms,
		Contexts:    contexts,
		Quotas:      quotas,
		Audit:       auditLog,
	}, 30*time.Second, logger)

	return &harness{orch: orch, perms: perms, quotas: quotas, auditLog: auditLog}
}

func caller() tools.Caller {
	return tools.Caller{ClientID: "client-1", Username: "alice"}
}

func echoTool() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "echo",
		Description: "returns its message",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"message": {Type: "string"},
		}, "message"),
		Handler: func(_ context.Context, _ tools.Caller, params map[string]any) (any, error) {
			return params["message"], nil
		},
	}
}

func TestExecute_SuccessShapesResult(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Execute(context.Background(), echoTool(), caller(), map[string]any{"message": "hello"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	assert.Equal(t, "hello", res.Content[0].Text)
	assert.False(t, res.IsError)

	entries, err := h.auditLog.Query(audit.Filter{EventType: audit.EventToolExecuted})
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one audit entry per successful call")
	assert.Equal(t, StatusSuccess, entries[0].Status)
	assert.Equal(t, "client-1", entries[0].ClientID)
}

func TestExecute_NonStringResultsAreJSON(t *testing.T) {
	h := newHarness(t)
	tool := &tools.Descriptor{
		Name: "calc",
		Handler: func(context.Context, tools.Caller, map[string]any) (any, error) {
			return map[string]any{"sum": 3}, nil
		},
	}

	res, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":3}`, res.Content[0].Text)
}

func TestExecute_ValidationFailureIsAudited(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Execute(context.Background(), echoTool(), caller(), map[string]any{})

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "message")

	entries, qerr := h.auditLog.Query(audit.Filter{EventType: audit.EventToolExecuted})
	require.NoError(t, qerr)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusValidationError, entries[0].Status)
}

func TestExecute_DeniedBeforeHandlerRuns(t *testing.T) {
	h := newHarness(t)
	ran := false
	tool := &tools.Descriptor{
		Name:        "write_file",
		Permissions: []permission.Permission{{Type: permission.TypeFileWrite, Resource: "*"}},
		Handler: func(context.Context, tools.Caller, map[string]any) (any, error) {
			ran = true
			return "written", nil
		},
	}

	_, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	require.ErrorIs(t, err, permission.ErrDenied)
	assert.False(t, ran, "denied calls must not reach the handler")

	entries, qerr := h.auditLog.Query(audit.Filter{EventType: audit.EventPermissionDenied})
	require.NoError(t, qerr)
	require.Len(t, entries, 1, "one permission_denied row per denial")
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "file-write:*", entries[0].Details["required_permission"])

	// Granting the capability flips the outcome.
	h.perms.Grant("client-1", permission.Permission{Type: permission.TypeFileWrite})
	res, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	require.NoError(t, err)
	assert.Equal(t, "written", res.Content[0].Text)
}

func TestExecute_HandlerDenialAuditedAsPermissionDenied(t *testing.T) {
	h := newHarness(t)
	tool := &tools.Descriptor{
		Name: "run_command",
		Handler: func(context.Context, tools.Caller, map[string]any) (any, error) {
			return nil, &permission.DeniedError{Required: permission.Permission{
				Type: permission.TypeSystemCommand, Resource: "rm",
			}}
		},
	}

	_, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	require.ErrorIs(t, err, permission.ErrDenied)

	entries, qerr := h.auditLog.Query(audit.Filter{EventType: audit.EventPermissionDenied})
	require.NoError(t, qerr)
	require.Len(t, entries, 1)
	assert.Equal(t, "system-command:rm", entries[0].Details["required_permission"])
	assert.Equal(t, "run_command", entries[0].Details["resource"])
}

func TestExecute_TimeoutBoundsSleepingHandler(t *testing.T) {
	h := newHarness(t)
	tool := &tools.Descriptor{
		Name:    "slow",
		Timeout: 100 * time.Millisecond,
		Handler: func(context.Context, tools.Caller, map[string]any) (any, error) {
			time.Sleep(5 * time.Second) // ignores ctx on purpose
			return "done", nil
		},
	}

	start := time.Now()
	_, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 1*time.Second, "the deadline cuts the call, not the sleep")

	entries, qerr := h.auditLog.Query(audit.Filter{EventType: audit.EventToolExecuted})
	require.NoError(t, qerr)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusTimeout, entries[0].Status)
}

func TestExecute_QuotaDeniesAndReleases(t *testing.T) {
	h := newHarness(t)
	h.quotas.SetQuotas("client-1", sandbox.Quotas{MemoryMB: 100, Processes: 5})

	tool := &tools.Descriptor{
		Name:        "execute_code",
		Requirement: &sandbox.Requirement{MemoryMB: 128},
		Handler: func(context.Context, tools.Caller, map[string]any) (any, error) {
			return "ok", nil
		},
	}

	_, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	require.ErrorIs(t, err, sandbox.ErrQuota)
	assert.Equal(t, 1, h.quotas.Violations("client-1"))

	// QUOTA_OVERRIDE bypasses the ceiling entirely.
	h.perms.Grant("client-1", permission.Permission{Type: permission.TypeQuotaOverride})
	_, err = h.orch.Execute(context.Background(), tool, caller(), nil)
	require.NoError(t, err)

	// The charge is released on exit either way.
	usage := h.quotas.UsageFor("client-1")
	assert.Zero(t, usage.MemoryMB)
	assert.Zero(t, usage.Processes)
}

func TestExecute_HandlerErrorKeepsClass(t *testing.T) {
	h := newHarness(t)
	tool := &tools.Descriptor{
		Name: "crasher",
		Handler: func(context.Context, tools.Caller, map[string]any) (any, error) {
			return nil, errors.New("disk on fire")
		},
	}

	_, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	require.EqualError(t, err, "disk on fire")

	entries, qerr := h.auditLog.Query(audit.Filter{EventType: audit.EventToolExecuted})
	require.NoError(t, qerr)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusError, entries[0].Status)
	assert.Equal(t, "disk on fire", entries[0].Error)
}

func TestExecute_HandlerPanicBecomesCrash(t *testing.T) {
	h := newHarness(t)
	tool := &tools.Descriptor{
		Name: "panicky",
		Handler: func(context.Context, tools.Caller, map[string]any) (any, error) {
			panic("nope")
		},
	}

	_, err := h.orch.Execute(context.Background(), tool, caller(), nil)
	require.ErrorIs(t, err, ErrCrashed)
}

func TestStats_Aggregates(t *testing.T) {
	h := newHarness(t)
	tool := echoTool()

	for i := 0; i < 2; i++ {
		_, err := h.orch.Execute(context.Background(), tool, caller(), map[string]any{"message": "hi"})
		require.NoError(t, err)
	}
	_, err := h.orch.Execute(context.Background(), tool, caller(), map[string]any{})
	require.Error(t, err)

	stats := h.orch.Stats()
	assert.Equal(t, 3, stats.TotalExecutions)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
}

func TestStats_EmptyIsZero(t *testing.T) {
	h := newHarness(t)
	stats := h.orch.Stats()
	assert.Zero(t, stats.TotalExecutions)
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.AvgDurationMS)
}
