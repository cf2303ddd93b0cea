// Package toolkit provides the built-in tools the serve command
// registers: demo tools, jailed file access, the persistent variable
// bag, whitelisted commands, sandboxed code execution, and sandbox
// statistics. Each tool is an ordinary descriptor; nothing here is
// special-cased by the execution pipeline.
package toolkit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"toolgate/internal/engine"
	"toolgate/internal/observability"
	"toolgate/internal/permission"
	"toolgate/internal/runner"
	"toolgate/internal/sandbox"
	"toolgate/internal/schema"
	"toolgate/internal/tools"
)

// Deps carries the components the built-in tools execute against.
// Metrics may be nil.
type Deps struct {
	Dirs         *sandbox.Dirs
	Contexts     *sandbox.Contexts
	Quotas       *sandbox.QuotaManager
	Executor     *runner.Executor
	Permissions  *permission.Engine
	Orchestrator *engine.Orchestrator
	Metrics      *observability.Metrics

	// MemoryMB is charged against the caller's quota per execute_code
	// worker.
	MemoryMB int

	Logger *zap.SugaredLogger
}

type kit struct {
	deps Deps
}

// Register installs every built-in tool into the registry.
func Register(reg *tools.Registry, deps Deps) error {
	k := &kit{deps: deps}
	for _, d := range []*tools.Descriptor{
		k.greet(),
		k.echo(),
		k.readFile(),
		k.writeFile(),
		k.deleteFile(),
		k.listFiles(),
		k.setVariable(),
		k.getVariable(),
		k.listVariables(),
		k.deleteVariable(),
		k.runCommand(),
		k.executeCode(),
		k.sandboxStats(),
	} {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("failed to register built-in tool: %w", err)
		}
	}
	return nil
}

func (k *kit) greet() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "greet",
		Description: "Greets the named caller",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"name":   {Type: "string", Description: "Who to greet"},
			"formal": {Type: "boolean", Description: "Use a formal greeting"},
		}, "name"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"greeting": {Type: "string"},
		}},
		Handler: func(_ context.Context, _ tools.Caller, params map[string]any) (any, error) {
			name, _ := params["name"].(string)
			formal, _ := params["formal"].(bool)
			greeting := fmt.Sprintf("Hello, %s!", name)
			if formal {
				greeting = fmt.Sprintf("Good day, %s. It is a pleasure to meet you.", name)
			}
			return map[string]any{"greeting": greeting}, nil
		},
	}
}

func (k *kit) echo() *tools.Descriptor {
	return &tools.Descriptor{
		Name:         "echo",
		Description:  "Returns the message unchanged",
		InputSchema:  schema.NewInput(nil, "message"),
		OutputSchema: schema.Output{Type: "object"},
		Handler: func(_ context.Context, _ tools.Caller, params map[string]any) (any, error) {
			return map[string]any{"echo": params["message"]}, nil
		},
	}
}

// sandboxStats reports the caller's context, quota usage, and the
// process-wide execution counters.
func (k *kit) sandboxStats() *tools.Descriptor {
	return &tools.Descriptor{
		Name:         "sandbox_stats",
		Description:  "Reports sandbox context, quota usage, and execution statistics",
		InputSchema:  schema.NewInput(nil),
		OutputSchema: schema.Output{Type: "object"},
		Handler: func(_ context.Context, caller tools.Caller, _ map[string]any) (any, error) {
			sbx, err := k.deps.Contexts.Get(caller.ClientID)
			if err != nil {
				return nil, err
			}
			usage := k.deps.Quotas.UsageFor(caller.ClientID)
			quotas := k.deps.Quotas.QuotasFor(caller.ClientID)
			return map[string]any{
				"sandbox": sbx.Stats(),
				"quota": map[string]any{
					"memory_used_mb":  usage.MemoryMB,
					"memory_quota_mb": quotas.MemoryMB,
					"processes":       usage.Processes,
					"max_processes":   quotas.Processes,
					"violations":      k.deps.Quotas.Violations(caller.ClientID),
				},
				"execution": k.deps.Orchestrator.Stats(),
			}, nil
		},
	}
}
