package toolkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"toolgate/internal/engine"
	"toolgate/internal/permission"
	"toolgate/internal/sandbox"
	"toolgate/internal/schema"
	"toolgate/internal/tools"
)

// runCommand executes a whitelisted system command inside the caller's
// jail. Which commands a caller may run depends on its grants, so the
// descriptor declares no static permission; the handler checks the
// concrete command and surfaces the missing capability itself.
func (k *kit) runCommand() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "run_command",
		Description: "Runs a whitelisted system command in the caller's working directory",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"command": {Type: "string", Description: "Command name"},
			"args":    {Type: "array", Description: "Command arguments"},
		}, "command"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"stdout":    {Type: "string"},
			"stderr":    {Type: "string"},
			"exit_code": {Type: "integer"},
		}},
		Handler: func(ctx context.Context, caller tools.Caller, params map[string]any) (any, error) {
			name, _ := params["command"].(string)
			required := permission.Permission{Type: permission.TypeSystemCommand, Resource: name}
			if !k.deps.Permissions.Has(caller.ClientID, required) {
				return nil, &permission.DeniedError{Required: required}
			}

			var args []string
			if raw, ok := params["args"].([]any); ok {
				for _, item := range raw {
					s, ok := item.(string)
					if !ok {
						return nil, fmt.Errorf("command arguments must be strings, got %T", item)
					}
					args = append(args, s)
				}
			}

			jail, err := k.deps.Dirs.Jail(caller.ClientID)
			if err != nil {
				return nil, err
			}
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Dir = jail
			cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + jail}
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			// A non-zero exit is a result, not a failure; the caller gets
			// the code alongside the captured output.
			exitCode := 0
			if err := cmd.Run(); err != nil {
				var exitErr *exec.ExitError
				if !errors.As(err, &exitErr) {
					return nil, fmt.Errorf("failed to run %s: %w", name, err)
				}
				exitCode = exitErr.ExitCode()
			}
			return map[string]any{
				"stdout":    stdout.String(),
				"stderr":    stderr.String(),
				"exit_code": exitCode,
			}, nil
		},
	}
}

// executeCode runs a code string in an isolated worker process seeded
// with the caller's variable bag. On success the bag is replaced with
// whatever the worker returned and persisted.
func (k *kit) executeCode() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "execute_code",
		Description: "Executes code in an isolated worker seeded with the caller's variables",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"code": {Type: "string", Description: "Code to evaluate"},
		}, "code"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"stdout":      {Type: "string"},
			"duration_ms": {Type: "integer"},
		}},
		Permissions: []permission.Permission{{Type: permission.TypeCodeExec, Resource: "restricted"}},
		Requirement: &sandbox.Requirement{MemoryMB: k.deps.MemoryMB},
		// The runner enforces its own limit and reports a timeout result;
		// the handler deadline sits above it so the runner always fires
		// first.
		Timeout: k.deps.Executor.Timeout() + 5*time.Second,
		Handler: func(ctx context.Context, caller tools.Caller, params map[string]any) (any, error) {
			code, _ := params["code"].(string)
			sbx, err := k.deps.Contexts.Get(caller.ClientID)
			if err != nil {
				return nil, err
			}

			res, err := k.deps.Executor.Execute(ctx, caller.ClientID, sbx.WorkingDir(), code, sbx.Variables())
			if err != nil {
				return nil, err
			}
			if res.TimedOut {
				k.recordWorker("timeout")
				return nil, fmt.Errorf("%w after %gs", engine.ErrTimeout, k.deps.Executor.Timeout().Seconds())
			}
			if !res.Success {
				// A worker that reports a failure always includes its
				// context; a missing one means the process died before
				// producing an envelope.
				if res.Context == nil {
					k.recordWorker("crashed")
					return nil, fmt.Errorf("%w: %s", engine.ErrCrashed, res.Error)
				}
				k.recordWorker("error")
				if res.Traceback != "" {
					return nil, fmt.Errorf("code execution failed: %s\n%s", res.Error, res.Traceback)
				}
				return nil, fmt.Errorf("code execution failed: %s", res.Error)
			}
			k.recordWorker("ok")

			sbx.ReplaceVariables(res.Context)
			if err := k.deps.Contexts.Persist(caller.ClientID); err != nil && k.deps.Logger != nil {
				k.deps.Logger.Warnw("failed to persist execution context",
					"client_id", caller.ClientID, "error", err)
			}
			return map[string]any{
				"result":      res.Value,
				"stdout":      res.Stdout,
				"duration_ms": res.Duration.Milliseconds(),
			}, nil
		},
	}
}

func (k *kit) recordWorker(status string) {
	if k.deps.Metrics != nil {
		k.deps.Metrics.RecordWorkerRun(status)
	}
}
