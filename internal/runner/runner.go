// Package runner is the parent side of the subprocess executor. It
// spawns the hidden worker subcommand of this same binary, feeds it one
// request envelope, enforces the timeout by killing the worker's whole
// process group, and turns whatever the child produced into a Result
// the orchestrator can use.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/worker"
)

// Defaults mirror the executor configuration.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultKillGrace = 2 * time.Second
)

// Result is the parent's view of one worker run.
type Result struct {
	Success   bool
	Value     any
	Context   map[string]any
	Stdout    string
	Stderr    string
	Error     string
	Traceback string
	TimedOut  bool
	Duration  time.Duration
}

// Executor runs code strings in isolated worker processes.
type Executor struct {
	self    string
	timeout time.Duration
	grace   time.Duration
	logger  *zap.SugaredLogger
}

// NewExecutor builds an executor that re-execs selfPath with the
// hidden worker argument. Non-positive durations fall back to the
// defaults.
func NewExecutor(selfPath string, timeout, grace time.Duration, logger *zap.SugaredLogger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	return &Executor{self: selfPath, timeout: timeout, grace: grace, logger: logger}
}

// Timeout reports the executor's hard limit.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Execute runs code for the client inside jail. vars become top-level
// bindings in the worker. The returned error covers spawn-level
// failures only; everything the worker itself reports lands in the
// Result.
func (e *Executor) Execute(ctx context.Context, clientID, jail, code string, vars map[string]any) (*Result, error) {
	envelope, err := json.Marshal(worker.Request{Code: code, Context: vars, ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker envelope: %w", err)
	}

	// Spool the envelope to a file in the jail and hand it to the
	// child as stdin; a pipe writer could block on oversized context
	// bags while we are already waiting on the child.
	spool, err := os.CreateTemp(jail, ".envelope-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create envelope spool: %w", err)
	}
	spoolName := spool.Name()
	defer os.Remove(spoolName)
	if _, err := spool.Write(envelope); err != nil {
		spool.Close()
		return nil, fmt.Errorf("failed to write envelope spool: %w", err)
	}
	if _, err := spool.Seek(0, 0); err != nil {
		spool.Close()
		return nil, fmt.Errorf("failed to rewind envelope spool: %w", err)
	}
	defer spool.Close()

	cmd := exec.Command(e.self, "worker")
	cmd.Dir = jail
	cmd.Stdin = spool
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + jail}
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	pid := cmd.Process.Pid
	if e.logger != nil {
		e.logger.Debugw("worker started", "client_id", clientID, "pid", pid)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case <-done:
		return e.collect(stdout.String(), stderr.String(), time.Since(start)), nil
	case <-timer.C:
		e.terminate(cmd, pid)
		<-done
		if e.logger != nil {
			e.logger.Warnw("worker timed out",
				"client_id", clientID, "pid", pid, "timeout", e.timeout)
		}
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("timeout after %vs", e.timeout.Seconds()),
			TimedOut: true,
			Duration: time.Since(start),
		}, nil
	case <-ctx.Done():
		e.terminate(cmd, pid)
		<-done
		return nil, ctx.Err()
	}
}

// collect applies the output fallback chain: stdout as envelope, then
// stderr as envelope, then raw stderr text, then "no output".
func (e *Executor) collect(stdout, stderr string, elapsed time.Duration) *Result {
	res := &Result{Duration: elapsed}
	stderrTrim := strings.TrimSpace(stderr)

	switch {
	case strings.TrimSpace(stdout) != "":
		var resp worker.Response
		if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
			res.Error = "invalid JSON output"
			res.Stdout = stdout
		} else {
			fill(res, &resp)
		}
		res.Stderr = stderrTrim
	case stderrTrim != "":
		var resp worker.Response
		if err := json.Unmarshal([]byte(stderr), &resp); err != nil {
			res.Error = stderrTrim
		} else {
			fill(res, &resp)
		}
	default:
		res.Error = "no output from worker"
	}
	return res
}

func fill(res *Result, resp *worker.Response) {
	res.Success = resp.Success
	res.Value = resp.Result
	res.Context = resp.Context
	res.Error = resp.Error
	res.Traceback = resp.Traceback
	if resp.Stdout != nil {
		res.Stdout = *resp.Stdout
	}
}
