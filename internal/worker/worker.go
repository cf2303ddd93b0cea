// Package worker implements the child side of the subprocess executor:
// it reads one request envelope from stdin, evaluates the JavaScript it
// carries in a restricted goja VM, and writes a result envelope back.
// The parent process owns the timeout and kills the whole process
// group on expiry, so the worker itself stays single-threaded and
// simple.
package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// Request is the envelope the parent writes to the worker's stdin.
type Request struct {
	Code     string         `json:"code"`
	Context  map[string]any `json:"context"`
	ClientID string         `json:"client_id"`
}

// Response is the envelope the worker writes back: to stdout on
// success, to stderr (with a non-zero exit) on failure.
type Response struct {
	Success   bool           `json:"success"`
	Result    any            `json:"result"`
	Context   map[string]any `json:"context"`
	Stdout    *string        `json:"stdout,omitempty"`
	Error     string         `json:"error,omitempty"`
	Traceback string         `json:"traceback,omitempty"`
}

// Run executes one envelope exchange and returns the process exit
// code. It never panics outward; every failure becomes an envelope.
func Run(stdin io.Reader, stdout, stderr io.Writer) int {
	input, err := io.ReadAll(stdin)
	if err != nil {
		return fail(stderr, fmt.Sprintf("failed to read input: %v", err), "")
	}
	if len(input) == 0 {
		// Protocol misuse rather than a code failure: answer on stdout.
		writeJSON(stdout, map[string]any{"error": "no input provided"})
		return 0
	}

	var req Request
	if err := json.Unmarshal(input, &req); err != nil {
		return fail(stderr, fmt.Sprintf("invalid input envelope: %v", err), "")
	}
	if req.Code == "" {
		writeJSON(stdout, map[string]any{"error": "no code provided"})
		return 0
	}

	resp := evaluate(&req)
	if !resp.Success {
		writeJSON(stderr, resp)
		return 1
	}
	writeJSON(stdout, resp)
	return 0
}

// evaluate runs the code with the request context bound as top-level
// variables and console output captured.
func evaluate(req *Request) *Response {
	vm := goja.New()
	restrict(vm)

	capture := &consoleCapture{}
	capture.install(vm)

	// Snapshot the globals the runtime itself owns; everything added
	// after this point belongs to the caller.
	baseline := map[string]struct{}{}
	for _, key := range vm.GlobalObject().Keys() {
		baseline[key] = struct{}{}
	}

	for name, value := range req.Context {
		if err := vm.Set(name, value); err != nil {
			return failure(fmt.Sprintf("failed to bind context variable %s: %v", name, err), "")
		}
	}

	// Compile separately so syntax errors carry position information.
	program, err := goja.Compile("code", req.Code, false)
	if err != nil {
		return failure(err.Error(), err.Error())
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		if exception, ok := err.(*goja.Exception); ok {
			return failure(exception.Error(), exception.String())
		}
		return failure(err.Error(), "")
	}

	resp := &Response{
		Success: true,
		Result:  exportSerializable(value),
		Context: extractBindings(vm, baseline),
	}
	if out := capture.String(); out != "" {
		resp.Stdout = &out
	}
	return resp
}

// extractBindings collects the post-run top-level variables, dropping
// runtime-internal names and values that do not survive JSON.
func extractBindings(vm *goja.Runtime, baseline map[string]struct{}) map[string]any {
	out := map[string]any{}
	global := vm.GlobalObject()
	keys := global.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		if _, internal := baseline[key]; internal {
			continue
		}
		exported := global.Get(key).Export()
		if _, err := json.Marshal(exported); err != nil {
			continue
		}
		out[key] = exported
	}
	return out
}

func exportSerializable(value goja.Value) any {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	exported := value.Export()
	if _, err := json.Marshal(exported); err != nil {
		return nil
	}
	return exported
}

// restrict strips the escape hatches a fresh VM would otherwise offer.
// goja ships no filesystem, network, or process access, so undefining
// the scheduling and module hooks is all that is left to do.
func restrict(vm *goja.Runtime) {
	for _, name := range []string{"require", "setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		vm.Set(name, goja.Undefined())
	}
}

// consoleCapture buffers console.* output the way the executor expects
// a worker's stdout to be captured.
type consoleCapture struct {
	buf strings.Builder
}

func (c *consoleCapture) install(vm *goja.Runtime) {
	obj := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		obj.Set(level, c.write)
	}
	vm.Set("console", obj)
}

func (c *consoleCapture) write(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, arg := range call.Arguments {
		parts = append(parts, formatValue(arg))
	}
	c.buf.WriteString(strings.Join(parts, " "))
	c.buf.WriteByte('\n')
	return goja.Undefined()
}

func (c *consoleCapture) String() string { return c.buf.String() }

func formatValue(v goja.Value) string {
	exported := v.Export()
	switch exported.(type) {
	case nil, string, bool, int64, float64:
		return v.String()
	default:
		if data, err := json.Marshal(exported); err == nil {
			return string(data)
		}
		return v.String()
	}
}

func failure(message, traceback string) *Response {
	return &Response{
		Success:   false,
		Error:     message,
		Traceback: traceback,
		Context:   map[string]any{},
	}
}

func fail(w io.Writer, message, traceback string) int {
	writeJSON(w, failure(message, traceback))
	return 1
}

func writeJSON(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(w, `{"success":false,"error":"failed to encode response: %v"}`, err)
		return
	}
	w.Write(data)
	io.WriteString(w, "\n")
}
