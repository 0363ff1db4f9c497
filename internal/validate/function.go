package validate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/elementstore/core/internal/record"
)

// FunctionSource resolves an @function record's script body by id, the way
// the engine resolves any other related record (spec §4.3 "@function-typed
// validators are interpreted against the referenced record's script body").
type FunctionSource func(ctx context.Context, functionID string) (script string, entryPoint string, err error)

// FunctionRunner executes @function validators in an isolated goja runtime
// per call, mirroring the teacher's gojaScriptEngine: a fresh *goja.Runtime
// per execution, a console.log that discards its output, and no access to the host
// process beyond the injected arguments.
type FunctionRunner struct {
	mu      sync.Mutex
	source  FunctionSource
	timeout time.Duration
}

// NewFunctionRunner returns a runner resolving scripts through source.
func NewFunctionRunner(source FunctionSource) *FunctionRunner {
	return &FunctionRunner{source: source, timeout: 2 * time.Second}
}

// Run evaluates the @function identified by functionID against value and the
// record under construction, returning a validation message ("" means pass).
func (r *FunctionRunner) Run(ctx context.Context, functionID string, value any, rec *record.Record) (string, error) {
	script, entryPoint, err := r.source(ctx, functionID)
	if err != nil {
		return "", fmt.Errorf("resolve function %s: %w", functionID, err)
	}
	if entryPoint == "" {
		entryPoint = "validate"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	done := make(chan struct {
		msg string
		err error
	}, 1)

	go func() {
		msg, err := r.runOnce(script, entryPoint, value, rec)
		done <- struct {
			msg string
			err error
		}{msg, err}
	}()

	select {
	case result := <-done:
		return result.msg, result.err
	case <-time.After(r.timeout):
		return "", fmt.Errorf("function %s: execution timed out", functionID)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *FunctionRunner) runOnce(script, entryPoint string, value any, rec *record.Record) (msg string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("function panicked: %v", p)
		}
	}()

	vm := goja.New()

	var fields map[string]any
	if rec != nil {
		fields = rec.ToMap()
	}
	if err := vm.Set("value", value); err != nil {
		return "", err
	}
	if err := vm.Set("record", fields); err != nil {
		return "", err
	}

	console := vm.NewObject()
	_ = console.Set("log", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	if err := vm.Set("console", console); err != nil {
		return "", err
	}

	if _, err := vm.RunString(script); err != nil {
		return "", fmt.Errorf("compile function: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return "", fmt.Errorf("entry point %q is not a function", entryPoint)
	}

	result, err := fn(goja.Undefined(), vm.Get("value"), vm.Get("record"))
	if err != nil {
		return "", fmt.Errorf("execute function: %w", err)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return "", nil
	}

	exported := result.Export()
	switch v := exported.(type) {
	case bool:
		if v {
			return "", nil
		}
		return "failed custom validation", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}
