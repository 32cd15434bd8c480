package jsvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
)

// ErrInterrupted is returned when a run exceeds its timeout or its context ends
var ErrInterrupted = errors.New("script interrupted")

// Runtime wraps a goja VM with a CommonJS loader over a bound filesystem
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex

	fs      *memFS
	out     io.Writer
	modules map[string]*goja.Object
}

// NewRuntime creates a runtime with no filesystem bound
func NewRuntime(config Config) (*Runtime, error) {
	r := &Runtime{config: config.withDefaults()}
	if err := r.reset(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) reset() error {
	r.vm = goja.New()
	r.vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	r.modules = make(map[string]*goja.Object)
	return r.setupGlobals()
}

// Bind attaches a filesystem and an output writer
func (r *Runtime) Bind(fs *memFS, out io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fs = fs
	r.out = out
}

// Invalidate drops a cached module so the next require reads new content
func (r *Runtime) Invalidate(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, p)
}

// RunMain loads entry as the main module
func (r *Runtime) RunMain(ctx context.Context, entry string) error {
	return r.run(ctx, func() error {
		_, err := r.load(entry)
		return err
	})
}

// Eval evaluates one REPL line and returns its printable result
func (r *Runtime) Eval(ctx context.Context, src string) (string, error) {
	var result string
	err := r.run(ctx, func() error {
		v, err := r.vm.RunScript("repl", src)
		if err != nil {
			return err
		}
		if v != nil && !goja.IsUndefined(v) {
			result = r.format(v)
		}
		return nil
	})
	return result, err
}

// run executes fn under the runtime lock with the timeout and context
// wired to vm.Interrupt
func (r *Runtime) run(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return errors.New("runtime is closed")
	}
	if r.fs == nil {
		return errors.New("runtime has no filesystem bound")
	}

	timer := time.NewTimer(r.config.ScriptTimeout)
	defer timer.Stop()

	stop := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-stop:
		}
	}()

	err := fn()
	close(stop)
	r.vm.ClearInterrupt()

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
	}
	return err
}

// setupGlobals configures console and process; timers stay no-ops
func (r *Runtime) setupGlobals() error {
	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	stdout := r.vm.NewObject()
	_ = stdout.Set("write", func(call goja.FunctionCall) goja.Value {
		r.write(call.Argument(0).String())
		return r.vm.ToValue(true)
	})
	process := r.vm.NewObject()
	_ = process.Set("stdout", stdout)
	_ = process.Set("env", map[string]interface{}{"NODE_ENV": "development"})
	_ = process.Set("platform", "jsvm")
	if err := r.vm.Set("process", process); err != nil {
		return err
	}

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = r.vm.Set("setTimeout", noop)
	_ = r.vm.Set("setInterval", noop)
	_ = r.vm.Set("clearTimeout", noop)
	_ = r.vm.Set("clearInterval", noop)
	_ = r.vm.Set("require", r.makeRequire(""))
	return nil
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = r.format(arg)
		}
		line := strings.Join(parts, " ")
		if level == "warn" || level == "error" {
			line = "\x1b[31m" + line + "\x1b[0m"
		}
		r.write(line + "\r\n")
		return goja.Undefined()
	}
}

// format renders a value the way a console would: strings raw, plain
// objects and arrays as JSON
func (r *Runtime) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFunc := goja.AssertFunction(obj); isFunc {
		return "[Function]"
	}
	switch obj.ClassName() {
	case "Object", "Array":
		if s, err := sonic.MarshalString(obj.Export()); err == nil {
			return s
		}
	}
	return obj.String()
}

func (r *Runtime) write(s string) {
	if r.out != nil {
		_, _ = io.WriteString(r.out, s)
	}
}

// makeRequire returns a require function resolving relative to dir
func (r *Runtime) makeRequire(dir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		resolved, ok := r.resolve(dir, spec)
		if !ok {
			panic(r.vm.NewGoError(fmt.Errorf("Cannot find module '%s'", spec)))
		}
		exports, err := r.load(resolved)
		if err != nil {
			var exc *goja.Exception
			if errors.As(err, &exc) {
				panic(exc.Value())
			}
			panic(r.vm.NewGoError(err))
		}
		return exports
	}
}

// resolve maps a require specifier to a filesystem path
func (r *Runtime) resolve(dir, spec string) (string, bool) {
	var base string
	switch {
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"), spec == ".", spec == "..":
		base = path.Join(dir, spec)
	case strings.HasPrefix(spec, "/"):
		base = strings.TrimPrefix(path.Clean(spec), "/")
	default:
		base = path.Join("node_modules", spec)
	}
	if strings.HasPrefix(base, "../") || base == ".." {
		return "", false
	}

	for _, candidate := range []string{base, base + ".js", base + ".json"} {
		if _, ok := r.fs.Get(candidate); ok {
			return candidate, true
		}
	}

	if src, ok := r.fs.Get(path.Join(base, "package.json")); ok {
		var manifest packageJSON
		if err := sonic.UnmarshalString(src, &manifest); err == nil && manifest.Main != "" {
			if entry := path.Join(base, manifest.Main); entry != base {
				if p, ok := r.resolve("", "./"+entry); ok {
					return p, true
				}
			}
		}
	}
	if index := path.Join(base, "index.js"); r.fs.IsDir(base) {
		if _, ok := r.fs.Get(index); ok {
			return index, true
		}
	}
	return "", false
}

// load evaluates a module once and returns its exports
func (r *Runtime) load(p string) (goja.Value, error) {
	if m, ok := r.modules[p]; ok {
		return m.Get("exports"), nil
	}

	src, ok := r.fs.Get(p)
	if !ok {
		return nil, fmt.Errorf("Cannot find module '%s'", p)
	}

	module := r.vm.NewObject()
	exports := r.vm.NewObject()
	_ = module.Set("exports", exports)
	_ = module.Set("id", p)
	r.modules[p] = module

	if strings.HasSuffix(p, ".json") {
		var data interface{}
		if err := sonic.UnmarshalString(src, &data); err != nil {
			delete(r.modules, p)
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		_ = module.Set("exports", r.vm.ToValue(data))
		return module.Get("exports"), nil
	}

	wrapped := "(function (exports, require, module, __filename, __dirname) {" + src + "\n})"
	fnVal, err := r.vm.RunScript(p, wrapped)
	if err != nil {
		delete(r.modules, p)
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		delete(r.modules, p)
		return nil, fmt.Errorf("%s: module wrapper is not a function", p)
	}

	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	_, err = fn(goja.Undefined(), exports, r.vm.ToValue(r.makeRequire(dir)), module,
		r.vm.ToValue("/"+p), r.vm.ToValue("/"+dir))
	if err != nil {
		delete(r.modules, p)
		return nil, err
	}
	return module.Get("exports"), nil
}

// Reset clears VM state and unbinds the filesystem
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fs = nil
	r.out = nil
	return r.reset()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.modules = nil
	r.fs = nil
	r.out = nil
	return nil
}
