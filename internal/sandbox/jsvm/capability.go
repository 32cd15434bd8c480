package jsvm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/shared/id"
)

// ErrContextClosed is returned by operations on a closed context
var ErrContextClosed = errors.New("jsvm: context closed")

const prompt = "> "

// Capability runs workspaces in pooled goja runtimes
type Capability struct {
	config Config
	pool   *Pool
	logger *logging.Logger
}

var _ sandbox.Capability = (*Capability)(nil)

// New creates the capability and warms its runtime pool
func New(config Config, logger *logging.Logger) (*Capability, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	pool, err := NewPool(config)
	if err != nil {
		return nil, fmt.Errorf("warm runtime pool: %w", err)
	}
	return &Capability{
		config: config.withDefaults(),
		pool:   pool,
		logger: logger.Named("jsvm"),
	}, nil
}

// Name implements sandbox.Capability
func (c *Capability) Name() string { return "jsvm" }

// Stats returns runtime pool statistics
func (c *Capability) Stats() Stats { return c.pool.Stats() }

// Close shuts the runtime pool down
func (c *Capability) Close() error { return c.pool.Close() }

// Create implements sandbox.Capability
func (c *Capability) Create(ctx context.Context, workspace string) (sandbox.Context, error) {
	rt, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	sc := &Context{
		id:         id.NewContextID().String(),
		capability: c,
		rt:         rt,
		fs:         newMemFS(),
		out:        sandbox.NewStream(),
	}
	rt.Bind(sc.fs, sc.out)
	sc.logger = c.logger.With(logging.Workspace(workspace), zap.String("context", sc.id))
	sc.logger.Debug("context created")
	return sc, nil
}

// Context is one workspace running in a goja runtime
type Context struct {
	id         string
	capability *Capability
	logger     *logging.Logger
	fs         *memFS
	out        *sandbox.Stream

	mu      sync.Mutex
	rt      *Runtime
	process *replProcess
	closed  bool
}

var _ sandbox.Context = (*Context)(nil)

// ID implements sandbox.Context
func (c *Context) ID() string { return c.id }

func (c *Context) runtime() (*Runtime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	return c.rt, nil
}

// Mount implements sandbox.Context
func (c *Context) Mount(ctx context.Context, files []sandbox.File) error {
	if _, err := c.runtime(); err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.fs.Put(f.Path, f.Content)
	}
	return nil
}

// Install resolves dependencies from package.json into node_modules stubs,
// then runs the start script or main module. Errors thrown by user code are
// printed to the output rather than failing the step.
func (c *Context) Install(ctx context.Context) error {
	rt, err := c.runtime()
	if err != nil {
		return err
	}

	var manifest packageJSON
	if src, ok := c.fs.Get("package.json"); ok {
		if err := sonic.UnmarshalString(src, &manifest); err != nil {
			return fmt.Errorf("parse package.json: %w", err)
		}
	}

	deps := dependencyNames(manifest)
	if len(deps) > 0 {
		_, _ = c.out.WriteString("$ npm install\r\n")
		for _, dep := range deps {
			c.installStub(dep, manifest.Dependencies[dep]+manifest.DevDependencies[dep])
		}
		_, _ = fmt.Fprintf(c.out, "added %d packages\r\n", len(deps))
	}

	entry, err := c.entry(manifest)
	if err != nil {
		return err
	}
	if entry == "" {
		return nil
	}

	_, _ = fmt.Fprintf(c.out, "$ node %s\r\n", entry)
	if err := rt.RunMain(ctx, entry); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		_, _ = fmt.Fprintf(c.out, "\x1b[31m%s\x1b[0m\r\n", err)
		c.logger.Debug("main module threw", zap.String("entry", entry), zap.Error(err))
	}
	return nil
}

func dependencyNames(m packageJSON) []string {
	seen := make(map[string]bool, len(m.Dependencies)+len(m.DevDependencies))
	for name := range m.Dependencies {
		seen[name] = true
	}
	for name := range m.DevDependencies {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// installStub mounts an empty module so require(dep) resolves
func (c *Context) installStub(dep, version string) {
	dir := path.Join("node_modules", dep)
	if _, ok := c.fs.Get(path.Join(dir, "package.json")); ok {
		return
	}
	manifest, _ := sonic.MarshalString(map[string]string{
		"name":    dep,
		"version": strings.TrimSpace(version),
		"main":    "index.js",
	})
	c.fs.Put(path.Join(dir, "package.json"), manifest)
	c.fs.Put(path.Join(dir, "index.js"), "module.exports = {};\n")
}

// entry picks the module to run: "node <file>" from scripts.start, then
// main, then index.js when present
func (c *Context) entry(m packageJSON) (string, error) {
	if start := strings.TrimSpace(m.Scripts["start"]); start != "" {
		args, err := shellquote.Split(start)
		if err != nil {
			return "", fmt.Errorf("parse start script: %w", err)
		}
		if len(args) < 2 || args[0] != "node" {
			return "", fmt.Errorf("unsupported start script %q (want \"node <file>\")", start)
		}
		return c.requireFile(args[1])
	}
	if m.Main != "" {
		return c.requireFile(m.Main)
	}
	if _, ok := c.fs.Get("index.js"); ok {
		return "index.js", nil
	}
	return "", nil
}

func (c *Context) requireFile(p string) (string, error) {
	clean := strings.TrimPrefix(path.Clean(p), "./")
	for _, candidate := range []string{clean, clean + ".js"} {
		if _, ok := c.fs.Get(candidate); ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot find entry module %q", p)
}

// Spawn implements sandbox.Context; the process is a line-based REPL
func (c *Context) Spawn(ctx context.Context) (sandbox.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}
	if c.process != nil {
		return nil, errors.New("jsvm: process already spawned")
	}

	p := &replProcess{
		rt:     c.rt,
		out:    c.out,
		in:     sandbox.NewStream(),
		cols:   sandbox.DefaultCols,
		rows:   sandbox.DefaultRows,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	c.process = p
	_, _ = c.out.WriteString(prompt)
	go p.loop()
	return p, nil
}

// WriteFile implements sandbox.Context
func (c *Context) WriteFile(ctx context.Context, p, content string) error {
	rt, err := c.runtime()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.fs.Put(p, content)
	rt.Invalidate(p)
	return nil
}

// ReadFile implements sandbox.Context
func (c *Context) ReadFile(ctx context.Context, p string) (string, error) {
	content, ok := c.fs.Get(p)
	if !ok {
		return "", fmt.Errorf("jsvm: %s: file does not exist", p)
	}
	return content, nil
}

// Close implements sandbox.Context; the runtime goes back to the pool
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	proc, rt := c.process, c.rt
	c.rt = nil
	c.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
		<-proc.exited
	}
	_ = c.out.Close()
	c.logger.Debug("context closed")
	return c.capability.pool.Release(rt)
}

// replProcess evaluates one input line at a time in the context runtime
type replProcess struct {
	rt  *Runtime
	out *sandbox.Stream
	in  *sandbox.Stream

	mu     sync.Mutex
	cols   int
	rows   int
	killed bool
	done   chan struct{}
	exited chan struct{}
	cancel context.CancelFunc
}

var _ sandbox.Process = (*replProcess)(nil)

func (p *replProcess) loop() {
	defer close(p.exited)

	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = p.out.WriteString(prompt)
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.mu.Lock()
		if p.killed {
			p.mu.Unlock()
			cancel()
			return
		}
		p.cancel = cancel
		p.mu.Unlock()

		result, err := p.rt.Eval(ctx, line)
		cancel()

		switch {
		case err != nil:
			_, _ = fmt.Fprintf(p.out, "\x1b[31mUncaught %s\x1b[0m\r\n", err)
		case result != "":
			_, _ = fmt.Fprintf(p.out, "%s\r\n", result)
		}
		_, _ = p.out.WriteString(prompt)
	}
}

// Output implements sandbox.Process
func (p *replProcess) Output() io.Reader { return p.out }

// Input implements sandbox.Process; keystrokes are echoed like a tty would
func (p *replProcess) Input() io.Writer { return keyWriter{p} }

// Resize implements sandbox.Process
func (p *replProcess) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return ErrContextClosed
	}
	p.cols, p.rows = cols, rows
	return nil
}

// Kill implements sandbox.Process
func (p *replProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return nil
	}
	p.killed = true
	if p.cancel != nil {
		p.cancel()
	}
	_ = p.in.Close()
	close(p.done)
	return nil
}

// Wait implements sandbox.Process
func (p *replProcess) Wait() error {
	<-p.done
	<-p.exited
	return nil
}

type keyWriter struct{ p *replProcess }

func (w keyWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	killed := w.p.killed
	w.p.mu.Unlock()
	if killed {
		return 0, ErrContextClosed
	}

	normalized := strings.ReplaceAll(string(b), "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	if _, err := w.p.out.WriteString(strings.ReplaceAll(normalized, "\n", "\r\n")); err != nil {
		return 0, err
	}
	if _, err := w.p.in.WriteString(normalized); err != nil {
		return 0, err
	}
	return len(b), nil
}
