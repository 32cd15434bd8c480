// Package sandboxtest provides a scripted sandbox.Capability for tests.
//
// Every stage can be made to fail or to block, so tests can drive a session
// through Booting, Ready and Failed deterministically.
package sandboxtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/playground/internal/sandbox"
)

// Stages understood by FailAt and Hold. StageWrite gates every WriteFile.
const (
	StageCreate  = "create"
	StageMount   = "mount"
	StageInstall = "install"
	StageAttach  = "attach"
	StageWrite   = "write"
)

// ErrClosed is returned by operations on a closed fake context
var ErrClosed = errors.New("sandboxtest: context closed")

// Capability is a fake sandbox backend
type Capability struct {
	mu       sync.Mutex
	failures map[string]error
	gates    map[string]chan struct{}
	contexts []*Context
	output   string
}

var _ sandbox.Capability = (*Capability)(nil)

// New creates a fake capability whose stages all succeed
func New() *Capability {
	return &Capability{
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// Name implements sandbox.Capability
func (c *Capability) Name() string { return "fake" }

// FailAt makes every later boot fail at stage with err
func (c *Capability) FailAt(stage string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[stage] = err
}

// ClearFailures makes every stage succeed again
func (c *Capability) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = make(map[string]error)
}

// Hold blocks stage until the returned release func is called or the boot
// context is cancelled
func (c *Capability) Hold(stage string) (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gates[stage] = gate
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.gates[stage] == gate {
				delete(c.gates, stage)
			}
			c.mu.Unlock()
			close(gate)
		})
	}
}

// SetInstallOutput sets the text the install step writes to process output
func (c *Capability) SetInstallOutput(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = s
}

// Created reports how many contexts were requested, including failed ones
func (c *Capability) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contexts)
}

// Contexts returns every context created so far, oldest first
func (c *Capability) Contexts() []*Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Context(nil), c.contexts...)
}

// Last returns the most recently created context or nil
func (c *Capability) Last() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.contexts) == 0 {
		return nil
	}
	return c.contexts[len(c.contexts)-1]
}

// stage applies the configured gate and failure for one stage
func (c *Capability) stage(ctx context.Context, name string) error {
	c.mu.Lock()
	gate := c.gates[name]
	err := c.failures[name]
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Create implements sandbox.Capability
func (c *Capability) Create(ctx context.Context, workspace string) (sandbox.Context, error) {
	c.mu.Lock()
	n := len(c.contexts) + 1
	sc := &Context{
		id:         fmt.Sprintf("fake-%d", n),
		workspace:  workspace,
		capability: c,
		files:      make(map[string]string),
		writeErr:   make(map[string]error),
		out:        sandbox.NewStream(),
	}
	c.contexts = append(c.contexts, sc)
	c.mu.Unlock()

	if err := c.stage(ctx, StageCreate); err != nil {
		sc.markClosed()
		return nil, err
	}
	return sc, nil
}

// Context is a fake sandbox context with an in-memory filesystem
type Context struct {
	id         string
	workspace  string
	capability *Capability
	out        *sandbox.Stream

	mu       sync.Mutex
	files    map[string]string
	writeErr map[string]error
	writes   []string
	process  *Process
	closed   bool
}

var _ sandbox.Context = (*Context)(nil)

// ID implements sandbox.Context
func (s *Context) ID() string { return s.id }

// Workspace returns the workspace the context was created for
func (s *Context) Workspace() string { return s.workspace }

// Mount implements sandbox.Context
func (s *Context) Mount(ctx context.Context, files []sandbox.File) error {
	if err := s.capability.stage(ctx, StageMount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, f := range files {
		s.files[f.Path] = f.Content
	}
	return nil
}

// Install implements sandbox.Context
func (s *Context) Install(ctx context.Context) error {
	if err := s.capability.stage(ctx, StageInstall); err != nil {
		return err
	}

	s.capability.mu.Lock()
	output := s.capability.output
	s.capability.mu.Unlock()

	if output != "" {
		_, _ = s.out.WriteString(output)
	}
	return nil
}

// Spawn implements sandbox.Context
func (s *Context) Spawn(ctx context.Context) (sandbox.Process, error) {
	if err := s.capability.stage(ctx, StageAttach); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.process != nil {
		return nil, errors.New("sandboxtest: process already spawned")
	}
	s.process = &Process{
		out:  s.out,
		cols: sandbox.DefaultCols,
		rows: sandbox.DefaultRows,
		done: make(chan struct{}),
	}
	return s.process, nil
}

// FailWrite makes writes to path fail with err (nil clears it)
func (s *Context) FailWrite(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeErr, path)
		return
	}
	s.writeErr[path] = err
}

// WriteFile implements sandbox.Context
func (s *Context) WriteFile(ctx context.Context, path, content string) error {
	if err := s.capability.stage(ctx, StageWrite); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.writeErr[path]; err != nil {
		return err
	}
	s.files[path] = content
	s.writes = append(s.writes, path)
	return nil
}

// ReadFile implements sandbox.Context
func (s *Context) ReadFile(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("sandboxtest: %s: file does not exist", path)
	}
	return content, nil
}

// Files returns the mounted paths in lexical order
func (s *Context) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Writes returns the paths written after mount, in order
func (s *Context) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// Process returns the spawned process or nil
func (s *Context) Process() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process
}

// Closed reports whether Close was called
func (s *Context) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements sandbox.Context
func (s *Context) Close() error {
	s.mu.Lock()
	proc := s.process
	s.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
	}
	s.markClosed()
	return nil
}

func (s *Context) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		_ = s.out.Close()
	}
}

// Process is a fake interactive process. Emit plays the role of the shell.
type Process struct {
	out *sandbox.Stream

	mu     sync.Mutex
	input  strings.Builder
	cols   int
	rows   int
	killed bool
	done   chan struct{}
}

var _ sandbox.Process = (*Process)(nil)

// Emit writes s to the process output
func (p *Process) Emit(s string) {
	_, _ = p.out.WriteString(s)
}

// Output implements sandbox.Process
func (p *Process) Output() io.Reader { return p.out }

// Input implements sandbox.Process
func (p *Process) Input() io.Writer { return inputWriter{p} }

// Typed returns everything written to the input so far
func (p *Process) Typed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// Size returns the last dimensions set by Resize
func (p *Process) Size() (cols, rows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Resize implements sandbox.Process
func (p *Process) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return ErrClosed
	}
	p.cols, p.rows = cols, rows
	return nil
}

// Killed reports whether Kill was called
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Done is closed once the process was killed
func (p *Process) Done() <-chan struct{} { return p.done }

// Kill implements sandbox.Process
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.killed {
		p.killed = true
		close(p.done)
		_ = p.out.Close()
	}
	return nil
}

// Wait implements sandbox.Process
func (p *Process) Wait() error {
	<-p.done
	return nil
}

type inputWriter struct{ p *Process }

func (w inputWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.p.killed {
		return 0, ErrClosed
	}
	return w.p.input.Write(b)
}
