package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/creack/pty"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/shared/id"
)

// ErrContextClosed is returned by operations on a closed context
var ErrContextClosed = errors.New("local: context closed")

// Config defines the host-directory sandbox
type Config struct {
	BaseDir        string   // Parent of per-context directories; os.TempDir() when empty
	Shell          string   // Interactive shell; $SHELL or /bin/sh when empty
	InstallCommand string   // Install + start step, e.g. "npm install"; skipped when empty
	Env            []string // Extra KEY=VALUE pairs for install and shell
	MountWorkers   int      // Parallel file writes during mount
}

// Capability runs each context in its own host directory with a PTY shell
type Capability struct {
	config Config
	logger *logging.Logger
}

var _ sandbox.Capability = (*Capability)(nil)

// New creates the capability. BaseDir is created if missing.
func New(config Config, logger *logging.Logger) (*Capability, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if config.BaseDir == "" {
		config.BaseDir = os.TempDir()
	}
	if config.Shell == "" {
		config.Shell = os.Getenv("SHELL")
		if config.Shell == "" {
			config.Shell = "/bin/sh"
		}
	}
	if config.MountWorkers <= 0 {
		config.MountWorkers = 8
	}
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox base dir: %w", err)
	}
	return &Capability{config: config, logger: logger.Named("local")}, nil
}

// Name implements sandbox.Capability
func (c *Capability) Name() string { return "local" }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Create implements sandbox.Capability
func (c *Capability) Create(ctx context.Context, workspace string) (sandbox.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(c.config.BaseDir, unsafeChars.ReplaceAllString(workspace, "_")+"-")
	if err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}

	cid := id.NewContextID().String()
	sc := &Context{
		id:     cid,
		dir:    dir,
		config: c.config,
		out:    sandbox.NewStream(),
		logger: c.logger.With(logging.Workspace(workspace), zap.String("context", cid)),
	}
	sc.logger.Debug("context created", zap.String("dir", dir))
	return sc, nil
}

// Context is one host directory
type Context struct {
	id     string
	dir    string
	config Config
	logger *logging.Logger
	out    *sandbox.Stream // install log, drained before PTY output

	mu      sync.Mutex
	process *ptyProcess
	closed  bool
}

var _ sandbox.Context = (*Context)(nil)

// ID implements sandbox.Context
func (c *Context) ID() string { return c.id }

// Dir returns the context root directory
func (c *Context) Dir() string { return c.dir }

func (c *Context) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	return nil
}

// resolve maps a workspace path into the context directory; symlinks and
// ".." components cannot leave the root
func (c *Context) resolve(p string) (string, error) {
	return securejoin.SecureJoin(c.dir, p)
}

func (c *Context) writeFile(p, content string) error {
	full, err := c.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

// Mount implements sandbox.Context
func (c *Context) Mount(ctx context.Context, files []sandbox.File) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MountWorkers)
	for _, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.writeFile(f.Path, f.Content); err != nil {
				return fmt.Errorf("mount %s: %w", f.Path, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Install implements sandbox.Context by running the configured command in
// the context directory. Its output becomes the head of the process output.
func (c *Context) Install(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.config.InstallCommand == "" {
		return nil
	}

	args, err := shellquote.Split(c.config.InstallCommand)
	if err != nil {
		return fmt.Errorf("parse install command: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	_, _ = fmt.Fprintf(c.out, "$ %s\r\n", shellquote.Join(args...))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.dir
	cmd.Env = c.env()
	cmd.Stdout = c.out
	cmd.Stderr = c.out
	// Grandchildren holding the output pipe must not stall a cancelled install
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

func (c *Context) env() []string {
	env := append(os.Environ(), "TERM=xterm-256color")
	return append(env, c.config.Env...)
}

// Spawn implements sandbox.Context. The shell outlives ctx; only Kill or
// Close end it.
func (c *Context) Spawn(ctx context.Context) (sandbox.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}
	if c.process != nil {
		return nil, errors.New("local: process already spawned")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.config.Shell)
	cmd.Dir = c.dir
	cmd.Env = c.env()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(sandbox.DefaultRows),
		Cols: uint16(sandbox.DefaultCols),
	})
	if err != nil {
		return nil, fmt.Errorf("start PTY: %w", err)
	}

	// The install log ends here; readers drain it, then see the PTY
	_ = c.out.Close()

	p := &ptyProcess{
		cmd:    cmd,
		ptmx:   ptmx,
		output: io.MultiReader(c.out, ptmx),
		exited: make(chan struct{}),
	}
	go p.monitor()
	c.process = p
	c.logger.Debug("shell started", zap.String("shell", c.config.Shell), zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// WriteFile implements sandbox.Context
func (c *Context) WriteFile(ctx context.Context, p, content string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writeFile(p, content)
}

// ReadFile implements sandbox.Context
func (c *Context) ReadFile(ctx context.Context, p string) (string, error) {
	full, err := c.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close implements sandbox.Context; the directory is removed
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	proc := c.process
	c.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
		_ = proc.Wait()
	}
	_ = c.out.Close()

	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("remove context dir: %w", err)
	}
	c.logger.Debug("context closed")
	return nil
}

// ptyProcess is a shell attached to a pseudo-terminal
type ptyProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	output io.Reader

	mu      sync.Mutex
	killed  bool
	exited  chan struct{}
	waitErr error
}

var _ sandbox.Process = (*ptyProcess)(nil)

// monitor waits for the shell to exit and closes the PTY
func (p *ptyProcess) monitor() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	_ = p.ptmx.Close()
	close(p.exited)
}

// Output implements sandbox.Process
func (p *ptyProcess) Output() io.Reader { return p.output }

// Input implements sandbox.Process
func (p *ptyProcess) Input() io.Writer { return p.ptmx }

// Resize implements sandbox.Process
func (p *ptyProcess) Resize(cols, rows int) error {
	select {
	case <-p.exited:
		return ErrContextClosed
	default:
	}
	if cols <= 0 || rows <= 0 || cols > math.MaxUint16 || rows > math.MaxUint16 {
		return fmt.Errorf("terminal size %dx%d out of range", cols, rows)
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Kill implements sandbox.Process
func (p *ptyProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return nil
	}
	p.killed = true
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

// Wait implements sandbox.Process
func (p *ptyProcess) Wait() error {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return nil
	}
	return p.waitErr
}
