package terminal

import (
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

// Target is a rendering surface. Done is closed when the surface goes away;
// a closed target is detached automatically.
type Target interface {
	io.Writer
	Done() <-chan struct{}
}

// Source is the process side of a terminal (implemented by session.Session)
type Source interface {
	// Route directs output to w, optionally replaying retained output first
	Route(w io.Writer, replay bool) error
	// Routes reports whether output still flows to w
	Routes(w io.Writer) bool
	// Input forwards keystrokes
	Input(p []byte) (int, error)
	// Resize changes the process dimensions
	Resize(cols, rows int) error
}

// Terminal binds one process output stream to at most one Target
type Terminal struct {
	workspace string
	source    Source
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	done      chan struct{}

	mu     sync.Mutex
	bound  *binding
	closed bool
}

// New creates a terminal handle over source. No target is attached yet.
func New(workspace string, source Source, logger *logging.Logger, metrics *monitoring.Metrics) *Terminal {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Terminal{
		workspace: workspace,
		source:    source,
		logger:    logger.Named("terminal").ForWorkspace(workspace),
		metrics:   metrics,
		done:      make(chan struct{}),
	}
}

// Attach binds output to target. Attaching the current target again is a
// no-op while output still flows to it. Attaching a different target, or
// one whose output was cut off by a failed write, detaches the previous
// binding first and replays retained output to the new one only.
func (t *Terminal) Attach(target Target) error {
	if target == nil {
		return perrors.AttachFailure(t.workspace, perrors.ErrInvalidTarget)
	}
	select {
	case <-target.Done():
		return perrors.AttachFailure(t.workspace, perrors.ErrInvalidTarget)
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return perrors.AttachFailure(t.workspace, perrors.ErrClosed)
	}
	if t.bound != nil && t.bound.target == target && t.source.Routes(t.bound) {
		return nil
	}

	b := newBinding(target)
	if err := t.source.Route(b, true); err != nil {
		return perrors.AttachFailure(t.workspace, err)
	}
	if t.bound != nil {
		t.bound.release()
	}
	t.bound = b
	t.metrics.IncTerminalAttach()
	t.logger.Debug("target attached")

	go t.watch(b)
	return nil
}

// Detach unbinds target if it is the current one
func (t *Terminal) Detach(target Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound != nil && t.bound.target == target {
		t.detachLocked()
	}
}

func (t *Terminal) detachLocked() {
	if t.bound == nil {
		return
	}
	b := t.bound
	t.bound = nil
	b.release()
	if err := t.source.Route(nil, false); err != nil {
		t.logger.Debug("route reset", zap.Error(err))
	}
}

// watch detaches b once its target signals Done. It returns early when b
// is replaced or the terminal closes.
func (t *Terminal) watch(b *binding) {
	select {
	case <-b.target.Done():
	case <-b.released:
		return
	case <-t.done:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound == b {
		t.detachLocked()
	}
}

// Target returns the target output currently flows to, or nil
func (t *Terminal) Target() Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound == nil || !t.source.Routes(t.bound) {
		return nil
	}
	return t.bound.target
}

// Write forwards keystrokes to the process
func (t *Terminal) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, perrors.Unavailable(perrors.ErrClosed)
	}
	return t.source.Input(p)
}

// Resize changes the terminal dimensions
func (t *Terminal) Resize(cols, rows int) error {
	if t.isClosed() {
		return perrors.Unavailable(perrors.ErrClosed)
	}
	return t.source.Resize(cols, rows)
}

// Close detaches the current target; the process is owned by the session
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.detachLocked()
	t.closed = true
	close(t.done)
	return nil
}

func (t *Terminal) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// binding is one attachment of a target. It stops writing as soon as the
// target is done or the binding is replaced.
type binding struct {
	target   Target
	released chan struct{}
	once     sync.Once
}

func newBinding(target Target) *binding {
	return &binding{target: target, released: make(chan struct{})}
}

func (b *binding) release() {
	b.once.Do(func() { close(b.released) })
}

func (b *binding) Write(p []byte) (int, error) {
	select {
	case <-b.target.Done():
		return 0, io.ErrClosedPipe
	case <-b.released:
		return 0, io.ErrClosedPipe
	default:
	}
	return b.target.Write(p)
}
