package projection

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/playground/internal/domain/session"
	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
	"github.com/GriffinCanCode/playground/internal/terminal"
)

// Projector hands out memoized per-workspace views over shared sessions
type Projector struct {
	manager *session.Manager
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.Mutex
	views map[string]*views
}

// views are the memoized projections of one session attempt
type views struct {
	session *session.Session
	attempt int
	files   *FileSet
	term    *terminal.Terminal
}

// New creates a projector over a session manager
func New(manager *session.Manager, logger *logging.Logger, metrics *monitoring.Metrics) *Projector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Projector{
		manager: manager,
		logger:  logger.Named("projection"),
		metrics: metrics,
		views:   make(map[string]*views),
	}
}

// Observe registers one observer of d, booting its session if needed.
// The observer must be closed to release the session.
func (p *Projector) Observe(d workspace.Descriptor) (*Observer, error) {
	s, err := p.manager.Acquire(d)
	if err != nil {
		return nil, err
	}
	return &Observer{projector: p, desc: d, session: s}, nil
}

// viewsFor returns the memo entry for the Ready attempt of s, replacing an
// entry left by an earlier session or attempt. Caller holds p.mu.
func (p *Projector) viewsFor(s *session.Session) *views {
	name := s.Workspace().Name()
	attempt := s.Attempt()

	v, ok := p.views[name]
	if ok && v.session == s && v.attempt == attempt {
		return v
	}
	if ok && v.term != nil {
		_ = v.term.Close()
	}

	v = &views{session: s, attempt: attempt}
	p.views[name] = v
	return v
}

func (p *Projector) files(s *session.Session) *FileSet {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := p.viewsFor(s)
	if v.files == nil {
		v.files = newFileSet(s, v.attempt)
		p.logger.Debug("file set built",
			logging.Workspace(s.Workspace().Name()),
			logging.Session(s.ID().String()))
	}
	return v.files
}

func (p *Projector) terminal(s *session.Session) *terminal.Terminal {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := p.viewsFor(s)
	if v.term == nil {
		v.term = terminal.New(s.Workspace().Name(), s, p.logger, p.metrics)
	}
	return v.term
}

// forget drops the memo entry of a torn-down session
func (p *Projector) forget(s *session.Session) {
	select {
	case <-s.Closed():
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	name := s.Workspace().Name()
	if v, ok := p.views[name]; ok && v.session == s {
		if v.term != nil {
			_ = v.term.Close()
		}
		delete(p.views, name)
	}
}

// Observer is one registration against a workspace session
type Observer struct {
	projector *Projector
	desc      workspace.Descriptor
	session   *session.Session

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// Workspace returns the observed descriptor
func (o *Observer) Workspace() workspace.Descriptor { return o.desc }

// Session returns the observed session
func (o *Observer) Session() *session.Session { return o.session }

// State returns the session state without blocking
func (o *Observer) State() session.State { return o.session.State() }

// Snapshot returns the session snapshot without blocking
func (o *Observer) Snapshot() session.Snapshot { return o.session.Snapshot() }

// ready waits for the session to settle. Every failure wraps ErrUnavailable;
// pass an already-done ctx to check without waiting.
func (o *Observer) ready(ctx context.Context) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return perrors.Unavailable(perrors.ErrClosed)
	}

	// Settled sessions answer without consulting ctx
	select {
	case <-o.session.Settled():
		_, err := o.session.Wait(context.Background())
		return err
	default:
	}

	if _, err := o.session.Wait(ctx); err != nil {
		if perrors.Is(err, perrors.ErrUnavailable) {
			return err
		}
		return perrors.Unavailable(err)
	}
	return nil
}

// ProjectFiles returns the files of interest with their write capabilities.
// Every observer of the same session attempt gets the same *FileSet.
func (o *Observer) ProjectFiles(ctx context.Context) (*FileSet, error) {
	if err := o.ready(ctx); err != nil {
		return nil, err
	}
	return o.projector.files(o.session), nil
}

// ProjectTerminal returns the terminal handle of the session, created on
// first use and shared by every observer of the same session attempt
func (o *Observer) ProjectTerminal(ctx context.Context) (*terminal.Terminal, error) {
	if err := o.ready(ctx); err != nil {
		return nil, err
	}
	return o.projector.terminal(o.session), nil
}

// Close releases the observer registration. It is safe to call more than once.
func (o *Observer) Close() error {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.session.Release()
		o.projector.forget(o.session)
	})
	return nil
}
