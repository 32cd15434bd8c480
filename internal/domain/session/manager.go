package session

import (
	"context"
	"sort"
	"sync"

	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

// Manager caches at most one Session per workspace name while it is observed
type Manager struct {
	capability sandbox.Capability
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	policy     Policy
	breakers   *resilience.Group

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithPolicy sets the lifecycle policy
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

// NewManager creates a session manager over a sandbox capability
func NewManager(capability sandbox.Capability, opts ...Option) *Manager {
	m := &Manager{
		capability: capability,
		logger:     logging.NewNop(),
		policy:     DefaultPolicy(),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}

	settings := m.policy.Breaker
	onChange := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.State) {
		m.logger.Warn("boot breaker state changed",
			logging.Workspace(name),
			logging.Stage(from.String()+"->"+to.String()))
		m.metrics.SetBreakerState(name, int(to))
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	m.breakers = resilience.NewGroup(settings)
	m.logger = m.logger.Named("session")
	return m
}

// Policy returns the effective lifecycle policy
func (m *Manager) Policy() Policy {
	return m.policy
}

// Acquire returns the session for d, creating and booting it when absent.
// A Booting or Ready session is returned as is; a Failed one starts a new
// boot attempt. Every successful call registers one observer that must be
// paired with Session.Release.
func (m *Manager) Acquire(d workspace.Descriptor) (*Session, error) {
	if d.IsZero() {
		return nil, perrors.Validation("workspace descriptor has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, perrors.ErrClosed
	}

	s, ok := m.sessions[d.Name()]
	if !ok {
		s = newSession(m, d)
		m.sessions[d.Name()] = s
		m.metrics.SetSessionsActive(len(m.sessions))
		m.logger.Info("session created", logging.Workspace(d.Name()), logging.Session(s.ID().String()))
	}

	s.mu.Lock()
	s.refs++
	if s.state == StateFailed || !s.started {
		s.startBootLocked()
	}
	s.mu.Unlock()

	return s, nil
}

// Lookup returns the cached session for a workspace name without registering
// an observer
func (m *Manager) Lookup(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

// List returns snapshots of every cached session ordered by workspace name
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Workspace < snaps[j].Workspace })
	return snaps
}

// BreakerState reports the boot breaker state of a workspace. A workspace
// that never booted reports closed.
func (m *Manager) BreakerState(name string) resilience.State {
	if b, ok := m.breakers.Lookup(name); ok {
		return b.State()
	}
	return resilience.StateClosed
}

// BreakerStates reports the boot breaker state of every workspace that has
// attempted a boot
func (m *Manager) BreakerStates() map[string]resilience.State {
	return m.breakers.States()
}

// Close tears down every session regardless of observers and rejects new
// acquisitions. It waits until sandbox contexts are closed or ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for name, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, name)
	}
	m.metrics.SetSessionsActive(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		s.mu.Lock()
		done := s.teardownLocked()
		s.mu.Unlock()
		s.stopOutput()

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release drops one observer of s and tears it down at zero
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	s.mu.Lock()

	if s.refs == 0 || s.torn {
		s.mu.Unlock()
		m.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		m.mu.Unlock()
		return
	}

	if cur, ok := m.sessions[s.desc.Name()]; ok && cur == s {
		delete(m.sessions, s.desc.Name())
	}
	m.metrics.SetSessionsActive(len(m.sessions))
	s.teardownLocked()
	s.mu.Unlock()
	m.mu.Unlock()

	s.stopOutput()
	m.logger.Info("session released", logging.Workspace(s.desc.Name()), logging.Session(s.ID().String()))
}
