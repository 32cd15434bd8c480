package session

import (
	"context"
	"errors"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
	"github.com/GriffinCanCode/playground/internal/shared/id"
)

// ErrBooting is the unavailable cause while a boot attempt is in flight
var ErrBooting = errors.New("sandbox is still booting")

// Session is the running sandbox bound to one workspace descriptor
type Session struct {
	manager *Manager
	desc    workspace.Descriptor
	id      id.SessionID
	logger  *logging.Logger
	created time.Time

	// ctx lives until teardown; boot attempts and writes derive from it
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	started     bool
	state       State
	cause       error
	attempt     int
	failures    int // consecutive failed attempts
	refs        int
	torn        bool
	bootRunning bool
	settled     chan struct{} // closed when the current attempt settles
	changed     chan struct{} // closed on the next state transition
	closed      chan struct{} // closed at teardown
	gone        chan struct{} // closed once sandbox resources are released
	sbx         sandbox.Context
	proc        sandbox.Process
	live        map[string]string
	queues      map[string]*writeQueue
	retry       *time.Timer
	readyAt     time.Time

	// outMu guards delivery so a sink switch is atomic with respect to the pump
	outMu      sync.Mutex
	out        *outlet
	outStopped bool
	scrollback *Scrollback
}

func newSession(m *Manager, d workspace.Descriptor) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	sid := id.NewSessionID()
	return &Session{
		manager:    m,
		desc:       d,
		id:         sid,
		logger:     m.logger.With(logging.Workspace(d.Name()), logging.Session(sid.String())),
		created:    time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		settled:    make(chan struct{}),
		changed:    make(chan struct{}),
		closed:     make(chan struct{}),
		gone:       make(chan struct{}),
		live:       seedLive(d),
		queues:     make(map[string]*writeQueue),
		scrollback: NewScrollback(m.policy.ScrollbackBytes),
	}
}

func seedLive(d workspace.Descriptor) map[string]string {
	files := d.MountSet()
	live := make(map[string]string, len(files))
	for _, f := range files {
		live[f.Path] = f.Content
	}
	return live
}

func mountFiles(d workspace.Descriptor) []sandbox.File {
	seeds := d.MountSet()
	files := make([]sandbox.File, len(seeds))
	for i, f := range seeds {
		files[i] = sandbox.File{Path: f.Path, Content: f.Content}
	}
	return files
}

// ID returns the per-instance identifier; a re-acquired workspace gets a new one
func (s *Session) ID() id.SessionID { return s.id }

// Workspace returns the descriptor the session was created for
func (s *Session) Workspace() workspace.Descriptor { return s.desc }

// State returns the current boot state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cause returns the boot failure of a Failed session
func (s *Session) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Attempt returns the number of boot attempts started so far
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Settled returns a channel closed when the current attempt settles
func (s *Session) Settled() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// Changed returns a channel closed on the next state transition: a new
// attempt starting or the current one settling. Teardown is reported by
// Closed instead.
func (s *Session) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// notifyLocked wakes Changed waiters. Caller holds s.mu.
func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Closed returns a channel closed when the session is torn down
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Wait blocks until the current boot attempt settles. A Failed session
// returns an error wrapping ErrUnavailable and the boot failure.
func (s *Session) Wait(ctx context.Context) (State, error) {
	s.mu.Lock()
	settled := s.settled
	s.mu.Unlock()

	select {
	case <-settled:
	case <-s.closed:
		return s.State(), perrors.Unavailable(perrors.ErrClosed)
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return s.state, perrors.Unavailable(perrors.ErrClosed)
	}
	if s.state == StateFailed {
		return s.state, perrors.Unavailable(s.cause)
	}
	return s.state, nil
}

// Release drops the observer registered by Acquire. The last release stops
// output delivery before returning, then kills the process and closes the
// sandbox context in the background.
func (s *Session) Release() {
	s.manager.release(s)
}

// startBootLocked begins a new boot attempt. Caller holds s.mu.
func (s *Session) startBootLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.started = true
	s.attempt++
	s.state = StateBooting
	s.cause = nil
	s.settled = make(chan struct{})
	s.live = seedLive(s.desc)
	s.queues = make(map[string]*writeQueue)
	s.bootRunning = true
	s.scrollback.Reset()
	s.notifyLocked()

	go s.boot(s.attempt, s.settled)
}

func (s *Session) boot(attempt int, settled chan struct{}) {
	m := s.manager
	name := s.desc.Name()
	log := s.logger.With(zap.Int("attempt", attempt))
	log.Info("boot started")

	ctx := s.ctx
	cancel := context.CancelFunc(func() {})
	if m.policy.BootTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.policy.BootTimeout)
	}
	defer cancel()

	timer := monitoring.NewTimer(m.metrics)
	stage := StageCreate
	var (
		sbx  sandbox.Context
		proc sandbox.Process
	)

	err := m.breakers.Get(name).Do(ctx, func(ctx context.Context) error {
		c, err := m.capability.Create(ctx, name)
		if err != nil {
			return err
		}
		sbx = c

		stage = StageMount
		log.Debug("boot stage", logging.Stage(stage), zap.String("context", c.ID()))
		if err := c.Mount(ctx, mountFiles(s.desc)); err != nil {
			return err
		}

		stage = StageInstall
		log.Debug("boot stage", logging.Stage(stage))
		if err := c.Install(ctx); err != nil {
			return err
		}

		stage = StageAttach
		log.Debug("boot stage", logging.Stage(stage))
		p, err := c.Spawn(ctx)
		if err != nil {
			return err
		}
		proc = p
		return nil
	})

	s.mu.Lock()
	s.bootRunning = false

	if s.torn {
		s.mu.Unlock()
		closeSandbox(log, proc, sbx)
		close(s.gone)
		log.Info("boot abandoned after release", logging.Stage(stage))
		return
	}

	if err != nil {
		failure := perrors.BootFailure(name, stage, err)
		s.state = StateFailed
		s.cause = failure
		s.failures++
		close(settled)
		s.notifyLocked()
		s.scheduleRetryLocked(log)
		s.mu.Unlock()

		timer.Stop(false, stage)
		closeSandbox(log, proc, sbx)
		log.Warn("boot failed", logging.Stage(stage), zap.Error(err))
		return
	}

	s.sbx, s.proc = sbx, proc
	s.state = StateReady
	s.failures = 0
	s.readyAt = time.Now()
	close(settled)
	s.notifyLocked()
	s.mu.Unlock()

	d := timer.Stop(true, "")
	log.Info("boot ready", zap.Duration("duration", d))
	go s.pump(proc)
}

// scheduleRetryLocked arms an automatic attempt in auto mode. Caller holds s.mu.
func (s *Session) scheduleRetryLocked(log *logging.Logger) {
	p := s.manager.policy
	if p.Retry != RetryAuto || s.refs == 0 || s.failures >= p.RetryMax {
		return
	}

	delay := p.backoff(s.failures + 1)
	log.Info("boot retry scheduled", zap.Duration("backoff", delay), zap.Int("failures", s.failures))
	s.retry = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.torn || s.state != StateFailed {
			return
		}
		s.startBootLocked()
	})
}

// teardownLocked marks the session torn and releases sandbox resources in
// the background. The returned channel closes once they are released.
// Caller holds s.mu.
func (s *Session) teardownLocked() <-chan struct{} {
	if s.torn {
		return s.gone
	}
	s.torn = true
	s.cancel()
	close(s.closed)
	if s.retry != nil {
		s.retry.Stop()
	}

	sbx, proc := s.sbx, s.proc
	s.sbx, s.proc = nil, nil

	// A running boot owns whatever it created and closes gone itself
	if !s.bootRunning {
		go func() {
			closeSandbox(s.logger, proc, sbx)
			close(s.gone)
		}()
	}
	return s.gone
}

func closeSandbox(log *logging.Logger, proc sandbox.Process, sbx sandbox.Context) {
	if proc != nil {
		if err := proc.Kill(); err != nil {
			log.Debug("kill process", zap.Error(err))
		}
	}
	if sbx != nil {
		if err := sbx.Close(); err != nil {
			log.Warn("close sandbox context", zap.Error(err))
		}
	}
}

// Gone returns a channel closed once the process is killed and the sandbox
// context closed after teardown
func (s *Session) Gone() <-chan struct{} { return s.gone }

// pump delivers process output in order until the process ends or output
// is stopped
func (s *Session) pump(proc sandbox.Process) {
	r := proc.Output()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && !s.deliver(buf[:n]) {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("process output ended", zap.Error(err))
			} else {
				s.logger.Info("process exited")
			}
			return
		}
	}
}

func (s *Session) deliver(p []byte) bool {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if s.outStopped {
		return false
	}
	_, _ = s.scrollback.Write(p)

	if s.out == nil {
		s.manager.metrics.AddTerminalDropped(len(p))
		return true
	}
	// Never blocks
	if _, err := s.out.box.Write(p); err != nil {
		s.manager.metrics.AddTerminalDropped(len(p))
	}
	return true
}

// outlet is one routed sink. Output is queued in its mailbox and written
// by a dedicated goroutine in order.
type outlet struct {
	w       io.Writer
	box     *sandbox.Stream
	stopped atomic.Bool
}

func (o *outlet) stop() {
	o.stopped.Store(true)
	_ = o.box.CloseWithError(io.ErrClosedPipe)
}

// openOutletLocked routes output to w, queueing backlog first. Caller holds
// s.outMu.
func (s *Session) openOutletLocked(w io.Writer, backlog []byte) {
	if s.out != nil {
		s.out.stop()
		s.out = nil
	}
	if w == nil {
		return
	}
	o := &outlet{w: w, box: sandbox.NewStream()}
	if len(backlog) > 0 {
		_, _ = o.box.Write(backlog)
	}
	s.out = o
	go s.drainOutlet(o)
}

// drainOutlet writes queued output to the sink until the outlet is stopped.
// A failing sink is unrouted.
func (s *Session) drainOutlet(o *outlet) {
	buf := make([]byte, 32*1024)
	for {
		n, err := o.box.Read(buf)
		if n > 0 {
			if o.stopped.Load() {
				return
			}
			if _, werr := o.w.Write(buf[:n]); werr != nil {
				s.logger.Debug("output sink failed, detaching", zap.Error(werr))
				s.dropOutlet(o)
				return
			}
			s.manager.metrics.AddTerminalBytes(n)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) dropOutlet(o *outlet) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.out == o {
		s.out = nil
	}
	o.stop()
}

// stopOutput unroutes the sink and discards any further output
func (s *Session) stopOutput() {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.outStopped = true
	s.openOutletLocked(nil, nil)
}

// Route directs process output to w (nil detaches). With replay, the
// retained scrollback is queued for w first, atomically with the switch,
// so w sees neither a gap nor a duplicate. The previous sink receives
// nothing further. Delivery to w is asynchronous.
func (s *Session) Route(w io.Writer, replay bool) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if s.outStopped {
		return perrors.ErrClosed
	}
	var backlog []byte
	if replay && w != nil {
		backlog = s.scrollback.Bytes()
	}
	s.openOutletLocked(w, backlog)
	return nil
}

// Routes reports whether output is currently routed to w. It turns false
// once w is replaced or fails a write.
func (s *Session) Routes(w io.Writer) bool {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return w != nil && s.out != nil && s.out.w == w
}

// Scrollback returns a copy of the retained process output
func (s *Session) Scrollback() []byte {
	return s.scrollback.Bytes()
}

// readyProcess returns the process of a Ready session
func (s *Session) readyProcess() (sandbox.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn || s.state != StateReady || s.proc == nil {
		return nil, perrors.Unavailable(s.unavailableCauseLocked())
	}
	return s.proc, nil
}

// Input forwards keystrokes to the interactive process
func (s *Session) Input(p []byte) (int, error) {
	proc, err := s.readyProcess()
	if err != nil {
		return 0, err
	}
	return proc.Input().Write(p)
}

// Resize changes the process terminal dimensions
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > math.MaxUint16 || rows > math.MaxUint16 {
		return perrors.Validationf("invalid terminal size %dx%d", cols, rows)
	}
	proc, err := s.readyProcess()
	if err != nil {
		return err
	}
	return proc.Resize(cols, rows)
}

func (s *Session) unavailableCauseLocked() error {
	switch {
	case s.torn:
		return perrors.ErrClosed
	case s.state == StateFailed:
		return s.cause
	default:
		return ErrBooting
	}
}

// Write propagates content for path into the sandbox and returns its
// result immediately. Only a Ready session accepts writes; otherwise the
// result is already failed with an unavailable cause. Writes to one path
// apply in issue order, so the last issued write is the last settled one.
func (s *Session) Write(p, content string) *WriteResult {
	name := s.desc.Name()
	res := newWriteResult(p, content)

	clean, err := workspace.CleanPath(p)
	if err != nil {
		s.settleWrite(res, perrors.WriteFailure(name, p, err), "invalid")
		return res
	}
	res.path = clean

	s.mu.Lock()
	if s.torn || s.state != StateReady {
		cause := s.unavailableCauseLocked()
		s.mu.Unlock()
		s.settleWrite(res, perrors.WriteFailure(name, clean, perrors.Unavailable(cause)), "unavailable")
		return res
	}

	q := s.queues[clean]
	if q == nil {
		q = &writeQueue{}
		s.queues[clean] = q
	}
	q.pending = append(q.pending, res)
	if !q.running {
		q.running = true
		go s.drain(clean, q, s.sbx, s.attempt)
	}
	s.mu.Unlock()

	return res
}

func (s *Session) drain(p string, q *writeQueue, sbx sandbox.Context, attempt int) {
	name := s.desc.Name()
	for {
		s.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			s.mu.Unlock()
			return
		}
		res := q.pending[0]
		q.pending = q.pending[1:]
		stale := s.torn || s.attempt != attempt
		s.mu.Unlock()

		if stale {
			s.settleWrite(res, perrors.WriteFailure(name, p, perrors.Unavailable(perrors.ErrClosed)), "unavailable")
			continue
		}

		ctx, cancel := s.writeContext()
		err := sbx.WriteFile(ctx, p, res.content)
		cancel()

		s.mu.Lock()
		if err == nil {
			if s.torn || s.attempt != attempt {
				err = perrors.Unavailable(perrors.ErrClosed)
			} else {
				s.live[p] = res.content
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.settleWrite(res, perrors.WriteFailure(name, p, err), "failed")
			continue
		}
		s.settleWrite(res, nil, "succeeded")
	}
}

func (s *Session) writeContext() (context.Context, context.CancelFunc) {
	if t := s.manager.policy.WriteTimeout; t > 0 {
		return context.WithTimeout(s.ctx, t)
	}
	return context.WithCancel(s.ctx)
}

func (s *Session) settleWrite(res *WriteResult, err error, result string) {
	res.settle(err)
	s.manager.metrics.RecordWrite(result)
	if err != nil {
		s.logger.Debug("write failed", logging.Path(res.path), zap.String("write", res.id.String()), zap.Error(err))
	}
}

// ReadFile returns the live content of path
func (s *Session) ReadFile(p string) (string, error) {
	clean, err := workspace.CleanPath(p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return "", perrors.Unavailable(perrors.ErrClosed)
	}
	content, ok := s.live[clean]
	if !ok {
		return "", perrors.NotFound("file " + clean)
	}
	return content, nil
}

// Files returns a copy of the live file table
func (s *Session) Files() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make(map[string]string, len(s.live))
	for k, v := range s.live {
		files[k] = v
	}
	return files
}

// Snapshot is a synchronously readable view of a session
type Snapshot struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	State     State     `json:"state"`
	Cause     string    `json:"cause,omitempty"`
	Err       error     `json:"-"`
	Attempt   int       `json:"attempt"`
	Observers int       `json:"observers"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
	ReadyAt   time.Time `json:"ready_at"`
}

// Snapshot returns the current state of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]string, 0, len(s.live))
	for p := range s.live {
		files = append(files, p)
	}
	sort.Strings(files)

	snap := Snapshot{
		ID:        s.id.String(),
		Workspace: s.desc.Name(),
		State:     s.state,
		Err:       s.cause,
		Attempt:   s.attempt,
		Observers: s.refs,
		Files:     files,
		CreatedAt: s.created,
		ReadyAt:   s.readyAt,
	}
	if s.cause != nil {
		snap.Cause = s.cause.Error()
	}
	return snap
}
