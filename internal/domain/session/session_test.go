package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/playground/internal/sandbox/sandboxtest"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func effectDescriptor() workspace.Descriptor {
	return workspace.MustNew("effect",
		[]workspace.SeedFile{{Path: "package.json", Content: `{"dependencies":{"effect":"latest"}}`}},
		[]string{"package.json", "index.ts"},
	)
}

func newTestManager(t *testing.T, policy Policy) (*Manager, *sandboxtest.Capability) {
	t.Helper()
	fake := sandboxtest.New()
	m := NewManager(fake, WithPolicy(policy))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, fake
}

func acquireReady(t *testing.T, m *Manager, d workspace.Descriptor) *Session {
	t.Helper()
	s, err := m.Acquire(d)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	state, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, StateReady, state)
	return s
}

// syncBuffer is a bytes.Buffer safe for the pump goroutine and the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAcquireConcurrentSharesOneBoot(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	release := fake.Hold(sandboxtest.StageInstall)

	const observers = 32
	sessions := make([]*Session, observers)
	var wg sync.WaitGroup
	for i := range observers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Acquire(effectDescriptor())
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, StateBooting, sessions[0].State())

	release()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	state, err := sessions[0].Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)

	assert.Equal(t, 1, fake.Created())
	snap := sessions[0].Snapshot()
	assert.Equal(t, observers, snap.Observers)
	assert.Equal(t, 1, snap.Attempt)
}

func TestAcquireRejectsZeroDescriptor(t *testing.T) {
	m, _ := newTestManager(t, Policy{})
	_, err := m.Acquire(workspace.Descriptor{})
	assert.Equal(t, perrors.KindValidation, perrors.KindOf(err))
}

func TestBootMountsSeedsAndCreatableFiles(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())

	assert.Equal(t, []string{"index.ts", "package.json"}, fake.Last().Files())

	content, err := s.ReadFile("index.ts")
	require.NoError(t, err)
	assert.Empty(t, content)

	content, err = s.ReadFile("package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"dependencies":{"effect":"latest"}}`, content)
}

func TestWriteSettlesAndUpdatesLiveFiles(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())

	res := s.Write("package.json", `{"dependencies":{}}`)
	require.NoError(t, res.Wait(context.Background()))
	assert.Equal(t, WriteSucceeded, res.Status())
	assert.True(t, res.ID().String() != "")

	content, err := s.ReadFile("package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"dependencies":{}}`, content)

	sandboxContent, err := fake.Last().ReadFile(context.Background(), "package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"dependencies":{}}`, sandboxContent)
}

func TestWriteBeforeReadyFailsImmediately(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	release := fake.Hold(sandboxtest.StageInstall)
	defer release()

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)

	res := s.Write("package.json", "{}")
	assert.Equal(t, WriteFailed, res.Status())
	select {
	case <-res.Done():
	default:
		t.Fatal("write to a booting session must settle immediately")
	}
	assert.ErrorIs(t, res.Err(), perrors.ErrUnavailable)
	assert.ErrorIs(t, res.Err(), ErrBooting)
	assert.Equal(t, perrors.KindWrite, perrors.KindOf(res.Err()))
}

func TestWriteRejectsEscapingPath(t *testing.T) {
	m, _ := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())

	res := s.Write("../etc/passwd", "x")
	assert.Equal(t, WriteFailed, res.Status())
	assert.Equal(t, perrors.KindWrite, perrors.KindOf(res.Err()))
}

func TestSamePathWritesApplyInIssueOrder(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())

	results := make([]*WriteResult, 50)
	for i := range results {
		results[i] = s.Write("index.ts", fmt.Sprintf("v%d", i))
	}
	for _, res := range results {
		require.NoError(t, res.Wait(context.Background()))
	}

	content, err := s.ReadFile("index.ts")
	require.NoError(t, err)
	assert.Equal(t, "v49", content)

	writes := fake.Last().Writes()
	assert.Len(t, writes, 50)
}

func TestWriteFailureIsIsolatedPerPath(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())

	disk := errors.New("disk full")
	fake.Last().FailWrite("index.ts", disk)

	bad := s.Write("index.ts", "broken")
	good := s.Write("package.json", "{}")

	assert.ErrorIs(t, bad.Wait(context.Background()), disk)
	assert.NoError(t, good.Wait(context.Background()))

	content, err := s.ReadFile("index.ts")
	require.NoError(t, err)
	assert.Empty(t, content, "failed write must not change live files")
}

func TestReleaseTearsDownAndReacquireIsFresh(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	first := acquireReady(t, m, effectDescriptor())
	_, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)

	first.Release()
	_, cached := m.Lookup("effect")
	assert.True(t, cached, "one observer remains")

	first.Release()
	_, cached = m.Lookup("effect")
	assert.False(t, cached)

	select {
	case <-first.Gone():
	case <-time.After(waitFor):
		t.Fatal("sandbox resources not released")
	}
	ctx := fake.Last()
	assert.True(t, ctx.Closed())
	assert.True(t, ctx.Process().Killed())

	second := acquireReady(t, m, effectDescriptor())
	assert.NotEqual(t, first.ID(), second.ID())
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, fake.Created())
}

func TestReleaseStopsOutputBeforeReturning(t *testing.T) {
	m, _ := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())

	var out syncBuffer
	require.NoError(t, s.Route(&out, false))
	s.Release()

	assert.ErrorIs(t, s.Route(&out, false), perrors.ErrClosed)
	assert.Empty(t, out.String())

	res := s.Write("index.ts", "late")
	assert.ErrorIs(t, res.Err(), perrors.ErrClosed)
}

func TestReleaseMidBootClosesCreatedContext(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	release := fake.Hold(sandboxtest.StageInstall)
	defer release()

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fake.Created() == 1 }, waitFor, tick)

	s.Release()

	select {
	case <-s.Gone():
	case <-time.After(waitFor):
		t.Fatal("boot goroutine did not release its context")
	}
	assert.True(t, fake.Last().Closed())
}

func TestMountFailureFailsSession(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	fake.FailAt(sandboxtest.StageMount, errors.New("no space left"))

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)

	state, err := s.Wait(context.Background())
	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, err, perrors.ErrUnavailable)
	assert.Equal(t, perrors.KindBoot, perrors.KindOf(s.Cause()))

	var boot *perrors.Error
	require.ErrorAs(t, s.Cause(), &boot)
	assert.Equal(t, StageMount, boot.Op)

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Contains(t, snap.Cause, "no space left")

	assert.Eventually(t, func() bool { return fake.Last().Closed() }, waitFor, tick)
}

func TestManualRetryOnReacquire(t *testing.T) {
	m, fake := newTestManager(t, Policy{Retry: RetryManual})
	fake.FailAt(sandboxtest.StageInstall, errors.New("registry down"))

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fake.Created(), "manual mode never retries by itself")

	fake.ClearFailures()
	again := acquireReady(t, m, effectDescriptor())
	assert.Same(t, s, again)
	assert.Equal(t, 2, again.Attempt())
	assert.Nil(t, again.Cause())
}

func TestAutoRetryStopsAtMax(t *testing.T) {
	m, fake := newTestManager(t, Policy{
		Retry:        RetryAuto,
		RetryMax:     3,
		RetryBackoff: 5 * time.Millisecond,
	})
	fake.FailAt(sandboxtest.StageInstall, errors.New("registry down"))

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fake.Created() == 3 && s.State() == StateFailed
	}, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, fake.Created())
	assert.Equal(t, 3, s.Attempt())
}

func TestAutoRetryRecovers(t *testing.T) {
	m, fake := newTestManager(t, Policy{
		Retry:        RetryAuto,
		RetryMax:     5,
		RetryBackoff: 20 * time.Millisecond,
	})
	fake.FailAt(sandboxtest.StageAttach, errors.New("pty exhausted"))

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.Error(t, err)

	fake.ClearFailures()
	require.Eventually(t, func() bool { return s.State() == StateReady }, waitFor, tick)
	assert.GreaterOrEqual(t, s.Attempt(), 2)
}

func TestBootTimeout(t *testing.T) {
	m, fake := newTestManager(t, Policy{BootTimeout: 20 * time.Millisecond})
	release := fake.Hold(sandboxtest.StageInstall)
	defer release()

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)

	state, err := s.Wait(context.Background())
	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var boot *perrors.Error
	require.ErrorAs(t, s.Cause(), &boot)
	assert.Equal(t, StageInstall, boot.Op)
}

func TestBreakerFailsFastAfterTrip(t *testing.T) {
	m, fake := newTestManager(t, Policy{
		Breaker: resilience.Settings{
			Timeout:     time.Minute,
			ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 1 },
		},
	})
	fake.FailAt(sandboxtest.StageMount, errors.New("corrupt seed"))

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, resilience.StateOpen, m.BreakerState("effect"))

	fake.ClearFailures()
	_, err = m.Acquire(effectDescriptor())
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, fake.Created())
}

func TestRouteReplaysScrollback(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	fake.SetInstallOutput("added 1 package\n")
	s := acquireReady(t, m, effectDescriptor())

	require.Eventually(t, func() bool {
		return string(s.Scrollback()) == "added 1 package\n"
	}, waitFor, tick)

	var out syncBuffer
	require.NoError(t, s.Route(&out, true))
	require.Eventually(t, func() bool { return out.String() == "added 1 package\n" }, waitFor, tick)

	fake.Last().Process().Emit("$ ")
	assert.Eventually(t, func() bool { return out.String() == "added 1 package\n$ " }, waitFor, tick)
}

func TestInputAndResize(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())

	_, err := s.Input([]byte("ls\n"))
	require.NoError(t, err)
	require.NoError(t, s.Resize(120, 40))

	proc := fake.Last().Process()
	assert.Equal(t, "ls\n", proc.Typed())
	cols, rows := proc.Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)

	assert.Equal(t, perrors.KindValidation, perrors.KindOf(s.Resize(0, 10)))
	assert.Equal(t, perrors.KindValidation, perrors.KindOf(s.Resize(math.MaxUint16+1, 24)))
	assert.Equal(t, perrors.KindValidation, perrors.KindOf(s.Resize(80, math.MaxUint16+1)))
	cols, rows = proc.Size()
	assert.Equal(t, 120, cols, "oversized dimensions never reach the process")
	assert.Equal(t, 40, rows)
}

// blockingWriter holds every Write until unblock is closed
type blockingWriter struct {
	entered chan struct{}
	unblock chan struct{}
	once    sync.Once
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{entered: make(chan struct{}), unblock: make(chan struct{})}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.entered) })
	<-w.unblock
	return len(p), nil
}

// failingWriter fails its first write and accepts the rest
type failingWriter struct {
	syncBuffer
	mu     sync.Mutex
	failed bool
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	first := !w.failed
	w.failed = true
	w.mu.Unlock()
	if first {
		return 0, errors.New("render failed")
	}
	return w.syncBuffer.Write(p)
}

func TestSlowSinkDoesNotBlockRoutingOrRelease(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())
	proc := fake.Last().Process()

	slow := newBlockingWriter()
	defer close(slow.unblock)
	require.NoError(t, s.Route(slow, false))
	proc.Emit("x")
	<-slow.entered
	proc.Emit("y")

	routed := make(chan error, 1)
	var next syncBuffer
	go func() { routed <- s.Route(&next, false) }()
	select {
	case err := <-routed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("switching sinks waited on a blocked sink")
	}
	assert.False(t, s.Routes(slow))
	assert.True(t, s.Routes(&next))

	proc.Emit("z")
	require.Eventually(t, func() bool { return next.String() == "z" }, waitFor, tick)

	released := make(chan struct{})
	go func() {
		s.Release()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(waitFor):
		t.Fatal("release waited on a blocked sink")
	}
}

func TestFailedSinkIsUnrouted(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	s := acquireReady(t, m, effectDescriptor())
	proc := fake.Last().Process()

	w := &failingWriter{}
	require.NoError(t, s.Route(w, false))
	assert.True(t, s.Routes(w))

	proc.Emit("one")
	require.Eventually(t, func() bool { return !s.Routes(w) }, waitFor, tick)

	proc.Emit("two")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, w.String())

	require.NoError(t, s.Route(w, true))
	require.Eventually(t, func() bool { return w.String() == "onetwo" }, waitFor, tick)
}

func TestChangedClosesOnEachTransition(t *testing.T) {
	m, fake := newTestManager(t, Policy{Retry: RetryManual})
	fake.FailAt(sandboxtest.StageInstall, errors.New("registry down"))
	release := fake.Hold(sandboxtest.StageMount)

	s, err := m.Acquire(effectDescriptor())
	require.NoError(t, err)
	booting := s.Changed()
	select {
	case <-booting:
		t.Fatal("changed closed while still booting")
	default:
	}

	release()
	select {
	case <-booting:
	case <-time.After(waitFor):
		t.Fatal("settling did not close the change channel")
	}
	assert.Equal(t, StateFailed, s.State())

	failed := s.Changed()
	fake.ClearFailures()
	_, err = m.Acquire(effectDescriptor())
	require.NoError(t, err)
	select {
	case <-failed:
	case <-time.After(waitFor):
		t.Fatal("a new attempt did not close the change channel")
	}
	_, err = s.Wait(context.Background())
	require.NoError(t, err)
}

func TestManagerListAndClose(t *testing.T) {
	m, fake := newTestManager(t, Policy{})
	acquireReady(t, m, effectDescriptor())
	acquireReady(t, m, workspace.MustNew("hello", nil, []string{"main.js"}))

	snaps := m.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, "effect", snaps[0].Workspace)
	assert.Equal(t, "hello", snaps[1].Workspace)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	for _, c := range fake.Contexts() {
		assert.True(t, c.Closed())
	}
	_, err := m.Acquire(effectDescriptor())
	assert.ErrorIs(t, err, perrors.ErrClosed)
	assert.Empty(t, m.List())
}
