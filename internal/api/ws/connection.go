package ws

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/playground/internal/domain/session"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/projection"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
	"github.com/GriffinCanCode/playground/internal/terminal"
)

// errSessionGone ends a connection whose session was torn down
var errSessionGone = errors.New("session closed")

// frame is one queued outgoing message
type frame struct {
	kind int
	data []byte
}

// connection serves one observer. A single writer goroutine owns the socket
// for writes; everything else enqueues frames.
type connection struct {
	conn    *websocket.Conn
	obs     *projection.Observer
	config  Config
	metrics *monitoring.Metrics
	logger  *logging.Logger

	out  chan frame
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	files *projection.FileSet
	term  *terminal.Terminal
}

func newConnection(conn *websocket.Conn, obs *projection.Observer, config Config, metrics *monitoring.Metrics, logger *logging.Logger) *connection {
	return &connection{
		conn:    conn,
		obs:     obs,
		config:  config,
		metrics: metrics,
		logger:  logger,
		out:     make(chan frame, config.QueueSize),
		done:    make(chan struct{}),
	}
}

// run pumps until the client leaves, the session closes or ctx ends
func (c *connection) run(ctx context.Context) error {
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return c.readLoop(gctx) })
	grp.Go(func() error { return c.writeLoop(gctx) })
	grp.Go(func() error { return c.follow(gctx) })
	grp.Go(func() error {
		<-gctx.Done()
		c.finish()
		// Unblocks readLoop
		_ = c.conn.SetReadDeadline(time.Now())
		return nil
	})

	err := grp.Wait()

	c.mu.Lock()
	term := c.term
	c.mu.Unlock()
	if term != nil {
		term.Detach(target{c})
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *connection) finish() {
	c.once.Do(func() { close(c.done) })
}

// send queues a JSON text frame; it drops the frame once the connection is
// finishing
func (c *connection) send(msg any) {
	data, err := encode(msg)
	if err != nil {
		c.logger.Error("encode message", zap.Error(err))
		return
	}
	c.enqueue(frame{kind: websocket.TextMessage, data: data})
}

func (c *connection) enqueue(f frame) bool {
	select {
	case c.out <- f:
		return true
	case <-c.done:
		return false
	}
}

func encode(msg any) ([]byte, error) {
	return sonic.Marshal(msg)
}

func (c *connection) writeLoop(ctx context.Context) error {
	ping := time.NewTicker(c.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteWait))
			return nil
		case f := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return err
			}
			c.metrics.RecordWSMessage("out", frameType(f.kind))
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait)); err != nil {
				return err
			}
		}
	}
}

func (c *connection) readLoop(ctx context.Context) error {
	c.conn.SetReadLimit(c.config.MaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.metrics.RecordWSMessage("in", frameType(kind))

		switch kind {
		case websocket.BinaryMessage:
			c.keystrokes(data)
		case websocket.TextMessage:
			var msg ClientMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				c.send(errorMessage("", perrors.Validationf("malformed message: %v", err)))
				continue
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *connection) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeEdit:
		c.edit(ctx, msg)
	case TypeResize:
		term := c.terminal()
		if term == nil {
			c.send(errorMessage(msg.ID, perrors.Unavailable(nil)))
			return
		}
		if err := term.Resize(msg.Cols, msg.Rows); err != nil {
			c.send(errorMessage(msg.ID, err))
		}
	case TypePing:
		c.send(PongMessage{Type: TypePong})
	default:
		c.send(errorMessage(msg.ID, perrors.Validationf("unknown message type %q", msg.Type)))
	}
}

func (c *connection) keystrokes(data []byte) {
	term := c.terminal()
	if term == nil {
		return
	}
	if _, err := term.Write(data); err != nil {
		c.logger.Debug("keystrokes dropped", zap.Error(err))
	}
}

// edit routes an edited-text event through the file's write capability and
// reports the result when it settles
func (c *connection) edit(ctx context.Context, msg ClientMessage) {
	c.mu.Lock()
	files := c.files
	c.mu.Unlock()

	if files == nil {
		c.send(errorMessage(msg.ID, perrors.WriteFailure(c.obs.Workspace().Name(), msg.Path, perrors.Unavailable(nil))))
		return
	}
	entry, ok := files.Lookup(msg.Path)
	if !ok {
		c.send(errorMessage(msg.ID, perrors.NotFound("file "+msg.Path)))
		return
	}

	res := entry.Write(msg.Content)
	go func() {
		select {
		case <-res.Done():
			c.send(writeResultMessage(msg.ID, res))
		case <-ctx.Done():
		}
	}()
}

func (c *connection) terminal() *terminal.Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.term
}

// follow pushes state and projections for every boot attempt of the session
func (c *connection) follow(ctx context.Context) error {
	s := c.obs.Session()
	projected := 0

	c.send(stateMessage(c.obs.Snapshot()))
	for {
		files, err := c.obs.ProjectFiles(ctx)
		if ctx.Err() != nil {
			return nil
		}

		changed := s.Changed()
		snap := c.obs.Snapshot()
		c.send(stateMessage(snap))

		switch {
		case err != nil:
			c.send(errorMessage("", err))
		case files.Attempt() != projected:
			projected = files.Attempt()
			c.project(ctx, files)
		}

		if !awaitChange(ctx, s, changed) {
			if ctx.Err() != nil {
				return nil
			}
			return errSessionGone
		}
	}
}

func (c *connection) project(ctx context.Context, files *projection.FileSet) {
	c.mu.Lock()
	c.files = files
	c.mu.Unlock()
	c.send(filesMessage(files))

	term, err := c.obs.ProjectTerminal(ctx)
	if err != nil {
		c.send(errorMessage("", err))
		return
	}
	if err := term.Attach(target{c}); err != nil {
		c.send(errorMessage("", err))
		return
	}

	c.mu.Lock()
	c.term = term
	c.mu.Unlock()
}

// awaitChange blocks until the session transitions. It reports false when
// the session is torn down or ctx ends.
func awaitChange(ctx context.Context, s *session.Session, changed <-chan struct{}) bool {
	select {
	case <-changed:
		return true
	case <-s.Closed():
		return false
	case <-ctx.Done():
		return false
	}
}

// target adapts a connection into a terminal render target
type target struct{ c *connection }

// Write queues terminal output as a binary frame
func (t target) Write(p []byte) (int, error) {
	data := append([]byte(nil), p...)
	if !t.c.enqueue(frame{kind: websocket.BinaryMessage, data: data}) {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

// Done closes when the connection is finishing
func (t target) Done() <-chan struct{} { return t.c.done }

func frameType(kind int) string {
	if kind == websocket.BinaryMessage {
		return "binary"
	}
	return "text"
}
