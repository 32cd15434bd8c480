package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/projection"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

// Config tunes connection timing
type Config struct {
	WriteWait    time.Duration // Deadline for one frame write
	PongWait     time.Duration // Read deadline, extended by each pong
	PingInterval time.Duration // Must be shorter than PongWait
	QueueSize    int           // Outgoing frames buffered per connection
	MaxMessage   int64         // Largest accepted client frame
}

// DefaultConfig returns the connection defaults
func DefaultConfig() Config {
	return Config{
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 50 * time.Second,
		QueueSize:    256,
		MaxMessage:   1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = d.MaxMessage
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs browsers
	},
}

// Handler manages WebSocket observers
type Handler struct {
	catalog   *workspace.Catalog
	projector *projection.Projector
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	config    Config
}

// NewHandler creates a new WebSocket handler
func NewHandler(catalog *workspace.Catalog, projector *projection.Projector, metrics *monitoring.Metrics, logger *logging.Logger, config Config) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		catalog:   catalog,
		projector: projector,
		metrics:   metrics,
		logger:    logger.Named("ws"),
		config:    config.withDefaults(),
	}
}

// HandleConnection upgrades the request and registers the connection as one
// observer of the workspace until it closes
func (h *Handler) HandleConnection(c *gin.Context) {
	name := c.Param("name")
	d, ok := h.catalog.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace " + name + " not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Workspace(name), zap.Error(err))
		return
	}
	defer conn.Close()

	cid := uuid.NewString()
	log := h.logger.ForWorkspace(name).With(zap.String("conn", cid))

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	obs, err := h.projector.Observe(d)
	if err != nil {
		log.Warn("observe failed", zap.Error(err))
		h.closeWithError(conn, err)
		return
	}
	defer obs.Close()

	log.Info("observer connected", logging.Session(obs.Session().ID().String()))
	err = newConnection(conn, obs, h.config, h.metrics, log).run(c.Request.Context())
	log.Info("observer disconnected", zap.Error(err))
}

func (h *Handler) closeWithError(conn *websocket.Conn, err error) {
	data, mErr := encode(errorMessage("", err))
	if mErr == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	code := websocket.CloseInternalServerErr
	if perrors.KindOf(err) == perrors.KindValidation {
		code = websocket.ClosePolicyViolation
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, "observe failed"),
		time.Now().Add(h.config.WriteWait))
}
