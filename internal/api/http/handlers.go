package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/domain/session"
	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

const (
	// MaxWriteBytes bounds a PUT body
	MaxWriteBytes = 1 << 20
	// DefaultWriteWait is how long PUT waits for a write to settle
	DefaultWriteWait = 5 * time.Second
	maxWriteWait     = 30 * time.Second
)

// Handlers contains all HTTP handlers
type Handlers struct {
	catalog  *workspace.Catalog
	sessions *session.Manager
	backend  string
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(
	catalog *workspace.Catalog,
	sessions *session.Manager,
	backend string,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		catalog:  catalog,
		sessions: sessions,
		backend:  backend,
		metrics:  metrics,
		logger:   logger.Named("http"),
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)
	r.GET("/metrics/json", h.MetricsJSON)

	r.GET("/workspaces", h.ListWorkspaces)
	r.GET("/workspaces/:name", h.GetWorkspace)
	r.GET("/workspaces/:name/files", h.ListFiles)
	r.PUT("/workspaces/:name/files/*path", h.WriteFile)
	r.GET("/workspaces/:name/archive", h.Archive)
}

// Health handles health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"backend":    h.backend,
		"workspaces": h.catalog.Len(),
		"sessions":   len(h.sessions.List()),
	})
}

// Metrics serves the Prometheus exposition
func (h *Handlers) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// MetricsSummary is the JSON status document
type MetricsSummary struct {
	monitoring.Snapshot
	Breakers map[string]string `json:"breakers"`
}

// MetricsJSON serves a compact JSON summary of the metrics and the boot
// breaker of every workspace that has booted
func (h *Handlers) MetricsJSON(c *gin.Context) {
	states := h.sessions.BreakerStates()
	breakers := make(map[string]string, len(states))
	for name, state := range states {
		breakers[name] = state.String()
	}
	c.JSON(http.StatusOK, MetricsSummary{Snapshot: h.metrics.Snapshot(), Breakers: breakers})
}

// WorkspaceView is the API form of a catalog entry
type WorkspaceView struct {
	Name            string            `json:"name"`
	FilesOfInterest []string          `json:"files_of_interest"`
	State           string            `json:"state"`
	Breaker         string            `json:"breaker"`
	Session         *session.Snapshot `json:"session,omitempty"`
}

// stateIdle marks a workspace without a cached session
const stateIdle = "idle"

func (h *Handlers) view(d workspace.Descriptor) WorkspaceView {
	v := WorkspaceView{
		Name:            d.Name(),
		FilesOfInterest: d.FilesOfInterest(),
		State:           stateIdle,
		Breaker:         h.sessions.BreakerState(d.Name()).String(),
	}
	if s, ok := h.sessions.Lookup(d.Name()); ok {
		snap := s.Snapshot()
		v.State = snap.State.String()
		v.Session = &snap
	}
	return v
}

// ListWorkspaces lists the catalog with session states. ?state= keeps only
// workspaces in that state (idle, booting, ready or failed).
func (h *Handlers) ListWorkspaces(c *gin.Context) {
	filter := c.Query("state")
	if filter != "" && filter != stateIdle {
		var st session.State
		if err := st.UnmarshalText([]byte(filter)); err != nil {
			h.fail(c, perrors.Validationf("state: %v", err))
			return
		}
		filter = st.String()
	}

	descriptors := h.catalog.List()
	views := make([]WorkspaceView, 0, len(descriptors))
	for _, d := range descriptors {
		v := h.view(d)
		if filter != "" && v.State != filter {
			continue
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": views})
}

// GetWorkspace returns one workspace
func (h *Handlers) GetWorkspace(c *gin.Context) {
	d, ok := h.descriptor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(d))
}

// FileView is one file of interest with its live content
type FileView struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ListFiles returns the live files of interest of a Ready session
func (h *Handlers) ListFiles(c *gin.Context) {
	d, s, ok := h.readySession(c)
	if !ok {
		return
	}

	files := make([]FileView, 0, len(d.FilesOfInterest()))
	for _, p := range d.FilesOfInterest() {
		content, err := s.ReadFile(p)
		if err != nil {
			h.fail(c, err)
			return
		}
		files = append(files, FileView{Path: p, Content: content})
	}

	c.JSON(http.StatusOK, gin.H{
		"workspace": d.Name(),
		"session":   s.ID().String(),
		"attempt":   s.Attempt(),
		"files":     files,
	})
}

// WriteResponse reports a write outcome
type WriteResponse struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// WriteFile propagates the request body into a file of interest. It answers
// 200 once settled, 202 while still pending after the wait and 503 when the
// workspace is not Ready.
func (h *Handlers) WriteFile(c *gin.Context) {
	d, ok := h.descriptor(c)
	if !ok {
		return
	}

	p, err := workspace.CleanPath(strings.TrimPrefix(c.Param("path"), "/"))
	if err != nil {
		h.fail(c, perrors.Validationf("path %q: %v", c.Param("path"), err))
		return
	}
	if !d.IsOfInterest(p) {
		h.fail(c, perrors.NotFound("file "+p))
		return
	}

	wait, err := writeWait(c.Query("wait"))
	if err != nil {
		h.fail(c, perrors.Validationf("wait: %v", err))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWriteBytes))
	if err != nil {
		h.fail(c, perrors.Validationf("read body: %v", err))
		return
	}

	s, ok := h.sessions.Lookup(d.Name())
	if !ok {
		h.fail(c, perrors.WriteFailure(d.Name(), p, perrors.Unavailable(nil)))
		return
	}

	res := s.Write(p, string(body))

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	_ = res.Wait(ctx)

	resp := WriteResponse{ID: res.ID().String(), Path: res.Path(), Status: res.Status().String()}
	switch res.Status() {
	case session.WritePending:
		c.JSON(http.StatusAccepted, resp)
	case session.WriteFailed:
		resp.Error = res.Err().Error()
		c.JSON(perrors.GetHTTPStatus(res.Err()), resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

func writeWait(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultWriteWait, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		d = 0
	}
	if d > maxWriteWait {
		d = maxWriteWait
	}
	return d, nil
}

// descriptor resolves :name or answers 404
func (h *Handlers) descriptor(c *gin.Context) (workspace.Descriptor, bool) {
	name := c.Param("name")
	d, ok := h.catalog.Get(name)
	if !ok {
		h.fail(c, perrors.NotFound("workspace "+name))
		return workspace.Descriptor{}, false
	}
	return d, true
}

// readySession resolves :name to a Ready session or answers 404/503
func (h *Handlers) readySession(c *gin.Context) (workspace.Descriptor, *session.Session, bool) {
	d, ok := h.descriptor(c)
	if !ok {
		return d, nil, false
	}
	s, ok := h.sessions.Lookup(d.Name())
	if !ok {
		h.fail(c, perrors.Unavailable(nil))
		return d, nil, false
	}
	if snap := s.Snapshot(); snap.State != session.StateReady {
		h.fail(c, perrors.Unavailable(snap.Err))
		return d, nil, false
	}
	return d, s, true
}

// fail writes err as a JSON error with its mapped status
func (h *Handlers) fail(c *gin.Context, err error) {
	status := perrors.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"kind":  perrors.KindOf(err).String(),
	})
}
