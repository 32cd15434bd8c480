package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/playground/internal/api/http"
	"github.com/GriffinCanCode/playground/internal/api/middleware"
	"github.com/GriffinCanCode/playground/internal/api/ws"
	"github.com/GriffinCanCode/playground/internal/domain/session"
	"github.com/GriffinCanCode/playground/internal/domain/workspace"
	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/projection"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/sandbox/jsvm"
	"github.com/GriffinCanCode/playground/internal/sandbox/local"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	catalog    *workspace.Catalog
	sessions   *session.Manager
	projector  *projection.Projector
	capability sandbox.Capability
	release    func() error
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// NewLogger builds the logger described by cfg
func NewLogger(cfg config.LogConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	return logging.New(lc)
}

// LoadCatalog loads descriptors from dir, or the built-in workspaces when
// dir is empty
func LoadCatalog(ctx context.Context, dir string) (*workspace.Catalog, error) {
	if dir == "" {
		return workspace.Builtin(), nil
	}
	catalog, err := workspace.LoadDir(ctx, dir)
	if err != nil {
		return nil, perrors.ConfigError("load catalog "+dir, err)
	}
	return catalog, nil
}

// NewCapability builds the configured sandbox backend. The returned func
// releases backend resources.
func NewCapability(cfg config.SandboxConfig, logger *logging.Logger) (sandbox.Capability, func() error, error) {
	switch cfg.Backend {
	case "jsvm", "":
		c, err := jsvm.New(jsvm.Config{
			ScriptTimeout: cfg.ScriptTimeout,
			PoolSize:      cfg.PoolSize,
		}, logger)
		if err != nil {
			return nil, nil, perrors.ConfigError("jsvm backend", err)
		}
		return c, c.Close, nil
	case "local":
		c, err := local.New(local.Config{
			BaseDir:        cfg.BaseDir,
			Shell:          cfg.Shell,
			InstallCommand: cfg.InstallCommand,
		}, logger)
		if err != nil {
			return nil, nil, perrors.ConfigError("local backend", err)
		}
		return c, func() error { return nil }, nil
	default:
		return nil, nil, perrors.ConfigError("sandbox backend", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing playground server",
		zap.String("addr", cfg.Addr()),
		zap.String("backend", cfg.Sandbox.Backend),
		zap.String("retry_mode", cfg.Session.RetryMode),
	)

	metrics := monitoring.NewMetrics()

	catalog, err := LoadCatalog(ctx, cfg.Catalog.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("Catalog loaded", zap.Int("workspaces", catalog.Len()))

	capability, release, err := NewCapability(cfg.Sandbox, logger)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(capability,
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithPolicy(cfg.Policy()),
	)
	projector := projection.New(sessions, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Named("access")))
	router.Use(monitoring.Middleware(metrics))
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.AllowOrigins
	router.Use(middleware.CORS(cors))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(catalog, sessions, capability.Name(), metrics, logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(catalog, projector, metrics, logger, ws.DefaultConfig())
	router.GET("/workspaces/:name/connect", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router:     router,
		httpServer: &http.Server{Addr: cfg.Addr(), Handler: router},
		catalog:    catalog,
		sessions:   sessions,
		projector:  projector,
		capability: capability,
		release:    release,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
	}, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Close(shutdownCtx)
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := s.sessions.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sessions: %w", err))
	}
	if err := s.release(); err != nil {
		errs = append(errs, fmt.Errorf("close %s backend: %w", s.capability.Name(), err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
